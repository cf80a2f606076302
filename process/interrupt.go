package process

import (
	"errors"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
)

// interruptExitCode is the status the process exits with after an
// interrupt: 128 + SIGINT, as a shell reports it.
const interruptExitCode = 130

// ErrHandlerInstalled is returned when an interrupt handler already serves
// a different registry.
var ErrHandlerInstalled = errors.New("interrupt handler already installed for another registry")

// InterruptHandler terminates every process of a Registry when the program
// receives SIGINT.
type InterruptHandler struct {
	registry *Registry
	chain    []func(os.Signal)
	exit     func(code int)

	// exitAfter is false when SIGINT was ignored before the handler was
	// installed; the program then keeps running after the kill.
	exitAfter bool

	signals  chan os.Signal
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// HandlerOption configures an InterruptHandler.
type HandlerOption func(*InterruptHandler)

// WithChain adds fn to the functions run after the processes were
// signaled, in the order given.
func WithChain(fn func(os.Signal)) HandlerOption {
	return func(h *InterruptHandler) {
		h.chain = append(h.chain, fn)
	}
}

// WithExitFunc replaces os.Exit as the final step of the handler.
func WithExitFunc(fn func(code int)) HandlerOption {
	return func(h *InterruptHandler) {
		h.exit = fn
	}
}

var (
	handlerMu sync.Mutex
	installed *InterruptHandler
)

// InstallInterruptHandler subscribes to SIGINT on behalf of reg. On
// delivery it sends SIGTERM to every registered process, runs the chained
// functions and, unless SIGINT was ignored at install time, exits with
// status 130.
//
// There is at most one handler per program. Installing again for the same
// registry returns the existing handler.
func InstallInterruptHandler(reg *Registry, opts ...HandlerOption) (*InterruptHandler, error) {
	handlerMu.Lock()
	defer handlerMu.Unlock()

	if installed != nil {
		if installed.registry != reg {
			return nil, ErrHandlerInstalled
		}
		return installed, nil
	}

	h := &InterruptHandler{
		registry:  reg,
		exit:      os.Exit,
		exitAfter: !signal.Ignored(os.Interrupt),
		signals:   make(chan os.Signal, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	signal.Notify(h.signals, os.Interrupt)
	go h.loop()

	installed = h
	return h, nil
}

func (h *InterruptHandler) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			return
		case sig := <-h.signals:
			h.handle(sig)
		}
	}
}

func (h *InterruptHandler) handle(sig os.Signal) {
	n := h.registry.KillAll(unix.SIGTERM)
	log.Info("interrupted, terminating supervised processes", "count", n)

	for _, fn := range h.chain {
		fn(sig)
	}
	if h.exitAfter {
		h.exit(interruptExitCode)
	}
}

// Stop unsubscribes from SIGINT and uninstalls the handler.
func (h *InterruptHandler) Stop() {
	h.stopOnce.Do(func() {
		signal.Stop(h.signals)
		close(h.stop)
		<-h.done

		handlerMu.Lock()
		if installed == h {
			installed = nil
		}
		handlerMu.Unlock()
	})
}
