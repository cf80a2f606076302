package process

import (
	"errors"
	"time"

	"github.com/gustash/proctor/logger"
	"golang.org/x/sys/unix"
)

const (
	// closeGracePeriod is how long Close waits after SIGTERM before SIGKILL.
	closeGracePeriod = 2 * time.Second

	// pollInterval paces the non-blocking waits of stop.
	pollInterval = 10 * time.Millisecond
)

// Wait blocks until the child has exited and records its status. Calling
// Wait again after the child was reaped returns immediately and leaves the
// recorded status untouched. Wait on a process that is not running is a
// no-op.
func (p *Process) Wait() error {
	_, err := p.wait(true)
	return err
}

// Poll checks for a status change without blocking. changed is false while
// the child is still running.
func (p *Process) Poll() (changed bool, err error) {
	return p.wait(false)
}

// Running reports whether the child is still running, polling it first.
func (p *Process) Running() bool {
	if _, err := p.Poll(); err != nil {
		log.Debug("poll failed", logger.KeyError, err)
	}
	return p.State() == StateRunning
}

func (p *Process) wait(block bool) (bool, error) {
	if block {
		p.reapMu.Lock()
	} else if !p.reapMu.TryLock() {
		// Another goroutine is reaping; its result will show up in state.
		return p.State() == StateExited, nil
	}
	defer p.reapMu.Unlock()

	p.mu.Lock()
	switch p.state {
	case StateExited:
		p.mu.Unlock()
		return true, nil
	case StateRunning:
	default:
		p.mu.Unlock()
		return false, nil
	}
	pid := p.pid
	p.mu.Unlock()

	for {
		var waitErr error
		if block {
			// The child stays a zombie until it is reaped below, so its pid
			// cannot be reused while Signal or KillAll might still target it.
			waitErr = awaitExit(pid)
		}

		p.mu.Lock()
		if p.state != StateRunning || p.pid != pid {
			// Detached while we were waiting.
			p.mu.Unlock()
			return false, nil
		}
		if waitErr != nil {
			p.mu.Unlock()
			return false, &ResourceError{Op: "wait", Err: waitErr}
		}

		wpid, status, err := p.reapExited(pid)
		if err != nil {
			p.mu.Unlock()
			return false, &ResourceError{Op: "wait", Err: err}
		}
		if wpid != 0 {
			p.recordExit(status)
			p.mu.Unlock()
			return true, nil
		}
		p.mu.Unlock()

		if !block {
			return false, nil
		}
		// Only reached where awaitExit cannot block.
		time.Sleep(pollInterval)
	}
}

// reapExited collects pid without blocking. The registry stays locked
// across the wait4 so KillAll never signals a pid that is already reaped.
// Callers hold mu.
func (p *Process) reapExited(pid int) (wpid int, status unix.WaitStatus, err error) {
	collect := func() bool {
		for {
			wpid, err = unix.Wait4(pid, &status, unix.WNOHANG, nil)
			if !errors.Is(err, unix.EINTR) {
				return err == nil && wpid == pid
			}
		}
	}
	if p.registry != nil {
		p.registry.removeIf(p.id, collect)
	} else {
		collect()
	}
	return wpid, status, err
}

// recordExit stores the decoded status and leaves the Running state.
// Callers hold mu.
func (p *Process) recordExit(status unix.WaitStatus) {
	p.unregister()
	p.state = StateExited

	switch {
	case status.Exited():
		p.exitNormal = true
		p.exitStatus = status.ExitStatus()
		p.termSignal = 0
	case status.Signaled():
		p.exitNormal = false
		p.exitStatus = -1
		p.termSignal = status.Signal()
	default:
		p.exitNormal = false
		p.exitStatus = -1
		p.termSignal = 0
	}

	log.Debug("reaped",
		logger.KeyPID, p.pid,
		"normal", p.exitNormal,
		"status", p.exitStatus,
		"signal", p.termSignal,
	)
}

// Signal sends sig to the child. It does nothing when the process is not
// running, and a child that is already gone is not an error.
func (p *Process) Signal(sig unix.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateRunning {
		return nil
	}
	if err := unix.Kill(p.pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return &ResourceError{Op: "signal " + sig.String(), Err: err}
	}
	return nil
}

// Terminate sends SIGTERM to the child.
func (p *Process) Terminate() error {
	return p.Signal(unix.SIGTERM)
}

// Interrupt sends SIGINT to the child.
func (p *Process) Interrupt() error {
	return p.Signal(unix.SIGINT)
}

// Kill sends SIGKILL to the child.
func (p *Process) Kill() error {
	return p.Signal(unix.SIGKILL)
}

// Detach forgets the child without reaping it. The caller becomes
// responsible for it; the Process behaves as if it was never started.
func (p *Process) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateRunning {
		return
	}
	p.unregister()
	log.Debug("detached", logger.KeyPID, p.pid)
	p.state = StateDetached
	p.pid = 0
}

// stop terminates the child, escalating to SIGKILL after grace, and reaps
// it.
func (p *Process) stop(grace time.Duration) {
	if err := p.Terminate(); err != nil {
		log.Warn("terminate failed", logger.KeyError, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		changed, err := p.Poll()
		if changed || err != nil || p.State() != StateRunning {
			return
		}
		time.Sleep(pollInterval)
	}

	if err := p.Kill(); err != nil {
		log.Warn("kill failed", logger.KeyError, err)
	}
	if err := p.Wait(); err != nil {
		log.Warn("wait failed", logger.KeyError, err)
	}
}
