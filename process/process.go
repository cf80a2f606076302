package process

import (
	"os"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gustash/proctor/logger"
	"golang.org/x/sys/unix"
)

var log = logger.L("process")

// nextID hands out the identity each Process registers under.
var nextID atomic.Uint64

// Process describes one command invocation and, once started, the child
// running it.
//
// Configuration calls never fail. Changing the configuration of a running
// Process only affects the next Start. A Process is safe for concurrent use:
// one goroutine may block in Wait while another calls Signal.
type Process struct {
	id       uint64
	registry *Registry

	mu        sync.Mutex
	args      []string
	dir       string
	env       map[string]string
	redirects redirections
	setPgid   bool
	pgid      int

	state      State
	pid        int
	started    time.Time
	exitNormal bool
	exitStatus int
	termSignal unix.Signal

	// reapMu serializes wait4 calls on the current pid.
	reapMu sync.Mutex
}

// Option configures a Process at construction.
type Option func(*Process)

// WithRegistry registers the process in r while it is running, so that
// r.KillAll reaches it.
func WithRegistry(r *Registry) Option {
	return func(p *Process) {
		p.registry = r
	}
}

// WithArgs sets the initial command tokens.
func WithArgs(args ...string) Option {
	return func(p *Process) {
		p.args = append(p.args, args...)
	}
}

// New creates a Process in the NotStarted state.
func New(opts ...Option) *Process {
	p := &Process{
		id:         nextID.Add(1),
		env:        make(map[string]string),
		exitNormal: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Push appends command tokens. The first token is the program, looked up
// in PATH when it has no slash.
func (p *Process) Push(args ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.args = append(p.args, args...)
}

// Arguments returns a copy of the command tokens.
func (p *Process) Arguments() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.args)
}

// Clear removes all command tokens. Redirections, environment and working
// directory are kept. A process that is not running goes back to
// NotStarted.
func (p *Process) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.args = nil
	if p.state != StateRunning {
		p.state = StateNotStarted
		p.pid = 0
		p.exitNormal = true
		p.exitStatus = 0
		p.termSignal = 0
	}
}

// SetWorkDir sets the directory the child changes to before exec.
// An empty dir keeps the parent's working directory.
func (p *Process) SetWorkDir(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dir = dir
}

// WorkDir returns the configured working directory.
func (p *Process) WorkDir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir
}

// SetEnv overrides one environment variable in the child. Variables that
// are not overridden are inherited from the parent.
func (p *Process) SetEnv(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.env[key] = value
}

// Env returns the override for key, if any.
func (p *Process) Env(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.env[key]
	return v, ok
}

// UnsetEnv removes the override for key.
func (p *Process) UnsetEnv(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.env, key)
}

// ClearEnv removes every environment override.
func (p *Process) ClearEnv() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.env)
}

// RedirectToPath sends stream to the file at path, created or truncated on
// each Start.
func (p *Process) RedirectToPath(stream Stream, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.redirects.get(stream).set(path, nil, false); err != nil {
		log.Warn("close previous redirection", "stream", stream, logger.KeyError, err)
	}
}

// RedirectToFile sends stream to f. When owned is true the Process takes
// ownership of f: the parent's copy is closed by the next Start, or when the
// redirection is replaced, erased or the Process is closed. When owned is
// false f is left open for the caller.
func (p *Process) RedirectToFile(stream Stream, f *os.File, owned bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.redirects.get(stream).set("", f, owned); err != nil {
		log.Warn("close previous redirection", "stream", stream, logger.KeyError, err)
	}
}

// EraseRedirection makes stream inherited again.
func (p *Process) EraseRedirection(stream Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.redirects.get(stream).release(); err != nil {
		log.Warn("close redirection", "stream", stream, logger.KeyError, err)
	}
}

// Redirection returns the current target of stream.
func (p *Process) Redirection(stream Stream) Redirection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.redirects.get(stream).view()
}

// SetProcessGroup asks the child to join process group pgid. A pgid of 0
// puts the child in a new group of its own.
func (p *Process) SetProcessGroup(pgid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setPgid = true
	p.pgid = pgid
}

// ClearProcessGroup keeps the child in the parent's process group.
func (p *Process) ClearProcessGroup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setPgid = false
	p.pgid = 0
}

// ProcessGroup returns the requested process group, if any.
func (p *Process) ProcessGroup() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pgid, p.setPgid
}

// State returns the lifecycle state without polling the child.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Pid returns the pid of the current or last child. ok is false when no
// child is associated with the process.
func (p *Process) Pid() (pid int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning && p.state != StateExited {
		return 0, false
	}
	return p.pid, true
}

// StartedAt returns when the current or last child was started.
func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// ExitNormal reports whether the last child exited on its own rather than
// being terminated by a signal.
func (p *Process) ExitNormal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitNormal
}

// ExitStatus returns the exit code of the last child. It is -1 when the
// child was terminated by a signal; see TermSignal.
func (p *Process) ExitStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitStatus
}

// TermSignal returns the signal that terminated the last child, or 0.
func (p *Process) TermSignal() unix.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.termSignal
}

// Start launches the configured command and returns once the program has
// replaced the child image, or with the reason it could not.
//
// Failures inside the child are returned as *LaunchError; the failed child
// is reaped before Start returns. OS resource failures in the parent are
// returned as *ResourceError.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateRunning {
		return ErrAlreadyRunning
	}
	if len(p.args) == 0 {
		return ErrNoArguments
	}

	req := p.request()
	files, err := p.redirects.prepare()
	if err != nil {
		return err
	}

	pid, err := runInParent(req, files, func(pid int) {
		if p.registry != nil {
			p.registry.add(p.id, pid)
		}
	})
	if err != nil {
		p.unregister()
		p.state = StateNotStarted
		p.pid = 0
		log.Debug("launch failed", "program", req.Args[0], logger.KeyError, err)
		return err
	}

	p.state = StateRunning
	p.pid = pid
	p.started = time.Now()
	p.exitNormal = true
	p.exitStatus = 0
	p.termSignal = 0
	log.Debug("started", "program", req.Args[0], logger.KeyPID, pid)
	return nil
}

// request snapshots the configuration for the launcher. Callers hold mu.
func (p *Process) request() *launchRequest {
	req := &launchRequest{
		Args:    slices.Clone(p.args),
		Dir:     p.dir,
		SetPgid: p.setPgid,
		Pgid:    p.pgid,
	}
	keys := make([]string, 0, len(p.env))
	for k := range p.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		req.Env = append(req.Env, k+"="+p.env[k])
	}
	return req
}

// unregister drops the registry entry. Callers hold mu.
func (p *Process) unregister() {
	if p.registry != nil {
		p.registry.remove(p.id)
	}
}

// Close releases the process. A running child is unregistered, terminated
// and reaped first; owned redirection descriptors are closed last.
func (p *Process) Close() error {
	p.mu.Lock()
	p.unregister()
	running := p.state == StateRunning
	p.mu.Unlock()

	if running {
		p.stop(closeGracePeriod)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.redirects.release()
}
