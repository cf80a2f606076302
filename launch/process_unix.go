package launch

import (
	"errors"

	"github.com/gustash/proctor/process"
	"golang.org/x/sys/unix"
)

// signalJob delivers sig to the job's child. When the job runs in its own
// process group the whole group gets the signal, so grandchildren spawned
// by a shell wrapper are stopped as well.
func signalJob(p *process.Process, sig unix.Signal, group bool) error {
	if !group {
		return p.Signal(sig)
	}

	pid, ok := p.Pid()
	if !ok || p.State() != process.StateRunning {
		return nil
	}

	pgid, err := unix.Getpgid(pid)
	if err != nil {
		// If we can't get the pgid, just signal the process itself
		return p.Signal(sig)
	}

	// Negative pid addresses the process group.
	if err := unix.Kill(-pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
