package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// launcherArg0 marks a re-execution of the current binary as a launcher.
const launcherArg0 = "proctor-launcher"

// Descriptor numbers of the launch channels inside the launcher.
const (
	requestFD = 3
	errorFD   = 4
)

// launcherExitCode is the status a launcher exits with after reporting a
// failure on the child error channel.
const launcherExitCode = 127

// readinessTimeout bounds how long the parent waits for the launcher's
// readiness record. A binary that never calls Init runs its own main
// instead and is killed once this expires.
var readinessTimeout = 5 * time.Second

// runInParent spawns a launcher for req and blocks until the launch is
// decided: it returns the child pid once the program replaced the launcher,
// or the failure the launcher reported, after reaping it.
//
// The child error channel is a close-on-exec pipe. The launcher writes a
// readiness record when it takes over, then either a failure record or
// nothing; in the latter case the successful exec closes the write end and
// the parent reads EOF.
//
// spawned is called with the pid right after the spawn, before the launch
// outcome is known.
func runInParent(req *launchRequest, files *spawnFiles, spawned func(pid int)) (int, error) {
	if isLauncher() {
		// A launcher that got here skipped Init; spawning again would recurse.
		files.closeParentSide()
		return 0, ErrLauncherNotInstalled
	}

	self, err := os.Executable()
	if err != nil {
		files.closeParentSide()
		return 0, &ResourceError{Op: "locate launcher", Err: err}
	}

	reqR, reqW, err := os.Pipe()
	if err != nil {
		files.closeParentSide()
		return 0, &ResourceError{Op: "create request channel", Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		files.closeParentSide()
		reqR.Close()
		reqW.Close()
		return 0, &ResourceError{Op: "create child error channel", Err: err}
	}
	defer errR.Close()

	proc, err := os.StartProcess(self, []string{launcherArg0}, &os.ProcAttr{
		Files: []*os.File{os.Stdin, files.stdout, files.stderr, reqR, errW},
	})

	// Whatever only existed to feed the child goes now, including our copy
	// of the error channel's write end: otherwise EOF never arrives.
	files.closeParentSide()
	reqR.Close()
	errW.Close()

	if err != nil {
		reqW.Close()
		return 0, &ResourceError{Op: "spawn", Err: err}
	}

	pid := proc.Pid
	// Reaping happens through wait4 on the pid.
	_ = proc.Release()
	spawned(pid)

	// Pipes from os.Pipe are pollable, so deadlines apply. A failure to set
	// them only costs the bound on a misbehaving host.
	deadline := time.Now().Add(readinessTimeout)
	_ = reqW.SetWriteDeadline(deadline)
	_ = errR.SetReadDeadline(deadline)

	writeErr := req.writeTo(reqW)
	reqW.Close()

	msg, err := readChildMessage(errR)
	if err != nil {
		abandon(pid)
		timedOut := errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(writeErr, os.ErrDeadlineExceeded)
		if timedOut || (errors.Is(err, io.EOF) && writeErr == nil) {
			return 0, ErrLauncherNotInstalled
		}
		if writeErr != nil {
			return 0, &ResourceError{Op: "send launch request", Err: writeErr}
		}
		return 0, &ResourceError{Op: "read child error channel", Err: err}
	}
	if msg.Stage != stageReady {
		abandon(pid)
		return 0, &ResourceError{Op: "read child error channel", Err: fmt.Errorf("unexpected %s record before readiness", msg.Stage)}
	}
	// The launcher is ours now; exec may take as long as it takes.
	_ = errR.SetReadDeadline(time.Time{})

	msg, err = readChildMessage(errR)
	switch {
	case errors.Is(err, io.EOF):
		return pid, nil
	case err != nil:
		reap(pid)
		return 0, &ResourceError{Op: "read child error channel", Err: err}
	}

	reap(pid)
	return 0, &LaunchError{
		Stage:   msg.Stage,
		Program: req.Args[0],
		Dir:     req.Dir,
		Err:     unix.Errno(msg.Code),
	}
}

// abandon kills and reaps a child that never acknowledged the launch.
func abandon(pid int) {
	_ = unix.Kill(pid, unix.SIGKILL)
	reap(pid)
}

// reap collects a launcher that is exiting after a failed launch.
func reap(pid int) {
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &status, 0, nil)
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}
