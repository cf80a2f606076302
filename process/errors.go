package process

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Sentinel errors for the process package.
var (
	// ErrAlreadyRunning is returned by Start when the process is still running.
	ErrAlreadyRunning = errors.New("process already running")

	// ErrNoArguments is returned by Start when no command token was pushed.
	ErrNoArguments = errors.New("no command to run")

	// ErrProgramNotFound matches a LaunchError whose program could not be resolved.
	ErrProgramNotFound = errors.New("program not found")

	// ErrDirectoryChange matches a LaunchError raised before the exec stage.
	ErrDirectoryChange = errors.New("child setup failed")

	// ErrExec matches a LaunchError raised by the exec stage.
	ErrExec = errors.New("exec failed")

	// ErrLauncherNotInstalled is returned when the re-executed binary does not
	// call Init, so nothing answers on the launch channels.
	ErrLauncherNotInstalled = errors.New("launcher not installed: call process.Init at the start of main")
)

// Stage identifies where in the launch window a child failed.
type Stage int32

const (
	stageReady Stage = iota
	// StageDirectoryChange covers everything the child does before exec:
	// process group, environment and working directory.
	StageDirectoryChange
	// StageExec covers program resolution and image replacement.
	StageExec
)

// String returns a human-readable stage name.
func (s Stage) String() string {
	switch s {
	case stageReady:
		return "ready"
	case StageDirectoryChange:
		return "chdir"
	case StageExec:
		return "exec"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// LaunchError reports a failure that happened in the child after the spawn
// but before the target program replaced it.
type LaunchError struct {
	Stage   Stage
	Program string
	Dir     string
	Err     error
}

func (e *LaunchError) Error() string {
	switch e.Stage {
	case StageDirectoryChange:
		if e.Dir != "" {
			return fmt.Sprintf("launch %s: change directory to %s: %v", e.Program, e.Dir, e.Err)
		}
		return fmt.Sprintf("launch %s: prepare child: %v", e.Program, e.Err)
	default:
		return fmt.Sprintf("launch %s: %s: %v", e.Program, e.Stage, e.Err)
	}
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Is lets callers match on the stage with errors.Is.
func (e *LaunchError) Is(target error) bool {
	switch target {
	case ErrDirectoryChange:
		return e.Stage == StageDirectoryChange
	case ErrExec:
		return e.Stage == StageExec
	case ErrProgramNotFound:
		return e.Stage == StageExec && errors.Is(e.Err, unix.ENOENT)
	}
	return false
}

// ResourceError reports an OS resource failure in the parent: pipe or
// descriptor allocation, spawning, reaping or signaling.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}
