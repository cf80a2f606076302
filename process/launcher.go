package process

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// Init turns the current invocation into a launcher when it was started as
// one by Start, and returns immediately otherwise. Every binary that starts
// processes must call it first thing in main, and test binaries from
// TestMain:
//
//	func main() {
//		process.Init()
//		...
//	}
//
// In a launcher invocation Init never returns.
func Init() {
	if !isLauncher() {
		return
	}
	runInChild()
}

// isLauncher reports whether this invocation was spawned as a launcher.
func isLauncher() bool {
	return len(os.Args) > 0 && os.Args[0] == launcherArg0
}

// runInChild is the launcher: it applies the launch request to its own
// process and replaces itself with the target program. Any failure is
// written to the child error channel and the launcher exits without further
// cleanup.
func runInChild() {
	channel := os.NewFile(errorFD, "child-error-channel")
	if channel == nil {
		os.Exit(launcherExitCode)
	}
	// The descriptor was inherited without close-on-exec. Mark it again so
	// that a successful exec closes it and the parent reads EOF.
	unix.CloseOnExec(errorFD)

	if err := writeChildMessage(channel, childMessage{Stage: stageReady}); err != nil {
		os.Exit(launcherExitCode)
	}

	requests := os.NewFile(requestFD, "launch-request")
	req, err := readLaunchRequest(requests)
	if requests != nil {
		requests.Close()
	}
	if err != nil {
		failLaunch(channel, StageDirectoryChange, int32(unix.EINVAL))
	}

	if req.SetPgid {
		if err := unix.Setpgid(0, req.Pgid); err != nil {
			failLaunch(channel, StageDirectoryChange, errnoOf(err))
		}
	}

	for _, kv := range req.Env {
		key, value, _ := strings.Cut(kv, "=")
		if err := os.Setenv(key, value); err != nil {
			failLaunch(channel, StageDirectoryChange, errnoOf(err))
		}
	}

	if req.Dir != "" {
		if err := os.Chdir(req.Dir); err != nil {
			failLaunch(channel, StageDirectoryChange, errnoOf(err))
		}
	}

	path, err := exec.LookPath(req.Args[0])
	if errors.Is(err, exec.ErrDot) {
		err = nil
	}
	if err != nil {
		failLaunch(channel, StageExec, lookPathErrno(err))
	}

	err = unix.Exec(path, req.Args, os.Environ())
	failLaunch(channel, StageExec, errnoOf(err))
}

func failLaunch(channel *os.File, stage Stage, code int32) {
	_ = writeChildMessage(channel, childMessage{Stage: stage, Code: code})
	os.Exit(launcherExitCode)
}

// lookPathErrno maps a PATH resolution failure to the errno execvp would
// have reported.
func lookPathErrno(err error) int32 {
	var errno unix.Errno
	switch {
	case errors.As(err, &errno):
		return int32(errno)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return int32(unix.ENOENT)
	case errors.Is(err, fs.ErrPermission):
		return int32(unix.EACCES)
	default:
		return int32(unix.EINVAL)
	}
}
