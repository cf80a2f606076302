package process

import "fmt"

// State represents the lifecycle state of a Process.
type State int

const (
	// StateNotStarted indicates no child is associated with the process.
	StateNotStarted State = iota
	// StateRunning indicates a child was started and has not been reaped.
	StateRunning
	// StateExited indicates the child was reaped and its status recorded.
	StateExited
	// StateDetached indicates the child was released without being reaped.
	StateDetached
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateDetached:
		return "detached"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}
