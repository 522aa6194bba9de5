package task

import (
	"fmt"

	"github.com/criyle/go-taskrt/types"
)

// Fault aborts the running task. It is raised with panic from the task
// goroutine and recovered by the lifecycle manager.
type Fault struct {
	Status types.Status
	Reason string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("task: %v: %s", f.Status, f.Reason)
}

// ExitCode is raised by Exit
type ExitCode int

// Exit terminates the calling task with code. It must be called from the
// task goroutine.
func (t *Task) Exit(code int) {
	panic(ExitCode(code))
}

// Abort terminates the calling task abnormally
func (t *Task) Abort(reason string) {
	panic(&Fault{Status: types.StatusFault, Reason: reason})
}

// Killed reports whether the task was asked to terminate
func (t *Task) Killed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
