package types

import (
	"fmt"
	"time"
)

// Leak is a resource record that was still registered when its task terminated
type Leak struct {
	Kind string
	Key  int
}

// Result is the task result produced by teardown
type Result struct {
	Status            // result status
	ExitStatus int    // value returned by the entry point
	Error      string // potential detailed error message (fault / runner error)

	Memory Size   // peak heap usage of the task arena
	Leaked []Leak // resource records force released by teardown

	// metrics for the lifecycle manager
	SetUpTime   time.Duration
	RunningTime time.Duration
}

func (r Result) String() string {
	switch r.Status {
	case StatusNormal:
		return fmt.Sprintf("Result[%v leaked=%d][%v %v]", r.Memory, len(r.Leaked), r.SetUpTime, r.RunningTime)

	case StatusFault, StatusRunnerError:
		return fmt.Sprintf("Result[%v(%s)][%v leaked=%d][%v %v]", r.Status, r.Error, r.Memory, len(r.Leaked), r.SetUpTime, r.RunningTime)

	default:
		return fmt.Sprintf("Result[%v(%d)][%v leaked=%d][%v %v]", r.Status, r.ExitStatus, r.Memory, len(r.Leaked), r.SetUpTime, r.RunningTime)
	}
}
