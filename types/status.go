package types

// Status is the termination status of a task
type Status int

// Termination status reported by teardown
const (
	StatusInvalid Status = iota // 0 not initialized
	// Normal
	StatusNormal // 1 entry returned 0

	// Runtime Error
	StatusNonzeroExitStatus // 2 entry returned non-zero
	StatusKilled            // 3 killed through the lifecycle manager
	StatusFault             // 4 panic inside task code

	// Unauthorized Access
	StatusDisallowedSyscall // 5 syscall policy kill action

	// Task Runner Error
	StatusRunnerError // 6 runtime error
)

var (
	statusString = []string{
		"Invalid",
		"",
		"Nonzero Exit Status",
		"Killed",
		"Fault",
		"Disallowed Syscall",
		"Runner Error",
	}
)

func (t Status) String() string {
	i := int(t)
	if i >= 0 && i < len(statusString) {
		return statusString[i]
	}
	return statusString[0]
}

func (t Status) Error() string {
	return t.String()
}

// Abnormal reports whether the task did not finish by returning from its entry
func (t Status) Abnormal() bool {
	switch t {
	case StatusKilled, StatusFault, StatusDisallowedSyscall, StatusRunnerError:
		return true
	}
	return false
}
