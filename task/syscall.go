package task

import (
	"github.com/criyle/go-taskrt/pkg/seccomp"
	"github.com/criyle/go-taskrt/types"
	"golang.org/x/sys/unix"
)

// Syscall names checked against the policy
const (
	SysOpen  = "openat"
	SysClose = "close"
	SysRead  = "read"
	SysWrite = "write"
	SysSeek  = "lseek"
	SysKill  = "kill"
)

// Syscall checks a call the task makes outside of this package, such as
// killing another task, against its policy
func (t *Task) Syscall(name string, args ...uint64) error {
	return t.syscall(name, args...)
}

// syscall is the entry of every call that leaves the task. A killed task
// unwinds here, the policy decides whether the call proceeds.
func (t *Task) syscall(name string, args ...uint64) error {
	if t.Killed() {
		panic(&Fault{Status: types.StatusKilled, Reason: "killed in " + name})
	}
	if t.policy == nil {
		return nil
	}
	a, err := t.policy.Check(name, args...)
	if err != nil {
		a = seccomp.ActionKill
	}
	switch a.Action() {
	case seccomp.ActionAllow:
		return nil
	case seccomp.ActionErrno:
		return t.fail(unix.Errno(a.ReturnCode()))
	default:
		panic(&Fault{Status: types.StatusDisallowedSyscall, Reason: name})
	}
}
