package libseccomp

import (
	"fmt"

	"github.com/criyle/go-taskrt/pkg/seccomp"
	libseccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/sys/unix"
)

// Build builds the filter
func (b *Builder) Build() (seccomp.Filter, error) {
	if b.Default.Action() == 0 {
		return nil, fmt.Errorf("libseccomp: default action not set")
	}
	code := b.ErrnoCode
	if code == 0 {
		code = int16(unix.EPERM)
	}
	policy := libseccomp.Policy{
		DefaultAction: ToSeccompAction(b.Default),
	}
	add := func(names []string, action seccomp.Action) {
		if len(names) > 0 {
			policy.Syscalls = append(policy.Syscalls, libseccomp.SyscallGroup{
				Names:  names,
				Action: ToSeccompAction(action),
			})
		}
	}
	add(b.Allow, seccomp.ActionAllow)
	add(b.Errno, seccomp.ActionErrno.WithReturnCode(code))
	add(b.Kill, seccomp.ActionKill)

	prog, err := policy.Assemble()
	if err != nil {
		return nil, fmt.Errorf("libseccomp: assemble policy(%v)", err)
	}
	return seccomp.Filter(prog), nil
}

// Policy builds the filter and loads it for the running architecture
func (b *Builder) Policy() (*seccomp.Policy, error) {
	filter, err := b.Build()
	if err != nil {
		return nil, err
	}
	prog, err := filter.Load()
	if err != nil {
		return nil, err
	}
	if errInfo != nil {
		return nil, errInfo
	}
	return seccomp.NewPolicy(prog, uint32(info.ID), info.SyscallNames), nil
}
