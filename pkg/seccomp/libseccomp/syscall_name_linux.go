package libseccomp

import (
	"fmt"

	"github.com/elastic/go-seccomp-bpf/arch"
)

var info, errInfo = arch.GetInfo("")

// ToSyscallName convert syscallno to syscall name
func ToSyscallName(sysno uint) (string, error) {
	if errInfo != nil {
		return "", errInfo
	}
	n, ok := info.SyscallNumbers[int(sysno)]
	if !ok {
		return "", fmt.Errorf("libseccomp: syscall no %d does not exist", sysno)
	}
	return n, nil
}

// ToSyscallNo convert syscall name to its number
func ToSyscallNo(name string) (int, error) {
	if errInfo != nil {
		return 0, errInfo
	}
	n, ok := info.SyscallNames[name]
	if !ok {
		return 0, fmt.Errorf("libseccomp: syscall %q does not exist", name)
	}
	return n, nil
}
