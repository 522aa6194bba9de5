package libseccomp

import (
	"github.com/criyle/go-taskrt/pkg/seccomp"
	libseccomp "github.com/elastic/go-seccomp-bpf"
)

// ToSeccompAction convert action to libseccomp compatible action
func ToSeccompAction(a seccomp.Action) libseccomp.Action {
	// the least 16 bit of ret value is SECCOMP_RET_DATA
	return libseccomp.Action(seccomp.ToReturn(a))
}
