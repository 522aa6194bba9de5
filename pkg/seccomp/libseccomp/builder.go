// Package libseccomp assembles syscall policies into seccomp filters for the
// running architecture.
package libseccomp

import "github.com/criyle/go-taskrt/pkg/seccomp"

// Builder is used to build the filter
type Builder struct {
	Allow, Errno, Kill []string
	Default            seccomp.Action
	// ErrnoCode is returned by calls in Errno, EPERM when zero
	ErrnoCode int16
}
