//go:build !linux

package libseccomp

import (
	"fmt"
	"runtime"

	"github.com/criyle/go-taskrt/pkg/seccomp"
)

var errNotImplemented = fmt.Errorf("libseccomp: unsupported on platform %s", runtime.GOOS)

// Build builds the filter
func (b *Builder) Build() (seccomp.Filter, error) {
	return nil, errNotImplemented
}

// Policy builds the filter and loads it for the running architecture
func (b *Builder) Policy() (*seccomp.Policy, error) {
	return nil, errNotImplemented
}
