package seccomp

import (
	"fmt"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// SockFprog converts Filter to SockFprog for seccomp syscall
func (f Filter) SockFprog() (*unix.SockFprog, error) {
	raw, err := bpf.Assemble(f)
	if err != nil {
		return nil, fmt.Errorf("seccomp: assemble filter(%v)", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("seccomp: empty filter")
	}
	b := make([]unix.SockFilter, len(raw))
	for i, r := range raw {
		b[i] = unix.SockFilter{Code: r.Op, Jt: r.Jt, Jf: r.Jf, K: r.K}
	}
	return &unix.SockFprog{
		Len:    uint16(len(b)),
		Filter: &b[0],
	}, nil
}
