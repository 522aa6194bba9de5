// Package seccomp provides a generated filter format for syscall policies
// and evaluates it against the calls made by a task.
package seccomp

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// Filter is the BPF seccomp filter program
type Filter []bpf.Instruction

// seccomp return values, upper 16 bits select the action
const (
	retKillThread  = 0x00000000
	retKillProcess = 0x80000000
	retTrap        = 0x00030000
	retErrno       = 0x00050000
	retTrace       = 0x7ff00000
	retLog         = 0x7ffc0000
	retAllow       = 0x7fff0000

	retActionMask = 0xffff0000
	retDataMask   = 0x0000ffff
)

// DataSize is the size of struct seccomp_data
const DataSize = 64

// Data is the input of a filter, the layout of struct seccomp_data
type Data struct {
	Nr                 int32
	Arch               uint32
	InstructionPointer uint64
	Args               [6]uint64
}

// marshal encodes d in network byte order which is how the bpf VM loads
// words from its input
func (d *Data) marshal(b []byte) {
	binary.BigEndian.PutUint32(b[0:], uint32(d.Nr))
	binary.BigEndian.PutUint32(b[4:], d.Arch)
	binary.BigEndian.PutUint64(b[8:], d.InstructionPointer)
	for i, a := range d.Args {
		binary.BigEndian.PutUint64(b[16+8*i:], a)
	}
}

// Program is a loaded Filter ready for evaluation
type Program struct {
	vm *bpf.VM
}

// Load validates the filter and prepares it for evaluation
func (f Filter) Load() (*Program, error) {
	vm, err := bpf.NewVM(f)
	if err != nil {
		return nil, fmt.Errorf("seccomp: load filter(%v)", err)
	}
	return &Program{vm: vm}, nil
}

// Eval runs the filter and converts the seccomp return value to Action.
// Trap, trace and log decisions are treated as kill and allow the same way
// the kernel would for a process without a tracer.
func (p *Program) Eval(d Data) (Action, error) {
	var in [DataSize]byte
	d.marshal(in[:])
	ret, err := p.vm.Run(in[:])
	if err != nil {
		return 0, fmt.Errorf("seccomp: run filter(%v)", err)
	}
	return fromReturn(uint32(ret)), nil
}

func fromReturn(ret uint32) Action {
	switch ret & retActionMask {
	case retAllow, retLog:
		return ActionAllow
	case retErrno:
		return ActionErrno.WithReturnCode(int16(ret & retDataMask))
	case retTrace:
		// no tracer attached, the call fails with ENOSYS
		return ActionErrno.WithReturnCode(int16(unix.ENOSYS))
	default:
		return ActionKill
	}
}

// ToReturn converts Action to the seccomp return value
func ToReturn(a Action) uint32 {
	switch a.Action() {
	case ActionAllow:
		return retAllow
	case ActionErrno:
		return retErrno | uint32(uint16(a.ReturnCode()))
	default:
		return retKillProcess
	}
}
