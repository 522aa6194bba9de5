package seccomp

import "fmt"

// Policy checks syscalls by name against a loaded filter
type Policy struct {
	prog    *Program
	arch    uint32
	numbers map[string]int
}

// NewPolicy creates a policy for the architecture arch, numbers maps syscall
// names to their numbers on that architecture
func NewPolicy(prog *Program, arch uint32, numbers map[string]int) *Policy {
	return &Policy{prog: prog, arch: arch, numbers: numbers}
}

// Check returns the decision for syscall name with arguments args
func (p *Policy) Check(name string, args ...uint64) (Action, error) {
	nr, ok := p.numbers[name]
	if !ok {
		return ActionKill, fmt.Errorf("seccomp: unknown syscall %q", name)
	}
	d := Data{Nr: int32(nr), Arch: p.arch}
	copy(d.Args[:], args)
	return p.prog.Eval(d)
}
