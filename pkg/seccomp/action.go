package seccomp

import (
	"fmt"
	"strings"
)

// Action is the decision of a policy for one syscall
type Action uint32

// Action defines seccomp action to the syscall
// default value 0 is invalid
const (
	ActionAllow Action = iota + 1
	ActionErrno
	ActionKill
)

var actionString = []string{"invalid", "allow", "errno", "kill"}

// WithReturnCode set the return code when action is errno
func (a Action) WithReturnCode(code int16) Action {
	return a.Action() | Action(uint16(code))<<16
}

// ReturnCode get the return code
func (a Action) ReturnCode() int16 {
	return int16(a >> 16)
}

// Action get the basic action
func (a Action) Action() Action {
	return Action(a & 0xffff)
}

func (a Action) String() string {
	b := a.Action()
	if int(b) >= len(actionString) {
		return fmt.Sprintf("action(%d)", uint32(b))
	}
	if b == ActionErrno && a.ReturnCode() != 0 {
		return fmt.Sprintf("errno(%d)", a.ReturnCode())
	}
	return actionString[b]
}

// ParseAction parses allow, errno and kill
func ParseAction(s string) (Action, error) {
	for i, n := range actionString[1:] {
		if strings.EqualFold(s, n) {
			return Action(i + 1), nil
		}
	}
	return 0, fmt.Errorf("seccomp: invalid action %q", s)
}

// UnmarshalText parses an action name
func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
