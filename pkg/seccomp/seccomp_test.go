package seccomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"
)

const testArch = 0xc000003e

// allow 1, errno(13) for 2, kill the rest, kill on foreign arch
var testFilter = Filter{
	bpf.LoadAbsolute{Off: 4, Size: 4},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: testArch, SkipTrue: 1},
	bpf.RetConstant{Val: retKillProcess},
	bpf.LoadAbsolute{Off: 0, Size: 4},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: 1, SkipFalse: 1},
	bpf.RetConstant{Val: retAllow},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: 2, SkipFalse: 1},
	bpf.RetConstant{Val: retErrno | 13},
	bpf.RetConstant{Val: retKillProcess},
}

func TestProgramEval(t *testing.T) {
	prog, err := testFilter.Load()
	require.NoError(t, err)

	tests := []struct {
		nr   int32
		arch uint32
		want Action
	}{
		{1, testArch, ActionAllow},
		{2, testArch, ActionErrno.WithReturnCode(13)},
		{3, testArch, ActionKill},
		{1, 0x40000028, ActionKill},
	}
	for _, tc := range tests {
		got, err := prog.Eval(Data{Nr: tc.nr, Arch: tc.arch})
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "nr %d arch %x", tc.nr, tc.arch)
	}
}

func TestPolicyCheck(t *testing.T) {
	prog, err := testFilter.Load()
	require.NoError(t, err)
	p := NewPolicy(prog, testArch, map[string]int{"read": 1, "openat": 2, "kill": 3})

	a, err := p.Check("read")
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, a)

	a, err = p.Check("openat")
	require.NoError(t, err)
	assert.Equal(t, ActionErrno, a.Action())
	assert.EqualValues(t, 13, a.ReturnCode())

	a, err = p.Check("nosuchcall")
	assert.Error(t, err)
	assert.Equal(t, ActionKill, a)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Filter{bpf.LoadAbsolute{Off: 0, Size: 4}}.Load()
	assert.Error(t, err)
}

func TestAction(t *testing.T) {
	a := ActionErrno.WithReturnCode(1)
	assert.Equal(t, ActionErrno, a.Action())
	assert.EqualValues(t, 1, a.ReturnCode())
	assert.Equal(t, "errno(1)", a.String())
	assert.Equal(t, "kill", ActionKill.String())

	for _, s := range []string{"allow", "Errno", "KILL"} {
		v, err := ParseAction(s)
		require.NoError(t, err)
		assert.NotZero(t, v)
	}
	_, err := ParseAction("trace")
	assert.Error(t, err)
}

func TestReturnRoundTrip(t *testing.T) {
	for _, a := range []Action{ActionAllow, ActionKill, ActionErrno.WithReturnCode(38)} {
		assert.Equal(t, a, fromReturn(ToReturn(a)))
	}
	assert.Equal(t, ActionAllow, fromReturn(retLog))
	assert.Equal(t, ActionKill, fromReturn(retTrap))
	assert.Equal(t, ActionKill, fromReturn(retKillThread))
}
