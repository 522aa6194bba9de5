// Package task defines the task control block and the libc facing calls a
// task makes on its own resources.
//
// Calls on a Task must come from the goroutine running the task entry, the
// shim state (errno, strtok, time buffers) is per task and not locked. The
// lifecycle manager only touches the tables after that goroutine returned.
package task

import (
	"fmt"
	"sync/atomic"

	"github.com/criyle/go-taskrt/pkg/arena"
	"github.com/criyle/go-taskrt/pkg/fdtable"
	"github.com/criyle/go-taskrt/pkg/pidtab"
	"github.com/criyle/go-taskrt/pkg/restable"
	"github.com/criyle/go-taskrt/pkg/seccomp"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Type is where the task image comes from
type Type int

// Task types
const (
	TypeELF Type = iota // loaded from external storage
	TypeROM             // resident in ROM
)

var typeString = []string{"elf", "rom"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeString) {
		return fmt.Sprintf("type(%d)", int(t))
	}
	return typeString[t]
}

// ParseType parses elf and rom
func ParseType(s string) (Type, error) {
	for i, n := range typeString {
		if s == n {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("task: invalid type %q", s)
}

// State is the lifecycle state of a task
type State int32

// Task states, a task only moves forward
const (
	StateCreated State = iota
	StateRunning
	StateTerminating
	StateReaped
)

var stateString = []string{"created", "running", "terminating", "reaped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateString) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateString[s]
}

// Priorities of the scheduler context
const (
	Priority           = 5
	PriorityForeground = 6
)

// Sizes of the per task scratch buffers
const (
	StrerrorBufLen = 128
	TimeBufLen     = 26
)

// Config is everything a task is created from. The tables are owned by the
// task afterwards.
type Config struct {
	Handle    pidtab.Handle
	Type      Type
	Name      string
	Argv      []string
	Priority  int
	StackSize uint64

	Heap      *arena.Arena
	Files     *fdtable.Table
	Resources *restable.Table
	Policy    *seccomp.Policy
	Mounts    []Mount

	// Done is closed when the task is killed
	Done <-chan struct{}
}

// Task is the task control block
type Task struct {
	handle     pidtab.Handle
	instanceID uuid.UUID
	typ        Type
	name       string
	argv       []string
	argvPtr    []arena.Ptr
	priority   int
	stackSize  uint64

	heap      *arena.Arena
	files     *fdtable.Table
	resources *restable.Table
	policy    *seccomp.Policy
	mounts    []Mount
	done      <-chan struct{}

	state atomic.Int32

	// libc scratch
	errno      unix.Errno
	strerror   [StrerrorBufLen]byte
	asctime    [TimeBufLen]byte
	ctime      [TimeBufLen]byte
	gmtime     Tm
	localtime  Tm
	strtokRest string
	seed       uint32
}

// New creates the task in StateCreated and copies argv into its heap
func New(c Config) (*Task, error) {
	if c.Heap == nil || c.Files == nil || c.Resources == nil {
		return nil, fmt.Errorf("task: incomplete config for %v", c.Handle)
	}
	t := &Task{
		handle:     c.Handle,
		instanceID: uuid.New(),
		typ:        c.Type,
		name:       c.Name,
		priority:   c.Priority,
		stackSize:  c.StackSize,
		heap:       c.Heap,
		files:      c.Files,
		resources:  c.Resources,
		policy:     c.Policy,
		mounts:     sortMounts(c.Mounts),
		done:       c.Done,
		seed:       1,
	}
	if err := t.copyArgv(c.Argv); err != nil {
		return nil, err
	}
	return t, nil
}

// copyArgv places every argument NUL terminated in the task heap, the
// strings handed to the entry are built from that copy
func (t *Task) copyArgv(argv []string) error {
	t.argv = make([]string, 0, len(argv))
	t.argvPtr = make([]arena.Ptr, 0, len(argv))
	for _, a := range argv {
		p, err := t.heap.Alloc(uint64(len(a) + 1))
		if err != nil {
			return fmt.Errorf("task: copy argv: %w", err)
		}
		b, err := t.heap.Bytes(p)
		if err != nil {
			return fmt.Errorf("task: copy argv: %w", err)
		}
		n := copy(b, a)
		b[n] = 0
		t.argv = append(t.argv, string(b[:n]))
		t.argvPtr = append(t.argvPtr, p)
	}
	return nil
}

// PID returns the task pid
func (t *Task) PID() int { return t.handle.PID }

// Handle returns the registry handle of this incarnation
func (t *Task) Handle() pidtab.Handle { return t.handle }

// InstanceID is unique over the lifetime of the process
func (t *Task) InstanceID() uuid.UUID { return t.instanceID }

func (t *Task) Type() Type { return t.typ }
func (t *Task) Name() string { return t.name }
func (t *Task) Priority() int { return t.priority }
func (t *Task) StackSize() uint64 { return t.stackSize }

// Argv returns a copy of the arguments
func (t *Task) Argv() []string {
	return append([]string(nil), t.argv...)
}

func (t *Task) Heap() *arena.Arena { return t.heap }
func (t *Task) Files() *fdtable.Table { return t.files }
func (t *Task) Resources() *restable.Table { return t.resources }
func (t *Task) Policy() *seccomp.Policy { return t.policy }

// State returns the lifecycle state
func (t *Task) State() State {
	return State(t.state.Load())
}

// Transition moves the task from one state to the next, it fails when the
// task is not in from or to is not after from
func (t *Task) Transition(from, to State) bool {
	if to <= from {
		return false
	}
	return t.state.CompareAndSwap(int32(from), int32(to))
}

func (t *Task) String() string {
	return fmt.Sprintf("task[%v %s %v %v]", t.handle, t.name, t.typ, t.State())
}
