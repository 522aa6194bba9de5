package kernel

import (
	"fmt"

	"github.com/criyle/go-taskrt/pkg/rlimit"
	"github.com/criyle/go-taskrt/task"
	"github.com/google/uuid"
)

// TaskInfo is a read only snapshot of a task
type TaskInfo struct {
	PID        int
	Generation uint32
	InstanceID uuid.UUID
	Name       string
	Type       task.Type
	State      task.State
	Priority   int
	StackSize  uint64
	Argv       []string

	HeapStart     uint64
	HeapEnd       uint64
	CurrentMemory uint64
	MaxMemory     uint64
	PeakMemory    uint64

	OpenFiles int
	MaxFiles  int
	Resources int

	Limits rlimit.Limits
}

func infoOf(p *proc) TaskInfo {
	t := p.task
	h := t.Handle()
	start, end := t.Heap().Bounds()
	cur, max, peak := t.Heap().Usage()
	return TaskInfo{
		PID:           h.PID,
		Generation:    h.Gen,
		InstanceID:    t.InstanceID(),
		Name:          t.Name(),
		Type:          t.Type(),
		State:         t.State(),
		Priority:      t.Priority(),
		StackSize:     t.StackSize(),
		Argv:          t.Argv(),
		HeapStart:     start,
		HeapEnd:       end,
		CurrentMemory: cur,
		MaxMemory:     max,
		PeakMemory:    peak,
		OpenFiles:     t.Files().Count(),
		MaxFiles:      t.Files().Max(),
		Resources:     t.Resources().Total(),
		Limits:        p.limits,
	}
}

func (i TaskInfo) String() string {
	return fmt.Sprintf("%3d.%-3d %-10s %-4v %-11v mem=%d/%d fd=%d/%d res=%d",
		i.PID, i.Generation, i.Name, i.Type, i.State, i.CurrentMemory, i.MaxMemory, i.OpenFiles, i.MaxFiles, i.Resources)
}
