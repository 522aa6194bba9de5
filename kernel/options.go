package kernel

import (
	"context"
	"io"
	"log"

	"github.com/criyle/go-taskrt/pkg/pidtab"
	"github.com/criyle/go-taskrt/pkg/restable"
	"github.com/criyle/go-taskrt/pkg/seccomp"
	"github.com/criyle/go-taskrt/task"
	"go.opentelemetry.io/otel/trace"
)

// Defaults of Options
const (
	DefaultPoolSize  = 16 << 20
	DefaultHeapSize  = 64 << 10
	MinStackSize     = 8192
	DefaultStackSize = 16 << 10
)

// Entry is the validated entry point of a task image
type Entry func(ctx context.Context, argv []string) int

// Image is a loaded program ready to run
type Image struct {
	Name    string
	Entry   Entry
	// MinHeap is the heap size the image declares, DefaultHeap when 0
	MinHeap uint64
}

// SpawnOptions are the per task parameters of Spawn
type SpawnOptions struct {
	Type       task.Type
	Argv       []string
	StackSize  uint64 // DefaultStack when 0, raised to MinStack
	HeapSize   uint64 // overrides the image heap size when larger
	Foreground bool
}

// Options configures the Manager
type Options struct {
	PIDs         int    // pid slots, pidtab.NumPIDs when 0
	PoolSize     uint64 // bytes reserved for task heaps
	DefaultHeap  uint64
	MinStack     uint64
	DefaultStack uint64
	MaxFiles     int // per task, fdtable.MaxFD when 0
	MaxResources int // per task and kind, unbounded when 0
	NoGuardPages bool
	MaxThreads   int // bound of the default scheduler

	Scheduler   Scheduler
	Policies    map[task.Type]*seccomp.Policy
	Mounts      []task.Mount
	Destructors restable.Destructors // nil entries use task.DefaultDestructors

	Logger         *log.Logger
	TracerProvider trace.TracerProvider
}

func (o *Options) setDefaults() {
	if o.PIDs <= 0 || o.PIDs > pidtab.NumPIDs {
		o.PIDs = pidtab.NumPIDs
	}
	if o.PoolSize == 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.DefaultHeap == 0 {
		o.DefaultHeap = DefaultHeapSize
	}
	if o.MinStack == 0 {
		o.MinStack = MinStackSize
	}
	if o.DefaultStack < o.MinStack {
		o.DefaultStack = DefaultStackSize
		if o.DefaultStack < o.MinStack {
			o.DefaultStack = o.MinStack
		}
	}
	if o.Scheduler == nil {
		o.Scheduler = NewGoScheduler(o.MaxThreads)
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	d := task.DefaultDestructors()
	for i, fn := range o.Destructors {
		if fn == nil {
			o.Destructors[i] = d[i]
		}
	}
}
