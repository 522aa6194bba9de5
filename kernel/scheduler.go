package kernel

import (
	"errors"
	"sync/atomic"
)

// ErrTooManyThreads is returned when the scheduler has no room for another
// context
var ErrTooManyThreads = errors.New("kernel: too many threads")

// ThreadAttr describes the scheduler context of a task
type ThreadAttr struct {
	Name      string
	StackSize uint64
	Priority  int
}

// Thread is a scheduler context created suspended
type Thread interface {
	// Start makes the context runnable, only the first call has effect
	Start()
}

// Scheduler creates and destroys the contexts tasks run on
type Scheduler interface {
	NewThread(entry func(), attr ThreadAttr) (Thread, error)
	Destroy(Thread)
}

// GoScheduler runs every context on its own goroutine
type GoScheduler struct {
	slots chan struct{}
}

// NewGoScheduler creates a scheduler that holds at most maxThreads contexts,
// 0 means no bound
func NewGoScheduler(maxThreads int) *GoScheduler {
	s := &GoScheduler{}
	if maxThreads > 0 {
		s.slots = make(chan struct{}, maxThreads)
	}
	return s
}

type goThread struct {
	entry     func()
	attr      ThreadAttr
	started   atomic.Bool
	destroyed atomic.Bool
}

func (t *goThread) Start() {
	if t.started.CompareAndSwap(false, true) {
		go t.entry()
	}
}

// NewThread reserves a slot for the context
func (s *GoScheduler) NewThread(entry func(), attr ThreadAttr) (Thread, error) {
	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
		default:
			return nil, ErrTooManyThreads
		}
	}
	return &goThread{entry: entry, attr: attr}, nil
}

// Destroy gives the slot back, it may be called from the context itself
func (s *GoScheduler) Destroy(th Thread) {
	t, ok := th.(*goThread)
	if !ok || !t.destroyed.CompareAndSwap(false, true) {
		return
	}
	if s.slots != nil {
		<-s.slots
	}
}

// Threads returns the number of contexts not yet destroyed
func (s *GoScheduler) Threads() int {
	return len(s.slots)
}
