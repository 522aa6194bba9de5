// Package kernel is the task lifecycle manager. It creates tasks with their
// own heap arena, descriptor table and resource table, runs them on the
// scheduler and tears them down so every resource a task held is returned
// no matter how it terminated.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/criyle/go-taskrt/pkg/arena"
	"github.com/criyle/go-taskrt/pkg/fdtable"
	"github.com/criyle/go-taskrt/pkg/pidtab"
	"github.com/criyle/go-taskrt/pkg/restable"
	"github.com/criyle/go-taskrt/pkg/rlimit"
	"github.com/criyle/go-taskrt/task"
	"github.com/criyle/go-taskrt/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrResourceLeak is reported when a terminated task still held resources
var ErrResourceLeak = errors.New("kernel: resource leak")

// ErrClosed is returned by Spawn after Close
var ErrClosed = errors.New("kernel: closed")

const tracerName = "github.com/criyle/go-taskrt/kernel"

// proc is the manager side of a task
type proc struct {
	task   *task.Task
	entry  Entry
	thread Thread
	ctx    context.Context
	cancel context.CancelFunc
	killed atomic.Bool
	done   chan struct{}
	limits rlimit.Limits

	spawned time.Time
	setUp   time.Duration
	result  types.Result
}

// Manager owns the pid table and the heap pool
type Manager struct {
	opts   Options
	pool   *arena.Pool
	pids   *pidtab.Registry[*proc]
	sched  Scheduler
	logger *log.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	procs   map[int]*proc // published and not yet reaped
	zombies map[int]zombie
	closed  bool
}

// zombie is the result of a reaped task not yet collected by Wait
type zombie struct {
	handle pidtab.Handle
	result types.Result
}

// New creates the manager and reserves the heap pool
func New(opts Options) (*Manager, error) {
	opts.setDefaults()
	var popts []arena.PoolOption
	if opts.NoGuardPages {
		popts = append(popts, arena.WithoutGuardPages())
	}
	pool, err := arena.NewPool(opts.PoolSize, popts...)
	if err != nil {
		return nil, fmt.Errorf("kernel: heap pool: %w", err)
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Manager{
		opts:    opts,
		pool:    pool,
		pids:    pidtab.New[*proc](opts.PIDs),
		sched:   opts.Scheduler,
		logger:  opts.Logger,
		tracer:  tp.Tracer(tracerName),
		procs:   make(map[int]*proc),
		zombies: make(map[int]zombie),
	}, nil
}

// Spawn creates a task running img and returns its pid. When it fails no
// trace of the attempt is left: no pid, no arena, no scheduler context.
func (m *Manager) Spawn(ctx context.Context, img Image, o SpawnOptions) (pid int, err error) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "kernel.Spawn", trace.WithAttributes(
		attribute.String("task.name", img.Name),
		attribute.String("task.type", o.Type.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if img.Entry == nil {
		return -1, fmt.Errorf("kernel: image %q has no entry", img.Name)
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return -1, ErrClosed
	}

	var u unwinder
	defer func() {
		if err != nil {
			for _, e := range u.run() {
				m.logger.Printf("kernel: unwind spawn of %q: %v", img.Name, e)
			}
		}
	}()

	h, err := m.pids.Reserve()
	if err != nil {
		return -1, err
	}
	u.push(func() error { return m.pids.Release(h) })
	span.SetAttributes(attribute.Int("task.pid", h.PID))

	lim := m.limits(img, o)
	heap, err := m.pool.Create(lim.Heap)
	if err != nil {
		return -1, err
	}
	u.push(heap.Destroy)

	prio := task.Priority
	if o.Foreground {
		prio = task.PriorityForeground
	}

	// the task outlives the spawn call, it keeps the values of ctx only
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	u.push(func() error { cancel(); return nil })

	t, err := task.New(task.Config{
		Handle:    h,
		Type:      o.Type,
		Name:      img.Name,
		Argv:      o.Argv,
		Priority:  prio,
		StackSize: lim.Stack,
		Heap:      heap,
		Files:     fdtable.New(lim.Files),
		Resources: restable.New(lim.Resources),
		Policy:    m.opts.Policies[o.Type],
		Mounts:    m.opts.Mounts,
		Done:      tctx.Done(),
	})
	if err != nil {
		return -1, err
	}
	p := &proc{
		task:    t,
		entry:   img.Entry,
		ctx:     task.WithTask(tctx, t),
		cancel:  cancel,
		done:    make(chan struct{}),
		limits:  lim,
		spawned: start,
	}

	th, err := m.sched.NewThread(func() { m.trampoline(p) }, ThreadAttr{
		Name:      img.Name,
		StackSize: lim.Stack,
		Priority:  prio,
	})
	if err != nil {
		return -1, fmt.Errorf("kernel: create thread for %q: %w", img.Name, err)
	}
	u.push(func() error { m.sched.Destroy(th); return nil })
	p.thread = th

	m.mu.Lock()
	delete(m.zombies, h.PID)
	m.procs[h.PID] = p
	m.mu.Unlock()
	u.push(func() error { m.forget(h.PID); return nil })
	if err = m.pids.Publish(h, p); err != nil {
		return -1, err
	}
	t.Transition(task.StateCreated, task.StateRunning)
	p.setUp = time.Since(start)
	span.SetAttributes(attribute.String("task.instance", t.InstanceID().String()))
	m.logger.Printf("kernel: spawned %v argv=%q %v", t, t.Argv(), lim)
	th.Start()
	return h.PID, nil
}

// limits resolves the limits of a new task. The heap is the larger of the
// image heap and the requested one, the stack is raised to MinStack.
func (m *Manager) limits(img Image, o SpawnOptions) rlimit.Limits {
	l := rlimit.Limits{
		Heap:      img.MinHeap,
		Stack:     o.StackSize,
		Files:     m.opts.MaxFiles,
		Resources: m.opts.MaxResources,
	}
	if l.Heap == 0 {
		l.Heap = m.opts.DefaultHeap
	}
	if o.HeapSize > l.Heap {
		l.Heap = o.HeapSize
	}
	if l.Stack == 0 {
		l.Stack = m.opts.DefaultStack
	}
	if l.Stack < m.opts.MinStack {
		l.Stack = m.opts.MinStack
	}
	if l.Files <= 0 || l.Files > fdtable.MaxFD {
		l.Files = fdtable.MaxFD
	}
	return l
}

// Kill terminates the task pid and returns after it has been reaped. The
// pid disappears from Lookup immediately. The task unwinds at its next call
// into the runtime or when its entry observes ctx.Done. Kill stops waiting
// when ctx is done, the teardown still completes on its own.
func (m *Manager) Kill(ctx context.Context, pid int) error {
	if caller := task.FromContext(ctx); caller != nil {
		if err := caller.Syscall(task.SysKill, uint64(pid)); err != nil {
			return err
		}
	}
	p, h, err := m.pids.Lookup(pid)
	if err != nil {
		return err
	}
	if _, err := m.pids.Retire(h); err != nil {
		return err
	}
	_, span := m.tracer.Start(ctx, "kernel.Kill", trace.WithAttributes(
		attribute.Int("task.pid", pid),
		attribute.String("task.instance", p.task.InstanceID().String()),
	))
	defer span.End()

	p.killed.Store(true)
	p.cancel()
	if task.FromContext(ctx) == p.task {
		panic(&task.Fault{Status: types.StatusKilled, Reason: "killed itself"})
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		span.SetStatus(codes.Error, ctx.Err().Error())
		return ctx.Err()
	}
}

// Wait waits for the task pid to terminate and returns its result. The
// result of a reaped task is kept until it is waited for or its pid is
// reused.
func (m *Manager) Wait(ctx context.Context, pid int) (types.Result, error) {
	m.mu.Lock()
	p, live := m.procs[pid]
	z, reaped := m.zombies[pid]
	if !live && reaped {
		delete(m.zombies, pid)
	}
	m.mu.Unlock()
	switch {
	case live:
	case reaped:
		return z.result, nil
	default:
		return types.Result{}, pidtab.ErrNoSuchTask
	}
	select {
	case <-p.done:
		m.mu.Lock()
		if z, ok := m.zombies[pid]; ok && z.handle == p.task.Handle() {
			delete(m.zombies, pid)
		}
		m.mu.Unlock()
		return p.result, nil
	case <-ctx.Done():
		return types.Result{}, ctx.Err()
	}
}

func (m *Manager) forget(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, pid)
}

// Count returns the number of live tasks
func (m *Manager) Count() int {
	return m.pids.Count()
}

// Lookup returns a snapshot of the task pid
func (m *Manager) Lookup(pid int) (TaskInfo, error) {
	p, _, err := m.pids.Lookup(pid)
	if err != nil {
		return TaskInfo{}, err
	}
	return infoOf(p), nil
}

// List returns snapshots of all live tasks in pid order
func (m *Manager) List() []TaskInfo {
	var list []TaskInfo
	m.pids.Range(func(_ pidtab.Handle, p *proc) bool {
		list = append(list, infoOf(p))
		return true
	})
	return list
}

// Pool returns the heap pool
func (m *Manager) Pool() *arena.Pool {
	return m.pool
}

// Close kills every live task and releases the heap pool
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	var errs []error
	m.pids.Range(func(h pidtab.Handle, p *proc) bool {
		if err := m.Kill(ctx, h.PID); err != nil && !errors.Is(err, pidtab.ErrNoSuchTask) {
			errs = append(errs, err)
		}
		return true
	})
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	// tasks that exited on their own may still be in teardown
	m.mu.Lock()
	pending := make([]*proc, 0, len(m.procs))
	for _, p := range m.procs {
		pending = append(pending, p)
	}
	m.mu.Unlock()
	for _, p := range pending {
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.pids.InUse() > 0 {
		return fmt.Errorf("kernel: %d tasks still held", m.pids.InUse())
	}
	return m.pool.Close()
}

// unwinder runs the undo steps of a failed spawn in reverse order
type unwinder []func() error

func (u *unwinder) push(fn func() error) {
	*u = append(*u, fn)
}

func (u *unwinder) run() []error {
	var errs []error
	for i := len(*u) - 1; i >= 0; i-- {
		if err := (*u)[i](); err != nil {
			errs = append(errs, err)
		}
	}
	*u = nil
	return errs
}
