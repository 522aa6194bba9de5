package kernel

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/criyle/go-taskrt/pkg/fdtable"
	"github.com/criyle/go-taskrt/task"
	"github.com/criyle/go-taskrt/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// trampoline is the start routine of every task context
func (m *Manager) trampoline(p *proc) {
	start := time.Now()
	r := m.run(p)
	r.SetUpTime = p.setUp
	r.RunningTime = time.Since(start)
	m.teardown(p, r)
}

// run calls the entry and turns every way out of it into a result
func (m *Manager) run(p *proc) (r types.Result) {
	defer func() {
		v := recover()
		switch v := v.(type) {
		case nil:
		case task.ExitCode:
			r.ExitStatus = int(v)
			r.Status = exitStatus(r.ExitStatus)
		case *task.Fault:
			r.Status = v.Status
			r.Error = v.Reason
		default:
			r.Status = types.StatusFault
			r.Error = fmt.Sprint(v)
			m.logger.Printf("kernel: %v fault: %v\n%s", p.task, v, debug.Stack())
		}
		if p.killed.Load() {
			r.Status = types.StatusKilled
		}
	}()
	r.ExitStatus = p.entry(p.ctx, p.task.Argv())
	r.Status = exitStatus(r.ExitStatus)
	return
}

func exitStatus(code int) types.Status {
	if code == 0 {
		return types.StatusNormal
	}
	return types.StatusNonzeroExitStatus
}

// teardown releases everything the task held. It runs once per
// incarnation, after the entry returned, and can not be cancelled.
func (m *Manager) teardown(p *proc, r types.Result) {
	t := p.task
	h := t.Handle()
	t.Transition(task.StateRunning, task.StateTerminating)
	_, span := m.tracer.Start(p.ctx, "kernel.Teardown", trace.WithAttributes(
		attribute.Int("task.pid", h.PID),
		attribute.String("task.instance", t.InstanceID().String()),
	))

	// not visible any more, Kill may have done it already
	m.pids.Retire(h)

	for _, rec := range t.Resources().Sweep() {
		r.Leaked = append(r.Leaked, types.Leak{Kind: rec.Kind.String(), Key: int(rec.Key)})
		if err := safely(func() error { return m.opts.Destructors.Destroy(rec) }); err != nil {
			m.logger.Printf("kernel: %v destroy %v: %v", t, rec, err)
		}
	}
	if len(r.Leaked) > 0 {
		err := fmt.Errorf("%w: %v leaked %v", ErrResourceLeak, t, r.Leaked)
		m.logger.Print(err)
		span.RecordError(err)
	}

	t.Files().CloseAll(func(fd int, fh fdtable.Handle) {
		if err := safely(func() error { return fh.Device.Close(fh.DeviceFD) }); err != nil {
			m.logger.Printf("kernel: %v close fd %d: %v", t, fd, err)
		}
	})

	_, _, peak := t.Heap().Usage()
	r.Memory = types.Size(peak)
	if err := t.Heap().Destroy(); err != nil {
		m.logger.Printf("kernel: %v destroy heap: %v", t, err)
	}
	m.sched.Destroy(p.thread)
	p.cancel()

	p.result = r
	t.Transition(task.StateTerminating, task.StateReaped)
	m.mu.Lock()
	delete(m.procs, h.PID)
	m.zombies[h.PID] = zombie{handle: h, result: r}
	m.mu.Unlock()
	if err := m.pids.Release(h); err != nil {
		m.logger.Printf("kernel: %v release pid: %v", t, err)
	}

	span.SetAttributes(attribute.String("task.status", r.Status.String()))
	if r.Status.Abnormal() {
		span.SetStatus(codes.Error, r.Status.String())
	}
	span.End()
	m.logger.Printf("kernel: reaped %v %v", t, r)
	close(p.done)
}

// safely calls into destructors and devices, a panic there must not stop the
// rest of the teardown
func safely(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("kernel: recovered panic: %v", v)
		}
	}()
	return fn()
}
