package kernel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/criyle/go-taskrt/pkg/arena"
	"github.com/criyle/go-taskrt/pkg/fdtable"
	"github.com/criyle/go-taskrt/pkg/pidtab"
	"github.com/criyle/go-taskrt/pkg/pipe"
	"github.com/criyle/go-taskrt/pkg/restable"
	"github.com/criyle/go-taskrt/pkg/rlimit"
	"github.com/criyle/go-taskrt/pkg/seccomp"
	"github.com/criyle/go-taskrt/task"
	"github.com/criyle/go-taskrt/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

const testTimeout = 5 * time.Second

func newManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.PoolSize == 0 {
		opts.PoolSize = 4 << 20
	}
	if opts.DefaultHeap == 0 {
		opts.DefaultHeap = 4096
	}
	m, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		assert.NoError(t, m.Close(ctx))
	})
	return m
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// blocker runs until it is killed
func blocker(ctx context.Context, _ []string) int {
	<-ctx.Done()
	return 0
}

func spawnWait(t *testing.T, m *Manager, img Image, o SpawnOptions) types.Result {
	t.Helper()
	ctx := testContext(t)
	pid, err := m.Spawn(ctx, img, o)
	require.NoError(t, err)
	r, err := m.Wait(ctx, pid)
	require.NoError(t, err)
	return r
}

func TestScenarioHeapLimit(t *testing.T) {
	m := newManager(t, Options{})
	var steps []error
	img := Image{Name: "heap", MinHeap: 4096, Entry: func(ctx context.Context, _ []string) int {
		tk := task.FromContext(ctx)
		p, err := tk.Malloc(4000)
		steps = append(steps, err)
		_, err = tk.Malloc(200)
		steps = append(steps, err)
		steps = append(steps, tk.Free(p))
		_, err = tk.Malloc(4000)
		steps = append(steps, err)
		return 0
	}}
	r := spawnWait(t, m, img, SpawnOptions{})
	assert.Equal(t, types.StatusNormal, r.Status)
	require.Len(t, steps, 4)
	assert.NoError(t, steps[0])
	assert.ErrorIs(t, steps[1], arena.ErrArenaExhausted)
	assert.NoError(t, steps[2])
	assert.NoError(t, steps[3])
	assert.EqualValues(t, 4000, r.Memory)
}

func TestScenarioDescriptorTable(t *testing.T) {
	pipes := pipe.New(64)
	m := newManager(t, Options{Mounts: []task.Mount{{Prefix: "/dev/", Driver: pipes}}})
	var (
		fds      []int
		overflow error
		reopened int
	)
	img := Image{Name: "fds", Entry: func(ctx context.Context, _ []string) int {
		tk := task.FromContext(ctx)
		for i := 0; i < fdtable.MaxFD; i++ {
			fd, err := tk.Open("/dev/null", unix.O_RDWR)
			if err != nil {
				return 1
			}
			fds = append(fds, fd)
		}
		_, overflow = tk.Open("/dev/null", unix.O_RDWR)
		if tk.Close(5) != nil {
			return 2
		}
		reopened, _ = tk.Open("/dev/null", unix.O_RDWR)
		return 0
	}}
	r := spawnWait(t, m, img, SpawnOptions{})
	require.Equal(t, types.StatusNormal, r.Status, "%v", r)
	for i, fd := range fds {
		assert.Equal(t, i, fd)
	}
	assert.Len(t, fds, fdtable.MaxFD)
	assert.ErrorIs(t, overflow, fdtable.ErrTooManyOpenFiles)
	assert.Equal(t, 5, reopened)
	// teardown closed the leftovers through the device
	assert.Equal(t, 0, pipes.OpenCount())
}

func TestScenarioKillSweepsLeaks(t *testing.T) {
	var destroyed atomic.Int32
	var d restable.Destructors
	d[restable.KindOpen] = func(r restable.Record) error {
		destroyed.Add(1)
		return nil
	}
	m := newManager(t, Options{Destructors: d})

	ready := make(chan struct{})
	img := Image{Name: "leaky", Entry: func(ctx context.Context, _ []string) int {
		tk := task.FromContext(ctx)
		for i := 0; i < 3; i++ {
			if _, err := tk.RecordResource(restable.KindOpen, i); err != nil {
				return 1
			}
		}
		close(ready)
		<-ctx.Done()
		return 0
	}}
	ctx := testContext(t)
	pid, err := m.Spawn(ctx, img, SpawnOptions{})
	require.NoError(t, err)
	<-ready

	require.NoError(t, m.Kill(ctx, pid))
	assert.EqualValues(t, 3, destroyed.Load())
	_, err = m.Lookup(pid)
	assert.ErrorIs(t, err, pidtab.ErrNoSuchTask)
	assert.ErrorIs(t, m.Kill(ctx, pid), pidtab.ErrNoSuchTask)
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 0, m.pids.InUse())
	assert.Equal(t, 0, m.Pool().Arenas())
	assert.Zero(t, m.Pool().InUse())

	r, err := m.Wait(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, types.StatusKilled, r.Status)
	assert.Equal(t, []types.Leak{{Kind: "open", Key: 1}, {Kind: "open", Key: 2}, {Kind: "open", Key: 3}}, r.Leaked)

	// collected once
	_, err = m.Wait(ctx, pid)
	assert.ErrorIs(t, err, pidtab.ErrNoSuchTask)
}

// faultyDevice panics when a descriptor is closed
type faultyDevice struct {
	*pipe.Pipes
}

func (faultyDevice) Close(int) error {
	panic("device bug")
}

func TestTeardownSurvivesPanics(t *testing.T) {
	var destroyed atomic.Int32
	var d restable.Destructors
	d[restable.KindRegcomp] = func(restable.Record) error {
		panic("driver bug")
	}
	d[restable.KindOpen] = func(restable.Record) error {
		destroyed.Add(1)
		return nil
	}
	m := newManager(t, Options{
		Destructors: d,
		MaxThreads:  1,
		Mounts:      []task.Mount{{Prefix: "/bad/", Driver: faultyDevice{pipe.New(16)}}},
	})
	img := Image{Name: "buggy", Entry: func(ctx context.Context, _ []string) int {
		tk := task.FromContext(ctx)
		if _, err := tk.RecordResource(restable.KindRegcomp, "re"); err != nil {
			return 1
		}
		if _, err := tk.RecordResource(restable.KindOpen, "file"); err != nil {
			return 1
		}
		if _, err := tk.Open("/bad/x", unix.O_WRONLY); err != nil {
			return 1
		}
		return 0
	}}

	r := spawnWait(t, m, img, SpawnOptions{})
	assert.Equal(t, types.StatusNormal, r.Status)
	assert.Equal(t, []types.Leak{{Kind: "regcomp", Key: 1}, {Kind: "open", Key: 1}}, r.Leaked)
	assert.EqualValues(t, 1, destroyed.Load())
	assert.Equal(t, 0, m.pids.InUse())
	assert.Equal(t, 0, m.Pool().Arenas())

	// the thread slot came back too
	r = spawnWait(t, m, Image{Name: "next", Entry: func(context.Context, []string) int { return 0 }}, SpawnOptions{})
	assert.Equal(t, types.StatusNormal, r.Status)
}

func TestScenarioPIDExhaustion(t *testing.T) {
	sched := NewGoScheduler(0)
	m := newManager(t, Options{Scheduler: sched, PoolSize: 64 << 20})
	ctx := testContext(t)
	seen := make(map[int]bool)
	for i := 0; i < pidtab.NumPIDs; i++ {
		pid, err := m.Spawn(ctx, Image{Name: "idle", Entry: blocker}, SpawnOptions{})
		require.NoError(t, err)
		assert.False(t, seen[pid])
		seen[pid] = true
	}
	arenas, carved := m.Pool().Arenas(), m.Pool().Carved()

	_, err := m.Spawn(ctx, Image{Name: "one-more", Entry: blocker}, SpawnOptions{})
	assert.ErrorIs(t, err, pidtab.ErrNoFreePID)
	assert.Equal(t, pidtab.NumPIDs, m.Count())
	assert.Equal(t, arenas, m.Pool().Arenas())
	assert.Equal(t, carved, m.Pool().Carved())
	assert.Equal(t, pidtab.NumPIDs, len(m.List()))
}

type failScheduler struct{ *GoScheduler }

func (failScheduler) NewThread(func(), ThreadAttr) (Thread, error) {
	return nil, errors.New("no context")
}

func TestSpawnUnwind(t *testing.T) {
	m := newManager(t, Options{Scheduler: failScheduler{NewGoScheduler(0)}})
	_, err := m.Spawn(testContext(t), Image{Name: "x", Entry: blocker}, SpawnOptions{Argv: []string{"x"}})
	assert.Error(t, err)
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 0, m.pids.InUse())
	assert.Equal(t, 0, m.Pool().Arenas())
	assert.Zero(t, m.Pool().InUse())
}

func TestSpawnArenaOutOfMemory(t *testing.T) {
	m := newManager(t, Options{PoolSize: 64 << 10})
	_, err := m.Spawn(testContext(t), Image{Name: "big", Entry: blocker, MinHeap: 1 << 20}, SpawnOptions{})
	assert.ErrorIs(t, err, arena.ErrOutOfMemory)
	assert.Equal(t, 0, m.pids.InUse())
}

func TestThreadLimit(t *testing.T) {
	m := newManager(t, Options{MaxThreads: 1})
	ctx := testContext(t)
	pid, err := m.Spawn(ctx, Image{Name: "a", Entry: blocker}, SpawnOptions{})
	require.NoError(t, err)
	_, err = m.Spawn(ctx, Image{Name: "b", Entry: blocker}, SpawnOptions{})
	assert.ErrorIs(t, err, ErrTooManyThreads)

	require.NoError(t, m.Kill(ctx, pid))
	_, err = m.Spawn(ctx, Image{Name: "c", Entry: blocker}, SpawnOptions{})
	assert.NoError(t, err)
}

func TestExitStatus(t *testing.T) {
	m := newManager(t, Options{})
	tests := []struct {
		name   string
		entry  Entry
		status types.Status
		code   int
	}{
		{"normal", func(context.Context, []string) int { return 0 }, types.StatusNormal, 0},
		{"nonzero", func(context.Context, []string) int { return 3 }, types.StatusNonzeroExitStatus, 3},
		{"exit", func(ctx context.Context, _ []string) int {
			task.FromContext(ctx).Exit(7)
			return 0
		}, types.StatusNonzeroExitStatus, 7},
		{"panic", func(context.Context, []string) int {
			var p *int
			return *p
		}, types.StatusFault, 0},
		{"abort", func(ctx context.Context, _ []string) int {
			task.FromContext(ctx).Abort("assert")
			return 0
		}, types.StatusFault, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := spawnWait(t, m, Image{Name: tc.name, Entry: tc.entry}, SpawnOptions{})
			assert.Equal(t, tc.status, r.Status)
			assert.Equal(t, tc.code, r.ExitStatus)
		})
	}
	assert.Equal(t, 0, m.Pool().Arenas())
}

func TestKillBusyTask(t *testing.T) {
	pipes := pipe.New(16)
	m := newManager(t, Options{Mounts: []task.Mount{{Prefix: "/dev/", Driver: pipes}}})
	ready := make(chan struct{})
	img := Image{Name: "spin", Entry: func(ctx context.Context, _ []string) int {
		tk := task.FromContext(ctx)
		fd, err := tk.Open("/dev/console", unix.O_WRONLY)
		if err != nil {
			return 1
		}
		close(ready)
		for {
			tk.Write(fd, []byte("y"))
		}
	}}
	ctx := testContext(t)
	pid, err := m.Spawn(ctx, img, SpawnOptions{})
	require.NoError(t, err)
	<-ready
	require.NoError(t, m.Kill(ctx, pid))
	assert.Equal(t, 0, pipes.OpenCount())
}

func TestKillHonoursContext(t *testing.T) {
	m := newManager(t, Options{})
	release := make(chan struct{})
	started := make(chan struct{})
	pid, err := m.Spawn(testContext(t), Image{Name: "stubborn", Entry: func(context.Context, []string) int {
		close(started)
		<-release
		return 0
	}}, SpawnOptions{})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Kill(ctx, pid), context.DeadlineExceeded)
	_, err = m.Lookup(pid)
	assert.ErrorIs(t, err, pidtab.ErrNoSuchTask)

	close(release)
	r, err := m.Wait(testContext(t), pid)
	require.NoError(t, err)
	assert.Equal(t, types.StatusKilled, r.Status)
}

func TestSelfKill(t *testing.T) {
	m := newManager(t, Options{})
	r := spawnWait(t, m, Image{Name: "self", Entry: func(ctx context.Context, _ []string) int {
		m.Kill(ctx, task.FromContext(ctx).PID())
		return 0
	}}, SpawnOptions{})
	assert.Equal(t, types.StatusKilled, r.Status)
}

func TestLookupInfo(t *testing.T) {
	m := newManager(t, Options{MaxFiles: 16})
	ctx := testContext(t)
	pid, err := m.Spawn(ctx, Image{Name: "info", Entry: blocker, MinHeap: 8192},
		SpawnOptions{Type: task.TypeROM, Argv: []string{"info", "x"}, StackSize: 100, Foreground: true})
	require.NoError(t, err)

	info, err := m.Lookup(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, info.PID)
	assert.Equal(t, "info", info.Name)
	assert.Equal(t, task.TypeROM, info.Type)
	assert.Equal(t, task.StateRunning, info.State)
	assert.Equal(t, task.PriorityForeground, info.Priority)
	assert.EqualValues(t, MinStackSize, info.StackSize)
	assert.EqualValues(t, 8192, info.MaxMemory)
	assert.EqualValues(t, 2*arena.Align, info.CurrentMemory)
	assert.Equal(t, 16, info.MaxFiles)
	assert.Equal(t, rlimit.Limits{Heap: 8192, Stack: MinStackSize, Files: 16}, info.Limits)
	assert.Equal(t, []string{"info", "x"}, info.Argv)
	assert.True(t, info.HeapEnd > info.HeapStart)
	assert.Contains(t, info.String(), "info")
	assert.Equal(t, 1, m.Count())

	_, err = m.Lookup(pidtab.NumPIDs)
	assert.ErrorIs(t, err, pidtab.ErrNoSuchTask)
}

func TestGenerationOnReuse(t *testing.T) {
	m := newManager(t, Options{PIDs: 1})
	ctx := testContext(t)
	quick := Image{Name: "quick", Entry: func(context.Context, []string) int { return 0 }}

	pid, err := m.Spawn(ctx, Image{Name: "a", Entry: blocker}, SpawnOptions{})
	require.NoError(t, err)
	a, err := m.Lookup(pid)
	require.NoError(t, err)
	require.NoError(t, m.Kill(ctx, pid))

	pid2, err := m.Spawn(ctx, Image{Name: "b", Entry: blocker}, SpawnOptions{})
	require.NoError(t, err)
	assert.Equal(t, pid, pid2)
	b, err := m.Lookup(pid2)
	require.NoError(t, err)
	assert.NotEqual(t, a.Generation, b.Generation)
	assert.NotEqual(t, a.InstanceID, b.InstanceID)

	require.NoError(t, m.Kill(ctx, pid2))
	r, err := m.Wait(ctx, pid2)
	require.NoError(t, err)
	assert.Equal(t, types.StatusKilled, r.Status)

	r = spawnWait(t, m, quick, SpawnOptions{})
	assert.Equal(t, types.StatusNormal, r.Status)
}

func TestDisallowedSyscall(t *testing.T) {
	f := seccomp.Filter{
		bpf.LoadAbsolute{Off: 0, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 2, SkipFalse: 1},
		bpf.RetConstant{Val: seccomp.ToReturn(seccomp.ActionKill)},
		bpf.RetConstant{Val: seccomp.ToReturn(seccomp.ActionAllow)},
	}
	prog, err := f.Load()
	require.NoError(t, err)
	policy := seccomp.NewPolicy(prog, 0, map[string]int{task.SysOpen: 1, task.SysWrite: 2})

	pipes := pipe.New(16)
	m := newManager(t, Options{
		Policies: map[task.Type]*seccomp.Policy{task.TypeELF: policy},
		Mounts:   []task.Mount{{Prefix: "/dev/", Driver: pipes}},
	})
	img := Image{Name: "evil", Entry: func(ctx context.Context, _ []string) int {
		tk := task.FromContext(ctx)
		fd, err := tk.Open("/dev/console", unix.O_WRONLY)
		if err != nil {
			return 1
		}
		tk.Write(fd, []byte("x"))
		return 0
	}}
	r := spawnWait(t, m, img, SpawnOptions{Type: task.TypeELF})
	assert.Equal(t, types.StatusDisallowedSyscall, r.Status)
	assert.Equal(t, task.SysWrite, r.Error)
	assert.Equal(t, 0, pipes.OpenCount())

	// rom tasks have no policy
	r = spawnWait(t, m, img, SpawnOptions{Type: task.TypeROM})
	assert.Equal(t, types.StatusNormal, r.Status)
}

func TestKillPolicy(t *testing.T) {
	f := seccomp.Filter{
		bpf.LoadAbsolute{Off: 0, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 3, SkipFalse: 1},
		bpf.RetConstant{Val: seccomp.ToReturn(seccomp.ActionErrno.WithReturnCode(int16(unix.EPERM)))},
		bpf.RetConstant{Val: seccomp.ToReturn(seccomp.ActionAllow)},
	}
	prog, err := f.Load()
	require.NoError(t, err)
	policy := seccomp.NewPolicy(prog, 0, map[string]int{task.SysKill: 3})
	m := newManager(t, Options{Policies: map[task.Type]*seccomp.Policy{task.TypeELF: policy}})
	ctx := testContext(t)

	victim, err := m.Spawn(ctx, Image{Name: "victim", Entry: blocker}, SpawnOptions{})
	require.NoError(t, err)

	killer := func(ctx context.Context, _ []string) int {
		tk := task.FromContext(ctx)
		if err := m.Kill(ctx, victim); err != nil {
			return int(tk.Errno())
		}
		return 0
	}
	r := spawnWait(t, m, Image{Name: "killer", Entry: killer}, SpawnOptions{Type: task.TypeELF})
	assert.Equal(t, int(unix.EPERM), r.ExitStatus)
	_, err = m.Lookup(victim)
	assert.NoError(t, err)

	r = spawnWait(t, m, Image{Name: "killer", Entry: killer}, SpawnOptions{Type: task.TypeROM})
	assert.Equal(t, types.StatusNormal, r.Status)
	_, err = m.Lookup(victim)
	assert.ErrorIs(t, err, pidtab.ErrNoSuchTask)
}

func TestSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	m := newManager(t, Options{TracerProvider: tp})

	spawnWait(t, m, Image{Name: "traced", Entry: func(context.Context, []string) int { return 0 }}, SpawnOptions{})

	spans := make(map[string]sdktrace.ReadOnlySpan)
	for _, s := range sr.Ended() {
		spans[s.Name()] = s
	}
	require.Len(t, spans, 2)
	spawn, teardown := spans["kernel.Spawn"], spans["kernel.Teardown"]
	require.NotNil(t, spawn)
	require.NotNil(t, teardown)
	assert.Equal(t, spawn.SpanContext().TraceID(), teardown.SpanContext().TraceID())
	assert.Equal(t, spawn.SpanContext().SpanID(), teardown.Parent().SpanID())
}

func TestSpawnAfterClose(t *testing.T) {
	m, err := New(Options{PoolSize: 1 << 16})
	require.NoError(t, err)
	require.NoError(t, m.Close(testContext(t)))
	_, err = m.Spawn(testContext(t), Image{Name: "late", Entry: blocker}, SpawnOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSpawnNoEntry(t *testing.T) {
	m := newManager(t, Options{})
	_, err := m.Spawn(testContext(t), Image{Name: "empty"}, SpawnOptions{})
	assert.Error(t, err)
}
