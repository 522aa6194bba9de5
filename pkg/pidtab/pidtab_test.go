package pidtab

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawn(t *testing.T, r *Registry[string], v string) Handle {
	t.Helper()
	h, err := r.Reserve()
	require.NoError(t, err)
	require.NoError(t, r.Publish(h, v))
	return h
}

func TestReserveIsInvisibleUntilPublish(t *testing.T) {
	r := New[string](0)
	h, err := r.Reserve()
	require.NoError(t, err)

	_, _, err = r.Lookup(h.PID)
	assert.ErrorIs(t, err, ErrNoSuchTask)
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 1, r.InUse())

	require.NoError(t, r.Publish(h, "init"))
	v, got, err := r.Lookup(h.PID)
	require.NoError(t, err)
	assert.Equal(t, "init", v)
	assert.Equal(t, h, got)
	assert.Equal(t, 1, r.Count())
}

func TestExhaustion(t *testing.T) {
	r := New[string](0)
	for i := 0; i < NumPIDs; i++ {
		spawn(t, r, "t")
	}
	_, err := r.Reserve()
	assert.ErrorIs(t, err, ErrNoFreePID)
	assert.Equal(t, NumPIDs, r.Count())
}

func TestRetireRelease(t *testing.T) {
	r := New[string](4)
	h := spawn(t, r, "a")

	v, err := r.Retire(h)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, _, err = r.Lookup(h.PID)
	assert.ErrorIs(t, err, ErrNoSuchTask)
	_, err = r.Retire(h)
	assert.ErrorIs(t, err, ErrNoSuchTask)
	assert.Equal(t, 1, r.InUse())

	require.NoError(t, r.Release(h))
	assert.Equal(t, 0, r.InUse())
	assert.ErrorIs(t, r.Release(h), ErrNoSuchTask)
}

func TestReleasePublishedFails(t *testing.T) {
	r := New[string](4)
	h := spawn(t, r, "a")
	err := r.Release(h)
	assert.True(t, errors.Is(err, ErrBadState))
	assert.Equal(t, 1, r.Count())
}

func TestGenerationRejectsStaleHandle(t *testing.T) {
	r := New[string](1)
	old := spawn(t, r, "old")
	_, err := r.Retire(old)
	require.NoError(t, err)
	require.NoError(t, r.Release(old))

	h := spawn(t, r, "new")
	assert.Equal(t, old.PID, h.PID)
	assert.NotEqual(t, old.Gen, h.Gen)

	_, err = r.Get(old)
	assert.ErrorIs(t, err, ErrNoSuchTask)
	_, err = r.Retire(old)
	assert.ErrorIs(t, err, ErrNoSuchTask)

	v, err := r.Get(h)
	require.NoError(t, err)
	assert.Equal(t, "new", v)
}

func TestNextFit(t *testing.T) {
	r := New[string](4)
	a := spawn(t, r, "a")
	_, err := r.Retire(a)
	require.NoError(t, err)
	require.NoError(t, r.Release(a))

	b := spawn(t, r, "b")
	assert.Equal(t, a.PID+1, b.PID)
}

func TestUnwindReserved(t *testing.T) {
	r := New[string](2)
	h, err := r.Reserve()
	require.NoError(t, err)
	require.NoError(t, r.Release(h))
	assert.Equal(t, 0, r.InUse())
	assert.Error(t, r.Publish(h, "late"))
}

func TestLookupOutOfRange(t *testing.T) {
	r := New[string](4)
	for _, pid := range []int{-1, 4, MaxPID, NumPIDs} {
		_, _, err := r.Lookup(pid)
		assert.ErrorIs(t, err, ErrNoSuchTask, "pid %d", pid)
	}
}

func TestRange(t *testing.T) {
	r := New[string](8)
	spawn(t, r, "a")
	h := spawn(t, r, "b")
	spawn(t, r, "c")
	_, err := r.Retire(h)
	require.NoError(t, err)

	var seen []string
	r.Range(func(_ Handle, v string) bool {
		seen = append(seen, v)
		return true
	})
	assert.Equal(t, []string{"a", "c"}, seen)
}

func TestConcurrentReserve(t *testing.T) {
	r := New[int](0)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		pids = make(map[int]bool)
		fail int
	)
	for i := 0; i < 2*NumPIDs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Reserve()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fail++
				return
			}
			if pids[h.PID] {
				t.Errorf("pid %d reserved twice", h.PID)
			}
			pids[h.PID] = true
		}(i)
	}
	wg.Wait()
	assert.Len(t, pids, NumPIDs)
	assert.Equal(t, NumPIDs, fail)
}
