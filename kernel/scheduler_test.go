package kernel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoScheduler(t *testing.T) {
	s := NewGoScheduler(2)
	var runs atomic.Int32
	done := make(chan struct{})
	a, err := s.NewThread(func() {
		runs.Add(1)
		close(done)
	}, ThreadAttr{Name: "a"})
	require.NoError(t, err)
	b, err := s.NewThread(func() {}, ThreadAttr{Name: "b"})
	require.NoError(t, err)
	_, err = s.NewThread(func() {}, ThreadAttr{Name: "c"})
	assert.ErrorIs(t, err, ErrTooManyThreads)
	assert.Equal(t, 2, s.Threads())

	a.Start()
	a.Start()
	<-done
	assert.EqualValues(t, 1, runs.Load())

	s.Destroy(a)
	s.Destroy(a)
	assert.Equal(t, 1, s.Threads())
	s.Destroy(b)
	assert.Equal(t, 0, s.Threads())
}
