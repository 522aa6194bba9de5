package task

import (
	"math/bits"

	"github.com/criyle/go-taskrt/pkg/arena"
)

// Malloc allocates size bytes from the task heap
func (t *Task) Malloc(size uint64) (arena.Ptr, error) {
	p, err := t.heap.Alloc(size)
	if err != nil {
		return arena.Ptr{}, t.fail(err)
	}
	return p, nil
}

// Calloc allocates n zeroed elements of size bytes
func (t *Task) Calloc(n, size uint64) (arena.Ptr, error) {
	hi, total := bits.Mul64(n, size)
	if hi != 0 {
		return arena.Ptr{}, t.fail(arena.ErrArenaExhausted)
	}
	p, err := t.Malloc(total)
	if err != nil {
		return p, err
	}
	b, err := t.heap.Bytes(p)
	if err != nil {
		return arena.Ptr{}, t.fail(err)
	}
	clear(b)
	return p, nil
}

// Realloc resizes p, the content is kept up to the smaller size. A nil p
// allocates and size 0 frees.
func (t *Task) Realloc(p arena.Ptr, size uint64) (arena.Ptr, error) {
	if p.IsNil() {
		return t.Malloc(size)
	}
	if size == 0 {
		return arena.Ptr{}, t.Free(p)
	}
	old, err := t.heap.Bytes(p)
	if err != nil {
		return arena.Ptr{}, t.fail(err)
	}
	np, err := t.Malloc(size)
	if err != nil {
		return arena.Ptr{}, err
	}
	b, err := t.heap.Bytes(np)
	if err != nil {
		return arena.Ptr{}, t.fail(err)
	}
	copy(b, old)
	if err := t.heap.Free(p); err != nil {
		return arena.Ptr{}, t.fail(err)
	}
	return np, nil
}

// Free returns p to the task heap, freeing nil is a no-op
func (t *Task) Free(p arena.Ptr) error {
	if p.IsNil() {
		return nil
	}
	if err := t.heap.Free(p); err != nil {
		return t.fail(err)
	}
	return nil
}

// Mem resolves p to its bytes
func (t *Task) Mem(p arena.Ptr) ([]byte, error) {
	b, err := t.heap.Bytes(p)
	if err != nil {
		return nil, t.fail(err)
	}
	return b, nil
}

// MemoryUsage returns the current and maximum heap usage
func (t *Task) MemoryUsage() (current, max uint64) {
	current, max, _ = t.heap.Usage()
	return
}
