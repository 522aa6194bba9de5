// Package pidtab provides the process wide PID table that maps bounded PIDs
// to task control blocks.
//
// A slot goes through free -> reserved -> published -> retiring -> free.
// Lookup only sees published slots, so a task is never visible before it is
// fully initialized and never after its teardown started. Every release bumps
// the slot generation, a Handle of an older incarnation no longer resolves.
package pidtab

import (
	"errors"
	"fmt"
	"sync"
)

// NumPIDs is the size of the PID space, PIDs are in [0, MaxPID]
const (
	NumPIDs = 128
	MaxPID  = NumPIDs - 1
)

// Errors returned by the registry
var (
	ErrNoFreePID  = errors.New("pidtab: no free pid")
	ErrNoSuchTask = errors.New("pidtab: no such task")
	ErrBadState   = errors.New("pidtab: slot in wrong state")
)

type slotState uint8

const (
	slotFree slotState = iota
	slotReserved
	slotPublished
	slotRetiring
)

var stateString = []string{"free", "reserved", "published", "retiring"}

func (s slotState) String() string {
	return stateString[s]
}

// Handle identifies one incarnation of a PID slot
type Handle struct {
	PID int
	Gen uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.PID, h.Gen)
}

type slot[T any] struct {
	state slotState
	gen   uint32
	value T
}

// Registry is the PID table, safe for concurrent use
type Registry[T any] struct {
	mu     sync.Mutex
	slots  [NumPIDs]slot[T]
	size   int
	next   int
	active int
	used   int
}

// New creates a registry using the first size slots, size is clamped to
// [1, NumPIDs]
func New[T any](size int) *Registry[T] {
	if size <= 0 || size > NumPIDs {
		size = NumPIDs
	}
	return &Registry[T]{size: size}
}

// Reserve takes a free slot. The slot is not visible to Lookup until
// Publish. The scan starts after the last reserved PID so a released PID is
// not handed out again right away.
func (r *Registry[T]) Reserve() (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.size; i++ {
		pid := (r.next + i) % r.size
		s := &r.slots[pid]
		if s.state != slotFree {
			continue
		}
		s.state = slotReserved
		r.next = (pid + 1) % r.size
		r.used++
		return Handle{PID: pid, Gen: s.gen}, nil
	}
	return Handle{}, ErrNoFreePID
}

// Publish makes a reserved slot visible with its fully initialized value
func (r *Registry[T]) Publish(h Handle, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.slot(h, slotReserved)
	if err != nil {
		return err
	}
	s.state = slotPublished
	s.value = v
	r.active++
	return nil
}

// Lookup returns the published value of pid
func (r *Registry[T]) Lookup(pid int) (T, Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if pid < 0 || pid >= r.size {
		return zero, Handle{}, ErrNoSuchTask
	}
	s := &r.slots[pid]
	if s.state != slotPublished {
		return zero, Handle{}, ErrNoSuchTask
	}
	return s.value, Handle{PID: pid, Gen: s.gen}, nil
}

// Get returns the published value of the exact incarnation h
func (r *Registry[T]) Get(h Handle) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.slot(h, slotPublished)
	if err != nil {
		var zero T
		return zero, ErrNoSuchTask
	}
	return s.value, nil
}

// Retire hides a published slot from Lookup, it is the start of teardown.
// Only the first Retire of an incarnation succeeds.
func (r *Registry[T]) Retire(h Handle) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	s, err := r.slot(h, slotPublished)
	if err != nil {
		return zero, ErrNoSuchTask
	}
	s.state = slotRetiring
	r.active--
	return s.value, nil
}

// Release returns a reserved or retiring slot to the free pool and bumps its
// generation
func (r *Registry[T]) Release(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.PID < 0 || h.PID >= r.size {
		return ErrNoSuchTask
	}
	s := &r.slots[h.PID]
	if s.gen != h.Gen {
		return ErrNoSuchTask
	}
	if s.state != slotReserved && s.state != slotRetiring {
		return fmt.Errorf("%w: release %v in state %v", ErrBadState, h, s.state)
	}
	var zero T
	s.state = slotFree
	s.value = zero
	s.gen++
	r.used--
	return nil
}

func (r *Registry[T]) slot(h Handle, want slotState) (*slot[T], error) {
	if h.PID < 0 || h.PID >= r.size {
		return nil, ErrNoSuchTask
	}
	s := &r.slots[h.PID]
	if s.gen != h.Gen {
		return nil, ErrNoSuchTask
	}
	if s.state != want {
		return nil, fmt.Errorf("%w: %v is %v, want %v", ErrBadState, h, s.state, want)
	}
	return s, nil
}

// Count returns the number of published tasks
func (r *Registry[T]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// InUse returns the number of slots that are not free
func (r *Registry[T]) InUse() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// Size returns the number of usable slots
func (r *Registry[T]) Size() int {
	return r.size
}

// Range calls fn for a snapshot of published slots in PID order
func (r *Registry[T]) Range(fn func(h Handle, v T) bool) {
	type entry struct {
		h Handle
		v T
	}
	r.mu.Lock()
	entries := make([]entry, 0, r.active)
	for pid := 0; pid < r.size; pid++ {
		s := &r.slots[pid]
		if s.state == slotPublished {
			entries = append(entries, entry{Handle{PID: pid, Gen: s.gen}, s.value})
		}
	}
	r.mu.Unlock()
	for _, e := range entries {
		if !fn(e.h, e.v) {
			return
		}
	}
}
