package arena

import (
	"fmt"
	"sync"
)

// Align is the allocation granularity inside an arena
const Align = 16

// Ptr is a checked handle to a block inside one arena. The zero value is the
// nil pointer.
type Ptr struct {
	arena uint32
	off   uint32 // in Align units
	seq   uint32
}

// IsNil reports whether p is the nil pointer
func (p Ptr) IsNil() bool {
	return p.arena == 0
}

func (p Ptr) String() string {
	if p.IsNil() {
		return "Ptr[nil]"
	}
	return fmt.Sprintf("Ptr[%d:%#x]", p.arena, uint64(p.off)*Align)
}

type block struct {
	units uint32
	seq   uint32
}

// Arena is a bounded heap owned by a single task
type Arena struct {
	pool   *Pool
	id     uint32
	start  uint64 // offset of the region in the pool
	pages  uint64 // pages taken from the pool, guard page included
	region []byte

	mu        sync.Mutex
	limit     uint64
	current   uint64
	peak      uint64
	free      freeList // in Align units
	blocks    map[uint32]block
	seq       uint32
	destroyed bool
}

// Alloc reserves size bytes. It fails without side effects with
// ErrArenaExhausted when the limit would be exceeded or no contiguous block
// is large enough.
func (a *Arena) Alloc(size uint64) (Ptr, error) {
	if size == 0 {
		size = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return Ptr{}, ErrDestroyed
	}
	// checked before rounding, sizes close to MaxUint64 wrap to 0
	if size > a.limit {
		return Ptr{}, ErrArenaExhausted
	}
	n := roundUp(size, Align)
	if n > a.limit || a.current+n > a.limit {
		return Ptr{}, ErrArenaExhausted
	}
	off, ok := a.free.alloc(n / Align)
	if !ok {
		return Ptr{}, ErrArenaExhausted
	}
	a.seq++
	a.blocks[uint32(off)] = block{units: uint32(n / Align), seq: a.seq}
	a.current += n
	if a.current > a.peak {
		a.peak = a.current
	}
	a.pool.inUse.Add(n)
	return Ptr{arena: a.id, off: uint32(off), seq: a.seq}, nil
}

// Free returns the block of p to the arena. Freeing a pointer twice, a stale
// pointer or a pointer of another arena returns ErrBadPointer.
func (a *Arena) Free(p Ptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return ErrDestroyed
	}
	b, err := a.lookup(p)
	if err != nil {
		return err
	}
	delete(a.blocks, p.off)
	a.free.release(uint64(p.off), uint64(b.units))
	n := uint64(b.units) * Align
	a.current -= n
	a.pool.inUse.Add(^(n - 1))
	return nil
}

// Bytes resolves p to its block. The returned slice cannot grow past the
// block.
func (a *Arena) Bytes(p Ptr) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return nil, ErrDestroyed
	}
	b, err := a.lookup(p)
	if err != nil {
		return nil, err
	}
	start := uint64(p.off) * Align
	end := start + uint64(b.units)*Align
	return a.region[start:end:end], nil
}

// SizeOf returns the usable size of the block of p
func (a *Arena) SizeOf(p Ptr) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, err := a.lookup(p)
	if err != nil {
		return 0, err
	}
	return uint64(b.units) * Align, nil
}

func (a *Arena) lookup(p Ptr) (block, error) {
	if p.arena != a.id {
		return block{}, ErrBadPointer
	}
	b, ok := a.blocks[p.off]
	if !ok || b.seq != p.seq {
		return block{}, ErrBadPointer
	}
	return b, nil
}

// Destroy returns the whole region to the pool regardless of outstanding
// allocations
func (a *Arena) Destroy() error {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return ErrDestroyed
	}
	a.destroyed = true
	a.pool.inUse.Add(^(a.current - 1))
	a.current = 0
	a.blocks = nil
	a.free = freeList{}
	a.mu.Unlock()
	return a.pool.destroy(a)
}

// SetLimit lowers or raises the usage limit within the region size
func (a *Arena) SetLimit(limit uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit > uint64(len(a.region)) {
		return fmt.Errorf("arena: limit %d exceeds region %d", limit, len(a.region))
	}
	limit = roundUp(limit, Align)
	if limit > uint64(len(a.region)) {
		return fmt.Errorf("arena: limit %d exceeds region %d", limit, len(a.region))
	}
	if limit < a.current {
		return ErrArenaExhausted
	}
	if limit > a.limit {
		a.free.release(a.limit/Align, (limit-a.limit)/Align)
	} else if limit < a.limit {
		// the tail must be free to shrink
		tail := (a.limit - limit) / Align
		if !a.takeTail(limit/Align, tail) {
			return ErrArenaExhausted
		}
	}
	a.limit = limit
	return nil
}

func (a *Arena) takeTail(off, size uint64) bool {
	for i, e := range a.free.free {
		if e.off <= off && e.off+e.size == off+size {
			if e.off == off {
				a.free.free = append(a.free.free[:i], a.free.free[i+1:]...)
			} else {
				a.free.free[i].size -= size
			}
			return true
		}
	}
	return false
}

// Usage returns the current usage, the limit and the peak usage in bytes
func (a *Arena) Usage() (current, limit, peak uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, a.limit, a.peak
}

// Allocations returns the number of live blocks
func (a *Arena) Allocations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blocks)
}

// Bounds returns the region offsets inside the pool as [start, end)
func (a *Arena) Bounds() (start, end uint64) {
	return a.start, a.start + uint64(len(a.region))
}

func (a *Arena) String() string {
	cur, limit, peak := a.Usage()
	return fmt.Sprintf("Arena[%d %d/%d peak=%d]", a.id, cur, limit, peak)
}
