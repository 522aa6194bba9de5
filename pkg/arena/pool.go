// Package arena provides bounded per-task heap arenas carved out of one pool
// of memory reserved for task heaps.
//
// Every arena is a contiguous page aligned region of the pool. On linux the
// pool is an anonymous mapping and each arena is followed by a PROT_NONE guard
// page, so arena boundaries are memory boundaries rather than accounting only.
// Allocations inside an arena are returned as checked handles (Ptr) that are
// resolved against the owning arena, a handle of another arena or a freed
// block is rejected instead of touching memory.
package arena

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// Errors returned by pool and arena operations
var (
	ErrOutOfMemory    = errors.New("arena: out of memory")
	ErrArenaExhausted = errors.New("arena: heap exhausted")
	ErrBadPointer     = errors.New("arena: bad pointer")
	ErrDestroyed      = errors.New("arena: destroyed")
	ErrPoolClosed     = errors.New("arena: pool closed")
)

// PageSize is the granularity of arena regions
var PageSize = uint64(os.Getpagesize())

type backing interface {
	bytes() []byte
	protect([]byte) error
	unprotect([]byte) error
	release() error
}

// Pool is the memory reserved for task heaps, separate from the kernel heap
type Pool struct {
	mu      sync.Mutex
	mem     backing
	free    freeList // in pages
	guard   bool
	closed  bool
	nextID  uint32
	arenas  int
	carved  uint64 // bytes of live arena regions, guard pages excluded
	inUse   atomic.Uint64
	maxSize uint64
}

// PoolOption configures NewPool
type PoolOption func(*Pool)

// WithoutGuardPages disables the guard page after each arena
func WithoutGuardPages() PoolOption {
	return func(p *Pool) {
		p.guard = false
	}
}

// NewPool reserves size bytes (rounded up to pages) for task heaps
func NewPool(size uint64, opts ...PoolOption) (*Pool, error) {
	pages := roundUp(size, PageSize) / PageSize
	if pages == 0 {
		return nil, fmt.Errorf("arena: pool size must be positive")
	}
	p := &Pool{guard: true}
	for _, o := range opts {
		o(p)
	}
	mem, err := newBacking(int(pages * PageSize))
	if err != nil {
		return nil, err
	}
	p.mem = mem
	p.maxSize = pages * PageSize
	p.free = newFreeList(pages)
	return p, nil
}

// Create reserves a contiguous region of at least minSize bytes and returns
// an arena whose limit is minSize rounded to the allocation alignment
func (p *Pool) Create(minSize uint64) (*Arena, error) {
	if minSize == 0 {
		minSize = Align
	}
	if minSize > p.maxSize {
		return nil, ErrOutOfMemory
	}
	limit := roundUp(minSize, Align)
	regionPages := roundUp(limit, PageSize) / PageSize
	pages := regionPages
	if p.guard {
		pages++
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	first, ok := p.free.alloc(pages)
	if !ok {
		return nil, ErrOutOfMemory
	}
	start := first * PageSize
	end := start + regionPages*PageSize
	mem := p.mem.bytes()
	if p.guard {
		if err := p.mem.protect(mem[end : end+PageSize]); err != nil {
			p.free.release(first, pages)
			return nil, fmt.Errorf("arena: guard page protect failed(%v)", err)
		}
	}
	region := mem[start:end:end]
	clear(region)

	p.nextID++
	if p.nextID == 0 {
		p.nextID++
	}
	p.arenas++
	p.carved += end - start
	return &Arena{
		pool:   p,
		id:     p.nextID,
		start:  start,
		pages:  pages,
		region: region,
		limit:  limit,
		free:   newFreeList(limit / Align),
		blocks: make(map[uint32]block),
	}, nil
}

// destroy returns an arena region to the pool
func (p *Pool) destroy(a *Arena) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	var err error
	if p.guard {
		end := a.start + uint64(len(a.region))
		if err = p.mem.unprotect(p.mem.bytes()[end : end+PageSize]); err != nil {
			err = fmt.Errorf("arena: guard page unprotect failed(%v)", err)
		}
	}
	p.free.release(a.start/PageSize, a.pages)
	p.arenas--
	p.carved -= uint64(len(a.region))
	return err
}

// Size returns the total bytes reserved for task heaps
func (p *Pool) Size() uint64 {
	return p.maxSize
}

// Carved returns the bytes currently carved into live arenas
func (p *Pool) Carved() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.carved
}

// InUse returns the sum of current usage over all live arenas
func (p *Pool) InUse() uint64 {
	return p.inUse.Load()
}

// Arenas returns the number of live arenas
func (p *Pool) Arenas() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.arenas
}

// Largest returns the largest region Create can currently satisfy
func (p *Pool) Largest() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.free.largest()
	if p.guard && n > 0 {
		n--
	}
	return n * PageSize
}

// Close releases the pool memory, arenas must not be used afterwards
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.mem.release()
}

func (p *Pool) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("Pool[arenas=%d carved=%d/%d inuse=%d]", p.arenas, p.carved, p.maxSize, p.inUse.Load())
}

func roundUp(n, align uint64) uint64 {
	return (n + align - 1) / align * align
}
