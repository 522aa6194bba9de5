package arena

import "sort"

// extent is a free range [off, off+size) in allocation units
type extent struct {
	off, size uint64
}

// freeList keeps free extents sorted by offset, adjacent extents are
// always merged so no two entries touch
type freeList struct {
	free []extent
}

func newFreeList(size uint64) freeList {
	if size == 0 {
		return freeList{}
	}
	return freeList{free: []extent{{0, size}}}
}

// alloc takes the first extent that fits size units (first fit)
func (f *freeList) alloc(size uint64) (uint64, bool) {
	for i, e := range f.free {
		if e.size < size {
			continue
		}
		off := e.off
		if e.size == size {
			f.free = append(f.free[:i], f.free[i+1:]...)
		} else {
			f.free[i] = extent{e.off + size, e.size - size}
		}
		return off, true
	}
	return 0, false
}

// release returns [off, off+size) and coalesces with its neighbours
func (f *freeList) release(off, size uint64) {
	i := sort.Search(len(f.free), func(i int) bool {
		return f.free[i].off > off
	})
	mergePrev := i > 0 && f.free[i-1].off+f.free[i-1].size == off
	mergeNext := i < len(f.free) && off+size == f.free[i].off
	switch {
	case mergePrev && mergeNext:
		f.free[i-1].size += size + f.free[i].size
		f.free = append(f.free[:i], f.free[i+1:]...)
	case mergePrev:
		f.free[i-1].size += size
	case mergeNext:
		f.free[i] = extent{off, size + f.free[i].size}
	default:
		f.free = append(f.free, extent{})
		copy(f.free[i+1:], f.free[i:])
		f.free[i] = extent{off, size}
	}
}

// available returns total free units
func (f *freeList) available() uint64 {
	var n uint64
	for _, e := range f.free {
		n += e.size
	}
	return n
}

// largest returns the size of the largest free extent
func (f *freeList) largest() uint64 {
	var n uint64
	for _, e := range f.free {
		if e.size > n {
			n = e.size
		}
	}
	return n
}
