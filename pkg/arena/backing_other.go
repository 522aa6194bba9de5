//go:build !linux

package arena

// sliceBacking is the portable fallback, guard pages are bounds checked by
// the capacity limited region slices only
type sliceBacking struct {
	mem []byte
}

func newBacking(size int) (backing, error) {
	return &sliceBacking{mem: make([]byte, size)}, nil
}

func (b *sliceBacking) bytes() []byte {
	return b.mem
}

func (b *sliceBacking) protect([]byte) error {
	return nil
}

func (b *sliceBacking) unprotect([]byte) error {
	return nil
}

func (b *sliceBacking) release() error {
	b.mem = nil
	return nil
}
