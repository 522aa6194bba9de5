package arena

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mmapBacking reserves task heap memory outside of the Go heap so that guard
// pages can be protected with mprotect
type mmapBacking struct {
	mem []byte
}

func newBacking(size int) (backing, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("arena: mmap %d bytes failed(%v)", size, err)
	}
	return &mmapBacking{mem: mem}, nil
}

func (b *mmapBacking) bytes() []byte {
	return b.mem
}

func (b *mmapBacking) protect(page []byte) error {
	return unix.Mprotect(page, unix.PROT_NONE)
}

func (b *mmapBacking) unprotect(page []byte) error {
	return unix.Mprotect(page, unix.PROT_READ|unix.PROT_WRITE)
}

func (b *mmapBacking) release() error {
	return unix.Munmap(b.mem)
}
