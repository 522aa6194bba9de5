// Package fdtable provides the fixed capacity per-task descriptor table that
// maps POSIX style descriptor numbers to open device handles.
package fdtable

import (
	"errors"
	"fmt"
	"sync"
)

// MaxFD is the number of descriptor slots of every task
const MaxFD = 128

// Errors returned by the descriptor table
var (
	ErrTooManyOpenFiles = errors.New("fdtable: too many open files")
	ErrBadDescriptor    = errors.New("fdtable: bad file descriptor")
)

// Device is the driver side of an open file. The table never interprets it,
// it only stores and forwards the reference together with the device fd.
type Device interface {
	Read(devFD int, p []byte) (int, error)
	Write(devFD int, p []byte) (int, error)
	Seek(devFD int, offset int64, whence int) (int64, error)
	Close(devFD int) error
}

// Driver is a Device that opens files by name
type Driver interface {
	Device
	Open(name string, flag int) (devFD int, err error)
}

// Handle is one descriptor slot
type Handle struct {
	Open     bool
	DeviceFD int
	Device   Device
}

// Table is the descriptor table of one task
type Table struct {
	mu      sync.Mutex
	slots   [MaxFD]Handle
	current int
	max     int
}

// New creates a table that allows at most maxFiles open descriptors,
// maxFiles is clamped to [1, MaxFD]
func New(maxFiles int) *Table {
	if maxFiles <= 0 || maxFiles > MaxFD {
		maxFiles = MaxFD
	}
	return &Table{max: maxFiles}
}

// Open stores the device reference in the lowest free slot
func (t *Table) Open(dev Device, devFD int) (int, error) {
	if dev == nil {
		return -1, fmt.Errorf("fdtable: nil device")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current >= t.max {
		return -1, ErrTooManyOpenFiles
	}
	for fd := range t.slots {
		if !t.slots[fd].Open {
			t.slots[fd] = Handle{Open: true, DeviceFD: devFD, Device: dev}
			t.current++
			return fd, nil
		}
	}
	return -1, ErrTooManyOpenFiles
}

// Close empties the slot and returns the handle it held so that the caller
// can close the device side
func (t *Table) Close(fd int) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(fd) {
		return Handle{}, ErrBadDescriptor
	}
	h := t.slots[fd]
	t.slots[fd] = Handle{}
	t.current--
	return h, nil
}

// Lookup returns the handle of an open descriptor
func (t *Table) Lookup(fd int) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(fd) {
		return Handle{}, ErrBadDescriptor
	}
	return t.slots[fd], nil
}

func (t *Table) valid(fd int) bool {
	return fd >= 0 && fd < MaxFD && t.slots[fd].Open
}

// Count returns the number of open descriptors
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Max returns the open descriptor limit
func (t *Table) Max() int {
	return t.max
}

// CloseAll empties every open slot in ascending order and passes the handle
// to fn, used at teardown
func (t *Table) CloseAll(fn func(fd int, h Handle)) {
	t.mu.Lock()
	var open []int
	var handles []Handle
	for fd := range t.slots {
		if t.slots[fd].Open {
			open = append(open, fd)
			handles = append(handles, t.slots[fd])
			t.slots[fd] = Handle{}
		}
	}
	t.current = 0
	t.mu.Unlock()

	if fn == nil {
		return
	}
	for i, fd := range open {
		fn(fd, handles[i])
	}
}
