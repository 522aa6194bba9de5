package task

import (
	"sort"
	"strings"

	"github.com/criyle/go-taskrt/pkg/fdtable"
	"golang.org/x/sys/unix"
)

// Mount binds a driver to every path under Prefix
type Mount struct {
	Prefix string
	Driver fdtable.Driver
}

// sortMounts orders mounts by descending prefix length so the first match is
// the longest one
func sortMounts(m []Mount) []Mount {
	m = append([]Mount(nil), m...)
	sort.SliceStable(m, func(i, j int) bool {
		return len(m[i].Prefix) > len(m[j].Prefix)
	})
	return m
}

func (t *Task) resolve(path string) (fdtable.Driver, string, bool) {
	for _, m := range t.mounts {
		if strings.HasPrefix(path, m.Prefix) {
			return m.Driver, path[len(m.Prefix):], true
		}
	}
	return nil, "", false
}

// Open opens path through the driver mounted on it and returns the lowest
// free descriptor
func (t *Task) Open(path string, flag int) (int, error) {
	if err := t.syscall(SysOpen, uint64(flag)); err != nil {
		return -1, err
	}
	drv, name, ok := t.resolve(path)
	if !ok {
		return -1, t.fail(unix.ENOENT)
	}
	devFD, err := drv.Open(name, flag)
	if err != nil {
		return -1, t.fail(err)
	}
	fd, err := t.files.Open(drv, devFD)
	if err != nil {
		drv.Close(devFD)
		return -1, t.fail(err)
	}
	return fd, nil
}

// Close closes fd and its device fd
func (t *Task) Close(fd int) error {
	if err := t.syscall(SysClose, uint64(fd)); err != nil {
		return err
	}
	h, err := t.files.Close(fd)
	if err != nil {
		return t.fail(err)
	}
	if err := h.Device.Close(h.DeviceFD); err != nil {
		return t.fail(err)
	}
	return nil
}

// Read reads from fd
func (t *Task) Read(fd int, p []byte) (int, error) {
	if err := t.syscall(SysRead, uint64(fd), uint64(len(p))); err != nil {
		return -1, err
	}
	return t.read(fd, p)
}

// Write writes to fd
func (t *Task) Write(fd int, p []byte) (int, error) {
	if err := t.syscall(SysWrite, uint64(fd), uint64(len(p))); err != nil {
		return -1, err
	}
	return t.write(fd, p)
}

// Lseek sets the offset of fd
func (t *Task) Lseek(fd int, offset int64, whence int) (int64, error) {
	if err := t.syscall(SysSeek, uint64(fd), uint64(offset), uint64(whence)); err != nil {
		return -1, err
	}
	h, err := t.files.Lookup(fd)
	if err != nil {
		return -1, t.fail(err)
	}
	off, err := h.Device.Seek(h.DeviceFD, offset, whence)
	if err != nil {
		return -1, t.fail(err)
	}
	return off, nil
}

func (t *Task) read(fd int, p []byte) (int, error) {
	h, err := t.files.Lookup(fd)
	if err != nil {
		return -1, t.fail(err)
	}
	n, err := h.Device.Read(h.DeviceFD, p)
	if err != nil {
		return n, t.fail(err)
	}
	return n, nil
}

func (t *Task) write(fd int, p []byte) (int, error) {
	h, err := t.files.Lookup(fd)
	if err != nil {
		return -1, t.fail(err)
	}
	n, err := h.Device.Write(h.DeviceFD, p)
	if err != nil {
		return n, t.fail(err)
	}
	return n, nil
}
