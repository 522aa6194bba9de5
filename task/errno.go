package task

import (
	"errors"

	"github.com/criyle/go-taskrt/pkg/arena"
	"github.com/criyle/go-taskrt/pkg/fdtable"
	"github.com/criyle/go-taskrt/pkg/pidtab"
	"github.com/criyle/go-taskrt/pkg/restable"
	"golang.org/x/sys/unix"
)

var errnoTable = []struct {
	err   error
	errno unix.Errno
}{
	{arena.ErrOutOfMemory, unix.ENOMEM},
	{arena.ErrArenaExhausted, unix.ENOMEM},
	{arena.ErrBadPointer, unix.EINVAL},
	{arena.ErrDestroyed, unix.EFAULT},
	{fdtable.ErrTooManyOpenFiles, unix.EMFILE},
	{fdtable.ErrBadDescriptor, unix.EBADF},
	{pidtab.ErrNoFreePID, unix.EAGAIN},
	{pidtab.ErrNoSuchTask, unix.ESRCH},
	{restable.ErrTooManyResources, unix.ENFILE},
	{restable.ErrNoSuchResource, unix.EBADF},
	{restable.ErrInvalidKind, unix.EINVAL},
}

// Errno maps a runtime error to the libc error code, 0 for nil
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var e unix.Errno
	if errors.As(err, &e) {
		return e
	}
	for _, m := range errnoTable {
		if errors.Is(err, m.err) {
			return m.errno
		}
	}
	return unix.EIO
}

// Errno returns the errno of the task
func (t *Task) Errno() unix.Errno {
	return t.errno
}

// SetErrno sets the errno of the task
func (t *Task) SetErrno(e unix.Errno) {
	t.errno = e
}

// fail records err as errno and returns it
func (t *Task) fail(err error) error {
	t.errno = Errno(err)
	return err
}

// Strerror formats code into the task strerror buffer
func (t *Task) Strerror(code unix.Errno) string {
	n := copy(t.strerror[:StrerrorBufLen-1], code.Error())
	t.strerror[n] = 0
	return string(t.strerror[:n])
}
