package memfd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/sys/unix"
)

const createFlag = unix.MFD_CLOEXEC | unix.MFD_ALLOW_SEALING
const roSeal = unix.F_SEAL_SEAL | unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE

// New creates a new memfd, caller need to close the file
func New(name string) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, createFlag)
	if err != nil {
		return nil, fmt.Errorf("memfd: memfd_create failed %v", err)
	}
	file := os.NewFile(uintptr(fd), name)
	if file == nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memfd: NewFile failed for %v", name)
	}
	return file, nil
}

// DupToMemfd reads content from reader to sealed (readonly) memfd for given name
func DupToMemfd(name string, reader io.Reader) (*os.File, error) {
	file, err := New(name)
	if err != nil {
		return nil, fmt.Errorf("DupToMemfd: %v", err)
	}
	if _, err = file.ReadFrom(reader); err != nil {
		file.Close()
		return nil, fmt.Errorf("DupToMemfd: read from %v", err)
	}
	// make memfd readonly
	if _, err = unix.FcntlInt(file.Fd(), unix.F_ADD_SEALS, roSeal); err != nil {
		file.Close()
		return nil, fmt.Errorf("DupToMemfd: memfd seal %v", err)
	}
	return file, nil
}

// Preload adds a read only file name with the content of reader
func (s *Store) Preload(name string, reader io.Reader) error {
	f, err := DupToMemfd(name, reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.files[name]; ok {
		old.Close()
	}
	s.files[name] = f
	return nil
}

// Open opens name, O_CREAT creates it and O_TRUNC truncates it
func (s *Store) Open(name string, flag int) (int, error) {
	if name == "" {
		return -1, unix.ENOENT
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[name]
	if !ok {
		if flag&unix.O_CREAT == 0 {
			return -1, unix.ENOENT
		}
		var err error
		if f, err = New(name); err != nil {
			return -1, err
		}
		s.files[name] = f
	} else if flag&(unix.O_CREAT|unix.O_EXCL) == unix.O_CREAT|unix.O_EXCL {
		return -1, unix.EEXIST
	}
	if flag&unix.O_TRUNC != 0 && flag&unix.O_ACCMODE != unix.O_RDONLY {
		if err := f.Truncate(0); err != nil {
			return -1, errno(err)
		}
	}
	fd := s.nextFD
	s.nextFD++
	s.open[fd] = &openFile{file: f, flag: flag}
	return fd, nil
}

func (s *Store) get(devFD int) (*openFile, error) {
	o, ok := s.open[devFD]
	if !ok {
		return nil, unix.EBADF
	}
	return o, nil
}

// Read reads at the offset of devFD, 0 means end of file
func (s *Store) Read(devFD int, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(devFD)
	if err != nil {
		return 0, err
	}
	if o.flag&unix.O_ACCMODE == unix.O_WRONLY {
		return 0, unix.EBADF
	}
	n, err := o.file.ReadAt(p, o.offset)
	o.offset += int64(n)
	if err == io.EOF {
		err = nil
	}
	return n, errno(err)
}

// Write writes at the offset of devFD, or at the end with O_APPEND
func (s *Store) Write(devFD int, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(devFD)
	if err != nil {
		return 0, err
	}
	if o.flag&unix.O_ACCMODE == unix.O_RDONLY {
		return 0, unix.EBADF
	}
	if o.flag&unix.O_APPEND != 0 {
		fi, err := o.file.Stat()
		if err != nil {
			return 0, errno(err)
		}
		o.offset = fi.Size()
	}
	n, err := o.file.WriteAt(p, o.offset)
	o.offset += int64(n)
	return n, errno(err)
}

// Seek sets the offset of devFD
func (s *Store) Seek(devFD int, offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(devFD)
	if err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = o.offset
	case io.SeekEnd:
		fi, err := o.file.Stat()
		if err != nil {
			return 0, errno(err)
		}
		base = fi.Size()
	default:
		return 0, unix.EINVAL
	}
	if base+offset < 0 {
		return 0, unix.EINVAL
	}
	o.offset = base + offset
	return o.offset, nil
}

// Close closes devFD, the file stays in the store
func (s *Store) Close(devFD int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.get(devFD); err != nil {
		return err
	}
	delete(s.open, devFD)
	return nil
}

// Names returns the names of stored files in order
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.files))
	for n := range s.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Release closes every memfd of the store
func (s *Store) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for n, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.files, n)
	}
	clear(s.open)
	return errors.Join(errs...)
}

// errno unwraps the errno of a file operation error
func errno(err error) error {
	if err == nil {
		return nil
	}
	var e unix.Errno
	if errors.As(err, &e) {
		return e
	}
	return unix.EIO
}
