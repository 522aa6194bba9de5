//go:build !linux

package memfd

import (
	"fmt"
	"io"
	"os"
	"runtime"
)

var errNotImplemented = fmt.Errorf("memfd: unsupported on platform %s", runtime.GOOS)

func New(name string) (*os.File, error) {
	return nil, errNotImplemented
}

func DupToMemfd(name string, reader io.Reader) (*os.File, error) {
	return nil, errNotImplemented
}

func (s *Store) Preload(name string, reader io.Reader) error {
	return errNotImplemented
}

func (s *Store) Open(name string, flag int) (int, error) {
	return -1, errNotImplemented
}

func (s *Store) Read(devFD int, p []byte) (int, error) {
	return 0, errNotImplemented
}

func (s *Store) Write(devFD int, p []byte) (int, error) {
	return 0, errNotImplemented
}

func (s *Store) Seek(devFD int, offset int64, whence int) (int64, error) {
	return 0, errNotImplemented
}

func (s *Store) Close(devFD int) error {
	return errNotImplemented
}

func (s *Store) Names() []string {
	return nil
}

func (s *Store) Release() error {
	return nil
}
