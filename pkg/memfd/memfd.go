// Package memfd provides memfd backed files and a file device that keeps
// named memfds, so tasks get a private scratch file system that lives in
// anonymous memory.
package memfd

import (
	"os"
	"sync"
)

// Store is a device of named memfd files, it implements fdtable.Driver.
// Every open has its own offset.
type Store struct {
	mu     sync.Mutex
	files  map[string]*os.File
	open   map[int]*openFile
	nextFD int
}

type openFile struct {
	file   *os.File
	offset int64
	flag   int
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		files: make(map[string]*os.File),
		open:  make(map[int]*openFile),
	}
}
