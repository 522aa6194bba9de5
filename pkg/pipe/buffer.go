// Package pipe provides named in-memory pipes used as the console device of
// tasks. Each pipe collects at most max bytes, writes past the limit are
// discarded so a chatty task can not exhaust host memory.
package pipe

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is a bounded FIFO byte buffer
type Buffer struct {
	Max     int64
	Dropped int64
	buffer  bytes.Buffer
	written int64
}

// Write keeps at most Max bytes over the lifetime of the buffer and reports
// the full length so the writer never sees a short write
func (b *Buffer) Write(p []byte) (int, error) {
	n := int64(len(p))
	if room := b.Max - b.written; n > room {
		if room < 0 {
			room = 0
		}
		b.Dropped += n - room
		n = room
	}
	b.buffer.Write(p[:n])
	b.written += n
	return len(p), nil
}

// Read consumes buffered bytes
func (b *Buffer) Read(p []byte) (int, error) {
	if b.buffer.Len() == 0 {
		return 0, nil
	}
	return b.buffer.Read(p)
}

// Len returns the number of unread bytes
func (b *Buffer) Len() int {
	return b.buffer.Len()
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer[%d/%d]", b.written, b.Max)
}

// Pipes is a device with named pipes, it implements fdtable.Driver
type Pipes struct {
	mu     sync.Mutex
	max    int64
	pipes  map[string]*Buffer
	open   map[int]*Buffer
	nextFD int
}

// New creates the device, every pipe collects at most max bytes
func New(max int64) *Pipes {
	return &Pipes{
		max:   max,
		pipes: make(map[string]*Buffer),
		open:  make(map[int]*Buffer),
	}
}

// Open opens the pipe name and creates it on first use
func (p *Pipes) Open(name string, flag int) (int, error) {
	if name == "" {
		return -1, unix.ENOENT
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.pipes[name]
	if !ok {
		b = &Buffer{Max: p.max}
		p.pipes[name] = b
	}
	fd := p.nextFD
	p.nextFD++
	p.open[fd] = b
	return fd, nil
}

func (p *Pipes) get(devFD int) (*Buffer, error) {
	b, ok := p.open[devFD]
	if !ok {
		return nil, unix.EBADF
	}
	return b, nil
}

// Read reads from the pipe, 0 means it is empty
func (p *Pipes) Read(devFD int, b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, err := p.get(devFD)
	if err != nil {
		return 0, err
	}
	return buf.Read(b)
}

// Write appends to the pipe
func (p *Pipes) Write(devFD int, b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, err := p.get(devFD)
	if err != nil {
		return 0, err
	}
	return buf.Write(b)
}

// Seek is not supported on pipes
func (p *Pipes) Seek(devFD int, offset int64, whence int) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.get(devFD); err != nil {
		return 0, err
	}
	return 0, unix.ESPIPE
}

// Close closes devFD, the pipe content stays until drained
func (p *Pipes) Close(devFD int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.get(devFD); err != nil {
		return err
	}
	delete(p.open, devFD)
	return nil
}

// Drain returns and removes the unread content of the pipe name
func (p *Pipes) Drain(name string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.pipes[name]
	if !ok {
		return nil
	}
	out := make([]byte, b.buffer.Len())
	b.buffer.Read(out)
	return out
}

// Names returns the names of all pipes in order
func (p *Pipes) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.pipes))
	for n := range p.pipes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OpenCount returns the number of open device fds
func (p *Pipes) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}
