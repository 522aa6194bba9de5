package task

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/criyle/go-taskrt/pkg/restable"
	"golang.org/x/sys/unix"
)

// RecordResource registers value under kind so it is found at teardown if
// the task never releases it
func (t *Task) RecordResource(kind restable.Kind, value interface{}) (restable.Key, error) {
	k, err := t.resources.Record(kind, value)
	if err != nil {
		return -1, t.fail(err)
	}
	return k, nil
}

// ReleaseResource removes the record and returns its value, it does not
// destroy the value
func (t *Task) ReleaseResource(kind restable.Kind, key restable.Key) (interface{}, error) {
	v, err := t.resources.Get(kind, key)
	if err != nil {
		return nil, t.fail(err)
	}
	if err := t.resources.Release(kind, key); err != nil {
		return nil, t.fail(err)
	}
	return v, nil
}

func (t *Task) resource(kind restable.Kind, key restable.Key) (interface{}, error) {
	v, err := t.resources.Get(kind, key)
	if err != nil {
		return nil, t.fail(err)
	}
	return v, nil
}

// Regcomp compiles pattern and records it
func (t *Task) Regcomp(pattern string) (restable.Key, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		t.errno = unix.EINVAL
		return -1, fmt.Errorf("task: regcomp: %w", err)
	}
	return t.RecordResource(restable.KindRegcomp, re)
}

// Regexec matches s against the compiled expression
func (t *Task) Regexec(key restable.Key, s string) (bool, error) {
	v, err := t.resource(restable.KindRegcomp, key)
	if err != nil {
		return false, err
	}
	re, ok := v.(*regexp.Regexp)
	if !ok {
		return false, t.fail(unix.EINVAL)
	}
	return re.MatchString(s), nil
}

// Regfree releases the compiled expression
func (t *Task) Regfree(key restable.Key) error {
	_, err := t.ReleaseResource(restable.KindRegcomp, key)
	return err
}

// Iconv is a conversion descriptor between two character sets
type Iconv struct {
	To, From string
}

var charsets = map[string]string{
	"UTF-8":      "UTF-8",
	"UTF8":       "UTF-8",
	"ASCII":      "ASCII",
	"US-ASCII":   "ASCII",
	"ISO-8859-1": "ISO-8859-1",
	"LATIN1":     "ISO-8859-1",
}

func charset(name string) (string, bool) {
	c, ok := charsets[strings.ToUpper(name)]
	return c, ok
}

// IconvOpen creates a conversion descriptor, EINVAL for unknown charsets
func (t *Task) IconvOpen(to, from string) (restable.Key, error) {
	tc, ok1 := charset(to)
	fc, ok2 := charset(from)
	if !ok1 || !ok2 {
		return -1, t.fail(unix.EINVAL)
	}
	return t.RecordResource(restable.KindIconv, &Iconv{To: tc, From: fc})
}

// Iconv converts in, EILSEQ when a character has no representation
func (t *Task) Iconv(cd restable.Key, in []byte) ([]byte, error) {
	v, err := t.resource(restable.KindIconv, cd)
	if err != nil {
		return nil, err
	}
	c, ok := v.(*Iconv)
	if !ok {
		return nil, t.fail(unix.EINVAL)
	}
	out, err := c.convert(in)
	if err != nil {
		return nil, t.fail(err)
	}
	return out, nil
}

// IconvClose releases the descriptor
func (t *Task) IconvClose(cd restable.Key) error {
	_, err := t.ReleaseResource(restable.KindIconv, cd)
	return err
}

func (c *Iconv) convert(in []byte) ([]byte, error) {
	var runes []rune
	switch c.From {
	case "UTF-8":
		for len(in) > 0 {
			r, size := utf8.DecodeRune(in)
			if r == utf8.RuneError && size <= 1 {
				return nil, unix.EILSEQ
			}
			runes = append(runes, r)
			in = in[size:]
		}
	default:
		for _, b := range in {
			if c.From == "ASCII" && b > 0x7f {
				return nil, unix.EILSEQ
			}
			runes = append(runes, rune(b))
		}
	}
	out := make([]byte, 0, len(runes))
	for _, r := range runes {
		switch {
		case c.To == "UTF-8":
			out = utf8.AppendRune(out, r)
		case c.To == "ASCII" && r > 0x7f, r > 0xff:
			return nil, unix.EILSEQ
		default:
			out = append(out, byte(r))
		}
	}
	return out, nil
}

// Stream is a buffered descriptor opened by Fopen
type Stream struct {
	fd int
	w  *bufio.Writer
}

type fdWriter struct {
	t  *Task
	fd int
}

func (w fdWriter) Write(p []byte) (int, error) {
	n, err := w.t.write(w.fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

var fopenModes = map[string]int{
	"r":  unix.O_RDONLY,
	"r+": unix.O_RDWR,
	"w":  unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC,
	"w+": unix.O_RDWR | unix.O_CREAT | unix.O_TRUNC,
	"a":  unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND,
	"a+": unix.O_RDWR | unix.O_CREAT | unix.O_APPEND,
}

// Fopen opens path as a buffered stream recorded as an open resource
func (t *Task) Fopen(path, mode string) (restable.Key, error) {
	flag, ok := fopenModes[strings.ReplaceAll(mode, "b", "")]
	if !ok {
		return -1, t.fail(unix.EINVAL)
	}
	fd, err := t.Open(path, flag)
	if err != nil {
		return -1, err
	}
	s := &Stream{fd: fd, w: bufio.NewWriter(fdWriter{t: t, fd: fd})}
	key, err := t.RecordResource(restable.KindOpen, s)
	if err != nil {
		if h, cerr := t.files.Close(fd); cerr == nil {
			h.Device.Close(h.DeviceFD)
		}
		return -1, err
	}
	return key, nil
}

func (t *Task) stream(key restable.Key) (*Stream, error) {
	v, err := t.resource(restable.KindOpen, key)
	if err != nil {
		return nil, err
	}
	st, ok := v.(*Stream)
	if !ok {
		return nil, t.fail(unix.EINVAL)
	}
	return st, nil
}

// Fwrite writes p into the stream buffer
func (t *Task) Fwrite(key restable.Key, p []byte) (int, error) {
	s, err := t.stream(key)
	if err != nil {
		return 0, err
	}
	if err := t.syscall(SysWrite, uint64(s.fd), uint64(len(p))); err != nil {
		return 0, err
	}
	return s.w.Write(p)
}

// Fread flushes pending output and reads from the stream descriptor
func (t *Task) Fread(key restable.Key, p []byte) (int, error) {
	s, err := t.stream(key)
	if err != nil {
		return 0, err
	}
	if err := s.w.Flush(); err != nil {
		return 0, err
	}
	return t.Read(s.fd, p)
}

// Fflush writes the stream buffer to its descriptor
func (t *Task) Fflush(key restable.Key) error {
	s, err := t.stream(key)
	if err != nil {
		return err
	}
	return s.w.Flush()
}

// Fclose flushes and closes the stream
func (t *Task) Fclose(key restable.Key) error {
	s, err := t.stream(key)
	if err != nil {
		return err
	}
	ferr := s.w.Flush()
	if _, err := t.ReleaseResource(restable.KindOpen, key); err != nil {
		return err
	}
	if err := t.Close(s.fd); err != nil {
		return err
	}
	return ferr
}

// DefaultDestructors returns the destructors for resources a task leaked.
// Leaked streams are flushed, the descriptor itself is closed afterwards
// together with the rest of the descriptor table.
func DefaultDestructors() restable.Destructors {
	var d restable.Destructors
	d[restable.KindOpen] = func(r restable.Record) error {
		s, ok := r.Value.(*Stream)
		if !ok {
			return fmt.Errorf("task: open record %v is %T", r.Key, r.Value)
		}
		return s.w.Flush()
	}
	return d
}
