package task

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

// RandMax is the largest value returned by Rand
const RandMax = 32767

// Srand seeds the task PRNG
func (t *Task) Srand(seed uint32) {
	t.seed = seed
}

// Rand returns the next value of the task PRNG in [0, RandMax]
func (t *Task) Rand() int {
	t.seed = t.seed*1103515245 + 12345
	return int(t.seed/65536) % (RandMax + 1)
}

// Strtok starts tokenizing s, following tokens come from StrtokNext
func (t *Task) Strtok(s, delim string) (string, bool) {
	t.strtokRest = s
	return t.StrtokNext(delim)
}

// StrtokNext returns the next token of the string given to Strtok
func (t *Task) StrtokNext(delim string) (string, bool) {
	isDelim := func(r rune) bool { return strings.ContainsRune(delim, r) }
	s := strings.TrimLeftFunc(t.strtokRest, isDelim)
	if s == "" {
		t.strtokRest = ""
		return "", false
	}
	end := strings.IndexFunc(s, isDelim)
	if end < 0 {
		t.strtokRest = ""
		return s, true
	}
	tok := s[:end]
	_, size := utf8.DecodeRuneInString(s[end:])
	t.strtokRest = s[end+size:]
	return tok, true
}

// Tm is the broken down time of struct tm
type Tm struct {
	Sec   int
	Min   int
	Hour  int
	Mday  int
	Mon   int // months since January
	Year  int // years since 1900
	Wday  int
	Yday  int
	Isdst int
}

func toTm(tm *Tm, v time.Time) *Tm {
	*tm = Tm{
		Sec:  v.Second(),
		Min:  v.Minute(),
		Hour: v.Hour(),
		Mday: v.Day(),
		Mon:  int(v.Month()) - 1,
		Year: v.Year() - 1900,
		Wday: int(v.Weekday()),
		Yday: v.YearDay() - 1,
	}
	if v.IsDST() {
		tm.Isdst = 1
	}
	return tm
}

// Gmtime converts v to UTC in the task gmtime slot, the result is
// overwritten by the next call
func (t *Task) Gmtime(v time.Time) *Tm {
	return toTm(&t.gmtime, v.UTC())
}

// Localtime converts v to local time in the task localtime slot
func (t *Task) Localtime(v time.Time) *Tm {
	return toTm(&t.localtime, v.Local())
}

var (
	dayName = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
	monName = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
)

func formatTm(buf *[TimeBufLen]byte, tm *Tm) (string, error) {
	if tm.Wday < 0 || tm.Wday > 6 || tm.Mon < 0 || tm.Mon > 11 {
		return "", unix.EINVAL
	}
	s := fmt.Sprintf("%.3s %.3s%3d %.2d:%.2d:%.2d %d\n",
		dayName[tm.Wday], monName[tm.Mon], tm.Mday, tm.Hour, tm.Min, tm.Sec, 1900+tm.Year)
	if len(s) >= TimeBufLen {
		return "", unix.EOVERFLOW
	}
	n := copy(buf[:], s)
	buf[n] = 0
	return string(buf[:n]), nil
}

// Asctime formats tm into the task asctime buffer
func (t *Task) Asctime(tm *Tm) (string, error) {
	s, err := formatTm(&t.asctime, tm)
	if err != nil {
		return "", t.fail(err)
	}
	return s, nil
}

// Ctime formats v as local time into the task ctime buffer
func (t *Task) Ctime(v time.Time) (string, error) {
	s, err := formatTm(&t.ctime, t.Localtime(v))
	if err != nil {
		return "", t.fail(err)
	}
	return s, nil
}
