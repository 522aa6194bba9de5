// Package restable tracks OS resources (not memory) held by a task so they
// can be force released when the task terminates.
//
// The table only tracks liveness. Releasing the underlying resource is the
// job of whoever created it, teardown dispatches every swept record to the
// destructor registered for its kind.
package restable

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Errors returned by the resource table
var (
	ErrInvalidKind      = errors.New("restable: invalid resource kind")
	ErrNoSuchResource   = errors.New("restable: no such resource")
	ErrTooManyResources = errors.New("restable: too many resources")
)

// Kind is the resource kind
type Kind int

// Resource kinds, the list is closed
const (
	KindIconv   Kind = iota // iconv conversion descriptor
	KindRegcomp             // compiled regular expression
	KindOpen                // generic open handle
	KindMax
)

var kindString = [KindMax]string{"iconv", "regcomp", "open"}

func (k Kind) String() string {
	if k.Valid() {
		return kindString[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the defined kinds
func (k Kind) Valid() bool {
	return k >= 0 && k < KindMax
}

// ParseKind parses the name returned by Kind.String
func ParseKind(s string) (Kind, error) {
	for k, n := range kindString {
		if n == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Key identifies a record within its (task, kind) scope
type Key int

// Record is a live resource owned by one task
type Record struct {
	Kind  Kind
	Key   Key
	Value interface{}
}

func (r Record) String() string {
	return fmt.Sprintf("%v[%d]", r.Kind, r.Key)
}

// Destructor releases the resource of a swept record
type Destructor func(Record) error

// Destructors holds one destructor per kind
type Destructors [KindMax]Destructor

// Destroy dispatches r to the destructor of its kind. A missing destructor
// is not an error, the record is dropped.
func (d *Destructors) Destroy(r Record) error {
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	if fn := d[r.Kind]; fn != nil {
		return fn(r)
	}
	return nil
}

// Table holds the resource records of one task, one map per kind
type Table struct {
	mu      sync.Mutex
	records [KindMax]map[Key]interface{}
	next    [KindMax]Key
	limit   int
}

// New creates a table, limit bounds the records per kind (0 for no bound)
func New(limit int) *Table {
	t := &Table{limit: limit}
	for i := range t.records {
		t.records[i] = make(map[Key]interface{})
	}
	return t
}

// Record registers value and returns a fresh key scoped to kind
func (t *Table) Record(kind Kind, value interface{}) (Key, error) {
	if !kind.Valid() {
		return 0, ErrInvalidKind
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.records[kind]
	if t.limit > 0 && len(m) >= t.limit {
		return 0, ErrTooManyResources
	}
	t.next[kind]++
	k := t.next[kind]
	m[k] = value
	return k, nil
}

// Release removes the record, the caller has already released the resource
func (t *Table) Release(kind Kind, key Key) error {
	if !kind.Valid() {
		return ErrInvalidKind
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.records[kind]
	if _, ok := m[key]; !ok {
		return ErrNoSuchResource
	}
	delete(m, key)
	return nil
}

// Get returns the value of a live record
func (t *Table) Get(kind Kind, key Key) (interface{}, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.records[kind][key]
	if !ok {
		return nil, ErrNoSuchResource
	}
	return v, nil
}

// Len returns the number of live records of kind
func (t *Table) Len(kind Kind) int {
	if !kind.Valid() {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records[kind])
}

// Total returns the number of live records over all kinds
func (t *Table) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, m := range t.records {
		n += len(m)
	}
	return n
}

// Sweep removes and returns every remaining record ordered by kind then key
func (t *Table) Sweep() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ret []Record
	for k, m := range t.records {
		start := len(ret)
		for key, v := range m {
			ret = append(ret, Record{Kind: Kind(k), Key: key, Value: v})
		}
		part := ret[start:]
		sort.Slice(part, func(i, j int) bool { return part[i].Key < part[j].Key })
		t.records[k] = make(map[Key]interface{})
	}
	return ret
}
