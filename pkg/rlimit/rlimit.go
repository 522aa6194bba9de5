// Package rlimit provides data structure for the resource limits a task runs
// under.
package rlimit

import (
	"fmt"
	"strings"

	"github.com/criyle/go-taskrt/types"
)

// Limits defines the limits applied to a task when it is spawned
type Limits struct {
	Heap      uint64 // in bytes
	Stack     uint64 // in bytes
	Files     int    // open descriptors
	Resources int    // live records per resource kind, 0 for unbounded
}

// Resource is the kind of a limit
type Resource int

// Limited resources
const (
	ResHeap Resource = iota
	ResStack
	ResFiles
	ResResources
)

var resourceString = []string{"Heap", "Stack", "Files", "Resources"}

func (r Resource) String() string {
	if r >= 0 && int(r) < len(resourceString) {
		return resourceString[r]
	}
	return fmt.Sprintf("Resource(%d)", int(r))
}

// Limit is a single bounded resource
type Limit struct {
	// Res is the resource type (e.g. ResHeap)
	Res Resource
	// Max is the bound applied to that resource
	Max uint64
}

// Prepare returns the bounded resources in order, unbounded ones are left out
func (l *Limits) Prepare() []Limit {
	var ret []Limit
	if l.Heap > 0 {
		ret = append(ret, Limit{Res: ResHeap, Max: l.Heap})
	}
	if l.Stack > 0 {
		ret = append(ret, Limit{Res: ResStack, Max: l.Stack})
	}
	if l.Files > 0 {
		ret = append(ret, Limit{Res: ResFiles, Max: uint64(l.Files)})
	}
	if l.Resources > 0 {
		ret = append(ret, Limit{Res: ResResources, Max: uint64(l.Resources)})
	}
	return ret
}

func (l Limit) String() string {
	switch l.Res {
	case ResHeap, ResStack:
		return fmt.Sprintf("%v[%v]", l.Res, types.Size(l.Max))
	}
	return fmt.Sprintf("%v[%d]", l.Res, l.Max)
}

func (l Limits) String() string {
	var sb strings.Builder
	sb.WriteString("Limits[")
	for i, rl := range l.Prepare() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(rl.String())
	}
	sb.WriteString("]")
	return sb.String()
}
