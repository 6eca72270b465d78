package clock

import (
	"fmt"
	"sort"
	"strings"
)

// Ordering is the result of comparing two vector clocks. Vector clocks define
// a partial order, so two clocks can be concurrent.
type Ordering int

const (
	// Equal means both clocks have identical components.
	Equal Ordering = iota
	// Before means the first clock happens-before the second.
	Before
	// After means the first clock happens-after the second.
	After
	// Concurrent means neither clock descends from the other.
	Concurrent
)

// String ...
func (o Ordering) String() string {
	switch o {
	case Equal:
		return "Equal"
	case Before:
		return "Before"
	case After:
		return "After"
	case Concurrent:
		return "Concurrent"
	default:
		return "Unknown"
	}
}

// VectorClock maps node IDs to monotonically non-decreasing counters. A
// missing key is equivalent to a zero counter; the two forms compare and merge
// identically.
type VectorClock map[uint32]uint64

// New returns an empty VectorClock.
func New() VectorClock {
	return VectorClock{}
}

// Copy returns a deep copy of the clock.
func (vc VectorClock) Copy() VectorClock {
	res := make(VectorClock, len(vc))
	for id, c := range vc {
		res[id] = c
	}
	return res
}

// Counter returns the counter recorded for id. Nodes this clock has never
// heard of count as zero.
func (vc VectorClock) Counter(id uint32) uint64 {
	return vc[id]
}

// Tick increments the component of the given node and returns a snapshot of
// the resulting clock. The receiver is modified; the snapshot is what gets
// stamped on an outgoing event.
func (vc VectorClock) Tick(self uint32) VectorClock {
	vc[self]++
	return vc.Copy()
}

// Merge takes the pointwise maximum of both clocks, including keys that only
// the other clock has. Merge is idempotent and commutative, so repeated or
// out-of-order gossip delivery converges to the same clock state.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	for id, c := range other {
		if c > vc[id] {
			vc[id] = c
		}
	}
	return vc
}

// Compare returns the ordering of a relative to b.
func Compare(a, b VectorClock) Ordering {
	aLessSomewhere := false
	bLessSomewhere := false

	for id, ac := range a {
		bc := b.Counter(id)
		if ac < bc {
			aLessSomewhere = true
		} else if ac > bc {
			bLessSomewhere = true
		}
	}

	for id, bc := range b {
		if _, ok := a[id]; ok {
			continue
		}
		if bc > 0 {
			aLessSomewhere = true
		}
	}

	switch {
	case aLessSomewhere && bLessSomewhere:
		return Concurrent
	case aLessSomewhere:
		return Before
	case bLessSomewhere:
		return After
	default:
		return Equal
	}
}

// DescendsFrom says whether a causally descends from b, ie. b happens-before
// a. An equal clock does not descend from itself.
func DescendsFrom(a, b VectorClock) bool {
	return Compare(a, b) == After
}

// String renders the clock with sorted keys, eg. {1:3 2:1}.
func (vc VectorClock) String() string {
	ids := make([]uint32, 0, len(vc))
	for id := range vc {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d:%d", id, vc[id])
	}
	return "{" + strings.Join(parts, " ") + "}"
}
