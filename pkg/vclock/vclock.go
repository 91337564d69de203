// Package vclock implements the vector clock arithmetic used by the sync
// engine to establish causal order between edits made on different devices.
//
// A clock is a mapping from device ID to a monotonic counter. All operations
// are pure: they never mutate their inputs and always return fresh values,
// so clocks can be shared freely between goroutines.
package vclock

import "maps"

// Clock maps a device ID to that device's edit counter.
type Clock map[string]int64

// Ordering is the result of comparing two clocks.
type Ordering int

// The four possible outcomes of Compare. Exactly one holds for any pair.
const (
	// Identical means both clocks have the same counters for every device.
	Identical Ordering = iota
	// Before means clock A causally precedes clock B.
	Before
	// After means clock B causally precedes clock A.
	After
	// Concurrent means neither clock dominates the other.
	Concurrent
)

// String returns the wire name of the ordering.
func (o Ordering) String() string {
	switch o {
	case Identical:
		return "identical"
	case Before:
		return "a_before_b"
	case After:
		return "b_before_a"
	case Concurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// Compare establishes the causal relation between two clocks.
//
// A missing entry counts as zero, so {} and {d1:0} compare as identical.
func Compare(a, b Clock) Ordering {
	aDominates := false // some component of A is strictly greater
	bDominates := false

	for device, ac := range a {
		if bc := b[device]; ac > bc {
			aDominates = true
		} else if ac < bc {
			bDominates = true
		}
	}
	for device, bc := range b {
		if _, seen := a[device]; seen {
			continue
		}
		if bc > 0 {
			bDominates = true
		}
	}

	switch {
	case aDominates && bDominates:
		return Concurrent
	case aDominates:
		return After
	case bDominates:
		return Before
	default:
		return Identical
	}
}

// Merge returns the pointwise maximum of the two clocks over the union of
// their devices. Merge is commutative, associative, and idempotent.
func Merge(a, b Clock) Clock {
	merged := make(Clock, len(a)+len(b))
	maps.Copy(merged, a)
	for device, counter := range b {
		if counter > merged[device] {
			merged[device] = counter
		}
	}
	return merged
}

// Increment returns a copy of the clock with the given device's counter
// advanced by one, creating the entry if absent.
func Increment(c Clock, deviceID string) Clock {
	next := make(Clock, len(c)+1)
	maps.Copy(next, c)
	next[deviceID]++
	return next
}

// Dominates reports whether clock a is causally at or after clock b, i.e.
// an update carrying a has observed everything recorded in b.
func Dominates(a, b Clock) bool {
	switch Compare(a, b) {
	case Identical, After:
		return true
	default:
		return false
	}
}
