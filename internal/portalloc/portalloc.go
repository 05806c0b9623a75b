// Package portalloc implements the deterministic, reuse-aware port
// allocation of spec §4.G. It is pure: callers own the assignment map and
// pass it in; functions here return a new map rather than mutating the
// RIB's state out from under the single-writer actor.
package portalloc

import (
	"fmt"
	"sort"
)

// Entry is a single port or an inclusive [Start,End] range. A bare port is
// represented with Start == End.
type Entry struct {
	Start uint32
	End   uint32
}

// ParseEntries validates a configured PortEntry[] (spec §3/§6.5): every
// entry must satisfy 1 <= start <= end <= 65535. Invalid tuples are
// rejected at load time per spec §9's "parse into a canonical iterator"
// design note.
func ParseEntries(raw []Entry) ([]Entry, error) {
	entries := make([]Entry, len(raw))
	copy(entries, raw)
	for _, e := range entries {
		if e.Start < 1 || e.End > 65535 || e.Start > e.End {
			return nil, fmt.Errorf("portalloc: invalid range [%d,%d]", e.Start, e.End)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Start < entries[j].Start })
	return entries, nil
}

// InRange reports whether port falls within any configured entry.
func InRange(entries []Entry, port uint32) bool {
	for _, e := range entries {
		if port >= e.Start && port <= e.End {
			return true
		}
	}
	return false
}

// Allocate returns the port assigned to name, allocating the lowest free
// port in entries if name has no existing, still-valid assignment. It
// returns a fresh assigned map (assigned is never mutated) and false if the
// range is exhausted.
func Allocate(entries []Entry, assigned map[string]uint32, name string) (map[string]uint32, uint32, bool) {
	if port, ok := assigned[name]; ok && InRange(entries, port) {
		return assigned, port, true
	}

	inUse := make(map[uint32]bool, len(assigned))
	for n, p := range assigned {
		if n != name {
			inUse[p] = true
		}
	}

	for _, e := range entries {
		for p := e.Start; p <= e.End; p++ {
			if !inUse[p] {
				next := cloneAssigned(assigned)
				next[name] = p
				return next, p, true
			}
			if p == e.End {
				break // avoid uint32 overflow wraparound when End == 65535
			}
		}
	}
	return assigned, 0, false
}

// Release removes name's assignment, returning a fresh map.
func Release(assigned map[string]uint32, name string) map[string]uint32 {
	if _, ok := assigned[name]; !ok {
		return assigned
	}
	next := cloneAssigned(assigned)
	delete(next, name)
	return next
}

func cloneAssigned(assigned map[string]uint32) map[string]uint32 {
	next := make(map[string]uint32, len(assigned)+1)
	for k, v := range assigned {
		next[k] = v
	}
	return next
}
