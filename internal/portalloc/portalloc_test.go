package portalloc

import "testing"

func TestParseEntries_SortsAndValidates(t *testing.T) {
	entries, err := ParseEntries([]Entry{{Start: 30000, End: 30100}, {Start: 20000, End: 20100}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries[0].Start != 20000 || entries[1].Start != 30000 {
		t.Fatalf("expected entries sorted by start, got %+v", entries)
	}
}

func TestParseEntries_RejectsInvertedRange(t *testing.T) {
	if _, err := ParseEntries([]Entry{{Start: 30000, End: 20000}}); err == nil {
		t.Fatal("expected error for start > end")
	}
}

func TestParseEntries_RejectsOutOfBounds(t *testing.T) {
	if _, err := ParseEntries([]Entry{{Start: 0, End: 100}}); err == nil {
		t.Fatal("expected error for start < 1")
	}
	if _, err := ParseEntries([]Entry{{Start: 100, End: 70000}}); err == nil {
		t.Fatal("expected error for end > 65535")
	}
}

func TestInRange(t *testing.T) {
	entries := []Entry{{Start: 20000, End: 20010}}
	if !InRange(entries, 20005) {
		t.Error("expected 20005 to be in range")
	}
	if InRange(entries, 19999) {
		t.Error("expected 19999 to be out of range")
	}
}

func TestAllocate_AssignsLowestFreePort(t *testing.T) {
	entries := []Entry{{Start: 20000, End: 20002}}
	assigned, port, ok := Allocate(entries, nil, "svc-a")
	if !ok || port != 20000 {
		t.Fatalf("expected port 20000, got %d ok=%v", port, ok)
	}

	assigned, port, ok = Allocate(entries, assigned, "svc-b")
	if !ok || port != 20001 {
		t.Fatalf("expected port 20001, got %d ok=%v", port, ok)
	}
	if len(assigned) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(assigned))
	}
}

func TestAllocate_StableForExistingAssignment(t *testing.T) {
	entries := []Entry{{Start: 20000, End: 20002}}
	assigned := map[string]uint32{"svc-a": 20001}

	next, port, ok := Allocate(entries, assigned, "svc-a")
	if !ok || port != 20001 {
		t.Fatalf("expected existing assignment 20001 to be kept, got %d ok=%v", port, ok)
	}
	if len(next) != len(assigned) {
		t.Fatalf("expected assignment map unchanged in size, got %d", len(next))
	}
}

func TestAllocate_ReallocatesWhenAssignmentOutOfRange(t *testing.T) {
	entries := []Entry{{Start: 20000, End: 20002}}
	assigned := map[string]uint32{"svc-a": 30000}

	_, port, ok := Allocate(entries, assigned, "svc-a")
	if !ok {
		t.Fatal("expected reallocation to succeed")
	}
	if port < 20000 || port > 20002 {
		t.Fatalf("expected a port within the configured range, got %d", port)
	}
}

func TestAllocate_ExhaustedRange(t *testing.T) {
	entries := []Entry{{Start: 20000, End: 20000}}
	assigned := map[string]uint32{"svc-a": 20000}

	_, _, ok := Allocate(entries, assigned, "svc-b")
	if ok {
		t.Fatal("expected allocation to fail when range is exhausted")
	}
}

func TestAllocate_DoesNotMutateInput(t *testing.T) {
	entries := []Entry{{Start: 20000, End: 20002}}
	assigned := map[string]uint32{"svc-a": 20000}

	_, _, _ = Allocate(entries, assigned, "svc-b")
	if len(assigned) != 1 {
		t.Fatalf("expected original map untouched, got %d entries", len(assigned))
	}
}

func TestRelease(t *testing.T) {
	assigned := map[string]uint32{"svc-a": 20000, "svc-b": 20001}
	next := Release(assigned, "svc-a")

	if _, ok := next["svc-a"]; ok {
		t.Error("expected svc-a to be released")
	}
	if len(assigned) != 2 {
		t.Fatal("expected original map untouched")
	}
}

func TestRelease_UnknownNameIsNoop(t *testing.T) {
	assigned := map[string]uint32{"svc-a": 20000}
	next := Release(assigned, "svc-z")
	if len(next) != 1 {
		t.Fatalf("expected unchanged map, got %d entries", len(next))
	}
}
