package tracer

import "testing"

func TestRegistryGetCreatesLazily(t *testing.T) {
	r := NewRegistry()
	if r.Len() != 0 {
		t.Fatalf("want empty registry, got len %d", r.Len())
	}

	ts := r.Get(42)
	if ts.ID != 42 {
		t.Fatalf("want ID 42, got %d", ts.ID)
	}
	if r.Len() != 1 {
		t.Fatalf("want len 1 after Get, got %d", r.Len())
	}

	ts2 := r.Get(42)
	if ts2 != ts {
		t.Fatalf("Get must return the same state on repeat calls")
	}
}

func TestRegistryLookupDoesNotCreate(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup(7); ok {
		t.Fatalf("Lookup must not find an unknown id")
	}
	if r.Len() != 0 {
		t.Fatalf("Lookup must not create state as a side effect")
	}
}

func TestRegistryDelete(t *testing.T) {
	r := NewRegistry()
	r.Get(1)
	r.Get(2)
	r.Delete(1)
	if r.Len() != 1 {
		t.Fatalf("want len 1 after deleting one of two, got %d", r.Len())
	}
	if _, ok := r.Lookup(1); ok {
		t.Fatalf("deleted id must not be found")
	}
}

func TestResetOnExecve(t *testing.T) {
	top := uintptr(0x1000)
	ts := &TraceeState{ID: 1, InSyscall: true, HeapTop: &top, UFFDInstalled: true}
	ts.resetOnExecve()

	if ts.HeapTop != nil {
		t.Fatalf("resetOnExecve must clear HeapTop")
	}
	if ts.UFFDInstalled {
		t.Fatalf("resetOnExecve must clear UFFDInstalled")
	}
	if ts.InSyscall {
		t.Fatalf("resetOnExecve must clear InSyscall")
	}
}
