package tracer

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestClassifyMmapAnonymousNonFixed(t *testing.T) {
	args := [6]uint64{0, 0x2000, 0, 0, ^uint64(0), 0} // fd = -1
	region, ok := classifyMmap(args, 0x7f0000000000)
	if !ok {
		t.Fatalf("expected an anonymous mmap to classify")
	}
	if region.Start != 0x7f0000000000 || region.End != 0x7f0000002000 {
		t.Fatalf("unexpected region bounds: %+v", region)
	}
	if region.State != NotResident {
		t.Fatalf("freshly mapped anonymous memory must be NotResident, got %v", region.State)
	}
}

func TestClassifyMmapFixedAddressIgnored(t *testing.T) {
	args := [6]uint64{0x400000, 0x1000, 0, 0, ^uint64(0), 0}
	if _, ok := classifyMmap(args, 0x400000); ok {
		t.Fatalf("a fixed-address mapping must not classify as a fresh region")
	}
}

func TestClassifyMmapFileBackedIgnored(t *testing.T) {
	args := [6]uint64{0, 0x1000, 0, 0, 3, 0} // fd = 3, file-backed
	if _, ok := classifyMmap(args, 0x7f0000000000); ok {
		t.Fatalf("a file-backed mapping must not classify")
	}
}

func TestClassifyMmapErrorIgnored(t *testing.T) {
	args := [6]uint64{0, 0x1000, 0, 0, ^uint64(0), 0}
	if _, ok := classifyMmap(args, -12); ok {
		t.Fatalf("a failed mmap must not classify")
	}
}

func TestClassifyBrkFirstQueryRecordsTop(t *testing.T) {
	ts := &TraceeState{ID: 1}
	_, ok := classifyBrk(ts, 0, 0x600000)
	if ok {
		t.Fatalf("a query brk(0) must never itself produce a region")
	}
	if ts.HeapTop == nil || *ts.HeapTop != 0x600000 {
		t.Fatalf("first brk(0) must record the heap top, got %v", ts.HeapTop)
	}
}

func TestClassifyBrkGrowthProducesResidentRegion(t *testing.T) {
	ts := &TraceeState{ID: 1}
	classifyBrk(ts, 0, 0x600000) // establish the baseline

	region, ok := classifyBrk(ts, 0x604000, 0x604000)
	if !ok {
		t.Fatalf("expected growth to classify")
	}
	if region.Start != 0x600000 || region.End != 0x604000 {
		t.Fatalf("unexpected growth region: %+v", region)
	}
	if region.State != Resident {
		t.Fatalf("brk growth must mark the new range Resident, got %v", region.State)
	}
	if *ts.HeapTop != 0x604000 {
		t.Fatalf("HeapTop must advance to the new break, got 0x%x", *ts.HeapTop)
	}
}

func TestClassifyBrkShrinkIsSilentlyAbsorbed(t *testing.T) {
	ts := &TraceeState{ID: 1}
	classifyBrk(ts, 0, 0x600000)
	classifyBrk(ts, 0x604000, 0x604000)

	_, ok := classifyBrk(ts, 0x601000, 0x601000)
	if ok {
		t.Fatalf("a shrink must not produce a region")
	}
	if *ts.HeapTop != 0x601000 {
		t.Fatalf("HeapTop must still advance on a shrink, got 0x%x", *ts.HeapTop)
	}
}

func TestClassifyBrkMutatingBeforeQueryJustRecordsTop(t *testing.T) {
	ts := &TraceeState{ID: 1}
	_, ok := classifyBrk(ts, 0x600000, 0x600000)
	if ok {
		t.Fatalf("a mutating brk with no prior baseline has nothing to diff against")
	}
	if *ts.HeapTop != 0x600000 {
		t.Fatalf("expected HeapTop to be seeded, got %v", ts.HeapTop)
	}
}

func TestIsExecveSyscall(t *testing.T) {
	if !isExecveSyscall(uint64(unix.SYS_EXECVE)) {
		t.Fatalf("execve must classify as an execve syscall")
	}
	if isExecveSyscall(uint64(unix.SYS_MMAP)) {
		t.Fatalf("mmap must not classify as an execve syscall")
	}
}
