package tracer

import (
	"syscall"
	"testing"
)

func TestRegsArgsRoundTrip(t *testing.T) {
	var raw syscall.PtraceRegs
	r := NewRegs(raw)

	r.SetSyscall(999)
	if got := r.Syscall(); got != 999 {
		t.Fatalf("Syscall() = %d, want 999", got)
	}

	want := [6]uint64{1, 2, 3, 4, 5, 6}
	for i, v := range want {
		r.SetArg(i, v)
	}
	if got := r.Args(); got != want {
		t.Fatalf("Args() = %v, want %v", got, want)
	}
	for i, v := range want {
		if got := r.Arg(i); got != v {
			t.Fatalf("Arg(%d) = %d, want %d", i, got, v)
		}
	}

	r.SetReturn(-14)
	if got := r.Return(); got != -14 {
		t.Fatalf("Return() = %d, want -14", got)
	}

	r.SetIP(0xdeadbeef)
	if got := r.IP(); got != 0xdeadbeef {
		t.Fatalf("IP() = 0x%x, want 0xdeadbeef", got)
	}
}

func TestRegsCloneIsIndependent(t *testing.T) {
	var raw syscall.PtraceRegs
	r := NewRegs(raw)
	r.SetSyscall(1)

	c := r.Clone()
	c.SetSyscall(2)

	if r.Syscall() != 1 {
		t.Fatalf("mutating a clone must not affect the original, got %d", r.Syscall())
	}
	if c.Syscall() != 2 {
		t.Fatalf("clone mutation did not take, got %d", c.Syscall())
	}
}
