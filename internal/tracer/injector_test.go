package tracer

import (
	"errors"
	"testing"
)

func TestInjectorStagingIONeedsAllocation(t *testing.T) {
	in := NewInjector(1, Regs{})

	if err := in.WriteToStaging(0, []byte{1, 2, 3}); err == nil {
		t.Fatalf("WriteToStaging before AllocStaging must fail")
	}
	if err := in.ReadFromStaging(0, make([]byte, 3)); err == nil {
		t.Fatalf("ReadFromStaging before AllocStaging must fail")
	}
	if in.StagingAddr() != 0 {
		t.Fatalf("StagingAddr() = 0x%x, want 0 before AllocStaging", in.StagingAddr())
	}
}

func TestFreeStagingNoopWithoutAllocation(t *testing.T) {
	in := NewInjector(1, Regs{})
	if err := in.FreeStaging(); err != nil {
		t.Fatalf("FreeStaging with nothing allocated must be a no-op, got %v", err)
	}
}

func TestErrTraceeGoneIsDistinctSentinel(t *testing.T) {
	wrapped := errors.New("tracer: ptrace getregs after injection: " + errTraceeGone.Error())
	if errors.Is(wrapped, errTraceeGone) {
		t.Fatalf("a freshly-constructed error must not satisfy errors.Is by string match alone")
	}

	if !errors.Is(errTraceeGone, errTraceeGone) {
		t.Fatalf("errTraceeGone must satisfy errors.Is against itself")
	}
}
