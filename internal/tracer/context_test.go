package tracer

import "testing"

func TestSyscallContextIsError(t *testing.T) {
	cases := []struct {
		ret  int64
		want bool
	}{
		{0, false},
		{4096, false},
		{-1, true},
		{-4095, true},
		{-4096, false},
	}
	for _, c := range cases {
		var r Regs
		r.SetReturn(c.ret)
		ctx := &SyscallContext{Regs: r}
		if got := ctx.IsError(); got != c.want {
			t.Errorf("IsError() for return %d = %v, want %v", c.ret, got, c.want)
		}
	}
}

func TestNoopHandlerIsInert(t *testing.T) {
	var h NoopHandler
	ts := &TraceeState{ID: 1}
	h.OnEntry(&SyscallContext{}, ts)
	if err := h.OnExit(&SyscallContext{}, ts); err != nil {
		t.Fatalf("NoopHandler.OnExit() = %v, want nil", err)
	}
}
