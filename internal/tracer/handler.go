package tracer

// Handler processes syscall stops for a single tracee. The entry/exit split
// mirrors the per-tracee in_syscall toggle: every syscall stop is either an
// entry or an exit, never both.
//
// Unlike a general-purpose ptrace handler, this tracer never alters a
// tracee's own syscall behaviour (it has no skip/modify hooks) — it is a
// pure observer that occasionally reacts to an exit by injecting syscalls
// of its own and publishing events through its own Sink.
type Handler interface {
	// OnEntry is called on a syscall-entry stop.
	OnEntry(ctx *SyscallContext, tracee *TraceeState)

	// OnExit is called on a syscall-exit stop. Any events it produces are
	// published by the handler itself; a non-nil error is fatal (except
	// errTraceeGone, which implementations should absorb internally).
	OnExit(ctx *SyscallContext, tracee *TraceeState) error
}

// NoopHandler observes nothing; useful in tests that only exercise the
// supervisor's dispatch logic.
type NoopHandler struct{}

func (NoopHandler) OnEntry(*SyscallContext, *TraceeState) {}

func (NoopHandler) OnExit(*SyscallContext, *TraceeState) error {
	return nil
}
