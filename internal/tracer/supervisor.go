package tracer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
)

// Config configures a Tracer.
type Config struct {
	// Handoff is passed through to every tracee's UFFD Handoff sequence.
	Handoff HandoffConfig
	// Logger receives published events and injector start/finish, if set
	// (initial-map events are not logged; see Logger). Optional.
	Logger Logger
	// SinkCapacity bounds the Map Event Synthesiser's channel. A consumer
	// slower than this will transparently pause tracees. Defaults to 16.
	SinkCapacity int
}

// Tracer is the Supervisor Loop from spec §4.1/§4.7: it launches and
// follows a root process and all its descendants, dispatching every
// ptrace stop and publishing the resulting event stream through its Sink.
type Tracer struct {
	registry *Registry
	sink     *Sink
	cfg      Config
}

// New builds a Tracer. Call Events() to obtain the read side of its event
// stream before calling TraceCmd/TraceCommand.
func New(cfg Config) *Tracer {
	capacity := cfg.SinkCapacity
	if capacity <= 0 {
		capacity = 16
	}
	return &Tracer{
		registry: NewRegistry(),
		sink:     NewSink(capacity),
		cfg:      cfg,
	}
}

// Events exposes the tracer's published event stream.
func (t *Tracer) Events() <-chan *TraceeEvent {
	return t.sink.Events()
}

// TraceCommand starts and traces name with args, connecting it to the
// controlling process's stdio.
func (t *Tracer) TraceCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return t.TraceCmd(ctx, cmd)
}

// TraceCmd starts a prepared command under ptrace and runs the
// supervisor loop until it exits, per spec §4.1: the root tracee is
// spawned with a pre-exec PTRACE_TRACEME hook, options are set for
// distinctive syscall stops and clone/fork/vfork auto-tracing, and it is
// resumed in syscall-tracing mode.
func (t *Tracer) TraceCmd(ctx context.Context, cmd *exec.Cmd) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer t.sink.Close()

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Ptrace = true

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("tracer: starting command: %w", err)
	}

	pid := cmd.Process.Pid
	rootID := TraceeID(pid)
	t.registry.Get(rootID)

	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(pid, &ws, 0, nil); err != nil {
		return fmt.Errorf("tracer: initial wait4: %w", err)
	}

	opts := syscall.PTRACE_O_TRACESYSGOOD |
		syscall.PTRACE_O_TRACECLONE |
		syscall.PTRACE_O_TRACEFORK |
		syscall.PTRACE_O_TRACEVFORK
	if err := syscall.PtraceSetOptions(pid, opts); err != nil {
		return fmt.Errorf("tracer: ptrace setoptions: %w", err)
	}
	if err := syscall.PtraceSyscall(pid, 0); err != nil {
		return fmt.Errorf("tracer: ptrace syscall: %w", err)
	}

	observer := NewObserver(ctx, t.sink, t.cfg.Handoff, t.cfg.Logger)
	return t.loop(ctx, observer)
}

// loop is the blocking wait/dispatch core of the Supervisor Loop.
func (t *Tracer) loop(ctx context.Context, observer Handler) error {
	for t.registry.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, 0, nil)
		if err != nil {
			if err == syscall.ECHILD {
				return nil
			}
			if err == syscall.EINTR {
				continue
			}
			return fmt.Errorf("tracer: wait4: %w", err)
		}
		id := TraceeID(pid)

		if ws.Exited() || ws.Signaled() {
			_, known := t.registry.Lookup(id)
			t.registry.Delete(id)
			if known {
				ev := NewExitEvent(id, ws.ExitStatus(), ws.Signaled())
				if t.cfg.Logger != nil {
					t.cfg.Logger.LogEvent(ev)
				}
				if err := t.sink.Emit(ctx, ev); err != nil {
					return err
				}
			}
			continue
		}

		if !ws.Stopped() {
			return fmt.Errorf("tracer: unrecognised wait status %v for pid %d", ws, pid)
		}

		sig := ws.StopSignal()

		switch {
		case sig == syscall.SIGTRAP|0x80:
			tracee := t.registry.Get(id)
			if err := t.handleSyscall(tracee, observer); err != nil {
				return err
			}
			if err := syscall.PtraceSyscall(pid, 0); err != nil && err != syscall.ESRCH {
				return fmt.Errorf("tracer: ptrace syscall-continue: %w", err)
			}

		case sig == syscall.SIGTRAP:
			if cause := ws.TrapCause(); cause == syscall.PTRACE_EVENT_CLONE ||
				cause == syscall.PTRACE_EVENT_FORK ||
				cause == syscall.PTRACE_EVENT_VFORK {
				if newPid, err := syscall.PtraceGetEventMsg(pid); err == nil {
					t.registry.Get(TraceeID(newPid))
				}
			}
			if err := syscall.PtraceSyscall(pid, 0); err != nil && err != syscall.ESRCH {
				return fmt.Errorf("tracer: ptrace syscall-continue: %w", err)
			}

		case sig == syscall.SIGSTOP:
			if err := syscall.PtraceSyscall(pid, 0); err != nil && err != syscall.ESRCH {
				return fmt.Errorf("tracer: ptrace syscall-continue: %w", err)
			}

		default:
			// Signal forwarding: deliver whatever this was to the tracee.
			if err := syscall.PtraceSyscall(pid, int(sig)); err != nil && err != syscall.ESRCH {
				return fmt.Errorf("tracer: ptrace syscall-continue with signal: %w", err)
			}
		}
	}
	return nil
}

// handleSyscall toggles the tracee's in_syscall flag and dispatches to the
// Syscall Observer, tolerating ESRCH per spec §4.2/§7.
func (t *Tracer) handleSyscall(tracee *TraceeState, observer Handler) error {
	var raw syscall.PtraceRegs
	if err := syscall.PtraceGetRegs(int(tracee.ID), &raw); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("tracer: ptrace getregs: %w", err)
	}

	sctx := &SyscallContext{PID: int(tracee.ID), Regs: NewRegs(raw)}

	if !tracee.InSyscall {
		tracee.InSyscall = true
		sctx.Entry = true
		observer.OnEntry(sctx, tracee)
		return nil
	}

	tracee.InSyscall = false
	sctx.Entry = false
	return observer.OnExit(sctx, tracee)
}
