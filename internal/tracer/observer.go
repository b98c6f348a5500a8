package tracer

import (
	"context"
	"errors"
)

// Observer is the Syscall Observer from spec §4.2: it classifies each
// syscall-exit stop for memory effects and, once per tracee, hands off to
// the Remote Syscall Injector to install a userfaultfd.
type Observer struct {
	sink   *Sink
	cfg    HandoffConfig
	logger Logger
	ctx    context.Context
}

// NewObserver builds an Observer. ctx bounds every Sink.Emit call the
// observer makes (e.g. cancelled when the supervisor is shutting down).
func NewObserver(ctx context.Context, sink *Sink, cfg HandoffConfig, logger Logger) *Observer {
	return &Observer{sink: sink, cfg: cfg, logger: logger, ctx: ctx}
}

// OnEntry does nothing: this tracer never alters syscall entry behaviour.
func (o *Observer) OnEntry(ctx *SyscallContext, tracee *TraceeState) {}

// OnExit implements spec §4.2's two-part exit handling: classify the
// syscall that just returned for memory effects, then — independently —
// decide whether this stop is the one that installs the tracee's uffd.
func (o *Observer) OnExit(ctx *SyscallContext, tracee *TraceeState) error {
	nr := ctx.Syscall()
	args := ctx.Args()
	ret := ctx.Return()

	var event *TraceeEvent
	switch {
	case isExecveSyscall(nr):
		tracee.resetOnExecve()
		event = NewExecveEvent(tracee.ID)
	case isMmapSyscall(nr):
		if region, ok := classifyMmap(args, ret); ok {
			event = NewMapEvent(tracee.ID, region)
		}
	case isBrkSyscall(nr):
		if region, ok := classifyBrk(tracee, args[0], ret); ok {
			event = NewMapEvent(tracee.ID, region)
		}
	}

	if event != nil {
		if o.logger != nil {
			o.logger.LogEvent(event)
		}
		if err := o.sink.Emit(o.ctx, event); err != nil {
			return err
		}
	}

	if !tracee.UFFDInstalled && !isTooEarly(nr) {
		if err := o.installUFFD(ctx, tracee); err != nil {
			if errors.Is(err, errTraceeGone) {
				return nil
			}
			return err
		}
	}

	return nil
}

// installUFFD runs the handoff sequence and, on success, the initial map
// enumeration, per spec §4.5/§4.6.
func (o *Observer) installUFFD(ctx *SyscallContext, tracee *TraceeState) error {
	if tracee.injecting {
		return errors.New("tracer: injector re-entered for a tracee")
	}
	tracee.injecting = true
	defer func() { tracee.injecting = false }()

	if o.logger != nil {
		o.logger.LogInjectorStart(tracee.ID)
	}

	if err := RunHandoff(ctx.PID, ctx.Regs, o.cfg); err != nil {
		if o.logger != nil {
			o.logger.LogInjectorDone(tracee.ID, err)
		}
		return err
	}

	tracee.UFFDInstalled = true
	if o.logger != nil {
		o.logger.LogInjectorDone(tracee.ID, nil)
	}

	return EnumerateInitialMaps(o.ctx, ctx.PID, tracee.ID, o.sink)
}
