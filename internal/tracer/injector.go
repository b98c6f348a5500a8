package tracer

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// errTraceeGone marks an ESRCH from any ptrace operation: the tracee raced
// to exit. Per spec §4.4/§7 this is tolerated, never fatal.
var errTraceeGone = errors.New("tracer: tracee gone (ESRCH)")

// errLostSync marks a wait status that wasn't the syscall stop sys_step
// expects. Per spec §7 this is always fatal — it means the tracer's model
// of the tracee's state is no longer trustworthy.
var errLostSync = errors.New("tracer: lost syscall-stop synchronization")

// errMapFailed reports MAP_FAILED from the staging-area mmap specifically,
// per spec §4.4/§7 ("fatal; also specifically reported").
var errMapFailed = errors.New("tracer: injected mmap for staging area returned MAP_FAILED")

const stagingSize = 0x1000

// Injector executes arbitrary syscalls inside a stopped tracee by
// rewriting its registers and single-stepping syscall-enter/exit pairs,
// then restores the tracee to the register snapshot it was constructed
// with so it resumes its original, interrupted syscall.
//
// One Injector is used for exactly one handoff sequence; it is discarded
// afterwards.
type Injector struct {
	pid     int
	orig    Regs // snapshot captured at the triggering syscall-exit stop
	staging uint64
}

// NewInjector captures snapshot as the register state to restore once the
// injected sequence completes.
func NewInjector(pid int, snapshot Regs) *Injector {
	return &Injector{pid: pid, orig: snapshot}
}

// sysStep resumes the tracee in syscall-tracing mode and waits for exactly
// one syscall stop. invoke calls this twice per injected syscall, to
// consume its entry and its exit.
func (in *Injector) sysStep() error {
	if err := syscall.PtraceSyscall(in.pid, 0); err != nil {
		if err == syscall.ESRCH {
			return errTraceeGone
		}
		return fmt.Errorf("tracer: ptrace syscall-continue: %w", err)
	}

	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(in.pid, &ws, 0, nil); err != nil {
		if err == syscall.ESRCH {
			return errTraceeGone
		}
		return fmt.Errorf("tracer: wait4 during injection: %w", err)
	}

	if ws.Exited() || ws.Signaled() {
		return errTraceeGone
	}

	if !ws.Stopped() || ws.StopSignal() != syscall.SIGTRAP|0x80 {
		return fmt.Errorf("%w: got %v", errLostSync, ws)
	}
	return nil
}

// invoke patches a fresh copy of the original snapshot with nr and args,
// rewinds the instruction pointer by the architecture's syscall
// instruction length so continuing re-executes it, runs the two sys_steps
// needed to drive it to completion, and returns its return value. The
// tracee's live registers are left however that syscall's exit leaves
// them — callers must call Restore() once the whole sequence is done.
func (in *Injector) invoke(nr uint64, args [6]uint64) (int64, error) {
	regs := in.orig.Clone()
	regs.SetSyscall(nr)
	for i, a := range args {
		regs.SetArg(i, a)
	}
	regs.SetIP(regs.IP() - syscallInstrLen)

	if err := syscall.PtraceSetRegs(in.pid, regs.Raw()); err != nil {
		if err == syscall.ESRCH {
			return 0, errTraceeGone
		}
		return 0, fmt.Errorf("tracer: ptrace setregs before injection: %w", err)
	}

	if err := in.sysStep(); err != nil { // consume the injected entry
		return 0, err
	}
	if err := in.sysStep(); err != nil { // consume the injected exit
		return 0, err
	}

	var out syscall.PtraceRegs
	if err := syscall.PtraceGetRegs(in.pid, &out); err != nil {
		if err == syscall.ESRCH {
			return 0, errTraceeGone
		}
		return 0, fmt.Errorf("tracer: ptrace getregs after injection: %w", err)
	}
	result := NewRegs(out)
	return result.Return(), nil
}

// Restore writes the original snapshot back to the tracee, so that
// continuing resumes exactly the syscall the tracer interrupted to run
// this sequence.
func (in *Injector) Restore() error {
	if err := syscall.PtraceSetRegs(in.pid, in.orig.Raw()); err != nil {
		if err == syscall.ESRCH {
			return errTraceeGone
		}
		return fmt.Errorf("tracer: ptrace setregs restore: %w", err)
	}
	return nil
}

// AllocStaging injects an anonymous, private mmap to reserve a one-page
// scratch area inside the tracee, used to ferry structured arguments
// in and out of subsequent injected calls.
func (in *Injector) AllocStaging() error {
	args := [6]uint64{
		0,                                              // addr
		stagingSize,                                    // length
		uint64(unix.PROT_READ | unix.PROT_WRITE),       // prot
		uint64(unix.MAP_PRIVATE | unix.MAP_ANONYMOUS),  // flags
		uint64(int64(-1)),                              // fd
		0,                                              // offset
	}
	ret, err := in.invoke(unix.SYS_MMAP, args)
	if err != nil {
		return err
	}
	if ret < 0 && uint64(ret) == uint64(0xffffffffffffffff) { // MAP_FAILED == -1 cast to uintptr
		return errMapFailed
	}
	if ret < 0 {
		return fmt.Errorf("%w: mmap returned %d", errMapFailed, ret)
	}
	in.staging = uint64(ret)
	return nil
}

// FreeStaging injects the matching munmap. Called at the end of the
// handoff sequence regardless of how it ends, mirroring spec §4.5 step 8.
func (in *Injector) FreeStaging() error {
	if in.staging == 0 {
		return nil
	}
	args := [6]uint64{in.staging, stagingSize, 0, 0, 0, 0}
	ret, err := in.invoke(unix.SYS_MUNMAP, args)
	if err != nil {
		return err
	}
	if ret < 0 {
		return fmt.Errorf("tracer: munmap of staging area returned %d", ret)
	}
	in.staging = 0
	return nil
}

// WriteToStaging copies data into the staging page at the given offset.
// syscall.PtracePokeData already moves data a machine word at a time, so
// no manual word-splitting is needed here.
func (in *Injector) WriteToStaging(offset uint64, data []byte) error {
	if in.staging == 0 {
		return errors.New("tracer: staging area not allocated")
	}
	_, err := writeMemory(in.pid, in.staging+offset, data)
	if err != nil {
		if err == syscall.ESRCH {
			return errTraceeGone
		}
		return fmt.Errorf("tracer: write to staging: %w", err)
	}
	return nil
}

// ReadFromStaging copies len(buf) bytes out of the staging page at the
// given offset.
func (in *Injector) ReadFromStaging(offset uint64, buf []byte) error {
	if in.staging == 0 {
		return errors.New("tracer: staging area not allocated")
	}
	_, err := readMemory(in.pid, in.staging+offset, buf)
	if err != nil {
		if err == syscall.ESRCH {
			return errTraceeGone
		}
		return fmt.Errorf("tracer: read from staging: %w", err)
	}
	return nil
}

// Invoke runs an arbitrary injected syscall against the staging area's
// address space, for use by the UFFD Handoff sequence. A non-negative
// result is the syscall's return value; a negative one is a required
// call's failure and is fatal to the handoff (ESRCH excepted).
func (in *Injector) Invoke(nr uint64, args [6]uint64) (int64, error) {
	return in.invoke(nr, args)
}

// StagingAddr returns the tracee-relative address of the staging area.
// Zero until AllocStaging has succeeded.
func (in *Injector) StagingAddr() uint64 {
	return in.staging
}
