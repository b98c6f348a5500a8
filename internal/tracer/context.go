package tracer

// SyscallContext describes a single syscall-stop: which tracee, whether
// this is the entry or the exit half, and the register snapshot captured
// at the stop. It is read-only from the observer's point of view — this
// tracer never alters a tracee's own syscalls, it only watches them and,
// once, injects unrelated ones of its own via the Injector.
type SyscallContext struct {
	PID   int
	Entry bool
	Regs  Regs
}

// Syscall returns the syscall number for this stop.
func (c *SyscallContext) Syscall() uint64 {
	return c.Regs.Syscall()
}

// Args returns the six argument registers for this stop.
func (c *SyscallContext) Args() [6]uint64 {
	return c.Regs.Args()
}

// Return returns the syscall's return value. Only meaningful at exit.
func (c *SyscallContext) Return() int64 {
	return c.Regs.Return()
}

// IsError reports whether Return() looks like a negated errno, per the
// Linux convention of packing -4095..-1 into the return register.
func (c *SyscallContext) IsError() bool {
	ret := c.Return()
	return ret < 0 && ret >= -4095
}

// ReadString reads a NUL-terminated string out of the tracee's memory.
func (c *SyscallContext) ReadString(addr uint64, maxLen int) (string, error) {
	return readString(c.PID, addr, maxLen)
}

// SyscallName returns a human-readable name for the current syscall, best
// effort, for logging.
func (c *SyscallContext) SyscallName() string {
	return syscallName(c.Syscall())
}
