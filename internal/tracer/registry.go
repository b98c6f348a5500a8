// Package tracer attaches to a freshly spawned process via ptrace, follows
// it and its descendants through fork/clone/vfork, and synthesises a stream
// of virtual-memory events by classifying the syscalls it observes and by
// injecting extra syscalls into the tracee to hand a userfaultfd back to an
// external consumer over a Unix socket.
package tracer

// TraceeID is an opaque wrapper around a kernel process/thread id. It is
// comparable so it can key a map and be used as a channel/event payload.
type TraceeID int32

// TraceeState is the per-tracee bookkeeping the Syscall Observer needs. It
// is created lazily the first time a tracee's pid is observed, whether that
// is the root spawn or a PTRACE_EVENT_CLONE/FORK/VFORK child.
type TraceeState struct {
	ID TraceeID

	// InSyscall is false when the next syscall stop for this tracee is an
	// entry, true when it is an exit. It toggles on every syscall stop.
	InSyscall bool

	// HeapTop is the last observed program-break end, learned from the
	// tracee's first brk(0) query, or from a mutating brk if no query came
	// first. Nil until the first brk.
	HeapTop *uintptr

	// UFFDInstalled is true once the UFFD Handoff sequence has completed
	// for this tracee. It is cleared again on execve.
	UFFDInstalled bool

	// injecting guards against the injector running more than once
	// concurrently for a tracee; the observer never re-enters it, but the
	// flag makes the invariant explicit and checkable.
	injecting bool
}

// Registry tracks all currently-known tracees. A tracee is removed the
// moment the supervisor observes its Exited or Signaled wait status.
type Registry struct {
	tracees map[TraceeID]*TraceeState
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tracees: make(map[TraceeID]*TraceeState)}
}

// Get returns the state for id, creating it lazily if this is the first
// time id has been observed.
func (r *Registry) Get(id TraceeID) *TraceeState {
	ts, ok := r.tracees[id]
	if !ok {
		ts = &TraceeState{ID: id}
		r.tracees[id] = ts
	}
	return ts
}

// Lookup returns the state for id without creating it.
func (r *Registry) Lookup(id TraceeID) (*TraceeState, bool) {
	ts, ok := r.tracees[id]
	return ts, ok
}

// Delete removes a tracee's state, e.g. once it has exited.
func (r *Registry) Delete(id TraceeID) {
	delete(r.tracees, id)
}

// Len reports how many tracees are currently tracked.
func (r *Registry) Len() int {
	return len(r.tracees)
}

// resetOnExecve clears the heap and UFFD bookkeeping that execve
// invalidates, per the state-machine transition in spec §4.7: Installed
// demotes back to Running(in_syscall=false) with heap_top=None and
// uffd_installed=false.
func (ts *TraceeState) resetOnExecve() {
	ts.HeapTop = nil
	ts.UFFDInstalled = false
	ts.InSyscall = false
}
