package tracer

import "golang.org/x/sys/unix"

// isExecveSyscall reports whether nr is execve or execveat.
func isExecveSyscall(nr uint64) bool {
	n := int64(nr)
	return n == unix.SYS_EXECVE || n == unix.SYS_EXECVEAT
}

// isMmapSyscall reports whether nr is mmap.
func isMmapSyscall(nr uint64) bool {
	return int64(nr) == unix.SYS_MMAP
}

// isBrkSyscall reports whether nr is brk.
func isBrkSyscall(nr uint64) bool {
	return int64(nr) == unix.SYS_BRK
}

// classifyMmap implements spec §4.2 step 2's mmap rule: a region is
// produced only for an anonymous, non-fixed-address mapping, with the
// kernel's returned base address as its start.
func classifyMmap(args [6]uint64, ret int64) (MappedRegion, bool) {
	addr := args[0]
	length := args[1]
	fd := int32(args[4])

	if fd != -1 || addr != 0 || ret < 0 {
		return MappedRegion{}, false
	}
	region := MappedRegion{Start: uintptr(ret), End: uintptr(ret) + uintptr(length), State: NotResident}
	return region, region.Valid()
}

// classifyBrk implements spec §4.2 step 2's brk rule. arg0 is brk's sole
// argument; ret is its return value (the resulting, possibly unchanged,
// program break). It mutates tracee.HeapTop and returns the growth region
// to emit, if any.
func classifyBrk(tracee *TraceeState, arg0 uint64, ret int64) (MappedRegion, bool) {
	newTop := uintptr(ret)

	if arg0 == 0 {
		// A query: remember the top of the heap, but only if this is the
		// first time we've seen it (spec: "brk(0) followed immediately by
		// brk(0) yields exactly one heap initialisation").
		if tracee.HeapTop == nil {
			tracee.HeapTop = &newTop
		}
		return MappedRegion{}, false
	}

	if tracee.HeapTop == nil {
		// A mutating brk before any query ever happened: nothing to diff
		// against yet, just record the new top.
		tracee.HeapTop = &newTop
		return MappedRegion{}, false
	}

	oldTop := *tracee.HeapTop
	*tracee.HeapTop = newTop

	if newTop <= oldTop {
		// Shrinkage (or a no-op). Silently absorbed here, per spec §9's
		// documented open question: the uffd consumer is expected to
		// notice the shrink asynchronously via EVENT_UNMAP. If it is
		// absent or slow, the shrink is lost from this stream.
		return MappedRegion{}, false
	}

	return MappedRegion{Start: oldTop, End: newTop, State: Resident}, true
}
