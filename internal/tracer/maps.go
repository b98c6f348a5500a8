package tracer

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/procfs"
)

// isAnonymousMapping reports whether a /proc/<pid>/maps entry's pathname
// indicates it has no backing file — an actual anonymous mapping (empty
// pathname) or a kernel pseudo-mapping with no real file behind it
// ([heap], [stack], [vdso], ...). Spec §4.6 treats both as "anonymous".
func isAnonymousMapping(pathname string) bool {
	return pathname == "" || strings.HasPrefix(pathname, "[")
}

// EnumerateInitialMaps reads the tracee's current virtual-memory map
// listing and emits one Map{NotResident} event per anonymous region,
// per spec §4.6. It runs once, immediately after a successful UFFD
// Handoff, while the tracee is still ptrace-stopped — which is what keeps
// the race the spec's source comments acknowledge benign in practice.
func EnumerateInitialMaps(ctx context.Context, pid int, id TraceeID, sink *Sink) error {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return fmt.Errorf("tracer: opening procfs: %w", err)
	}
	proc, err := fs.Proc(pid)
	if err != nil {
		return fmt.Errorf("tracer: opening /proc/%d: %w", pid, err)
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		return fmt.Errorf("tracer: reading /proc/%d/maps: %w", pid, err)
	}

	for _, m := range maps {
		if !isAnonymousMapping(m.Pathname) {
			continue
		}
		region := MappedRegion{Start: m.StartAddr, End: m.EndAddr, State: NotResident}
		if !region.Valid() {
			continue
		}
		if err := sink.Emit(ctx, NewMapEvent(id, region)); err != nil {
			return err
		}
	}
	return nil
}
