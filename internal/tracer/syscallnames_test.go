package tracer

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestIsTooEarly(t *testing.T) {
	early := []int64{unix.SYS_RSEQ, unix.SYS_SET_ROBUST_LIST, unix.SYS_RT_SIGPROCMASK, unix.SYS_EXECVE}
	for _, nr := range early {
		if !isTooEarly(uint64(nr)) {
			t.Errorf("isTooEarly(%d) = false, want true", nr)
		}
	}

	notEarly := []int64{unix.SYS_EXECVEAT, unix.SYS_MMAP, unix.SYS_BRK, unix.SYS_WRITE}
	for _, nr := range notEarly {
		if isTooEarly(uint64(nr)) {
			t.Errorf("isTooEarly(%d) = true, want false", nr)
		}
	}
}

func TestSyscallNameKnownAndFallback(t *testing.T) {
	if got := syscallName(uint64(unix.SYS_MMAP)); got != "mmap" {
		t.Errorf("syscallName(SYS_MMAP) = %q, want mmap", got)
	}
	if got := syscallName(999999); got != "sys_999999" {
		t.Errorf("syscallName(999999) = %q, want sys_999999", got)
	}
}
