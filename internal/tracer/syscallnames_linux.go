//go:build linux

package tracer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// syscallName returns a human-readable name for nr, for logging only. The
// set covers every syscall this tracer's classification logic cares about;
// anything else falls back to a numeric placeholder.
func syscallName(nr uint64) string {
	switch int64(nr) {
	case unix.SYS_MMAP:
		return "mmap"
	case unix.SYS_MUNMAP:
		return "munmap"
	case unix.SYS_BRK:
		return "brk"
	case unix.SYS_EXECVE:
		return "execve"
	case unix.SYS_EXECVEAT:
		return "execveat"
	case unix.SYS_RSEQ:
		return "rseq"
	case unix.SYS_SET_ROBUST_LIST:
		return "set_robust_list"
	case unix.SYS_RT_SIGPROCMASK:
		return "rt_sigprocmask"
	case unix.SYS_USERFAULTFD:
		return "userfaultfd"
	case unix.SYS_IOCTL:
		return "ioctl"
	case unix.SYS_SOCKET:
		return "socket"
	case unix.SYS_CONNECT:
		return "connect"
	case unix.SYS_WRITE:
		return "write"
	case unix.SYS_SENDMSG:
		return "sendmsg"
	case unix.SYS_CLOSE:
		return "close"
	default:
		return fmt.Sprintf("sys_%d", nr)
	}
}

// tooEarlySyscalls is the allowlist from spec §4.2: syscalls a freshly
// exec'd program issues before it could plausibly tolerate the injector
// borrowing its stop, so installation is deferred past them.
var tooEarlySyscalls = map[int64]bool{
	unix.SYS_RSEQ:            true,
	unix.SYS_SET_ROBUST_LIST: true,
	unix.SYS_RT_SIGPROCMASK:  true,
	unix.SYS_EXECVE:          true,
}

// isTooEarly reports whether nr is on the too-early allowlist.
func isTooEarly(nr uint64) bool {
	return tooEarlySyscalls[int64(nr)]
}
