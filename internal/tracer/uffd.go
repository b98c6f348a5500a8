package tracer

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// DefaultSocketPath is the rendezvous path spec.md hard-codes. It is
// overridable via HandoffConfig, per the "recognised options" in spec §9.
const DefaultSocketPath = "/tmp/mevi.sock"

// HandoffConfig configures the one sequence RunHandoff drives.
type HandoffConfig struct {
	// SocketPath overrides DefaultSocketPath.
	SocketPath string
}

func (c HandoffConfig) socketPath() string {
	if c.SocketPath == "" {
		return DefaultSocketPath
	}
	return c.SocketPath
}

// Staging-area layout, per spec §4.5 step 7. Deliberately sparse so the
// four structures never overlap even though none of them is anywhere near
// a page in size.
const (
	offMsghdr  = 0x000
	offPayload = 0x100
	offIovec   = 0x200
	offCmsg    = 0x300
)

// uffd_msg/uffdio_api constants from linux/userfaultfd.h.
const (
	uffdAPI               = 0xAA
	uffdFeatureEventRemap  = 1 << 2
	uffdFeatureEventRemove = 1 << 3
	uffdFeatureEventUnmap  = 1 << 6

	// uffdioAPIIoctl is UFFDIO_API = _IOWR(0xAA, 0x3F, struct uffdio_api).
	uffdioAPIIoctl = 0xc018aa3f
)

// uffdioAPI mirrors struct uffdio_api { __u64 api; __u64 features; __u64
// ioctls; }; 24 bytes, no padding on a 64-bit ABI.
type uffdioAPI struct {
	api      uint64
	features uint64
	ioctls   uint64
}

func encodeUffdioAPI(a uffdioAPI) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], a.api)
	binary.LittleEndian.PutUint64(buf[8:16], a.features)
	binary.LittleEndian.PutUint64(buf[16:24], a.ioctls)
	return buf
}

func decodeUffdioAPI(buf []byte) uffdioAPI {
	return uffdioAPI{
		api:      binary.LittleEndian.Uint64(buf[0:8]),
		features: binary.LittleEndian.Uint64(buf[8:16]),
		ioctls:   binary.LittleEndian.Uint64(buf[16:24]),
	}
}

// encodeSockaddrUn builds a minimal struct sockaddr_un: a 2-byte
// sa_family_t followed immediately by the NUL-terminated path, with no
// padding to the full 108-byte sun_path — the kernel only looks at
// addrLen bytes. addrLen is offsetof(sun_path) + strlen(path) + 1, per
// spec §4.5 step 5.
func encodeSockaddrUn(path string) (buf []byte, addrLen int) {
	buf = make([]byte, 2+len(path)+1)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(unix.AF_UNIX))
	copy(buf[2:], path)
	// buf[len(buf)-1] is already the zero NUL terminator.
	return buf, len(buf)
}

// encodeIovec mirrors struct iovec { void *iov_base; size_t iov_len; }.
func encodeIovec(base uint64, length uint64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], base)
	binary.LittleEndian.PutUint64(buf[8:16], length)
	return buf
}

// encodeMsghdr mirrors struct msghdr (struct user_msghdr in the kernel
// UAPI), 56 bytes with two 4-byte padding gaps on a 64-bit ABI:
//
//	0   msg_name        uint64
//	8   msg_namelen     uint32 (+4 pad)
//	16  msg_iov         uint64
//	24  msg_iovlen      uint64
//	32  msg_control     uint64
//	40  msg_controllen  uint64
//	48  msg_flags       uint32 (+4 pad)
func encodeMsghdr(iov, control uint64, controllen uint32) []byte {
	buf := make([]byte, 56)
	binary.LittleEndian.PutUint64(buf[0:8], 0)     // msg_name
	binary.LittleEndian.PutUint32(buf[8:12], 0)    // msg_namelen
	binary.LittleEndian.PutUint64(buf[16:24], iov) // msg_iov
	binary.LittleEndian.PutUint64(buf[24:32], 1)   // msg_iovlen
	binary.LittleEndian.PutUint64(buf[32:40], control)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(controllen))
	binary.LittleEndian.PutUint32(buf[48:52], 0) // msg_flags
	return buf
}

// encodeRightsCmsg mirrors struct cmsghdr { size_t cmsg_len; int
// cmsg_level; int cmsg_type; } followed by one packed file descriptor,
// padded out to msg_controllen=24 bytes as spec §4.5 step 7 specifies.
func encodeRightsCmsg(fd int32) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], 20) // cmsg_len
	binary.LittleEndian.PutUint32(buf[8:12], uint32(unix.SOL_SOCKET))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(unix.SCM_RIGHTS))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(fd))
	return buf
}

// RunHandoff drives the deterministic nine-step sequence from spec §4.5
// inside the tracee identified by pid, using snapshot as the register
// state to restore once done. It is called once per tracee, and again after
// each execve, from the Syscall Observer, with the tracee stopped at a
// syscall-exit.
func RunHandoff(pid int, snapshot Regs, cfg HandoffConfig) error {
	in := NewInjector(pid, snapshot)

	err := runHandoffSteps(in, pid, cfg)

	// Step 8 (continued) / best-effort cleanup, and step 9: these run
	// regardless of where runHandoffSteps stopped, because a failed
	// handoff still leaves the tracee resumable only if its registers are
	// put back.
	if freeErr := in.FreeStaging(); freeErr != nil && err == nil {
		err = freeErr
	}
	if restoreErr := in.Restore(); restoreErr != nil && err == nil {
		err = restoreErr
	}
	return err
}

func runHandoffSteps(in *Injector, pid int, cfg HandoffConfig) error {
	// Step 1: staging page.
	if err := in.AllocStaging(); err != nil {
		return err
	}

	// Step 2: userfaultfd(0).
	rawUFFD, err := in.Invoke(unix.SYS_USERFAULTFD, [6]uint64{0, 0, 0, 0, 0, 0})
	if err != nil {
		return err
	}
	if rawUFFD < 0 {
		return fmt.Errorf("tracer: userfaultfd(2) failed: %d", rawUFFD)
	}

	// Step 3: UFFDIO_API.
	api := uffdioAPI{api: uffdAPI, features: uffdFeatureEventRemap | uffdFeatureEventRemove | uffdFeatureEventUnmap}
	if err := in.WriteToStaging(offMsghdr, encodeUffdioAPI(api)); err != nil {
		return err
	}
	ret, err := in.Invoke(unix.SYS_IOCTL, [6]uint64{uint64(rawUFFD), uffdioAPIIoctl, in.StagingAddr() + offMsghdr, 0, 0, 0})
	if err != nil {
		return err
	}
	if ret < 0 {
		return fmt.Errorf("tracer: UFFDIO_API ioctl failed: %d", ret)
	}
	apiBuf := make([]byte, 24)
	if err := in.ReadFromStaging(offMsghdr, apiBuf); err != nil {
		return err
	}
	_ = decodeUffdioAPI(apiBuf) // kernel-supported ioctl set; debug only

	// Step 4: socket(AF_UNIX, SOCK_STREAM|SOCK_CLOEXEC, 0).
	sockFD, err := in.Invoke(unix.SYS_SOCKET, [6]uint64{uint64(unix.AF_UNIX), uint64(unix.SOCK_STREAM | unix.SOCK_CLOEXEC), 0, 0, 0, 0})
	if err != nil {
		return err
	}
	if sockFD < 0 {
		return fmt.Errorf("tracer: socket(2) failed: %d", sockFD)
	}

	// Step 5: connect to the rendezvous path.
	addr, addrLen := encodeSockaddrUn(cfg.socketPath())
	if err := in.WriteToStaging(offMsghdr, addr); err != nil {
		return err
	}
	ret, err = in.Invoke(unix.SYS_CONNECT, [6]uint64{uint64(sockFD), in.StagingAddr() + offMsghdr, uint64(addrLen), 0, 0, 0})
	if err != nil {
		return err
	}
	if ret < 0 {
		return fmt.Errorf("tracer: connect(2) to %s failed: %d", cfg.socketPath(), ret)
	}

	// Step 6: write the tracee's pid, 8 bytes, identifying the fd to come.
	pidBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(pidBuf, uint64(pid))
	if err := in.WriteToStaging(offMsghdr, pidBuf); err != nil {
		return err
	}
	ret, err = in.Invoke(unix.SYS_WRITE, [6]uint64{uint64(sockFD), in.StagingAddr() + offMsghdr, 8, 0, 0, 0})
	if err != nil {
		return err
	}
	if ret != 8 {
		return fmt.Errorf("tracer: write of pid wrote %d bytes, want 8", ret)
	}

	// Step 7: sendmsg with SCM_RIGHTS carrying rawUFFD.
	if err := in.WriteToStaging(offPayload, make([]byte, 4)); err != nil {
		return err
	}
	if err := in.WriteToStaging(offIovec, encodeIovec(in.StagingAddr()+offPayload, 4)); err != nil {
		return err
	}
	if err := in.WriteToStaging(offCmsg, encodeRightsCmsg(int32(rawUFFD))); err != nil {
		return err
	}
	msg := encodeMsghdr(in.StagingAddr()+offIovec, in.StagingAddr()+offCmsg, 24)
	if err := in.WriteToStaging(offMsghdr, msg); err != nil {
		return err
	}
	ret, err = in.Invoke(unix.SYS_SENDMSG, [6]uint64{uint64(sockFD), in.StagingAddr() + offMsghdr, 0, 0, 0, 0})
	if err != nil {
		return err
	}
	if ret < 0 {
		return fmt.Errorf("tracer: sendmsg(2) failed: %d", ret)
	}

	// Step 8: close(sock_fd), close(raw_uffd). munmap of the staging area
	// itself is done by the caller after this function returns, since it
	// must run even if an earlier step failed.
	if ret, err = in.Invoke(unix.SYS_CLOSE, [6]uint64{uint64(sockFD), 0, 0, 0, 0, 0}); err != nil {
		return err
	} else if ret < 0 {
		return fmt.Errorf("tracer: close(sock_fd) failed: %d", ret)
	}
	if ret, err = in.Invoke(unix.SYS_CLOSE, [6]uint64{uint64(rawUFFD), 0, 0, 0, 0, 0}); err != nil {
		return err
	} else if ret < 0 {
		return fmt.Errorf("tracer: close(raw_uffd) failed: %d", ret)
	}

	return nil
}
