//go:build linux
// +build linux

package ebpf

import (
	"errors"
	"net"
	"syscall"
	"unsafe"
)

// SO_COOKIE socket option (Linux-specific, since 4.12).
const soCookie = 57

// SocketCookie returns the kernel-assigned cookie for a TCP socket.
// Cookies are unique per socket for the lifetime of the system and
// identify connections across the userspace/kernel boundary.
func SocketCookie(conn net.Conn) (uint64, error) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return 0, errors.New("not a TCP connection")
	}

	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return 0, err
	}

	var (
		cookie     uint64
		sockoptErr error
	)
	if err := rawConn.Control(func(fd uintptr) {
		var val uint64
		valLen := uint32(8)
		_, _, errno := syscall.Syscall6(
			syscall.SYS_GETSOCKOPT,
			fd,
			uintptr(syscall.SOL_SOCKET),
			uintptr(soCookie),
			uintptr(unsafe.Pointer(&val)),
			uintptr(unsafe.Pointer(&valLen)),
			0,
		)
		if errno != 0 {
			sockoptErr = errno
			return
		}
		cookie = val
	}); err != nil {
		return 0, err
	}
	if sockoptErr != nil {
		return 0, sockoptErr
	}
	return cookie, nil
}
