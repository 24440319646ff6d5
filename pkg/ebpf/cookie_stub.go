//go:build !linux
// +build !linux

package ebpf

import "net"

// SocketCookie is unavailable off Linux; callers fall back to
// synthetic session identifiers.
func SocketCookie(conn net.Conn) (uint64, error) {
	return 0, ErrNotSupported
}
