// Package redirect implements socket pairing: established sockets
// register under a connection key, pairs of keys are linked, and
// traffic arriving for one key is redirected to its peer's socket.
package redirect

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/SkynetNext/gateway-dataplane/internal/packet"
)

// FamilyIPv4 is the address family tag of IPv4 keys (AF_INET).
const FamilyIPv4 uint16 = 2

// ErrNotTCP4 marks frames or connections that cannot yield a key
// because they are not IPv4 TCP.
var ErrNotTCP4 = errors.New("redirect: not an ipv4 tcp endpoint")

// SockKey identifies one direction of a TCP connection as seen from
// the local host: SrcIP/SrcPort name the remote peer, DstIP/DstPort
// the local endpoint. The layout mirrors the 16-byte wire form used by
// the kernel tables, including two trailing padding bytes.
type SockKey struct {
	SrcIP   uint32
	DstIP   uint32
	SrcPort uint16
	DstPort uint16
	Family  uint16
	_       uint16
}

func (k SockKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d",
		net.IPv4(byte(k.SrcIP>>24), byte(k.SrcIP>>16), byte(k.SrcIP>>8), byte(k.SrcIP)),
		k.SrcPort,
		net.IPv4(byte(k.DstIP>>24), byte(k.DstIP>>16), byte(k.DstIP>>8), byte(k.DstIP)),
		k.DstPort,
	)
}

// Marshal encodes the key in its fixed 16-byte wire layout, all fields
// big-endian, padding zeroed.
func (k SockKey) Marshal() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint32(b[0:4], k.SrcIP)
	binary.BigEndian.PutUint32(b[4:8], k.DstIP)
	binary.BigEndian.PutUint16(b[8:10], k.SrcPort)
	binary.BigEndian.PutUint16(b[10:12], k.DstPort)
	binary.BigEndian.PutUint16(b[12:14], k.Family)
	return b
}

// UnmarshalKey decodes a 16-byte wire key.
func UnmarshalKey(b [16]byte) SockKey {
	return SockKey{
		SrcIP:   binary.BigEndian.Uint32(b[0:4]),
		DstIP:   binary.BigEndian.Uint32(b[4:8]),
		SrcPort: binary.BigEndian.Uint16(b[8:10]),
		DstPort: binary.BigEndian.Uint16(b[10:12]),
		Family:  binary.BigEndian.Uint16(b[12:14]),
	}
}

func hashKey(k SockKey) uint32 {
	h := uint32(2166136261)
	for _, v := range [4]uint32{k.SrcIP, k.DstIP, uint32(k.SrcPort)<<16 | uint32(k.DstPort), uint32(k.Family)} {
		for i := 0; i < 32; i += 8 {
			h ^= (v >> i) & 0xff
			h *= 16777619
		}
	}
	return h
}

// KeyFromPacket derives the ingress key of an IPv4 TCP frame: the
// sender becomes the remote side of the key. The same connection seen
// as a frame and as the receiving socket yields the same key.
func KeyFromPacket(frame []byte) (SockKey, error) {
	v, err := packet.Parse(frame)
	if err != nil {
		return SockKey{}, err
	}
	if !v.IsIPv4() || v.Protocol != packet.ProtoTCP {
		return SockKey{}, ErrNotTCP4
	}
	h, err := v.TCP()
	if err != nil {
		return SockKey{}, err
	}
	return SockKey{
		SrcIP:   v.SrcIP,
		DstIP:   v.DstIP,
		SrcPort: h.SrcPort,
		DstPort: h.DstPort,
		Family:  FamilyIPv4,
	}, nil
}

// KeyFromConn derives the ingress key of an established TCP
// connection: the remote address becomes the key's source side.
func KeyFromConn(c net.Conn) (SockKey, error) {
	remote, ok := c.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return SockKey{}, ErrNotTCP4
	}
	local, ok := c.LocalAddr().(*net.TCPAddr)
	if !ok {
		return SockKey{}, ErrNotTCP4
	}
	rip, err := ipv4Of(remote.IP)
	if err != nil {
		return SockKey{}, err
	}
	lip, err := ipv4Of(local.IP)
	if err != nil {
		return SockKey{}, err
	}
	return SockKey{
		SrcIP:   rip,
		DstIP:   lip,
		SrcPort: uint16(remote.Port),
		DstPort: uint16(local.Port),
		Family:  FamilyIPv4,
	}, nil
}

func ipv4Of(ip net.IP) (uint32, error) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, ErrNotTCP4
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), nil
}
