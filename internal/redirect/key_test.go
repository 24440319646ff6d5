package redirect

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkynetNext/gateway-dataplane/internal/packet/packettest"
)

type fakeConn struct {
	net.Conn
	local  net.Addr
	remote net.Addr
}

func (c *fakeConn) LocalAddr() net.Addr  { return c.local }
func (c *fakeConn) RemoteAddr() net.Addr { return c.remote }

func tcpConn(remoteIP string, remotePort int, localIP string, localPort int) net.Conn {
	return &fakeConn{
		remote: &net.TCPAddr{IP: net.ParseIP(remoteIP), Port: remotePort},
		local:  &net.TCPAddr{IP: net.ParseIP(localIP), Port: localPort},
	}
}

func TestKeyFromPacketMatchesReceivingSocket(t *testing.T) {
	// A frame from 10.0.0.1:4000 to 10.0.0.2:80 and the socket that
	// receives it (remote 10.0.0.1:4000, local 10.0.0.2:80) must agree
	// on the key, or pairings installed from sockets would never match
	// traffic.
	frame := packettest.TCP(t, "10.0.0.1", "10.0.0.2", 4000, 80, false, true)
	fromPacket, err := KeyFromPacket(frame)
	require.NoError(t, err)

	fromConn, err := KeyFromConn(tcpConn("10.0.0.1", 4000, "10.0.0.2", 80))
	require.NoError(t, err)

	assert.Equal(t, fromConn, fromPacket)
	assert.Equal(t, FamilyIPv4, fromPacket.Family)
	assert.Equal(t, uint32(0x0A000001), fromPacket.SrcIP)
	assert.Equal(t, uint16(4000), fromPacket.SrcPort)
	assert.Equal(t, uint32(0x0A000002), fromPacket.DstIP)
	assert.Equal(t, uint16(80), fromPacket.DstPort)

	// The reverse direction keys the other endpoint.
	reply := packettest.TCP(t, "10.0.0.2", "10.0.0.1", 80, 4000, false, true)
	replyKey, err := KeyFromPacket(reply)
	require.NoError(t, err)
	clientKey, err := KeyFromConn(tcpConn("10.0.0.2", 80, "10.0.0.1", 4000))
	require.NoError(t, err)
	assert.Equal(t, clientKey, replyKey)
	assert.NotEqual(t, fromPacket, replyKey)
}

func TestKeyFromPacketRejectsNonTCP4(t *testing.T) {
	tcp := packettest.TCP(t, "10.0.0.1", "10.0.0.2", 4000, 80, true, false)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"arp", packettest.ARP(t)},
		{"ipv6", packettest.IPv6TCP(t, "fd00::1", "fd00::2", 4000, 80)},
		{"udp", packettest.UDP(t, "10.0.0.1", "10.0.0.2", 4000, 80)},
		{"truncated tcp", tcp[:40]},
		{"truncated ethernet", tcp[:8]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := KeyFromPacket(tt.frame)
			assert.Error(t, err)
		})
	}
}

func TestKeyFromConnRejectsNonTCP(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	_, err := KeyFromConn(a)
	assert.ErrorIs(t, err, ErrNotTCP4)

	_, err = KeyFromConn(tcpConn("fd00::1", 4000, "fd00::2", 80))
	assert.ErrorIs(t, err, ErrNotTCP4)
}

func TestKeyWireLayout(t *testing.T) {
	key := SockKey{
		SrcIP:   0xC0A80101,
		DstIP:   0x0A000002,
		SrcPort: 0x1234,
		DstPort: 0x0050,
		Family:  FamilyIPv4,
	}
	b := key.Marshal()

	assert.Equal(t, []byte{0xC0, 0xA8, 0x01, 0x01}, b[0:4])
	assert.Equal(t, []byte{0x0A, 0x00, 0x00, 0x02}, b[4:8])
	assert.Equal(t, []byte{0x12, 0x34}, b[8:10])
	assert.Equal(t, []byte{0x00, 0x50}, b[10:12])
	assert.Equal(t, []byte{0x00, 0x02}, b[12:14])
	assert.Equal(t, []byte{0x00, 0x00}, b[14:16])

	assert.Equal(t, key, UnmarshalKey(b))
}

func TestKeyString(t *testing.T) {
	key := SockKey{SrcIP: 0x0A000001, DstIP: 0x0A000002, SrcPort: 4000, DstPort: 80, Family: FamilyIPv4}
	assert.Equal(t, "10.0.0.1:4000->10.0.0.2:80", key.String())
}

func TestCookie(t *testing.T) {
	a := NewCookie(42)
	b := NewCookie(42)
	c := NewCookie(43)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsZero())
	assert.True(t, Cookie{}.IsZero())
	assert.Equal(t, "cookie(none)", Cookie{}.String())
	assert.Equal(t, "cookie(0x2a)", a.String())
}
