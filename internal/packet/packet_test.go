package packet

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkynetNext/gateway-dataplane/internal/packet/packettest"
)

func TestParseTCP(t *testing.T) {
	frame := packettest.TCP(t, "192.168.1.10", "10.0.0.5", 43210, 8080, true, false)

	v, err := Parse(frame)
	require.NoError(t, err)
	assert.True(t, v.IsIPv4())
	assert.Equal(t, EtherTypeIPv4, v.EtherType)
	assert.Equal(t, ProtoTCP, v.Protocol)
	assert.Equal(t, "TCP", v.Protocol.String())
	assert.Equal(t, uint32(0xC0A8010A), v.SrcIP)
	assert.Equal(t, uint32(0x0A000005), v.DstIP)

	h, err := v.TCP()
	require.NoError(t, err)
	assert.Equal(t, uint16(43210), h.SrcPort)
	assert.Equal(t, uint16(8080), h.DstPort)
	assert.True(t, h.SYN())
	assert.False(t, h.ACK())
}

func TestParseSynAckFlags(t *testing.T) {
	frame := packettest.TCP(t, "10.0.0.1", "10.0.0.2", 80, 55000, true, true)
	v, err := Parse(frame)
	require.NoError(t, err)
	h, err := v.TCP()
	require.NoError(t, err)
	assert.True(t, h.SYN())
	assert.True(t, h.ACK())
}

func TestParseNonIPv4(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  EtherType
	}{
		{"arp", packettest.ARP(t), EtherTypeARP},
		{"ipv6", packettest.IPv6TCP(t, "fd00::1", "fd00::2", 1234, 80), EtherTypeIPv6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse(tt.frame)
			require.NoError(t, err)
			assert.False(t, v.IsIPv4())
			assert.Equal(t, tt.want, v.EtherType)
			assert.Zero(t, v.SrcIP)
			assert.Zero(t, v.DstIP)
		})
	}
}

func TestParseTruncated(t *testing.T) {
	full := packettest.TCP(t, "10.0.0.1", "10.0.0.2", 1234, 80, false, false)

	badIHL := append([]byte(nil), full...)
	badIHL[EthHeaderLen] = 0x42 // version 4, header length 2 words

	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"partial ethernet", full[:13]},
		{"no ipv4 header", full[:EthHeaderLen]},
		{"partial ipv4 header", full[:EthHeaderLen+19]},
		{"ihl below minimum", badIHL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.frame)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestTCPTruncated(t *testing.T) {
	full := packettest.TCP(t, "10.0.0.1", "10.0.0.2", 1234, 80, true, false)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"no tcp header", full[:EthHeaderLen+IPv4MinHeaderLen]},
		{"partial tcp header", full[:EthHeaderLen+IPv4MinHeaderLen+10]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse(tt.frame)
			require.NoError(t, err, "ipv4 header is intact")
			_, err = v.TCP()
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestTCPOnNonIPv4(t *testing.T) {
	v, err := Parse(packettest.ARP(t))
	require.NoError(t, err)
	_, err = v.TCP()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseHonorsIHL(t *testing.T) {
	// Hand-built frame with one 4-byte IP option (ihl=6); the TCP
	// header starts at 14+24 instead of 14+20.
	frame := make([]byte, EthHeaderLen+24+TCPMinHeaderLen)
	binary.BigEndian.PutUint16(frame[12:], uint16(EtherTypeIPv4))
	frame[EthHeaderLen] = 0x46 // version 4, ihl 6
	frame[EthHeaderLen+9] = byte(ProtoTCP)
	binary.BigEndian.PutUint32(frame[EthHeaderLen+12:], 0x0A000001)
	binary.BigEndian.PutUint32(frame[EthHeaderLen+16:], 0x0A000002)
	l4 := EthHeaderLen + 24
	binary.BigEndian.PutUint16(frame[l4:], 4321)
	binary.BigEndian.PutUint16(frame[l4+2:], 80)
	frame[l4+13] = FlagSYN | FlagACK

	v, err := Parse(frame)
	require.NoError(t, err)
	h, err := v.TCP()
	require.NoError(t, err)
	assert.Equal(t, uint16(4321), h.SrcPort)
	assert.Equal(t, uint16(80), h.DstPort)
	assert.True(t, h.SYN())
	assert.True(t, h.ACK())

	// The same frame one byte short of the TCP header fails.
	v2, err := Parse(frame[:len(frame)-1])
	require.NoError(t, err)
	_, err = v2.TCP()
	assert.ErrorIs(t, err, ErrMalformed)
}
