// Package packet implements bounds-checked parsing of raw ethernet
// frames. Every field access is preceded by an explicit length check,
// so parsing never reads past the end of the frame; a frame that fails
// a check is reported as ErrMalformed rather than partially decoded.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed marks frames whose headers do not fit inside the frame
// bounds. Use errors.Is to test for it.
var ErrMalformed = errors.New("packet: malformed")

// Header sizes in bytes. IPv4 and TCP sizes are the fixed mandatory
// portions; options extend them.
const (
	EthHeaderLen     = 14
	IPv4MinHeaderLen = 20
	TCPMinHeaderLen  = 20
)

// EtherType identifies the layer-3 protocol of an ethernet frame.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeIPv6 EtherType = 0x86DD
)

func (e EtherType) String() string {
	switch e {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeIPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("0x%04x", uint16(e))
	}
}

// Protocol is the IPv4 protocol field.
type Protocol uint8

const (
	ProtoICMP Protocol = 1
	ProtoTCP  Protocol = 6
	ProtoUDP  Protocol = 17
)

func (p Protocol) String() string {
	switch p {
	case ProtoICMP:
		return "ICMP"
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// TCP flag bits.
const (
	FlagFIN = 0x01
	FlagSYN = 0x02
	FlagRST = 0x04
	FlagPSH = 0x08
	FlagACK = 0x10
	FlagURG = 0x20
)

// View is the decoded header summary of one frame. For IPv4 frames the
// addresses and protocol are populated; for anything else only
// EtherType is set. Addresses are host-order integers with the first
// octet in the high byte.
type View struct {
	EtherType EtherType
	SrcIP     uint32
	DstIP     uint32
	Protocol  Protocol

	l4off int
	frame []byte
}

// IsIPv4 reports whether the frame carried an IPv4 header.
func (v View) IsIPv4() bool { return v.EtherType == EtherTypeIPv4 }

// TCPHeader is the fixed portion of a TCP header.
type TCPHeader struct {
	SrcPort uint16
	DstPort uint16
	Flags   uint8
}

// SYN reports whether the SYN flag is set.
func (h TCPHeader) SYN() bool { return h.Flags&FlagSYN != 0 }

// ACK reports whether the ACK flag is set.
func (h TCPHeader) ACK() bool { return h.Flags&FlagACK != 0 }

// Parse decodes the ethernet and, when present, IPv4 headers of frame.
// Non-IPv4 frames are not an error: the returned View carries only the
// EtherType. The transport header is deliberately not validated here;
// callers reach it through View.TCP when they need it.
func Parse(frame []byte) (View, error) {
	if len(frame) < EthHeaderLen {
		return View{}, fmt.Errorf("%w: ethernet header truncated at %d bytes", ErrMalformed, len(frame))
	}
	v := View{
		EtherType: EtherType(binary.BigEndian.Uint16(frame[12:14])),
		frame:     frame,
	}
	if v.EtherType != EtherTypeIPv4 {
		return v, nil
	}
	if len(frame) < EthHeaderLen+IPv4MinHeaderLen {
		return View{}, fmt.Errorf("%w: ipv4 header truncated at %d bytes", ErrMalformed, len(frame))
	}
	ihl := int(frame[EthHeaderLen] & 0x0f)
	if ihl < 5 {
		return View{}, fmt.Errorf("%w: ipv4 header length %d words", ErrMalformed, ihl)
	}
	v.Protocol = Protocol(frame[EthHeaderLen+9])
	v.SrcIP = binary.BigEndian.Uint32(frame[EthHeaderLen+12 : EthHeaderLen+16])
	v.DstIP = binary.BigEndian.Uint32(frame[EthHeaderLen+16 : EthHeaderLen+20])
	v.l4off = EthHeaderLen + ihl*4
	return v, nil
}

// TCP decodes the fixed TCP header of an IPv4 frame. The offset comes
// from the IPv4 header length field, so it is re-checked against the
// frame bounds here.
func (v View) TCP() (TCPHeader, error) {
	if v.l4off == 0 {
		return TCPHeader{}, fmt.Errorf("%w: no transport header", ErrMalformed)
	}
	if v.l4off+TCPMinHeaderLen > len(v.frame) {
		return TCPHeader{}, fmt.Errorf("%w: tcp header truncated at %d bytes", ErrMalformed, len(v.frame))
	}
	return TCPHeader{
		SrcPort: binary.BigEndian.Uint16(v.frame[v.l4off : v.l4off+2]),
		DstPort: binary.BigEndian.Uint16(v.frame[v.l4off+2 : v.l4off+4]),
		Flags:   v.frame[v.l4off+13],
	}, nil
}
