package redirect

import "net"

// EventKind classifies a socket lifecycle notification.
type EventKind uint8

const (
	// KindNone is ignored by the registry.
	KindNone EventKind = iota
	// KindEstablishedActive fires when an outbound connection
	// completes its handshake.
	KindEstablishedActive
	// KindEstablishedPassive fires when an accepted connection
	// completes its handshake.
	KindEstablishedPassive
	// KindStateClosed fires when a connection reaches CLOSED.
	KindStateClosed
)

func (k EventKind) String() string {
	switch k {
	case KindEstablishedActive:
		return "established-active"
	case KindEstablishedPassive:
		return "established-passive"
	case KindStateClosed:
		return "state-closed"
	default:
		return "none"
	}
}

// Socket is one endpoint registered with the pairing engine.
type Socket struct {
	Key    SockKey
	Cookie Cookie
	Conn   net.Conn
}

// Event is one socket lifecycle notification. Sock is nil for
// KindStateClosed.
type Event struct {
	Kind EventKind
	Key  SockKey
	Sock *Socket
}
