package redirect

import (
	"fmt"

	"github.com/SkynetNext/gateway-dataplane/internal/table"
	"github.com/SkynetNext/gateway-dataplane/pkg/xlog"
)

// DefaultSocketCapacity bounds the socket and pairing tables.
const DefaultSocketCapacity = 65535

// Registry tracks established sockets and the pairings between them.
// All methods are safe for concurrent use.
type Registry struct {
	socks *table.Map[SockKey, *Socket]
	pairs *table.Map[SockKey, SockKey]
}

// NewRegistry builds a Registry bounded to capacity sockets and
// directed pairings. capacity <= 0 selects DefaultSocketCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultSocketCapacity
	}
	return &Registry{
		socks: table.New[SockKey, *Socket](capacity, hashKey),
		pairs: table.New[SockKey, SockKey](capacity, hashKey),
	}
}

// HandleEvent dispatches one lifecycle notification. Establishment
// registers the socket without overwriting an earlier entry for the
// same key; close removes the socket and its outgoing pairing. Events
// for non-IPv4 endpoints and unknown kinds are ignored.
func (r *Registry) HandleEvent(ev Event) {
	switch ev.Kind {
	case KindEstablishedActive, KindEstablishedPassive:
		if ev.Key.Family != FamilyIPv4 || ev.Sock == nil {
			return
		}
		if err := r.socks.Update(ev.Key, ev.Sock, table.UpdateNoExist); err != nil {
			xlog.Debugf("Socket registration rejected for %s: %v", ev.Key, err)
		}
	case KindStateClosed:
		if ev.Key.Family != FamilyIPv4 {
			return
		}
		r.socks.Delete(ev.Key)
		r.pairs.Delete(ev.Key)
	default:
	}
}

// Lookup returns the socket registered under key.
func (r *Registry) Lookup(key SockKey) (*Socket, bool) {
	return r.socks.Lookup(key)
}

// Pair returns the peer key linked to key.
func (r *Registry) Pair(key SockKey) (SockKey, bool) {
	return r.pairs.Lookup(key)
}

// InstallPair links a and b in both directions, replacing any previous
// pairings of either key.
func (r *Registry) InstallPair(a, b SockKey) error {
	if err := r.pairs.Update(a, b, table.UpdateAny); err != nil {
		return fmt.Errorf("pair %s: %w", a, err)
	}
	if err := r.pairs.Update(b, a, table.UpdateAny); err != nil {
		return fmt.Errorf("pair %s: %w", b, err)
	}
	return nil
}

// RemovePair unlinks key from its peer in both directions. It reports
// whether a pairing existed.
func (r *Registry) RemovePair(key SockKey) bool {
	peer, ok := r.pairs.Lookup(key)
	if !ok {
		return false
	}
	r.pairs.Delete(key)
	r.pairs.Delete(peer)
	return true
}

// RangePairs visits every directed pairing.
func (r *Registry) RangePairs(fn func(key, peer SockKey) bool) {
	r.pairs.Range(fn)
}

// SocketCount returns the number of registered sockets.
func (r *Registry) SocketCount() int { return r.socks.Len() }

// PairCount returns the number of directed pairings.
func (r *Registry) PairCount() int { return r.pairs.Len() }
