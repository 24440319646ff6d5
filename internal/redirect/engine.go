package redirect

// Action is the forwarding decision for traffic arriving on a key.
type Action uint8

const (
	// ActionPass hands the traffic to the regular path.
	ActionPass Action = iota
	// ActionRedirect short-circuits the traffic to the peer socket.
	ActionRedirect
)

func (a Action) String() string {
	switch a {
	case ActionPass:
		return "PASS"
	case ActionRedirect:
		return "REDIRECT"
	default:
		return "UNKNOWN"
	}
}

// Engine resolves forwarding actions against a Registry.
type Engine struct {
	reg *Registry
}

// NewEngine builds an Engine over reg.
func NewEngine(reg *Registry) *Engine { return &Engine{reg: reg} }

// Verdict decides where traffic keyed by key goes. An unpaired key
// passes. A pairing whose peer socket is no longer registered also
// passes: losing the fast path must never lose the traffic.
func (e *Engine) Verdict(key SockKey) (Action, *Socket) {
	peer, ok := e.reg.Pair(key)
	if !ok {
		return ActionPass, nil
	}
	sock, ok := e.reg.Lookup(peer)
	if !ok {
		return ActionPass, nil
	}
	return ActionRedirect, sock
}
