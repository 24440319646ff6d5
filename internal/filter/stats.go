package filter

import "fmt"

// Stat indexes one pipeline counter. The numeric values are fixed wire
// positions shared with the kernel mirror and must not be reordered.
type Stat uint32

const (
	StatTotalPackets Stat = iota
	StatDroppedBlacklist
	StatDroppedRateLimit
	StatDroppedInvalid
	StatPassed
	StatTCPSyn
	StatSynFlood
)

// AllStats lists every counter in wire order.
var AllStats = []Stat{
	StatTotalPackets,
	StatDroppedBlacklist,
	StatDroppedRateLimit,
	StatDroppedInvalid,
	StatPassed,
	StatTCPSyn,
	StatSynFlood,
}

func (s Stat) String() string {
	switch s {
	case StatTotalPackets:
		return "total_packets"
	case StatDroppedBlacklist:
		return "dropped_blacklist"
	case StatDroppedRateLimit:
		return "dropped_ratelimit"
	case StatDroppedInvalid:
		return "dropped_invalid"
	case StatPassed:
		return "passed"
	case StatTCPSyn:
		return "tcp_syn"
	case StatSynFlood:
		return "tcp_syn_flood"
	default:
		return fmt.Sprintf("stat(%d)", uint32(s))
	}
}

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	TotalPackets     uint64 `json:"total_packets"`
	DroppedBlacklist uint64 `json:"dropped_blacklist"`
	DroppedRateLimit uint64 `json:"dropped_ratelimit"`
	DroppedInvalid   uint64 `json:"dropped_invalid"`
	Passed           uint64 `json:"passed"`
	TCPSyn           uint64 `json:"tcp_syn"`
	TCPSynFlood      uint64 `json:"tcp_syn_flood"`
}
