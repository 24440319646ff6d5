// Package filter implements the ingress admission pipeline: bounds
// checking, source blacklisting, per-source rate limiting, and SYN
// flood self-defense. The pipeline state lives in explicit Tables so
// separate engines never share counters by accident.
package filter

import (
	"errors"
	"sync/atomic"

	"github.com/SkynetNext/gateway-dataplane/internal/packet"
	"github.com/SkynetNext/gateway-dataplane/internal/table"
)

// Thresholds applied per source address. Rate limiting counts every
// IPv4 packet inside one window; the SYN threshold rides on the same
// counter.
const (
	RateLimitThreshold = 1000
	SynFloodThreshold  = 100
)

// Capacities of the backing tables.
const (
	BlacklistCapacity = 10000
	RateTableCapacity = 65536
	StatSlots         = 10
)

func hashIPv4(ip uint32) uint32 {
	h := uint32(2166136261)
	for i := 0; i < 32; i += 8 {
		h ^= (ip >> i) & 0xff
		h *= 16777619
	}
	return h
}

// Tables is the backing state of one filter pipeline.
type Tables struct {
	Blacklist *table.Map[uint32, uint8]
	Rates     *table.Map[uint32, *atomic.Uint64]
	Stats     *table.Array
}

// NewTables builds the filter tables at their standard capacities.
func NewTables() *Tables {
	return NewTablesWithCapacity(BlacklistCapacity, RateTableCapacity)
}

// NewTablesWithCapacity builds filter tables with explicit bounds.
// Tests use small bounds to exercise full-table behavior.
func NewTablesWithCapacity(blacklistCap, rateCap int) *Tables {
	return &Tables{
		Blacklist: table.New[uint32, uint8](blacklistCap, hashIPv4),
		Rates:     table.New[uint32, *atomic.Uint64](rateCap, hashIPv4),
		Stats:     table.NewArray(StatSlots),
	}
}

// StatsSnapshot copies the pipeline counters.
func (t *Tables) StatsSnapshot() Stats {
	return Stats{
		TotalPackets:     t.Stats.Load(int(StatTotalPackets)),
		DroppedBlacklist: t.Stats.Load(int(StatDroppedBlacklist)),
		DroppedRateLimit: t.Stats.Load(int(StatDroppedRateLimit)),
		DroppedInvalid:   t.Stats.Load(int(StatDroppedInvalid)),
		Passed:           t.Stats.Load(int(StatPassed)),
		TCPSyn:           t.Stats.Load(int(StatTCPSyn)),
		TCPSynFlood:      t.Stats.Load(int(StatSynFlood)),
	}
}

// Engine decides the fate of raw ingress frames. It is safe for
// concurrent use; the hot path takes no locks beyond the table shards
// and performs no I/O.
type Engine struct {
	blacklist *table.Map[uint32, uint8]
	rates     *table.Map[uint32, *atomic.Uint64]
	stats     *table.Array
}

// NewEngine builds an Engine over t.
func NewEngine(t *Tables) *Engine {
	return &Engine{
		blacklist: t.Blacklist,
		rates:     t.Rates,
		stats:     t.Stats,
	}
}

// counter returns the live rate counter for src, creating it on first
// sight. A full table yields nil and the source goes unmetered.
func (e *Engine) counter(src uint32) *atomic.Uint64 {
	for {
		if cnt, ok := e.rates.Lookup(src); ok {
			return cnt
		}
		fresh := new(atomic.Uint64)
		err := e.rates.Update(src, fresh, table.UpdateNoExist)
		if err == nil {
			return fresh
		}
		if errors.Is(err, table.ErrTableFull) {
			return nil
		}
		// Lost an insert race; the winner's counter is now live.
	}
}

// Decide runs one frame through the pipeline and returns its verdict.
//
// Every frame bumps the total counter. Malformed frames drop with the
// invalid counter; non-IPv4 frames pass untouched. IPv4 frames then
// face the blacklist, the per-source rate limit, and, for pure SYN
// segments, the flood check that blacklists the source on the spot.
// Each dropped frame increments exactly one diagnostic counter.
func (e *Engine) Decide(frame []byte) Verdict {
	e.stats.Inc(int(StatTotalPackets))

	v, err := packet.Parse(frame)
	if err != nil {
		e.stats.Inc(int(StatDroppedInvalid))
		return VerdictDrop
	}
	if !v.IsIPv4() {
		return VerdictPass
	}

	if flag, ok := e.blacklist.Lookup(v.SrcIP); ok && flag == 1 {
		e.stats.Inc(int(StatDroppedBlacklist))
		return VerdictDrop
	}

	cnt := e.counter(v.SrcIP)
	if cnt != nil && cnt.Add(1) > RateLimitThreshold {
		e.stats.Inc(int(StatDroppedRateLimit))
		return VerdictDrop
	}

	if v.Protocol == packet.ProtoTCP {
		h, err := v.TCP()
		if err != nil {
			e.stats.Inc(int(StatDroppedInvalid))
			return VerdictDrop
		}
		if h.SYN() && !h.ACK() {
			e.stats.Inc(int(StatTCPSyn))
			if cnt != nil && cnt.Load() > SynFloodThreshold {
				e.stats.Inc(int(StatSynFlood))
				// Promotion failure is tolerated; the frame still drops.
				_ = e.blacklist.Update(v.SrcIP, 1, table.UpdateAny)
				return VerdictDrop
			}
		}
	}

	e.stats.Inc(int(StatPassed))
	return VerdictPass
}
