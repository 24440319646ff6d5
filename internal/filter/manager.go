package filter

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"sync/atomic"
	"time"

	"github.com/SkynetNext/gateway-dataplane/internal/audit"
	"github.com/SkynetNext/gateway-dataplane/internal/config"
	"github.com/SkynetNext/gateway-dataplane/internal/table"
	"github.com/SkynetNext/gateway-dataplane/pkg/xlog"
)

// DefaultRateWindow is the cadence at which per-source rate counters
// reset when no explicit window is configured.
const DefaultRateWindow = time.Second

// Offload mirrors blacklist changes and rate-window resets into an
// auxiliary enforcement plane. Implementations tolerate being called
// while degraded.
type Offload interface {
	BlacklistAdd(ip uint32) error
	BlacklistRemove(ip uint32) error
	ResetRateLimits() error
}

// ParseIPv4 converts a dotted-quad address into the numeric table key,
// first octet in the high byte.
func ParseIPv4(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, fmt.Errorf("invalid IP address: %s", s)
	}
	ipv4 := ip.To4()
	if ipv4 == nil {
		return 0, fmt.Errorf("not an IPv4 address: %s", s)
	}
	return uint32(ipv4[0])<<24 | uint32(ipv4[1])<<16 | uint32(ipv4[2])<<8 | uint32(ipv4[3]), nil
}

// FormatIPv4 is the inverse of ParseIPv4.
func FormatIPv4(ip uint32) string {
	return net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip)).String()
}

// Manager is the control-plane side of a filter pipeline: blacklist
// administration, rate-window resets, and state loaded from the config
// store. The per-frame hot path stays in Engine.
type Manager struct {
	tables  *Tables
	window  time.Duration
	offload Offload
	auditor *audit.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager builds a Manager over t. offload and auditor may be nil.
func NewManager(t *Tables, window time.Duration, offload Offload, auditor *audit.Logger) *Manager {
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &Manager{
		tables:  t,
		window:  window,
		offload: offload,
		auditor: auditor,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the rate-window ticker.
func (m *Manager) Start() {
	go m.run()
}

// Stop halts the rate-window ticker and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.window)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if n := m.ResetRateLimits(); n > 0 {
				xlog.Debugf("Rate window reset: %d sources", n)
			}
		}
	}
}

func (m *Manager) addIP(ip uint32) error {
	if err := m.tables.Blacklist.Update(ip, 1, table.UpdateAny); err != nil {
		return err
	}
	if m.offload != nil {
		if err := m.offload.BlacklistAdd(ip); err != nil {
			xlog.Warnf("Failed to mirror blacklist add %s: %v", FormatIPv4(ip), err)
		}
	}
	return nil
}

// AddBlacklist blocks a source address immediately. Re-adding a
// blocked address is a no-op. source names the actor for the audit
// trail ("admin", "redis", "bootstrap").
func (m *Manager) AddBlacklist(src, source string) error {
	ip, err := ParseIPv4(src)
	if err != nil {
		return err
	}
	if err := m.addIP(ip); err != nil {
		return fmt.Errorf("blacklist %s: %w", src, err)
	}
	m.auditor.Log(audit.Entry{Action: "blacklist_add", Target: src, Source: source})
	xlog.Infof("Blacklisted %s (source=%s)", src, source)
	return nil
}

// RemoveBlacklist unblocks a source address. Removing an address that
// is not blocked is a no-op.
func (m *Manager) RemoveBlacklist(src, source string) error {
	ip, err := ParseIPv4(src)
	if err != nil {
		return err
	}
	removed := m.tables.Blacklist.Delete(ip)
	if m.offload != nil {
		if err := m.offload.BlacklistRemove(ip); err != nil {
			xlog.Warnf("Failed to mirror blacklist remove %s: %v", src, err)
		}
	}
	if removed {
		m.auditor.Log(audit.Entry{Action: "blacklist_remove", Target: src, Source: source})
		xlog.Infof("Unblacklisted %s (source=%s)", src, source)
	}
	return nil
}

// IsBlacklisted reports whether src is currently blocked. Unparseable
// addresses are not blocked.
func (m *Manager) IsBlacklisted(src string) bool {
	ip, err := ParseIPv4(src)
	if err != nil {
		return false
	}
	flag, ok := m.tables.Blacklist.Lookup(ip)
	return ok && flag == 1
}

// BlacklistSnapshot lists the blocked addresses in dotted-quad form.
func (m *Manager) BlacklistSnapshot() []string {
	out := make([]string, 0, m.tables.Blacklist.Len())
	m.tables.Blacklist.Range(func(ip uint32, flag uint8) bool {
		if flag == 1 {
			out = append(out, FormatIPv4(ip))
		}
		return true
	})
	sort.Strings(out)
	return out
}

// ResetRateLimits deletes every per-source rate counter, opening a
// fresh window. It returns the number of sources cleared.
func (m *Manager) ResetRateLimits() int {
	n := 0
	m.tables.Rates.Range(func(ip uint32, _ *atomic.Uint64) bool {
		if m.tables.Rates.Delete(ip) {
			n++
		}
		return true
	})
	if m.offload != nil {
		if err := m.offload.ResetRateLimits(); err != nil {
			xlog.Debugf("Failed to reset offload rate counters: %v", err)
		}
	}
	return n
}

// Stats copies the pipeline counters.
func (m *Manager) Stats() Stats {
	return m.tables.StatsSnapshot()
}

// ApplySnapshot loads a persisted blacklist, typically at startup.
func (m *Manager) ApplySnapshot(st *config.FilterState, source string) {
	if st == nil {
		return
	}
	n := 0
	for _, src := range st.BlacklistIPs {
		ip, err := ParseIPv4(src)
		if err != nil {
			xlog.Warnf("Skipping blacklist entry %q: %v", src, err)
			continue
		}
		if err := m.addIP(ip); err != nil {
			xlog.Warnf("Skipping blacklist entry %q: %v", src, err)
			continue
		}
		n++
	}
	m.auditor.Log(audit.Entry{
		Action: "blacklist_snapshot",
		Source: source,
		Detail: fmt.Sprintf("%d entries", n),
	})
	xlog.Infof("Blacklist snapshot applied: %d entries (source=%s)", n, source)
}

// ConsumeUpdates applies config store notifications until ch closes.
// Run it on its own goroutine.
func (m *Manager) ConsumeUpdates(ch <-chan config.ConfigUpdate) {
	if ch == nil {
		return
	}
	for update := range ch {
		switch update.Type {
		case "blacklist":
			var bu config.BlacklistUpdate
			if err := json.Unmarshal(update.Data, &bu); err != nil {
				xlog.Warnf("Malformed blacklist update: %v", err)
				continue
			}
			var apply func(string, string) error
			switch bu.Action {
			case "add":
				apply = m.AddBlacklist
			case "remove":
				apply = m.RemoveBlacklist
			default:
				xlog.Warnf("Unknown blacklist action %q", bu.Action)
				continue
			}
			for _, ip := range bu.IPs {
				if err := apply(ip, "redis"); err != nil {
					xlog.Warnf("Blacklist %s for %s failed: %v", bu.Action, ip, err)
				}
			}
		case "ratelimit_reset":
			n := m.ResetRateLimits()
			m.auditor.Log(audit.Entry{
				Action: "ratelimit_reset",
				Source: "redis",
				Detail: fmt.Sprintf("%d sources", n),
			})
			xlog.Infof("Rate counters reset via config update: %d sources", n)
		default:
			xlog.Debugf("Ignoring config update type %q", update.Type)
		}
	}
}
