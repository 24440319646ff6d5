package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/SkynetNext/gateway-dataplane/internal/config"
	"github.com/SkynetNext/gateway-dataplane/internal/filter"
	"github.com/SkynetNext/gateway-dataplane/internal/redirect"
	"github.com/SkynetNext/gateway-dataplane/pkg/xlog"
)

// Relay is the slice of the proxy the admin plane drives.
type Relay interface {
	UpdateAcceptRate(cps float64, burst int)
	DisableAcceptRate()
	ActiveSessions() int
	Draining() bool
}

// Kernel is the slice of the offload mirror the admin plane reads.
type Kernel interface {
	IsEnabled() bool
	KernelStats() ([]uint64, error)
}

// AdminAPI provides the control plane for dynamic dataplane state.
type AdminAPI struct {
	cfg     *config.Config
	filters *filter.Manager
	reg     *redirect.Registry
	relay   Relay
	kernel  Kernel
	store   *config.RedisStore
	mu      sync.RWMutex
}

// NewAdminAPI wires the admin surface. relay, kernel and store may be
// nil.
func NewAdminAPI(cfg *config.Config, filters *filter.Manager, reg *redirect.Registry, relay Relay, kernel Kernel, store *config.RedisStore) *AdminAPI {
	return &AdminAPI{
		cfg:     cfg,
		filters: filters,
		reg:     reg,
		relay:   relay,
		kernel:  kernel,
		store:   store,
	}
}

// RegisterRoutes registers admin API routes
func (a *AdminAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/config", a.handleConfig)
	mux.HandleFunc("/admin/stats", a.handleStats)
	mux.HandleFunc("/admin/blacklist", a.handleBlacklist)
	mux.HandleFunc("/admin/ratelimit/reset", a.handleRateReset)
	mux.HandleFunc("/admin/accept-rate", a.handleAcceptRate)
	mux.HandleFunc("/admin/pairs", a.handlePairs)
	mux.HandleFunc("/admin/health", a.handleHealth)
}

// GET /admin/config - Get current configuration
func (a *AdminAPI) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"server": map[string]any{
			"listen_addr":     a.cfg.Server.ListenAddr,
			"max_connections": a.cfg.Server.MaxConnections,
		},
		"backend": map[string]any{
			"target_addr": a.cfg.Backend.TargetAddr,
			"k8s_service": a.cfg.Backend.K8sService,
		},
		"filter": map[string]any{
			"rate_window": time.Duration(a.cfg.Filter.RateWindow).String(),
			"offload": map[string]any{
				"enabled":  a.cfg.Filter.Offload.Enabled,
				"pin_path": a.cfg.Filter.Offload.PinPath,
			},
		},
		"security": map[string]any{
			"accept_rate": map[string]any{
				"enabled":                a.cfg.Security.AcceptRate.Enabled,
				"connections_per_second": a.cfg.Security.AcceptRate.ConnectionsPerSec,
				"burst":                  a.cfg.Security.AcceptRate.Burst,
			},
			"audit": map[string]any{
				"enabled": a.cfg.Security.Audit.Enabled,
				"sink":    a.cfg.Security.Audit.Sink,
			},
		},
	})
}

// GET /admin/stats - Pipeline counters and table occupancy
func (a *AdminAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := struct {
		Filter    filter.Stats `json:"filter"`
		Blacklist int          `json:"blacklist_entries"`
		Sockets   int          `json:"sockets"`
		Pairs     int          `json:"pairs"`
		Sessions  int          `json:"sessions"`
		Draining  bool         `json:"draining"`
		Kernel    []uint64     `json:"kernel,omitempty"`
	}{}

	if a.filters != nil {
		resp.Filter = a.filters.Stats()
		resp.Blacklist = len(a.filters.BlacklistSnapshot())
	}
	if a.reg != nil {
		resp.Sockets = a.reg.SocketCount()
		resp.Pairs = a.reg.PairCount()
	}
	if a.relay != nil {
		resp.Sessions = a.relay.ActiveSessions()
		resp.Draining = a.relay.Draining()
	}
	if a.kernel != nil && a.kernel.IsEnabled() {
		if ks, err := a.kernel.KernelStats(); err == nil {
			resp.Kernel = ks
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GET  /admin/blacklist - List blocked sources
// POST /admin/blacklist - Add or remove blocked sources
func (a *AdminAPI) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"ips": a.filters.BlacklistSnapshot(),
		})

	case http.MethodPost:
		var req struct {
			Action string   `json:"action"` // "add" or "remove"
			IPs    []string `json:"ips"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		var apply func(ip, source string) error
		switch req.Action {
		case "add":
			apply = a.filters.AddBlacklist
		case "remove":
			apply = a.filters.RemoveBlacklist
		default:
			http.Error(w, "Invalid action, use 'add' or 'remove'", http.StatusBadRequest)
			return
		}

		for _, ip := range req.IPs {
			if err := apply(ip, "admin_api"); err != nil {
				http.Error(w, "Invalid address: "+ip, http.StatusBadRequest)
				return
			}
		}

		// Local state is updated; persistence is best effort.
		if err := a.store.PersistBlacklistUpdate(req.Action, req.IPs); err != nil && !errors.Is(err, config.ErrRedisNotEnabled) {
			xlog.Warnf("Blacklist change not persisted: %v", err)
		}

		xlog.Infof("Blacklist updated via admin API: action=%s, count=%d", req.Action, len(req.IPs))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /admin/ratelimit/reset - Clear the per-source packet counters
func (a *AdminAPI) handleRateReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n := a.filters.ResetRateLimits()
	xlog.Infof("Rate counters cleared via admin API: %d", n)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"cleared": n})
}

// POST /admin/accept-rate - Update connection-level backpressure
func (a *AdminAPI) handleAcceptRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Enabled *bool    `json:"enabled"`
		CPS     *float64 `json:"connections_per_second"`
		Burst   *int     `json:"burst"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	a.mu.Lock()
	if req.Enabled != nil {
		a.cfg.Security.AcceptRate.Enabled = *req.Enabled
	}
	if req.CPS != nil {
		a.cfg.Security.AcceptRate.ConnectionsPerSec = *req.CPS
	}
	if req.Burst != nil {
		a.cfg.Security.AcceptRate.Burst = *req.Burst
	}
	enabled := a.cfg.Security.AcceptRate.Enabled
	cps := a.cfg.Security.AcceptRate.ConnectionsPerSec
	burst := a.cfg.Security.AcceptRate.Burst
	a.mu.Unlock()

	if a.relay != nil {
		if enabled && cps > 0 {
			a.relay.UpdateAcceptRate(cps, burst)
		} else {
			a.relay.DisableAcceptRate()
		}
	}

	xlog.Infof("Accept rate updated via admin API: enabled=%v, cps=%.2f, burst=%d", enabled, cps, burst)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// wireKey is the admin wire form of a connection key.
type wireKey struct {
	SrcIP   string `json:"src_ip"`
	SrcPort uint16 `json:"src_port"`
	DstIP   string `json:"dst_ip"`
	DstPort uint16 `json:"dst_port"`
}

func (k wireKey) sockKey() (redirect.SockKey, error) {
	src, err := filter.ParseIPv4(k.SrcIP)
	if err != nil {
		return redirect.SockKey{}, err
	}
	dst, err := filter.ParseIPv4(k.DstIP)
	if err != nil {
		return redirect.SockKey{}, err
	}
	return redirect.SockKey{
		SrcIP:   src,
		DstIP:   dst,
		SrcPort: k.SrcPort,
		DstPort: k.DstPort,
		Family:  redirect.FamilyIPv4,
	}, nil
}

func toWireKey(k redirect.SockKey) wireKey {
	return wireKey{
		SrcIP:   filter.FormatIPv4(k.SrcIP),
		SrcPort: k.SrcPort,
		DstIP:   filter.FormatIPv4(k.DstIP),
		DstPort: k.DstPort,
	}
}

// GET  /admin/pairs - List installed pairings
// POST /admin/pairs - Install or remove a pairing by hand
func (a *AdminAPI) handlePairs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		type pairEntry struct {
			Key  wireKey `json:"key"`
			Peer wireKey `json:"peer"`
		}
		pairs := []pairEntry{}
		a.reg.RangePairs(func(key, peer redirect.SockKey) bool {
			pairs = append(pairs, pairEntry{Key: toWireKey(key), Peer: toWireKey(peer)})
			return true
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"pairs": pairs})

	case http.MethodPost:
		var req struct {
			Action string  `json:"action"` // "install" or "remove"
			A      wireKey `json:"a"`
			B      wireKey `json:"b"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		ka, err := req.A.sockKey()
		if err != nil {
			http.Error(w, "Invalid key a: "+err.Error(), http.StatusBadRequest)
			return
		}
		kb, err := req.B.sockKey()
		if err != nil {
			http.Error(w, "Invalid key b: "+err.Error(), http.StatusBadRequest)
			return
		}

		switch req.Action {
		case "install":
			if err := a.reg.InstallPair(ka, kb); err != nil {
				http.Error(w, "Failed to install pair: "+err.Error(), http.StatusConflict)
				return
			}
		case "remove":
			a.reg.RemovePair(ka)
			a.reg.RemovePair(kb)
		default:
			http.Error(w, "Invalid action, use 'install' or 'remove'", http.StatusBadRequest)
			return
		}

		xlog.Infof("Pair %s via admin API: %s <-> %s", req.Action, ka, kb)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /admin/health - Admin API health check
func (a *AdminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{"status": "ok"}
	if a.store != nil {
		resp["redis"] = a.store.CheckHealth() == nil
	}
	json.NewEncoder(w).Encode(resp)
}
