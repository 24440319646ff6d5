// Package core assembles the dataplane: shared filter tables, the
// rate-window manager, the socket registry, the TCP relay, the kernel
// mirror, and the metrics/admin plane, with K8s-friendly lifecycle.
package core

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SkynetNext/gateway-dataplane/internal/api"
	"github.com/SkynetNext/gateway-dataplane/internal/audit"
	"github.com/SkynetNext/gateway-dataplane/internal/config"
	"github.com/SkynetNext/gateway-dataplane/internal/discovery"
	"github.com/SkynetNext/gateway-dataplane/internal/filter"
	"github.com/SkynetNext/gateway-dataplane/internal/healthcheck"
	"github.com/SkynetNext/gateway-dataplane/internal/metrics"
	"github.com/SkynetNext/gateway-dataplane/internal/middleware"
	"github.com/SkynetNext/gateway-dataplane/internal/proxy"
	"github.com/SkynetNext/gateway-dataplane/internal/redirect"
	"github.com/SkynetNext/gateway-dataplane/pkg/ebpf"
	"github.com/SkynetNext/gateway-dataplane/pkg/xlog"
)

type Server struct {
	cfg      *config.Config
	tables   *filter.Tables
	filters  *filter.Manager
	registry *redirect.Registry
	prox     *proxy.Proxy
	offload  *ebpf.Offload
	auditor  *audit.Logger
	checker  *healthcheck.Checker
	watcher  *config.K8sConfigWatcher
	store    *config.RedisStore
	admin    *http.Server
}

func NewServer(cfg *config.Config, store *config.RedisStore) *Server {
	auditor := audit.NewLogger(&cfg.Security.Audit)

	offload, err := ebpf.NewOffload(&cfg.Filter.Offload)
	if err != nil {
		xlog.Warnf("Kernel mirror unavailable: %v", err)
		offload = nil
	}
	// A nil *Offload must not leak into interface fields: callers
	// check against the nil interface, not a typed nil.
	var filterOffload filter.Offload
	var proxyOffload proxy.Offload
	if offload != nil {
		filterOffload = offload
		proxyOffload = offload
	}

	tables := filter.NewTables()
	filters := filter.NewManager(tables, time.Duration(cfg.Filter.RateWindow), filterOffload, auditor)
	registry := redirect.NewRegistry(0)

	var resolver *discovery.Resolver
	if cfg.Backend.K8sService != "" {
		resolver = discovery.NewResolver()
	}

	s := &Server{
		cfg:      cfg,
		tables:   tables,
		filters:  filters,
		registry: registry,
		prox:     proxy.NewProxy(cfg, registry, filters, proxyOffload, resolver, auditor),
		offload:  offload,
		auditor:  auditor,
		checker:  healthcheck.NewChecker(cfg, store, resolver),
		store:    store,
	}
	if path, ok := config.FindConfigMapPath(); ok {
		s.watcher = config.NewK8sConfigWatcher(path, s.applyConfig)
	}
	return s
}

// Start brings up the full dataplane and begins accepting sessions.
// It returns once the relay listener is bound; the metrics server and
// background tickers run until GracefulShutdown.
func (s *Server) Start() error {
	metrics.WireTables(nil, s.tables, s.registry)

	for _, ip := range s.cfg.Filter.BootstrapBlacklist {
		if err := s.filters.AddBlacklist(ip, "bootstrap"); err != nil {
			xlog.Warnf("Skipping bootstrap blacklist entry %q: %v", ip, err)
		}
	}
	s.seedFromStore()

	s.filters.Start()
	s.checker.Start()
	if s.watcher != nil {
		s.watcher.Start()
	}

	if s.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", s.healthHandler)
		mux.HandleFunc("/ready", s.readyHandler) // K8s Readiness Probe

		// Register Admin API (Control Plane)
		var kernel api.Kernel
		if s.offload != nil {
			kernel = s.offload
		}
		adminAPI := api.NewAdminAPI(s.cfg, s.filters, s.registry, s.prox, kernel, s.store)
		adminAPI.RegisterRoutes(mux)

		s.admin = &http.Server{
			Addr:    s.cfg.Metrics.ListenAddr,
			Handler: middleware.Observe(mux),
		}
		go func() {
			xlog.Infof("Metrics server listening on %s", s.cfg.Metrics.ListenAddr)
			if err := s.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				xlog.Errorf("Metrics server error: %v", err)
			}
		}()
	}

	return s.prox.Start()
}

// seedFromStore hydrates filter state and runtime overrides from Redis
// and subscribes to live updates. All of it is optional: a missing or
// unreachable store leaves the local defaults in place.
func (s *Server) seedFromStore() {
	if s.store == nil {
		return
	}
	if st, err := s.store.LoadFilterState(); err != nil {
		xlog.Warnf("Failed to load filter state from Redis: %v", err)
	} else {
		s.filters.ApplySnapshot(st, "redis")
	}
	if rc, err := s.store.LoadRuntimeConfig(); err != nil {
		if !errors.Is(err, config.ErrRuntimeConfigNotFound) {
			xlog.Warnf("Failed to load runtime config from Redis: %v", err)
		}
	} else if rc != nil {
		s.applyRuntime(rc)
	}
	if ch := s.store.Updates(); ch != nil {
		go s.filters.ConsumeUpdates(ch)
	}
}

func (s *Server) applyRuntime(rc *config.RuntimeConfig) {
	if rc.Backend.TargetAddr != "" {
		s.cfg.Backend.TargetAddr = rc.Backend.TargetAddr
		xlog.Infof("Backend target overridden from Redis: %s", rc.Backend.TargetAddr)
	}
	if rc.AcceptRate.Enabled && rc.AcceptRate.ConnectionsPerSec > 0 {
		s.prox.UpdateAcceptRate(rc.AcceptRate.ConnectionsPerSec, rc.AcceptRate.Burst)
	}
}

// applyConfig applies the hot-reloadable subset of a ConfigMap change.
// Listener and backend addresses stay fixed for the process lifetime.
func (s *Server) applyConfig(cfg *config.Config) {
	ar := cfg.Security.AcceptRate
	if ar.Enabled && ar.ConnectionsPerSec > 0 {
		s.prox.UpdateAcceptRate(ar.ConnectionsPerSec, ar.Burst)
	} else {
		s.prox.DisableAcceptRate()
	}
}

// GracefulShutdown handles the shutdown process
func (s *Server) GracefulShutdown(drainWait time.Duration) {
	xlog.Infof("Entering Drain Mode...")

	// 1. Mark as Draining
	// This causes /ready to return 503, prompting K8s to remove this pod from endpoints
	s.prox.SetDraining(true)

	// 2. Wait for K8s endpoints propagation (usually 5-10s)
	xlog.Infof("Waiting for K8s to deregister endpoints...")
	time.Sleep(5 * time.Second)

	// 3. Stop the listener and wait for live sessions, severing any
	// that outlast the drain window.
	xlog.Infof("Waiting for active sessions to drain (Timeout: %v)...", drainWait)
	s.prox.Shutdown(drainWait)

	// 4. Stop background loops
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.checker.Stop()
	s.filters.Stop()

	// 5. Stop the metrics/admin server
	if s.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Lifecycle.ShutdownTimeout))
		if err := s.admin.Shutdown(ctx); err != nil {
			xlog.Warnf("Metrics server shutdown: %v", err)
		}
		cancel()
	}

	if s.offload != nil {
		if err := s.offload.Close(); err != nil {
			xlog.Warnf("Failed to close kernel mirror: %v", err)
		}
	}
	if err := s.store.Close(); err != nil {
		xlog.Warnf("Failed to close Redis store: %v", err)
	}
	if err := s.auditor.Close(); err != nil {
		xlog.Warnf("Failed to close audit logger: %v", err)
	}
	xlog.Infof("Shutdown complete.")
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// readyHandler for K8s Readiness Probe
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.prox.Draining() {
		// In drain mode, return 503 to signal K8s to stop sending traffic
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
