package healthcheck

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/SkynetNext/gateway-dataplane/internal/config"
	"github.com/SkynetNext/gateway-dataplane/internal/discovery"
	"github.com/SkynetNext/gateway-dataplane/internal/metrics"
	"github.com/SkynetNext/gateway-dataplane/pkg/xlog"
)

// Checker periodically probes the relay backend and the config store.
type Checker struct {
	cfg        *config.Config
	store      *config.RedisStore
	resolver   *discovery.Resolver
	tcpTimeout time.Duration
	interval   time.Duration
	stopChan   chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	healthMap  map[string]bool // upstream -> healthy
}

// NewChecker creates a health checker. store and resolver may be nil.
func NewChecker(cfg *config.Config, store *config.RedisStore, resolver *discovery.Resolver) *Checker {
	return &Checker{
		cfg:        cfg,
		store:      store,
		resolver:   resolver,
		tcpTimeout: 5 * time.Second,
		interval:   30 * time.Second, // Check every 30 seconds
		stopChan:   make(chan struct{}),
		healthMap:  make(map[string]bool),
	}
}

// Start begins periodic health checking
func (c *Checker) Start() {
	c.wg.Add(1)
	go c.run()
	xlog.Infof("Upstream health checker started (interval: %v)", c.interval)
}

// Stop stops the health checker
func (c *Checker) Stop() {
	close(c.stopChan)
	c.wg.Wait()
	xlog.Infof("Upstream health checker stopped")
}

// IsHealthy returns the health status of an upstream
func (c *Checker) IsHealthy(upstream string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthMap[upstream]
}

// run performs periodic health checks
func (c *Checker) run() {
	defer c.wg.Done()

	// Initial check
	c.checkAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopChan:
			return
		}
	}
}

// backendTarget mirrors the proxy's target selection so the probe hits
// what sessions will hit.
func (c *Checker) backendTarget() string {
	if c.cfg.Backend.K8sService != "" && c.resolver != nil {
		addr, err := c.resolver.ResolveServiceWithPort(c.cfg.Backend.K8sService, c.cfg.Backend.K8sPort)
		if err == nil {
			return addr
		}
		xlog.Debugf("Health check: service resolution failed, probing static target: %v", err)
	}
	return c.cfg.Backend.TargetAddr
}

// checkAll checks the relay backend and the config store
func (c *Checker) checkAll() {
	if addr := c.backendTarget(); addr != "" {
		c.updateHealth(addr, c.checkTCP(addr))
	}

	if c.store != nil {
		healthy := c.store.CheckHealth() == nil
		c.updateHealth("redis", healthy)
	}
}

// checkTCP checks TCP backend health
func (c *Checker) checkTCP(addr string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.tcpTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		xlog.Debugf("Health check: TCP backend %s is unhealthy: %v", addr, err)
		return false
	}
	conn.Close()
	return true
}

// updateHealth updates the health status and metrics
func (c *Checker) updateHealth(upstream string, healthy bool) {
	c.mu.Lock()
	oldHealthy := c.healthMap[upstream]
	c.healthMap[upstream] = healthy
	c.mu.Unlock()

	// Update Prometheus metric
	metrics.SetUpstreamHealth(upstream, healthy)

	// Log status changes
	if oldHealthy != healthy {
		if healthy {
			xlog.Infof("Upstream %s is now healthy", upstream)
		} else {
			xlog.Warnf("Upstream %s is now unhealthy", upstream)
		}
	}
}
