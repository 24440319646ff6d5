// Package proxy accepts ingress TCP sessions, pairs each client socket
// with a backend socket, and relays segments under the pairing
// engine's verdicts.
package proxy

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/SkynetNext/gateway-dataplane/internal/audit"
	"github.com/SkynetNext/gateway-dataplane/internal/config"
	"github.com/SkynetNext/gateway-dataplane/internal/discovery"
	"github.com/SkynetNext/gateway-dataplane/internal/filter"
	"github.com/SkynetNext/gateway-dataplane/internal/metrics"
	"github.com/SkynetNext/gateway-dataplane/internal/redirect"
	"github.com/SkynetNext/gateway-dataplane/pkg/ebpf"
	"github.com/SkynetNext/gateway-dataplane/pkg/xlog"
)

// Offload mirrors socket and pairing state into an auxiliary
// enforcement plane.
type Offload interface {
	IsEnabled() bool
	RegisterSocket(key redirect.SockKey, conn net.Conn) error
	UnregisterSocket(key redirect.SockKey) error
	InstallPair(a, b redirect.SockKey) error
	RemovePair(a, b redirect.SockKey) error
}

// Proxy owns the ingress listener and the per-session relay loops.
type Proxy struct {
	cfg      *config.Config
	reg      *redirect.Registry
	eng      *redirect.Engine
	filters  *filter.Manager
	offload  Offload
	resolver *discovery.Resolver
	auditor  *audit.Logger

	limMu   sync.RWMutex
	limiter *rate.Limiter

	listener net.Listener
	draining atomic.Bool
	sessions atomic.Int64
	wg       sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewProxy wires the relay against shared state. filters, offload,
// resolver and auditor may be nil.
func NewProxy(cfg *config.Config, reg *redirect.Registry, filters *filter.Manager, offload Offload, resolver *discovery.Resolver, auditor *audit.Logger) *Proxy {
	p := &Proxy{
		cfg:      cfg,
		reg:      reg,
		eng:      redirect.NewEngine(reg),
		filters:  filters,
		offload:  offload,
		resolver: resolver,
		auditor:  auditor,
		conns:    make(map[net.Conn]struct{}),
	}
	if cfg.Security.AcceptRate.Enabled {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.Security.AcceptRate.ConnectionsPerSec), cfg.Security.AcceptRate.Burst)
	}
	return p
}

// Start opens the listener and begins accepting sessions.
func (p *Proxy) Start() error {
	ln, err := net.Listen("tcp", p.cfg.Server.ListenAddr)
	if err != nil {
		return err
	}
	p.listener = ln
	xlog.Infof("Dataplane listening on %s", ln.Addr())

	p.wg.Add(1)
	go p.acceptLoop()
	return nil
}

// Addr returns the bound listener address.
func (p *Proxy) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// SetDraining flips the accept gate. Draining proxies refuse new
// sessions but keep relaying established ones.
func (p *Proxy) SetDraining(v bool) {
	p.draining.Store(v)
}

func (p *Proxy) Draining() bool {
	return p.draining.Load()
}

// ActiveSessions reports the number of sessions currently relayed.
func (p *Proxy) ActiveSessions() int {
	return int(p.sessions.Load())
}

// UpdateAcceptRate applies runtime accept-limit changes. The bucket
// starts full.
func (p *Proxy) UpdateAcceptRate(cps float64, burst int) {
	p.limMu.Lock()
	defer p.limMu.Unlock()
	p.limiter = rate.NewLimiter(rate.Limit(cps), burst)
	xlog.Infof("Accept rate updated: %.1f conn/s burst %d", cps, burst)
}

// DisableAcceptRate removes connection-level backpressure.
func (p *Proxy) DisableAcceptRate() {
	p.limMu.Lock()
	defer p.limMu.Unlock()
	p.limiter = nil
	xlog.Infof("Accept rate limiting disabled")
}

// Shutdown closes the listener, waits up to timeout for sessions to
// drain, then severs what remains.
func (p *Proxy) Shutdown(timeout time.Duration) {
	if p.listener != nil {
		p.listener.Close()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		n := p.closeAll()
		xlog.Warnf("Shutdown timeout, severed %d live connections", n)
		<-done
	}
}

// Stop severs everything immediately.
func (p *Proxy) Stop() {
	p.Shutdown(0)
}

func (p *Proxy) acceptLoop() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			xlog.Errorf("Accept error: %v", err)
			continue
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handleConn(conn)
		}()
	}
}

func (p *Proxy) handleConn(client net.Conn) {
	remote := remoteHost(client)

	if p.Draining() {
		p.reject(client, "draining", remote)
		return
	}
	if !p.allowConn() {
		p.reject(client, "rate_limit", remote)
		return
	}
	if p.filters != nil && p.filters.IsBlacklisted(remote) {
		p.reject(client, "blacklist", remote)
		return
	}
	if max := p.cfg.Server.MaxConnections; max > 0 && p.ActiveSessions() >= max {
		p.reject(client, "capacity", remote)
		return
	}

	backend, err := p.dialBackend()
	if err != nil {
		client.Close()
		return
	}

	start := time.Now()
	p.sessions.Add(1)
	metrics.IncActiveSessions()
	p.track(client, backend)
	defer func() {
		p.untrack(client, backend)
		client.Close()
		backend.Close()
		p.sessions.Add(-1)
		metrics.DecActiveSessions()
		metrics.RecordSessionDuration(time.Since(start).Seconds())
	}()

	ckey, cerr := redirect.KeyFromConn(client)
	bkey, berr := redirect.KeyFromConn(backend)
	if cerr != nil || berr != nil {
		// Sessions the tables cannot key still get service, just
		// without pairing.
		xlog.Debugf("Unkeyed session from %s: %v", remote, errors.Join(cerr, berr))
		p.relayUnpaired(client, backend)
		return
	}

	p.register(ckey, client, redirect.KindEstablishedPassive)
	p.register(bkey, backend, redirect.KindEstablishedActive)
	if err := p.reg.InstallPair(ckey, bkey); err != nil {
		xlog.Warnf("Pair install failed for %s: %v", ckey, err)
		metrics.RecordAcceptReject("capacity")
		p.audit("session_reject", ckey.String(), remote, "pair table full")
		p.teardown(ckey, bkey)
		return
	}
	p.mirrorOpen(ckey, bkey, client, backend)

	p.audit("session_open", ckey.String(), remote, "backend "+backend.RemoteAddr().String())
	xlog.Debugf("Session %s paired with %s", ckey, bkey)

	var relays sync.WaitGroup
	relays.Add(2)
	go func() {
		defer relays.Done()
		p.relay(client, backend, ckey, "ingress")
	}()
	go func() {
		defer relays.Done()
		p.relay(backend, client, bkey, "egress")
	}()
	relays.Wait()

	p.mirrorClose(ckey, bkey)
	p.teardown(ckey, bkey)
	p.audit("session_close", ckey.String(), remote, "")
}

// relay moves one direction of a session, consulting the pairing
// verdict per segment. Unpaired segments fall through to the session
// peer.
func (p *Proxy) relay(src, dst net.Conn, srcKey redirect.SockKey, direction string) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			out := dst
			if action, sock := p.eng.Verdict(srcKey); action == redirect.ActionRedirect && sock.Conn != nil {
				out = sock.Conn
				metrics.RecordRelayVerdict("redirect")
			} else {
				metrics.RecordRelayVerdict("pass")
			}
			if _, werr := p.writeSegment(out, dst, buf[:n]); werr != nil {
				xlog.Debugf("Relay write failed (%s): %v", direction, werr)
				src.Close()
				dst.Close()
				return
			}
			metrics.RecordRelayBytes(direction, int64(n))
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				xlog.Debugf("Relay read ended (%s): %v", direction, err)
			}
			halfClose(dst)
			return
		}
	}
}

// writeSegment writes to the verdict target, falling back to the
// session peer when a redirected socket fails mid-write.
func (p *Proxy) writeSegment(out, fallback net.Conn, b []byte) (int, error) {
	n, err := out.Write(b)
	if err != nil && out != fallback {
		return fallback.Write(b)
	}
	return n, err
}

// relayUnpaired is the plain bidirectional copy for sessions without
// pairing state.
func (p *Proxy) relayUnpaired(client, backend net.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		n, _ := io.Copy(backend, client)
		metrics.RecordRelayBytes("ingress", n)
		halfClose(backend)
	}()
	n, _ := io.Copy(client, backend)
	metrics.RecordRelayBytes("egress", n)
	halfClose(client)
	<-done
}

func (p *Proxy) register(key redirect.SockKey, conn net.Conn, kind redirect.EventKind) {
	p.reg.HandleEvent(redirect.Event{
		Kind: kind,
		Key:  key,
		Sock: &redirect.Socket{Key: key, Cookie: sessionCookie(conn), Conn: conn},
	})
}

func (p *Proxy) teardown(keys ...redirect.SockKey) {
	for _, k := range keys {
		p.reg.HandleEvent(redirect.Event{Kind: redirect.KindStateClosed, Key: k})
	}
}

func (p *Proxy) mirrorOpen(ckey, bkey redirect.SockKey, client, backend net.Conn) {
	if p.offload == nil || !p.offload.IsEnabled() {
		return
	}
	if err := p.offload.RegisterSocket(ckey, client); err != nil {
		xlog.Warnf("Socket mirror failed for %s: %v", ckey, err)
	}
	if err := p.offload.RegisterSocket(bkey, backend); err != nil {
		xlog.Warnf("Socket mirror failed for %s: %v", bkey, err)
	}
	if err := p.offload.InstallPair(ckey, bkey); err != nil {
		xlog.Warnf("Pair mirror failed for %s: %v", ckey, err)
	}
}

func (p *Proxy) mirrorClose(ckey, bkey redirect.SockKey) {
	if p.offload == nil || !p.offload.IsEnabled() {
		return
	}
	p.offload.RemovePair(ckey, bkey)
	p.offload.UnregisterSocket(ckey)
	p.offload.UnregisterSocket(bkey)
}

func (p *Proxy) allowConn() bool {
	p.limMu.RLock()
	defer p.limMu.RUnlock()
	if p.limiter == nil {
		return true
	}
	return p.limiter.Allow()
}

func (p *Proxy) reject(conn net.Conn, reason, remote string) {
	metrics.RecordAcceptReject(reason)
	p.audit("conn_reject", remote, remote, reason)
	xlog.Debugf("Rejected connection from %s (%s)", remote, reason)
	conn.Close()
}

func (p *Proxy) audit(action, target, source, detail string) {
	p.auditor.Log(audit.Entry{Action: action, Target: target, Source: source, Detail: detail})
}

// backendTarget resolves the dial address, preferring the K8s service
// when one is configured.
func (p *Proxy) backendTarget() string {
	if p.cfg.Backend.K8sService != "" && p.resolver != nil {
		addr, err := p.resolver.ResolveServiceWithPort(p.cfg.Backend.K8sService, p.cfg.Backend.K8sPort)
		if err == nil {
			return addr
		}
		xlog.Debugf("Service resolution failed, dialing static target: %v", err)
	}
	return p.cfg.Backend.TargetAddr
}

func (p *Proxy) dialBackend() (net.Conn, error) {
	target := p.backendTarget()
	start := time.Now()
	conn, err := net.DialTimeout("tcp", target, time.Duration(p.cfg.Backend.Timeout))
	if err != nil {
		metrics.RecordBackendDial("error", time.Since(start).Seconds())
		xlog.Errorf("Failed to dial backend %s: %v", target, err)
		return nil, err
	}
	metrics.RecordBackendDial("success", time.Since(start).Seconds())
	return conn, nil
}

func (p *Proxy) track(conns ...net.Conn) {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	for _, c := range conns {
		p.conns[c] = struct{}{}
	}
}

func (p *Proxy) untrack(conns ...net.Conn) {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	for _, c := range conns {
		delete(p.conns, c)
	}
}

func (p *Proxy) closeAll() int {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	for c := range p.conns {
		c.Close()
	}
	return len(p.conns)
}

func halfClose(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		tc.CloseWrite()
		return
	}
	c.Close()
}

func remoteHost(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

// syntheticCookie numbers sessions when the kernel cookie is
// unavailable. The high bit keeps synthetic ids out of the kernel's
// cookie space.
var syntheticCookie atomic.Uint64

func sessionCookie(conn net.Conn) redirect.Cookie {
	if ck, err := ebpf.SocketCookie(conn); err == nil && ck != 0 {
		return redirect.NewCookie(ck)
	}
	return redirect.NewCookie(1<<63 | syntheticCookie.Add(1))
}
