package proxy

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkynetNext/gateway-dataplane/internal/config"
	"github.com/SkynetNext/gateway-dataplane/internal/filter"
	"github.com/SkynetNext/gateway-dataplane/internal/redirect"
)

// echoBackend accepts loopback connections and echoes bytes back.
func echoBackend(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln
}

func testConfig(backendAddr string) *config.Config {
	cfg := config.LoadConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.MaxConnections = 100
	cfg.Backend.TargetAddr = backendAddr
	cfg.Backend.Timeout = config.Duration(2 * time.Second)
	cfg.Security.AcceptRate.Enabled = false
	return cfg
}

func startProxy(t *testing.T, cfg *config.Config, reg *redirect.Registry, filters *filter.Manager) *Proxy {
	t.Helper()
	p := NewProxy(cfg, reg, filters, nil, nil, nil)
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)
	return p
}

func dialProxy(t *testing.T, p *Proxy) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", p.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeRead(t *testing.T, conn net.Conn, msg string) string {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	return string(buf)
}

// expectRefused asserts the proxy closed the session without serving.
func expectRefused(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestSessionRelayAndPairing(t *testing.T) {
	backend := echoBackend(t)
	reg := redirect.NewRegistry(0)
	p := startProxy(t, testConfig(backend.Addr().String()), reg, nil)

	conn := dialProxy(t, p)
	assert.Equal(t, "ping", writeRead(t, conn, "ping"))

	// Both sockets registered, both pairing directions installed.
	require.Eventually(t, func() bool {
		return reg.SocketCount() == 2 && reg.PairCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, p.ActiveSessions())

	conn.Close()

	// Close events strip the session out of the tables.
	require.Eventually(t, func() bool {
		return reg.SocketCount() == 0 && reg.PairCount() == 0 && p.ActiveSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrentSessions(t *testing.T) {
	backend := echoBackend(t)
	reg := redirect.NewRegistry(0)
	p := startProxy(t, testConfig(backend.Addr().String()), reg, nil)

	conns := make([]net.Conn, 3)
	for i := range conns {
		conns[i] = dialProxy(t, p)
	}
	for i, conn := range conns {
		msg := string(rune('a' + i))
		assert.Equal(t, msg, writeRead(t, conn, msg))
	}

	require.Eventually(t, func() bool {
		return reg.SocketCount() == 6 && reg.PairCount() == 6
	}, 2*time.Second, 10*time.Millisecond)

	for _, conn := range conns {
		conn.Close()
	}
	require.Eventually(t, func() bool {
		return p.ActiveSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAcceptRateLimit(t *testing.T) {
	backend := echoBackend(t)
	cfg := testConfig(backend.Addr().String())
	cfg.Security.AcceptRate.Enabled = true
	cfg.Security.AcceptRate.ConnectionsPerSec = 0
	cfg.Security.AcceptRate.Burst = 1
	p := startProxy(t, cfg, redirect.NewRegistry(0), nil)

	first := dialProxy(t, p)
	assert.Equal(t, "ok", writeRead(t, first, "ok"))

	// The burst token is spent; the next session is refused.
	second := dialProxy(t, p)
	expectRefused(t, second)

	p.UpdateAcceptRate(100, 10)
	third := dialProxy(t, p)
	assert.Equal(t, "ok", writeRead(t, third, "ok"))
}

func TestBlacklistedSourceRefused(t *testing.T) {
	backend := echoBackend(t)
	mgr := filter.NewManager(filter.NewTables(), 0, nil, nil)
	require.NoError(t, mgr.AddBlacklist("127.0.0.1", "test"))
	p := startProxy(t, testConfig(backend.Addr().String()), redirect.NewRegistry(0), mgr)

	conn := dialProxy(t, p)
	expectRefused(t, conn)

	require.NoError(t, mgr.RemoveBlacklist("127.0.0.1", "test"))
	conn = dialProxy(t, p)
	assert.Equal(t, "ok", writeRead(t, conn, "ok"))
}

func TestDrainingRefusesNewSessions(t *testing.T) {
	backend := echoBackend(t)
	p := startProxy(t, testConfig(backend.Addr().String()), redirect.NewRegistry(0), nil)

	held := dialProxy(t, p)
	assert.Equal(t, "ok", writeRead(t, held, "ok"))

	p.SetDraining(true)
	refused := dialProxy(t, p)
	expectRefused(t, refused)

	// Established sessions keep relaying through the drain.
	assert.Equal(t, "still here", writeRead(t, held, "still here"))

	p.SetDraining(false)
	again := dialProxy(t, p)
	assert.Equal(t, "ok", writeRead(t, again, "ok"))
}

func TestMaxConnectionsCap(t *testing.T) {
	backend := echoBackend(t)
	cfg := testConfig(backend.Addr().String())
	cfg.Server.MaxConnections = 1
	p := startProxy(t, cfg, redirect.NewRegistry(0), nil)

	held := dialProxy(t, p)
	assert.Equal(t, "ok", writeRead(t, held, "ok"))

	over := dialProxy(t, p)
	expectRefused(t, over)

	held.Close()
	require.Eventually(t, func() bool {
		return p.ActiveSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)

	next := dialProxy(t, p)
	assert.Equal(t, "ok", writeRead(t, next, "ok"))
}

func TestBackendDownClosesClient(t *testing.T) {
	// Grab an address that refuses connections.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := ln.Addr().String()
	ln.Close()

	p := startProxy(t, testConfig(deadAddr), redirect.NewRegistry(0), nil)

	conn := dialProxy(t, p)
	expectRefused(t, conn)
	assert.Equal(t, 0, p.ActiveSessions())
}

func TestPairTableFullStillRefusesCleanly(t *testing.T) {
	backend := echoBackend(t)
	reg := redirect.NewRegistry(1)
	p := startProxy(t, testConfig(backend.Addr().String()), reg, nil)

	conn := dialProxy(t, p)
	expectRefused(t, conn)

	require.Eventually(t, func() bool {
		return reg.SocketCount() == 0 && reg.PairCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnkeyedSessionStillRelays(t *testing.T) {
	backend := echoBackend(t)
	cfg := testConfig(backend.Addr().String())
	cfg.Server.ListenAddr = "[::1]:0"
	reg := redirect.NewRegistry(0)

	p := NewProxy(cfg, reg, nil, nil, nil, nil)
	if err := p.Start(); err != nil {
		t.Skipf("IPv6 loopback unavailable: %v", err)
	}
	t.Cleanup(p.Stop)

	conn, err := net.Dial("tcp", p.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// IPv6 peers cannot be keyed, so the session relays without
	// touching the pairing tables.
	assert.Equal(t, "ok", writeRead(t, conn, "ok"))
	assert.Equal(t, 0, reg.SocketCount())
	assert.Equal(t, 0, reg.PairCount())
}

func TestShutdownSeversLiveSessions(t *testing.T) {
	backend := echoBackend(t)
	cfg := testConfig(backend.Addr().String())
	reg := redirect.NewRegistry(0)
	p := NewProxy(cfg, reg, nil, nil, nil, nil)
	require.NoError(t, p.Start())

	conn := dialProxy(t, p)
	assert.Equal(t, "ok", writeRead(t, conn, "ok"))

	start := time.Now()
	p.Shutdown(50 * time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, p.ActiveSessions())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err := conn.Read(make([]byte, 1))
	assert.Error(t, err)
}
