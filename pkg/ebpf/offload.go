//go:build linux && ebpf
// +build linux,ebpf

package ebpf

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/rlimit"

	"github.com/SkynetNext/gateway-dataplane/internal/config"
	"github.com/SkynetNext/gateway-dataplane/internal/filter"
	"github.com/SkynetNext/gateway-dataplane/internal/redirect"
	"github.com/SkynetNext/gateway-dataplane/pkg/xlog"
)

// Map names shared with the kernel enforcement programs.
const (
	mapBlacklist = "ip_blacklist"
	mapRateLimit = "rate_limit_map"
	mapStats     = "stats_map"
	mapSockPairs = "sock_pair_map"
	mapSocks     = "sock_map"
)

// Offload mirrors dataplane state into kernel maps pinned on the bpffs.
// A disabled Offload is valid; all write methods become no-ops.
type Offload struct {
	enabled bool
	pinPath string

	blacklist *ebpf.Map
	rates     *ebpf.Map
	stats     *ebpf.Map
	sockPairs *ebpf.Map
	socks     *ebpf.Map
}

// NewOffload creates (or reopens) the pinned kernel maps. It degrades
// to a disabled mirror instead of failing when the platform does not
// cooperate, so the caller can always rely on the returned value.
func NewOffload(cfg *config.OffloadConfig) (*Offload, error) {
	if cfg == nil || !cfg.Enabled {
		return &Offload{}, nil
	}

	// Allow the current process to lock memory for eBPF resources.
	if err := rlimit.RemoveMemlock(); err != nil {
		xlog.Warnf("Failed to remove memlock limit: %v", err)
	}

	if !isEBPFSupported() {
		xlog.Warnf("eBPF not supported on this system, kernel mirror disabled")
		xlog.Warnf("To enable: run as root or with CAP_BPF, and raise RLIMIT_MEMLOCK")
		return &Offload{}, nil
	}

	if err := os.MkdirAll(cfg.PinPath, 0o755); err != nil {
		xlog.Warnf("Failed to create pin directory %s: %v", cfg.PinPath, err)
		return &Offload{}, nil
	}

	o := &Offload{enabled: true, pinPath: cfg.PinPath}
	opts := ebpf.MapOptions{PinPath: cfg.PinPath}
	for _, m := range []struct {
		dst  **ebpf.Map
		spec *ebpf.MapSpec
	}{
		{&o.blacklist, &ebpf.MapSpec{
			Name:       mapBlacklist,
			Type:       ebpf.Hash,
			KeySize:    4,
			ValueSize:  1,
			MaxEntries: filter.BlacklistCapacity,
			Pinning:    ebpf.PinByName,
		}},
		{&o.rates, &ebpf.MapSpec{
			Name:       mapRateLimit,
			Type:       ebpf.Hash,
			KeySize:    4,
			ValueSize:  8,
			MaxEntries: filter.RateTableCapacity,
			Pinning:    ebpf.PinByName,
		}},
		{&o.stats, &ebpf.MapSpec{
			Name:       mapStats,
			Type:       ebpf.Array,
			KeySize:    4,
			ValueSize:  8,
			MaxEntries: filter.StatSlots,
			Pinning:    ebpf.PinByName,
		}},
		{&o.sockPairs, &ebpf.MapSpec{
			Name:       mapSockPairs,
			Type:       ebpf.Hash,
			KeySize:    16,
			ValueSize:  16,
			MaxEntries: redirect.DefaultSocketCapacity,
			Pinning:    ebpf.PinByName,
		}},
		{&o.socks, &ebpf.MapSpec{
			Name:       mapSocks,
			Type:       ebpf.SockHash,
			KeySize:    16,
			ValueSize:  4,
			MaxEntries: redirect.DefaultSocketCapacity,
			Pinning:    ebpf.PinByName,
		}},
	} {
		created, err := ebpf.NewMapWithOptions(m.spec, opts)
		if err != nil {
			xlog.Warnf("Failed to create kernel map %s: %v", m.spec.Name, err)
			o.closeMaps()
			return &Offload{}, nil
		}
		*m.dst = created
	}

	if !isXDPSupported() {
		xlog.Warnf("XDP unavailable, the ingress filter cannot attach to %s; socket programs can still use the mirror", cfg.Iface)
	}

	xlog.Infof("Kernel mirror maps pinned under %s (attach enforcement programs to %s)", cfg.PinPath, cfg.Iface)
	return o, nil
}

// isEBPFSupported probes map creation, which exercises both kernel
// support and the privileges this process runs with.
func isEBPFSupported() bool {
	probe, err := ebpf.NewMap(&ebpf.MapSpec{
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  4,
		MaxEntries: 1,
	})
	if err != nil {
		return false
	}
	probe.Close()
	return true
}

// isXDPSupported loads a minimal XDP_PASS program.
func isXDPSupported() bool {
	probe, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Type: ebpf.XDP,
		Instructions: asm.Instructions{
			asm.LoadImm(asm.R0, 2, asm.DWord), // XDP_PASS
			asm.Return(),
		},
		License: "GPL",
	})
	if err != nil {
		return false
	}
	probe.Close()
	return true
}

// IsEnabled reports whether the kernel mirror is active.
func (o *Offload) IsEnabled() bool {
	return o.enabled
}

// BlacklistAdd mirrors a blocked source address.
func (o *Offload) BlacklistAdd(ip uint32) error {
	if !o.enabled {
		return nil
	}
	blocked := uint8(1)
	if err := o.blacklist.Update(&ip, &blocked, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("updating %s: %w", mapBlacklist, err)
	}
	return nil
}

// BlacklistRemove clears a mirrored source address.
func (o *Offload) BlacklistRemove(ip uint32) error {
	if !o.enabled {
		return nil
	}
	if err := o.blacklist.Delete(&ip); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return fmt.Errorf("deleting from %s: %w", mapBlacklist, err)
	}
	return nil
}

// ResetRateLimits clears the kernel-side per-source counters at the
// start of a new window.
func (o *Offload) ResetRateLimits() error {
	if !o.enabled {
		return nil
	}
	var (
		key uint32
		val uint64
	)
	iter := o.rates.Iterate()
	for iter.Next(&key, &val) {
		o.rates.Delete(&key)
	}
	return iter.Err()
}

// InstallPair mirrors a directed pairing in both directions.
func (o *Offload) InstallPair(a, b redirect.SockKey) error {
	if !o.enabled {
		return nil
	}
	ak, bk := a.Marshal(), b.Marshal()
	if err := o.sockPairs.Update(ak[:], bk[:], ebpf.UpdateAny); err != nil {
		return fmt.Errorf("pairing %s: %w", a, err)
	}
	if err := o.sockPairs.Update(bk[:], ak[:], ebpf.UpdateAny); err != nil {
		return fmt.Errorf("pairing %s: %w", b, err)
	}
	return nil
}

// RemovePair drops both directions of a mirrored pairing.
func (o *Offload) RemovePair(a, b redirect.SockKey) error {
	if !o.enabled {
		return nil
	}
	ak, bk := a.Marshal(), b.Marshal()
	o.sockPairs.Delete(ak[:])
	o.sockPairs.Delete(bk[:])
	return nil
}

// RegisterSocket inserts an established TCP socket into the kernel
// socket table under its connection key.
func (o *Offload) RegisterSocket(key redirect.SockKey, conn net.Conn) error {
	if !o.enabled {
		return nil
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return errors.New("not a TCP connection")
	}
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return fmt.Errorf("getting raw connection: %w", err)
	}

	kb := key.Marshal()
	var updErr error
	if err := raw.Control(func(fd uintptr) {
		sock := uint32(fd)
		updErr = o.socks.Update(kb[:], &sock, ebpf.UpdateNoExist)
	}); err != nil {
		return fmt.Errorf("controlling socket: %w", err)
	}
	if updErr != nil {
		return fmt.Errorf("updating %s: %w", mapSocks, updErr)
	}
	return nil
}

// UnregisterSocket removes a socket entry. Missing keys are fine; the
// kernel drops SOCKHASH entries on its own when sockets close.
func (o *Offload) UnregisterSocket(key redirect.SockKey) error {
	if !o.enabled {
		return nil
	}
	kb := key.Marshal()
	if err := o.socks.Delete(kb[:]); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return fmt.Errorf("deleting from %s: %w", mapSocks, err)
	}
	return nil
}

// KernelStats reads the pipeline counters maintained by the kernel
// programs. Slot positions follow the userspace stat indices.
func (o *Offload) KernelStats() ([]uint64, error) {
	if !o.enabled {
		return nil, ErrNotEnabled
	}
	out := make([]uint64, filter.StatSlots)
	for i := range out {
		idx := uint32(i)
		var v uint64
		if err := o.stats.Lookup(&idx, &v); err == nil {
			out[i] = v
		}
	}
	return out, nil
}

func (o *Offload) closeMaps() {
	for _, m := range []*ebpf.Map{o.blacklist, o.rates, o.stats, o.sockPairs, o.socks} {
		if m != nil {
			m.Close()
		}
	}
}

// Close releases the map handles. Pins stay on the bpffs so mirrored
// state survives restarts; NewOffload reopens them by name.
func (o *Offload) Close() error {
	if !o.enabled {
		return nil
	}
	o.enabled = false
	o.closeMaps()
	xlog.Infof("Kernel mirror closed")
	return nil
}
