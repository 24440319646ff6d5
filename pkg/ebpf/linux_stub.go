//go:build linux && !ebpf
// +build linux,!ebpf

package ebpf

import (
	"net"

	"github.com/SkynetNext/gateway-dataplane/internal/config"
	"github.com/SkynetNext/gateway-dataplane/internal/redirect"
	"github.com/SkynetNext/gateway-dataplane/pkg/xlog"
)

// Stub for Linux builds without -tags ebpf. The dataplane runs fully
// in userspace; the kernel mirror is never active.

// Offload is a disabled kernel mirror.
type Offload struct{}

// NewOffload returns a disabled mirror.
func NewOffload(cfg *config.OffloadConfig) (*Offload, error) {
	if cfg != nil && cfg.Enabled {
		xlog.Warnf("Kernel mirror requested but this binary was built without -tags ebpf, running userspace-only")
	}
	return &Offload{}, nil
}

// IsEnabled always reports false.
func (o *Offload) IsEnabled() bool {
	return false
}

func (o *Offload) BlacklistAdd(ip uint32) error {
	return nil
}

func (o *Offload) BlacklistRemove(ip uint32) error {
	return nil
}

func (o *Offload) ResetRateLimits() error {
	return nil
}

func (o *Offload) InstallPair(a, b redirect.SockKey) error {
	return nil
}

func (o *Offload) RemovePair(a, b redirect.SockKey) error {
	return nil
}

func (o *Offload) RegisterSocket(key redirect.SockKey, conn net.Conn) error {
	return nil
}

func (o *Offload) UnregisterSocket(key redirect.SockKey) error {
	return nil
}

// KernelStats has nothing to read without the mirror.
func (o *Offload) KernelStats() ([]uint64, error) {
	return nil, ErrNotEnabled
}

func (o *Offload) Close() error {
	return nil
}
