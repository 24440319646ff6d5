package ebpf

import "errors"

var (
	// ErrNotEnabled is returned by reads that require an active kernel
	// mirror. Write-path methods stay silent no-ops instead so callers
	// do not need to special-case degraded mode.
	ErrNotEnabled = errors.New("ebpf: kernel mirror not enabled")

	// ErrNotSupported marks operations the current platform or build
	// cannot perform at all.
	ErrNotSupported = errors.New("ebpf: not supported on this platform")
)
