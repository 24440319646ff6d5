package table

import "sync/atomic"

// Array is a fixed-length array of counters addressed by index, with
// lock-free atomic updates. Out-of-range indices are ignored rather
// than panicking, matching the guarded-access style of the kernel
// arrays it mirrors.
type Array struct {
	slots []atomic.Uint64
}

// NewArray builds an Array with n zeroed slots.
func NewArray(n int) *Array {
	return &Array{slots: make([]atomic.Uint64, n)}
}

// Inc adds one to slot i. It reports false when i is out of range.
func (a *Array) Inc(i int) bool {
	return a.Add(i, 1)
}

// Add adds delta to slot i. It reports false when i is out of range.
func (a *Array) Add(i int, delta uint64) bool {
	if i < 0 || i >= len(a.slots) {
		return false
	}
	a.slots[i].Add(delta)
	return true
}

// Load returns the value of slot i, or zero when i is out of range.
func (a *Array) Load(i int) uint64 {
	if i < 0 || i >= len(a.slots) {
		return 0
	}
	return a.slots[i].Load()
}

// Len returns the number of slots.
func (a *Array) Len() int {
	return len(a.slots)
}

// Snapshot copies all slots into a new slice.
func (a *Array) Snapshot() []uint64 {
	out := make([]uint64, len(a.slots))
	for i := range a.slots {
		out[i] = a.slots[i].Load()
	}
	return out
}
