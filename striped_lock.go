package canarystore

import (
	"math/bits"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultStripes = 32

// StripedLocks guards object paths on backends without their own per-object
// atomicity. Writers of one path serialize; readers of one path share.
// Two paths that hash to the same stripe also serialize.
type StripedLocks struct {
	stripes []sync.RWMutex
	mask    uint64
}

// NewStripedLocks creates stripeCount stripes, rounded up to a power of two.
// A non-positive count uses the default of 32.
func NewStripedLocks(stripeCount int) *StripedLocks {
	if stripeCount <= 0 {
		stripeCount = defaultStripes
	}
	n := 1 << bits.Len(uint(stripeCount-1))
	return &StripedLocks{
		stripes: make([]sync.RWMutex, n),
		mask:    uint64(n - 1),
	}
}

func (sl *StripedLocks) stripe(path string) *sync.RWMutex {
	return &sl.stripes[xxhash.Sum64String(path)&sl.mask]
}

// Lock takes path exclusively and returns the release function
func (sl *StripedLocks) Lock(path string) func() {
	mu := sl.stripe(path)
	mu.Lock()
	return mu.Unlock
}

// RLock takes path shared and returns the release function
func (sl *StripedLocks) RLock(path string) func() {
	mu := sl.stripe(path)
	mu.RLock()
	return mu.RUnlock
}
