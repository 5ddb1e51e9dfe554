// Package keylock serializes work per key with a fixed set of striped mutexes.
package keylock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const DefaultStripes = 256

// Locker maps every key onto one of its stripes. Two keys can share a stripe,
// so callers must never hold more than one key at a time.
type Locker struct {
	stripes []sync.Mutex
}

func New(stripes int) *Locker {
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	return &Locker{stripes: make([]sync.Mutex, stripes)}
}

// Lock acquires the stripe for key and returns its release func.
func (l *Locker) Lock(key string) func() {
	m := &l.stripes[Slot(key, len(l.stripes))]
	m.Lock()
	return m.Unlock
}

// Slot returns the stable index of key among n buckets.
func Slot(key string, n int) int {
	return int(xxhash.Sum64String(key) % uint64(n))
}
