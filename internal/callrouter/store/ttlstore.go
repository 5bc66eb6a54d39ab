// Package store provides a generic in-memory map with per-entry expiry.
// It backs the directory lookup cache and the recently ended sessions list.
package store

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// TTLStore is a concurrency-safe map whose entries expire. Expired entries
// are invisible immediately and are reclaimed by a background sweep.
type TTLStore[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]entry[V]
	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
}

// NewTTLStore creates a store that sweeps expired entries every interval.
func NewTTLStore[K comparable, V any](interval time.Duration) *TTLStore[K, V] {
	s := &TTLStore[K, V]{
		items:  make(map[K]entry[V]),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	go s.sweepLoop(interval)
	return s
}

// Set stores value under key for ttl.
func (s *TTLStore[K, V]) Set(key K, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = entry[V]{value: value, expiresAt: s.now().Add(ttl)}
}

// Get returns the live value for key.
func (s *TTLStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[key]
	if !ok || e.expired(s.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key.
func (s *TTLStore[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	return true
}

// Len returns the number of live entries.
func (s *TTLStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	n := 0
	for _, e := range s.items {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Values returns the live values in no particular order.
func (s *TTLStore[K, V]) Values() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]V, 0, len(s.items))
	for _, e := range s.items {
		if !e.expired(now) {
			out = append(out, e.value)
		}
	}
	return out
}

// Close stops the sweep and drops every entry.
func (s *TTLStore[K, V]) Close() {
	s.stopped.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[K]entry[V])
}

func (s *TTLStore[K, V]) sweepLoop(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *TTLStore[K, V]) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, e := range s.items {
		if e.expired(now) {
			delete(s.items, k)
			n++
		}
	}
	return n
}
