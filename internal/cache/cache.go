// Package cache provides TTL-bounded memoization for source adapter calls.
// Two backends share one contract: an in-process map (patrickmn/go-cache)
// and a one-file-per-key on-disk store. Values cross the Backend boundary
// as serialized bytes so both backends store the same thing.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Backend is the uniform key/value/TTL contract. All operations are safe
// for concurrent use. Expired entries behave as absent on Get and are
// removed by Cleanup.
type Backend interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
	Clear()
	Cleanup() int
}

// Stats counts cache traffic for the memory backend.
type Stats struct {
	Hits    int64
	Misses  int64
	Swept   int64
	Entries int
}

// Memory is the in-process backend.
type Memory struct {
	store      *gocache.Cache
	defaultTTL time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
	swept      atomic.Int64
}

// NewMemory builds a memory backend with the given default TTL. The backend
// does not start its own janitor; pair it with a Sweeper for background
// expiry.
func NewMemory(defaultTTL time.Duration) *Memory {
	return &Memory{
		// Janitor interval 0 disables go-cache's internal sweeper; Cleanup
		// is driven externally so removals can be counted.
		store:      gocache.New(defaultTTL, 0),
		defaultTTL: defaultTTL,
	}
}

// Get returns the live value for key, or absent for unknown/expired keys.
func (m *Memory) Get(key string) ([]byte, bool) {
	v, ok := m.store.Get(key)
	if !ok {
		m.misses.Add(1)
		return nil, false
	}
	m.hits.Add(1)
	return v.([]byte), true
}

// Set stores value under key, replacing any previous entry. A zero ttl
// uses the backend default.
func (m *Memory) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.store.Set(key, value, ttl)
}

// Delete removes key if present.
func (m *Memory) Delete(key string) { m.store.Delete(key) }

// Clear drops all entries.
func (m *Memory) Clear() { m.store.Flush() }

// Cleanup removes expired entries and returns how many were removed.
func (m *Memory) Cleanup() int {
	before := m.store.ItemCount()
	m.store.DeleteExpired()
	removed := before - m.store.ItemCount()
	if removed > 0 {
		m.swept.Add(int64(removed))
	}
	return removed
}

// Stats returns a point-in-time view of the counters.
func (m *Memory) Stats() Stats {
	return Stats{
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Swept:   m.swept.Load(),
		Entries: m.store.ItemCount(),
	}
}

// Sweeper periodically runs Cleanup on a backend.
type Sweeper struct {
	backend  Backend
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewSweeper starts a background sweep loop. Call Stop to end it.
func NewSweeper(backend Backend, interval time.Duration) *Sweeper {
	s := &Sweeper{
		backend:  backend,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sweeper) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.backend.Cleanup()
		case <-s.stop:
			return
		}
	}
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}
