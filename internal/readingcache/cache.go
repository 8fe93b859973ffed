package readingcache

import (
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/pestguard/telemetry-core/internal/reading"
)

const (
	// DefaultMaxEntries caps the store across all devices, not per device.
	DefaultMaxEntries      = 200
	DefaultTTL             = 60 * time.Second
	DefaultCleanupInterval = 30 * time.Second
)

// Cache is a bounded in-memory store of the most recent reading per
// device, serving low-latency "latest value" reads without touching
// storage. It is a read-through optimization only and never the system of
// record: callers must fall back to storage on a miss.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*entry
	maxEntries  int
	ttl         time.Duration
	cleanupEach time.Duration
	lastCleanup time.Time
	clk         clock.Clock
}

type entry struct {
	reading   *reading.Reading
	storedAt  time.Time
	expiresAt time.Time
}

// New creates a cache. Non-positive limits fall back to the defaults.
func New(maxEntries int, ttl, cleanupInterval time.Duration, clk clock.Clock) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &Cache{
		entries:     make(map[string]*entry, maxEntries),
		maxEntries:  maxEntries,
		ttl:         ttl,
		cleanupEach: cleanupInterval,
		lastCleanup: clk.Now(),
		clk:         clk,
	}
}

// Put stores the reading as the device's latest entry, overwriting any
// prior one. Cleanup is opportunistic: it runs when the store exceeds the
// cap or the cleanup interval has elapsed, never on a dedicated timer.
func (c *Cache) Put(deviceID string, r *reading.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	c.entries[deviceID] = &entry{
		reading:   r,
		storedAt:  now,
		expiresAt: now.Add(c.ttl),
	}

	if len(c.entries) > c.maxEntries || now.Sub(c.lastCleanup) >= c.cleanupEach {
		c.cleanupLocked(now)
	}
}

// Latest returns the device's entry if it has not expired.
func (c *Cache) Latest(deviceID string) (*reading.Reading, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[deviceID]
	if !ok {
		return nil, false
	}
	if !c.clk.Now().Before(e.expiresAt) {
		delete(c.entries, deviceID)
		return nil, false
	}
	return e.reading, true
}

// LastStored returns when the device's unexpired entry was written, for
// liveness recency checks.
func (c *Cache) LastStored(deviceID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[deviceID]
	if !ok || !c.clk.Now().Before(e.expiresAt) {
		return time.Time{}, false
	}
	return e.storedAt, true
}

// Recent returns unexpired readings across all devices, most recent
// first. A non-positive limit returns everything unexpired.
func (c *Cache) Recent(limit int) []*reading.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	live := make([]*entry, 0, len(c.entries))
	for deviceID, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, deviceID)
			continue
		}
		live = append(live, e)
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].storedAt.After(live[j].storedAt)
	})

	if limit > 0 && len(live) > limit {
		live = live[:limit]
	}
	out := make([]*reading.Reading, len(live))
	for i, e := range live {
		out[i] = e.reading
	}
	return out
}

// Len reports the current entry count, including not-yet-swept expired
// entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cleanupLocked drops expired entries first, then evicts oldest-by-recency
// entries until the store is back within the cap.
func (c *Cache) cleanupLocked(now time.Time) {
	for deviceID, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, deviceID)
		}
	}

	if over := len(c.entries) - c.maxEntries; over > 0 {
		type aged struct {
			deviceID string
			storedAt time.Time
		}
		all := make([]aged, 0, len(c.entries))
		for deviceID, e := range c.entries {
			all = append(all, aged{deviceID, e.storedAt})
		}
		sort.Slice(all, func(i, j int) bool {
			return all[i].storedAt.Before(all[j].storedAt)
		})
		for i := 0; i < over; i++ {
			delete(c.entries, all[i].deviceID)
		}
	}

	c.lastCleanup = now
}
