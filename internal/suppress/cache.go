package suppress

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"fleetwatch/internal/logger"
)

const cacheShards = 16

// Entry is the cached "last seen" record for one fingerprint.
type Entry struct {
	Fingerprint      string    `json:"fingerprint"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	OpenIncidentID   string    `json:"open_incident_id,omitempty"`
	SuppressionCount int       `json:"suppression_count"`
	ResolvedAt       time.Time `json:"resolved_at,omitempty"`
	TraceKeyed       bool      `json:"trace_keyed,omitempty"`

	expiresAt time.Time
}

// Cache is a TTL-indexed fingerprint store. Expired entries are purged lazily
// on lookup and by the periodic sweep; neither path blocks the other thanks
// to key-level sharding.
type Cache struct {
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	shards        [cacheShards]cacheShard
}

type cacheShard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewCache creates a fingerprint cache with the given entry TTL.
func NewCache(ttl, sweepInterval time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	c := &Cache{ttl: ttl, sweepInterval: sweepInterval, now: time.Now}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]*Entry)
	}
	return c
}

// SetClock replaces the wall clock, for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Cache) shard(fp string) *cacheShard {
	return &c.shards[xxhash.Sum64String(fp)%cacheShards]
}

// With runs fn with exclusive access to the live entry for fp, or nil when
// absent or expired. fn returning a non-nil entry (re)inserts it with its TTL
// extended, never shortened.
func (c *Cache) With(fp string, fn func(e *Entry) *Entry) {
	shard := c.shard(fp)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := c.now()
	e := shard.entries[fp]
	if e != nil && now.After(e.expiresAt) {
		delete(shard.entries, fp)
		e = nil
	}

	out := fn(e)
	if out == nil {
		return
	}
	deadline := now.Add(c.ttl)
	if deadline.After(out.expiresAt) {
		out.expiresAt = deadline
	}
	shard.entries[fp] = out
}

// Sweep purges expired entries.
func (c *Cache) Sweep() {
	now := c.now()
	purged := 0
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.Lock()
		for fp, e := range shard.entries {
			if now.After(e.expiresAt) {
				delete(shard.entries, fp)
				purged++
			}
		}
		shard.mu.Unlock()
	}
	if purged > 0 {
		logger.Debugf("Fingerprint sweep purged %d entries", purged)
	}
}

// Run sweeps on a low-priority ticker until the context is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Len reports the number of live entries, for tests and diagnostics.
func (c *Cache) Len() int {
	total := 0
	now := c.now()
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.Lock()
		for _, e := range shard.entries {
			if !now.After(e.expiresAt) {
				total++
			}
		}
		shard.mu.Unlock()
	}
	return total
}
