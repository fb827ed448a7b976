package window

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
	"fleetwatch/pkg/models"
)

const windowShards = 16

// State is the per-window lifecycle state. A key with no window is Empty.
type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

// Window is a bounded event-time bucket for one correlation key. It is
// exclusively owned by the manager until handed to the correlator.
type Window struct {
	Key               string
	Start             time.Time // event time, inclusive
	End               time.Time // event time, exclusive
	OpenedAt          time.Time // wall clock, closure timer base
	Members           []models.ScoredEvent
	AggregateSeverity models.Severity
	LateArrival       bool

	state State
}

func (w *Window) admit(ev models.ScoredEvent) {
	w.Members = append(w.Members, ev)
	w.AggregateSeverity = models.MaxSeverity(w.AggregateSeverity, ev.SeverityHint)
}

// Config controls window sizing and closure.
type Config struct {
	Size          time.Duration
	Grace         time.Duration
	SweepInterval time.Duration
}

// Manager buckets scored events into sliding windows keyed by asset+category.
// Windows for different keys are fully independent; the map is sharded so
// concurrent workers only contend per shard.
type Manager struct {
	cfg     Config
	onClose func(*Window)
	now     func() time.Time
	shards  [windowShards]windowShard
}

type windowShard struct {
	mu      sync.Mutex
	windows map[string]*Window
}

// Key builds the correlation key for an event.
func Key(assetID, category string) string {
	return assetID + "|" + category
}

// NewManager creates a window manager. Closed windows are delivered through
// onClose, which must not block for long: it runs under the shard lock.
func NewManager(cfg Config, onClose func(*Window)) *Manager {
	if cfg.Size <= 0 {
		cfg.Size = 60 * time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	m := &Manager{cfg: cfg, onClose: onClose, now: time.Now}
	for i := range m.shards {
		m.shards[i].windows = make(map[string]*Window)
	}
	return m
}

// SetClock replaces the wall clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) shard(key string) *windowShard {
	return &m.shards[xxhash.Sum64String(key)%windowShards]
}

// Admit places a scored event into the window for its key, creating a window
// lazily on first sight of the key. Window bounds are a pure function of
// event time (the enclosing size-aligned bucket), so membership does not
// depend on arrival order. Events are never silently dropped: late stragglers
// past the grace period start a fresh window flagged late_arrival.
func (m *Manager) Admit(ev models.ScoredEvent) {
	key := Key(ev.AssetID, ev.Category)
	shard := m.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := m.now()
	start := ev.Timestamp.Truncate(m.cfg.Size)
	w := shard.windows[key]

	if w != nil {
		m.advance(w, now)
		if w.state == StateClosed {
			m.close(w)
			delete(shard.windows, key)
			w = nil
		}
	}

	if w != nil {
		switch {
		case start.Equal(w.Start):
			// Same bucket. Open admits freely; Closing only drains the grace
			// period for stale deliveries.
			w.admit(ev)
			return
		case start.After(w.Start):
			// The event belongs to a later bucket: flush the current window.
			m.close(w)
			delete(shard.windows, key)
		default:
			// An earlier bucket whose window already closed. Flush the active
			// one and restart from the straggler.
			m.close(w)
			delete(shard.windows, key)
			ev.LateArrival = true
		}
	}

	if now.Sub(ev.Timestamp) > m.cfg.Size+m.cfg.Grace {
		ev.LateArrival = true
	}
	if ev.LateArrival {
		metrics.EventsLate.Inc()
	}

	nw := &Window{
		Key:         key,
		Start:       start,
		End:         start.Add(m.cfg.Size),
		OpenedAt:    now,
		LateArrival: ev.LateArrival,
		state:       StateOpen,
	}
	nw.admit(ev)
	shard.windows[key] = nw
}

// advance moves a window through its wall-clock states without emitting it.
func (m *Manager) advance(w *Window, now time.Time) {
	if w.state == StateOpen && !now.Before(w.OpenedAt.Add(m.cfg.Size)) {
		w.state = StateClosing
	}
	if w.state == StateClosing && !now.Before(w.OpenedAt.Add(m.cfg.Size+m.cfg.Grace)) {
		w.state = StateClosed
	}
}

func (m *Manager) close(w *Window) {
	w.state = StateClosed
	metrics.WindowsClosed.Inc()
	logger.Debugf("Window closed: key=%s members=%d", w.Key, len(w.Members))
	if m.onClose != nil {
		m.onClose(w)
	}
}

// Sweep closes every window whose grace period has elapsed. Closure is
// timer-driven: it fires even if no further events arrive for the key.
func (m *Manager) Sweep() {
	now := m.now()
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		for key, w := range shard.windows {
			m.advance(w, now)
			if w.state == StateClosed {
				delete(shard.windows, key)
				m.close(w)
			}
		}
		shard.mu.Unlock()
	}
}

// Run sweeps on a ticker until the context is cancelled, then flushes.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Flush()
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Flush closes all remaining windows regardless of their timers.
func (m *Manager) Flush() {
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		for key, w := range shard.windows {
			delete(shard.windows, key)
			m.close(w)
		}
		shard.mu.Unlock()
	}
}
