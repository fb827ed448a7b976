package suppress

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"fleetwatch/internal/logger"
	"fleetwatch/pkg/models"
)

// Decision actions.
const (
	ActionEmit     = "emit"
	ActionSuppress = "suppress"
	ActionMerge    = "merge_into"
)

// Decision is the suppressor's verdict for one candidate.
type Decision struct {
	Action     string
	IncidentID string // set for merge_into
}

// Config controls suppression cooldowns. Trace-correlated duplicates warrant
// the longer cooldown: a shared causal trace recurring quickly is more likely
// the same root cause.
type Config struct {
	Cooldown          time.Duration
	TraceCooldown     time.Duration
	TTL               time.Duration
	SweepInterval     time.Duration
	CategoryCooldowns map[string]time.Duration
}

// Suppressor decides whether a candidate duplicates an incident that is open
// or recently resolved.
type Suppressor struct {
	cache *Cache
	cfg   Config
	now   func() time.Time

	mu           sync.Mutex
	fpByIncident map[string]string
}

// NewSuppressor creates a suppressor over its own fingerprint cache.
func NewSuppressor(cfg Config) *Suppressor {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Minute
	}
	if cfg.TraceCooldown <= 0 {
		cfg.TraceCooldown = 30 * time.Minute
	}
	if cfg.TTL <= 0 {
		cfg.TTL = cfg.TraceCooldown * 2
	}
	return &Suppressor{
		cache:        NewCache(cfg.TTL, cfg.SweepInterval),
		cfg:          cfg,
		now:          time.Now,
		fpByIncident: make(map[string]string),
	}
}

// SetClock replaces the wall clock for the suppressor and its cache, for tests.
func (s *Suppressor) SetClock(now func() time.Time) {
	s.now = now
	s.cache.SetClock(now)
}

// Cache exposes the fingerprint cache so its sweep can be scheduled.
func (s *Suppressor) Cache() *Cache {
	return s.cache
}

// Evaluate returns the suppression decision for a candidate and updates the
// fingerprint cache accordingly.
func (s *Suppressor) Evaluate(c *models.Candidate) Decision {
	fp, traceKeyed := Fingerprint(c)
	now := s.now()
	decision := Decision{Action: ActionEmit}

	s.cache.With(fp, func(e *Entry) *Entry {
		if e == nil {
			// Unknown fingerprint: emit. The incident ID is bound once the
			// builder assigns one.
			return &Entry{
				Fingerprint: fp,
				FirstSeen:   now,
				LastSeen:    now,
				TraceKeyed:  traceKeyed,
			}
		}

		e.LastSeen = now

		if e.OpenIncidentID != "" {
			decision = Decision{Action: ActionMerge, IncidentID: e.OpenIncidentID}
			return e
		}

		if !e.ResolvedAt.IsZero() && now.Sub(e.ResolvedAt) < s.cooldown(c.Category, e.TraceKeyed || traceKeyed) {
			e.SuppressionCount++
			decision = Decision{Action: ActionSuppress}
			return e
		}

		// Resolved long enough ago: a recurrence is a new incident.
		e.ResolvedAt = time.Time{}
		e.SuppressionCount = 0
		e.TraceKeyed = traceKeyed
		return e
	})

	return decision
}

func (s *Suppressor) cooldown(category string, traceKeyed bool) time.Duration {
	if d, ok := s.cfg.CategoryCooldowns[category]; ok && d > 0 {
		return d
	}
	if traceKeyed {
		return s.cfg.TraceCooldown
	}
	return s.cfg.Cooldown
}

// BindIncident records the incident created for a just-emitted candidate so
// later duplicates merge into it.
func (s *Suppressor) BindIncident(c *models.Candidate, incidentID string) {
	fp, _ := Fingerprint(c)
	s.cache.With(fp, func(e *Entry) *Entry {
		if e == nil {
			logger.Warnf("Fingerprint entry vanished before incident bind: %s", incidentID)
			return nil
		}
		e.OpenIncidentID = incidentID
		return e
	})

	s.mu.Lock()
	s.fpByIncident[incidentID] = fp
	s.mu.Unlock()
}

// MarkResolved starts the cooldown clock for the incident's fingerprint. A
// resolved incident keeps suppressing identical candidates until the cooldown
// elapses.
func (s *Suppressor) MarkResolved(incidentID string) {
	s.mu.Lock()
	fp, ok := s.fpByIncident[incidentID]
	if ok {
		delete(s.fpByIncident, incidentID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	now := s.now()
	s.cache.With(fp, func(e *Entry) *Entry {
		if e == nil || e.OpenIncidentID != incidentID {
			return e
		}
		e.OpenIncidentID = ""
		e.ResolvedAt = now
		return e
	})
}

// SuppressionCount reports how often a candidate's fingerprint has been
// suppressed, for tests and diagnostics.
func (s *Suppressor) SuppressionCount(c *models.Candidate) int {
	fp, _ := Fingerprint(c)
	count := 0
	s.cache.With(fp, func(e *Entry) *Entry {
		if e != nil {
			count = e.SuppressionCount
		}
		return e
	})
	return count
}

// Fingerprint derives the deterministic signature for a candidate: asset,
// category, and the normalized shape of the contributing categories and tags.
// Raw message text is deliberately excluded so minor wording differences
// produce the same fingerprint. Candidates carrying a shared causal trace are
// keyed by it and reported trace-keyed.
func Fingerprint(c *models.Candidate) (string, bool) {
	shape := make([]string, 0, len(c.Summaries)+len(c.Tags))
	seen := make(map[string]struct{})
	for _, s := range c.Summaries {
		cat := strings.ToLower(strings.TrimSpace(s.Category))
		if cat == "" {
			continue
		}
		if _, dup := seen[cat]; dup {
			continue
		}
		seen[cat] = struct{}{}
		shape = append(shape, cat)
	}
	sort.Strings(shape)

	parts := []string{c.AssetID, c.Category}
	parts = append(parts, shape...)
	parts = append(parts, c.Tags...)

	traceKeyed := c.TraceID != ""
	if traceKeyed {
		parts = append(parts, "trace:"+c.TraceID)
	}

	sum := xxhash.Sum64String(strings.Join(parts, "\x00"))
	return fmt.Sprintf("fp-%016x", sum), traceKeyed
}
