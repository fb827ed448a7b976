package suppress

import (
	"testing"
	"time"

	"fleetwatch/pkg/models"
)

func candidate(asset, category string) *models.Candidate {
	return &models.Candidate{
		CorrelationID: "corr-1",
		WindowKey:     asset + "|" + category,
		AssetID:       asset,
		Category:      category,
		Severity:      models.SeverityHigh,
		Tags:          []string{"overheat"},
		Summaries: []models.EventSummary{
			{EventID: "ev-1", Severity: models.SeverityHigh, Category: category},
		},
	}
}

func suppressorAt(cfg Config, now *time.Time) *Suppressor {
	s := NewSuppressor(cfg)
	s.SetClock(func() time.Time { return *now })
	return s
}

func TestFirstCandidateEmitsAndDuplicateMergesIntoOpenIncident(t *testing.T) {
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	s := suppressorAt(Config{}, &now)
	c := candidate("vessel-7", "engine_temperature")

	first := s.Evaluate(c)
	if first.Action != ActionEmit {
		t.Fatalf("expected emit for unknown fingerprint, got %s", first.Action)
	}
	s.BindIncident(c, "inc-1")

	now = now.Add(2 * time.Minute)
	second := s.Evaluate(c)
	if second.Action != ActionMerge {
		t.Fatalf("expected merge while incident is open, got %s", second.Action)
	}
	if second.IncidentID != "inc-1" {
		t.Fatalf("expected merge target inc-1, got %s", second.IncidentID)
	}
}

func TestDuplicateWithinCooldownAfterResolveIsSuppressed(t *testing.T) {
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	s := suppressorAt(Config{Cooldown: 15 * time.Minute}, &now)
	c := candidate("vessel-7", "engine_temperature")

	s.Evaluate(c)
	s.BindIncident(c, "inc-1")
	s.MarkResolved("inc-1")

	now = now.Add(10 * time.Minute)
	got := s.Evaluate(c)
	if got.Action != ActionSuppress {
		t.Fatalf("expected suppress within cooldown, got %s", got.Action)
	}
	if count := s.SuppressionCount(c); count != 1 {
		t.Fatalf("expected suppression count 1, got %d", count)
	}
}

func TestDuplicateAfterCooldownEmitsNewIncident(t *testing.T) {
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	s := suppressorAt(Config{Cooldown: 15 * time.Minute}, &now)
	c := candidate("vessel-7", "engine_temperature")

	s.Evaluate(c)
	s.BindIncident(c, "inc-1")
	s.MarkResolved("inc-1")

	now = now.Add(16 * time.Minute)
	got := s.Evaluate(c)
	if got.Action != ActionEmit {
		t.Fatalf("expected emit past cooldown, got %s", got.Action)
	}
	if count := s.SuppressionCount(c); count != 0 {
		t.Fatalf("expected suppression count reset, got %d", count)
	}
}

func TestTraceKeyedDuplicatesUseLongerCooldown(t *testing.T) {
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	s := suppressorAt(Config{Cooldown: 15 * time.Minute, TraceCooldown: 30 * time.Minute}, &now)
	c := candidate("vessel-7", "engine_temperature")
	c.TraceID = "trace-9"

	s.Evaluate(c)
	s.BindIncident(c, "inc-1")
	s.MarkResolved("inc-1")

	now = now.Add(20 * time.Minute)
	got := s.Evaluate(c)
	if got.Action != ActionSuppress {
		t.Fatalf("expected trace-keyed suppress at 20m, got %s", got.Action)
	}

	now = now.Add(11 * time.Minute)
	got = s.Evaluate(c)
	if got.Action != ActionEmit {
		t.Fatalf("expected emit after trace cooldown, got %s", got.Action)
	}
}

func TestCategoryCooldownOverridesDefault(t *testing.T) {
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	s := suppressorAt(Config{
		Cooldown:          15 * time.Minute,
		CategoryCooldowns: map[string]time.Duration{"gps_drift": 5 * time.Minute},
	}, &now)
	c := candidate("vessel-7", "gps_drift")

	s.Evaluate(c)
	s.BindIncident(c, "inc-1")
	s.MarkResolved("inc-1")

	now = now.Add(4 * time.Minute)
	if got := s.Evaluate(c); got.Action != ActionSuppress {
		t.Fatalf("expected suppress inside category cooldown, got %s", got.Action)
	}

	now = now.Add(2 * time.Minute)
	if got := s.Evaluate(c); got.Action != ActionEmit {
		t.Fatalf("expected emit past category cooldown, got %s", got.Action)
	}
}

func TestExpiredFingerprintEntryEmitsAgain(t *testing.T) {
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	s := suppressorAt(Config{Cooldown: 15 * time.Minute, TTL: 30 * time.Minute}, &now)
	c := candidate("vessel-7", "engine_temperature")

	s.Evaluate(c)
	s.BindIncident(c, "inc-1")

	now = now.Add(31 * time.Minute)
	got := s.Evaluate(c)
	if got.Action != ActionEmit {
		t.Fatalf("expected emit after fingerprint TTL expiry, got %s", got.Action)
	}
}

func TestDifferentAssetsNeverShareFingerprints(t *testing.T) {
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	s := suppressorAt(Config{}, &now)

	a := candidate("vessel-7", "engine_temperature")
	s.Evaluate(a)
	s.BindIncident(a, "inc-1")

	b := candidate("vessel-8", "engine_temperature")
	if got := s.Evaluate(b); got.Action != ActionEmit {
		t.Fatalf("expected independent asset to emit, got %s", got.Action)
	}
}

func TestCacheSweepPurgesExpiredEntries(t *testing.T) {
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	cache := NewCache(10*time.Minute, time.Minute)
	cache.SetClock(func() time.Time { return now })

	cache.With("fp-1", func(e *Entry) *Entry {
		return &Entry{Fingerprint: "fp-1", FirstSeen: now, LastSeen: now}
	})
	if cache.Len() != 1 {
		t.Fatalf("expected 1 live entry, got %d", cache.Len())
	}

	now = now.Add(11 * time.Minute)
	cache.Sweep()
	if cache.Len() != 0 {
		t.Fatalf("expected sweep to purge expired entry, got %d", cache.Len())
	}
}

func TestCacheTTLIsExtendedOnTouchNeverShortened(t *testing.T) {
	start := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	now := start
	cache := NewCache(10*time.Minute, time.Minute)
	cache.SetClock(func() time.Time { return now })

	cache.With("fp-1", func(e *Entry) *Entry {
		return &Entry{Fingerprint: "fp-1", FirstSeen: now, LastSeen: now}
	})

	// Touch at +8m pushes expiry to +18m.
	now = start.Add(8 * time.Minute)
	cache.With("fp-1", func(e *Entry) *Entry {
		if e == nil {
			t.Fatalf("expected live entry at 8m")
		}
		return e
	})

	now = start.Add(15 * time.Minute)
	cache.With("fp-1", func(e *Entry) *Entry {
		if e == nil {
			t.Fatalf("expected entry alive at 15m after touch")
		}
		return e
	})
}
