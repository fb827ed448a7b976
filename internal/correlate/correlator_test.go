package correlate

import (
	"testing"
	"time"

	"fleetwatch/internal/window"
	"fleetwatch/pkg/models"
)

func member(id string, offset time.Duration, severity models.Severity, score float64, tags ...string) models.ScoredEvent {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return models.ScoredEvent{
		RawEvent: models.RawEvent{
			EventID:         id,
			AssetID:         "vessel-7",
			Category:        "engine_temperature",
			SeverityHint:    severity,
			Timestamp:       base.Add(offset),
			CorrelationTags: tags,
		},
		AnomalyScore: score,
	}
}

func closedWindow(members ...models.ScoredEvent) *window.Window {
	return &window.Window{
		Key:     window.Key("vessel-7", "engine_temperature"),
		Members: members,
	}
}

func TestCorrelateIsDeterministicAcrossArrivalOrder(t *testing.T) {
	a := member("ev-a", 0, models.SeverityHigh, 0.9, "overheat")
	b := member("ev-b", 10*time.Second, models.SeverityMedium, 0.7, "overheat")
	c := member("ev-c", 20*time.Second, models.SeverityLow, 0.6, "overheat")

	corr := NewCorrelator(Config{})
	first := corr.Correlate(closedWindow(a, b, c))
	second := corr.Correlate(closedWindow(c, a, b))

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected 1 candidate per run, got %d and %d", len(first), len(second))
	}
	if first[0].CorrelationID != second[0].CorrelationID {
		t.Fatalf("correlation IDs differ across arrival orders: %s vs %s", first[0].CorrelationID, second[0].CorrelationID)
	}
	if len(first[0].Summaries) != len(second[0].Summaries) {
		t.Fatalf("membership differs across arrival orders")
	}
	for i := range first[0].Summaries {
		if first[0].Summaries[i].EventID != second[0].Summaries[i].EventID {
			t.Fatalf("member order differs at %d: %s vs %s", i, first[0].Summaries[i].EventID, second[0].Summaries[i].EventID)
		}
	}
}

func TestCorrelateGroupsByTransitivelySharedTags(t *testing.T) {
	a := member("ev-a", 0, models.SeverityHigh, 0.9, "overheat")
	b := member("ev-b", 10*time.Second, models.SeverityHigh, 0.8, "overheat", "coolant")
	c := member("ev-c", 20*time.Second, models.SeverityHigh, 0.8, "coolant")
	d := member("ev-d", 30*time.Second, models.SeverityHigh, 0.8, "unrelated")

	corr := NewCorrelator(Config{})
	got := corr.Correlate(closedWindow(a, b, c, d))

	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if len(got[0].Summaries) != 3 {
		t.Fatalf("expected transitive tag group of 3, got %d", len(got[0].Summaries))
	}
	if len(got[1].Summaries) != 1 {
		t.Fatalf("expected isolated group of 1, got %d", len(got[1].Summaries))
	}
}

func TestCorrelateCollapsesUntaggedMembersIntoOneGroup(t *testing.T) {
	a := member("ev-a", 0, models.SeverityHigh, 0.9)
	b := member("ev-b", 10*time.Second, models.SeverityHigh, 0.8)
	c := member("ev-c", 20*time.Second, models.SeverityHigh, 0.8)

	corr := NewCorrelator(Config{})
	got := corr.Correlate(closedWindow(a, b, c))

	if len(got) != 1 {
		t.Fatalf("expected untagged members in a single candidate, got %d", len(got))
	}
	if len(got[0].Summaries) != 3 {
		t.Fatalf("expected 3 members, got %d", len(got[0].Summaries))
	}
}

func TestAggregateSeverityIsMaxOfMembers(t *testing.T) {
	a := member("ev-a", 0, models.SeverityLow, 0.9)
	b := member("ev-b", 10*time.Second, models.SeverityCritical, 0.8)

	corr := NewCorrelator(Config{})
	got := corr.Correlate(closedWindow(a, b))

	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].Severity != models.SeverityCritical {
		t.Fatalf("expected critical aggregate, got %s", got[0].Severity)
	}
}

func TestThreeMediumMembersEscalateAggregateSeverity(t *testing.T) {
	corr := NewCorrelator(Config{EscalationCount: 3})

	two := corr.Correlate(closedWindow(
		member("ev-a", 0, models.SeverityMedium, 0.8),
		member("ev-b", time.Second, models.SeverityMedium, 0.8),
	))
	if len(two) != 1 || two[0].Severity != models.SeverityMedium {
		t.Fatalf("expected medium aggregate for 2 mediums, got %+v", two)
	}

	three := corr.Correlate(closedWindow(
		member("ev-a", 0, models.SeverityMedium, 0.8),
		member("ev-b", time.Second, models.SeverityMedium, 0.8),
		member("ev-c", 2*time.Second, models.SeverityMedium, 0.8),
	))
	if len(three) != 1 || three[0].Severity != models.SeverityHigh {
		t.Fatalf("expected escalation to high for 3 mediums, got %+v", three)
	}
}

func TestLowScoreInfoGroupsAreFilteredAsNoise(t *testing.T) {
	corr := NewCorrelator(Config{AdmissionThreshold: 0.5})

	noise := corr.Correlate(closedWindow(
		member("ev-a", 0, models.SeverityInfo, 0.2),
		member("ev-b", time.Second, models.SeverityInfo, 0.3),
	))
	if len(noise) != 0 {
		t.Fatalf("expected info noise below threshold to be dropped, got %d candidates", len(noise))
	}

	scoredInfo := corr.Correlate(closedWindow(
		member("ev-a", 0, models.SeverityInfo, 0.7),
	))
	if len(scoredInfo) != 1 {
		t.Fatalf("expected high-scoring info group to survive, got %d", len(scoredInfo))
	}

	lowButSevere := corr.Correlate(closedWindow(
		member("ev-a", 0, models.SeverityHigh, 0.2),
	))
	if len(lowButSevere) != 1 {
		t.Fatalf("expected severe group to survive despite low score, got %d", len(lowButSevere))
	}
}

func TestCorrelateSkipsMalformedMembers(t *testing.T) {
	ok := member("ev-a", 0, models.SeverityHigh, 0.9)
	noID := member("", 10*time.Second, models.SeverityHigh, 0.9)
	noTS := member("ev-c", 0, models.SeverityHigh, 0.9)
	noTS.Timestamp = time.Time{}

	corr := NewCorrelator(Config{})
	got := corr.Correlate(closedWindow(ok, noID, noTS))

	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if len(got[0].Summaries) != 1 || got[0].Summaries[0].EventID != "ev-a" {
		t.Fatalf("expected only the well-formed member, got %+v", got[0].Summaries)
	}
}

func TestCandidateCarriesTraceIDOnlyWhenConsistent(t *testing.T) {
	corr := NewCorrelator(Config{})

	a := member("ev-a", 0, models.SeverityHigh, 0.9)
	a.TraceID = "trace-1"
	b := member("ev-b", time.Second, models.SeverityHigh, 0.9)
	b.TraceID = "trace-1"

	shared := corr.Correlate(closedWindow(a, b))
	if len(shared) != 1 || shared[0].TraceID != "trace-1" {
		t.Fatalf("expected shared trace to propagate, got %+v", shared)
	}

	c := member("ev-c", 2*time.Second, models.SeverityHigh, 0.9)
	c.TraceID = "trace-2"
	mixed := corr.Correlate(closedWindow(a, b, c))
	if len(mixed) != 1 || mixed[0].TraceID != "" {
		t.Fatalf("expected conflicting traces to drop the trace ID, got %q", mixed[0].TraceID)
	}
}

func TestCandidatePropagatesWindowLateArrival(t *testing.T) {
	w := closedWindow(member("ev-a", 0, models.SeverityHigh, 0.9))
	w.LateArrival = true

	corr := NewCorrelator(Config{})
	got := corr.Correlate(w)
	if len(got) != 1 || !got[0].LateArrival {
		t.Fatalf("expected late_arrival to propagate to candidate")
	}
}
