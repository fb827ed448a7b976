package incident

import (
	"encoding/json"
	"testing"
	"time"

	"fleetwatch/pkg/models"
)

func testCandidate(severity models.Severity, eventIDs ...string) *models.Candidate {
	base := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	summaries := make([]models.EventSummary, 0, len(eventIDs))
	for i, id := range eventIDs {
		summaries = append(summaries, models.EventSummary{
			EventID:      id,
			AnomalyScore: 0.9,
			Timestamp:    base.Add(time.Duration(i) * time.Second),
			Severity:     severity,
			Category:     "engine_temperature",
		})
	}
	return &models.Candidate{
		CorrelationID: "corr-0000000000000001",
		WindowKey:     "vessel-7|engine_temperature",
		AssetID:       "vessel-7",
		Category:      "engine_temperature",
		Severity:      severity,
		Summaries:     summaries,
	}
}

func managerAt(now *time.Time, onResolve func(string)) *Manager {
	m := NewManager(onResolve)
	m.SetClock(func() time.Time { return *now })
	return m
}

func TestOpenBuildsIncidentWithTimelineAndActions(t *testing.T) {
	now := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	m := managerAt(&now, nil)

	c := testCandidate(models.SeverityCritical, "ev-1")
	c.Tags = []string{"overheat"}
	inc := m.Open(c)

	if inc.Status != models.StatusOpen {
		t.Fatalf("expected open status, got %s", inc.Status)
	}
	if inc.IncidentID == "" {
		t.Fatalf("expected generated incident ID")
	}
	if len(inc.Timeline) != 1 || inc.Timeline[0].Action != "incident_created" {
		t.Fatalf("expected creation timeline entry, got %+v", inc.Timeline)
	}
	if len(inc.SuggestedActions) != 3 {
		t.Fatalf("expected category, escalation and tag actions, got %v", inc.SuggestedActions)
	}
	if inc.SuggestedActions[0] != "runbook/engine_temperature" {
		t.Fatalf("unexpected first action: %s", inc.SuggestedActions[0])
	}
}

func TestMergeAppendsEventsAndNeverLowersSeverity(t *testing.T) {
	now := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	m := managerAt(&now, nil)

	inc := m.Open(testCandidate(models.SeverityCritical, "ev-1"))

	now = now.Add(time.Minute)
	merged, ok := m.Merge(inc.IncidentID, testCandidate(models.SeverityLow, "ev-2"))
	if !ok {
		t.Fatalf("expected merge to succeed")
	}
	if len(merged.ContributingEvents) != 2 {
		t.Fatalf("expected 2 contributing events, got %d", len(merged.ContributingEvents))
	}
	if merged.Severity != models.SeverityCritical {
		t.Fatalf("merge lowered severity to %s", merged.Severity)
	}
	if merged.Timeline[len(merged.Timeline)-1].Action != "correlated_event_added" {
		t.Fatalf("expected merge timeline entry, got %+v", merged.Timeline)
	}
}

func TestMergeRaisesSeverityWhenCandidateIsHigher(t *testing.T) {
	now := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	m := managerAt(&now, nil)

	inc := m.Open(testCandidate(models.SeverityMedium, "ev-1"))
	merged, ok := m.Merge(inc.IncidentID, testCandidate(models.SeverityCritical, "ev-2"))
	if !ok {
		t.Fatalf("expected merge to succeed")
	}
	if merged.Severity != models.SeverityCritical {
		t.Fatalf("expected severity raised to critical, got %s", merged.Severity)
	}
}

func TestMergeIntoResolvedIncidentIsRejected(t *testing.T) {
	now := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	m := managerAt(&now, nil)

	inc := m.Open(testCandidate(models.SeverityHigh, "ev-1"))
	if _, ok := m.Resolve(inc.IncidentID, "fixed"); !ok {
		t.Fatalf("expected resolve to succeed")
	}

	if _, ok := m.Merge(inc.IncidentID, testCandidate(models.SeverityHigh, "ev-2")); ok {
		t.Fatalf("expected merge into resolved incident to be rejected")
	}
}

func TestMergeIntoUnknownIncidentIsRejected(t *testing.T) {
	now := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	m := managerAt(&now, nil)

	if _, ok := m.Merge("inc-missing", testCandidate(models.SeverityHigh, "ev-1")); ok {
		t.Fatalf("expected merge into unknown incident to be rejected")
	}
}

func TestLifecycleAcknowledgeThenResolveFiresCallbackOnce(t *testing.T) {
	now := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	var resolved []string
	m := managerAt(&now, func(id string) { resolved = append(resolved, id) })

	inc := m.Open(testCandidate(models.SeverityHigh, "ev-1"))

	acked, ok := m.Acknowledge(inc.IncidentID, "on it")
	if !ok || acked.Status != models.StatusAcknowledged {
		t.Fatalf("expected acknowledged status, got %+v", acked.Status)
	}

	done, ok := m.Resolve(inc.IncidentID, "replaced sensor")
	if !ok || done.Status != models.StatusResolved {
		t.Fatalf("expected resolved status, got %+v", done.Status)
	}
	if len(resolved) != 1 || resolved[0] != inc.IncidentID {
		t.Fatalf("expected one resolve callback for %s, got %v", inc.IncidentID, resolved)
	}

	// Re-resolving is tolerated but does not fire the callback again.
	if _, ok := m.Resolve(inc.IncidentID, "again"); !ok {
		t.Fatalf("expected repeat resolve to be tolerated")
	}
	if len(resolved) != 1 {
		t.Fatalf("expected callback exactly once, got %d", len(resolved))
	}
}

func TestResolveWithoutAcknowledgeIsAccepted(t *testing.T) {
	now := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	m := managerAt(&now, nil)

	inc := m.Open(testCandidate(models.SeverityHigh, "ev-1"))
	done, ok := m.Resolve(inc.IncidentID, "false positive")
	if !ok || done.Status != models.StatusResolved {
		t.Fatalf("expected direct resolve to be accepted, got %+v", done.Status)
	}
}

func TestLifecycleCommandsForUnknownIncidentsAreNoOps(t *testing.T) {
	now := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	m := managerAt(&now, nil)

	if _, ok := m.Acknowledge("inc-missing", ""); ok {
		t.Fatalf("expected acknowledge of unknown incident to fail")
	}
	if _, ok := m.Resolve("inc-missing", ""); ok {
		t.Fatalf("expected resolve of unknown incident to fail")
	}
}

func TestPublishedSnapshotsAreInsulatedFromLaterMerges(t *testing.T) {
	now := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	m := managerAt(&now, nil)

	first := m.Open(testCandidate(models.SeverityHigh, "ev-1"))
	m.Merge(first.IncidentID, testCandidate(models.SeverityHigh, "ev-2"))

	if len(first.ContributingEvents) != 1 {
		t.Fatalf("published snapshot mutated by later merge: %d events", len(first.ContributingEvents))
	}
	current, _ := m.Get(first.IncidentID)
	if len(current.ContributingEvents) != 2 {
		t.Fatalf("expected stored incident to hold 2 events, got %d", len(current.ContributingEvents))
	}
}

func TestIncidentSurvivesJSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	m := managerAt(&now, nil)

	inc := m.Open(testCandidate(models.SeverityCritical, "ev-1", "ev-2"))

	data, err := json.Marshal(inc)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var back models.Incident
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.IncidentID != inc.IncidentID {
		t.Fatalf("incident ID changed across round trip")
	}
	if back.Status != models.StatusOpen {
		t.Fatalf("expected open status, got %s", back.Status)
	}
	if len(back.ContributingEvents) != 2 {
		t.Fatalf("expected 2 contributing events, got %d", len(back.ContributingEvents))
	}
	if back.Severity != models.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", back.Severity)
	}
}
