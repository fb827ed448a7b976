package incident

import (
	"sync"
	"time"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
	"fleetwatch/pkg/models"
)

// Manager owns the in-memory incident set and drives the lifecycle state
// machine. Incidents are mutated only through its methods.
type Manager struct {
	mu        sync.Mutex
	incidents map[string]*models.Incident
	now       func() time.Time

	// onResolve lets the suppressor start its cooldown clock.
	onResolve func(incidentID string)
}

// NewManager creates an incident manager. onResolve may be nil.
func NewManager(onResolve func(incidentID string)) *Manager {
	return &Manager{
		incidents: make(map[string]*models.Incident),
		now:       time.Now,
		onResolve: onResolve,
	}
}

// SetClock replaces the wall clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Open creates a new incident from an emitted candidate and returns a copy
// safe for publication.
func (m *Manager) Open(c *models.Candidate) models.Incident {
	now := m.now()
	inc := Build(c, now)

	m.mu.Lock()
	m.incidents[inc.IncidentID] = inc
	m.mu.Unlock()

	metrics.IncidentsOpen.Inc()
	logger.Infof("Incident opened: id=%s asset=%s category=%s severity=%s events=%d",
		inc.IncidentID, inc.AssetID, inc.Category, inc.Severity, len(inc.ContributingEvents))
	return snapshot(inc)
}

// Merge appends a candidate's events to an existing incident. Severity is
// recomputed, never lowered: a merged event may raise the aggregate but a
// downgrade is a manual operator action outside this core. Merging into a
// resolved incident should be prevented by the suppressor's cooldown; if
// observed anyway it is a tolerated data-integrity warning, not a crash.
func (m *Manager) Merge(incidentID string, c *models.Candidate) (models.Incident, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[incidentID]
	if !ok {
		logger.Warnf("Merge target incident unknown: %s", incidentID)
		return models.Incident{}, false
	}
	if inc.Status == models.StatusResolved {
		metrics.IntegrityWarnings.Inc()
		logger.Warnf("Merge into resolved incident %s rejected; cooldown should have suppressed it", incidentID)
		return models.Incident{}, false
	}

	now := m.now()
	inc.ContributingEvents = append(inc.ContributingEvents, c.Summaries...)
	inc.Severity = models.MaxSeverity(inc.Severity, c.Severity)
	inc.UpdatedAt = now
	inc.Timeline = append(inc.Timeline, models.TimelineEntry{
		At:     now,
		Action: "correlated_event_added",
		Reason: c.CorrelationID,
	})

	logger.Debugf("Incident %s merged %d events (severity=%s)", incidentID, len(c.Summaries), inc.Severity)
	return snapshot(inc), true
}

// Acknowledge moves an incident to acknowledged. Unknown IDs are a logged
// no-op: the command may race with eviction of old in-memory state.
func (m *Manager) Acknowledge(incidentID, reason string) (models.Incident, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[incidentID]
	if !ok {
		logger.Warnf("Acknowledge for unknown incident: %s", incidentID)
		return models.Incident{}, false
	}
	if inc.Status == models.StatusResolved {
		metrics.IntegrityWarnings.Inc()
		logger.Warnf("Acknowledge after resolve for incident %s; accepted", incidentID)
	}

	now := m.now()
	inc.Status = models.StatusAcknowledged
	inc.UpdatedAt = now
	inc.Timeline = append(inc.Timeline, models.TimelineEntry{At: now, Action: "acknowledged", Reason: reason})
	return snapshot(inc), true
}

// Resolve moves an incident to resolved. Resolve-before-acknowledge is
// accepted but logged: operational urgency may legitimately skip states.
func (m *Manager) Resolve(incidentID, reason string) (models.Incident, bool) {
	m.mu.Lock()
	inc, ok := m.incidents[incidentID]
	if !ok {
		m.mu.Unlock()
		logger.Warnf("Resolve for unknown incident: %s", incidentID)
		return models.Incident{}, false
	}

	if inc.Status == models.StatusOpen {
		logger.Warnf("Incident %s resolved without acknowledgement", incidentID)
	}

	now := m.now()
	alreadyResolved := inc.Status == models.StatusResolved
	inc.Status = models.StatusResolved
	inc.UpdatedAt = now
	inc.Timeline = append(inc.Timeline, models.TimelineEntry{At: now, Action: "resolved", Reason: reason})
	out := snapshot(inc)
	m.mu.Unlock()

	if !alreadyResolved {
		metrics.IncidentsOpen.Dec()
		if m.onResolve != nil {
			m.onResolve(incidentID)
		}
	}
	return out, true
}

// AttachExplanation records enrichment text on an incident. Arrives after
// the incident is committed, so absence never delays emission.
func (m *Manager) AttachExplanation(incidentID, text string) (models.Incident, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[incidentID]
	if !ok {
		return models.Incident{}, false
	}
	now := m.now()
	inc.Explanation = text
	inc.UpdatedAt = now
	inc.Timeline = append(inc.Timeline, models.TimelineEntry{At: now, Action: "explanation_attached"})
	return snapshot(inc), true
}

// Get returns a copy of an incident.
func (m *Manager) Get(incidentID string) (models.Incident, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[incidentID]
	if !ok {
		return models.Incident{}, false
	}
	return snapshot(inc), true
}

// snapshot deep-copies the mutable slices so published incidents are
// insulated from later merges.
func snapshot(inc *models.Incident) models.Incident {
	out := *inc
	out.ContributingEvents = append([]models.EventSummary(nil), inc.ContributingEvents...)
	out.Timeline = append([]models.TimelineEntry(nil), inc.Timeline...)
	out.SuggestedActions = append([]string(nil), inc.SuggestedActions...)
	return out
}
