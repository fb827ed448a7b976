package incident

import (
	"time"

	"github.com/google/uuid"

	"fleetwatch/pkg/models"
)

// Build assembles a new open incident from an emitted candidate.
func Build(c *models.Candidate, now time.Time) *models.Incident {
	inc := &models.Incident{
		IncidentID:         uuid.NewString(),
		Status:             models.StatusOpen,
		Severity:           c.Severity,
		AssetID:            c.AssetID,
		Category:           c.Category,
		ContributingEvents: append([]models.EventSummary(nil), c.Summaries...),
		CorrelationID:      c.CorrelationID,
		CreatedAt:          now,
		UpdatedAt:          now,
		LateArrival:        c.LateArrival,
		SuggestedActions:   suggestActions(c),
		Timeline: []models.TimelineEntry{
			{At: now, Action: "incident_created", Reason: "correlated " + c.WindowKey},
		},
	}
	return inc
}

// suggestActions maps the candidate onto opaque runbook identifiers. The
// identifiers are resolved by downstream tooling, not here.
func suggestActions(c *models.Candidate) []string {
	actions := make([]string, 0, 2+len(c.Tags))
	actions = append(actions, "runbook/"+c.Category)
	if c.Severity == models.SeverityCritical {
		actions = append(actions, "runbook/escalate-on-call")
	}
	for _, tag := range c.Tags {
		actions = append(actions, "runbook/tag/"+tag)
	}
	return actions
}
