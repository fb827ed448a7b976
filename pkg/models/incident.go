package models

import "time"

// Status is the incident lifecycle state.
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusSuppressed   Status = "suppressed"
)

// Candidate is a correlated group emitted by the correlator before
// suppression has been consulted.
type Candidate struct {
	CorrelationID string         `json:"correlation_id"`
	WindowKey     string         `json:"window_key"`
	AssetID       string         `json:"asset_id"`
	Category      string         `json:"category"`
	Severity      Severity       `json:"severity"`
	Tags          []string       `json:"tags,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
	Members       []ScoredEvent  `json:"-"`
	Summaries     []EventSummary `json:"members"`
	LateArrival   bool           `json:"late_arrival,omitempty"`
}

// TimelineEntry records one lifecycle transition with its reason.
type TimelineEntry struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
	Reason string    `json:"reason,omitempty"`
}

// Incident is the terminal output unit of the correlation core.
type Incident struct {
	IncidentID         string          `json:"incident_id"`
	Status             Status          `json:"status"`
	Severity           Severity        `json:"severity"`
	AssetID            string          `json:"asset_id"`
	Category           string          `json:"category"`
	ContributingEvents []EventSummary  `json:"contributing_events"`
	CorrelationID      string          `json:"correlation_id"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Timeline           []TimelineEntry `json:"timeline"`
	SuggestedActions   []string        `json:"suggested_actions,omitempty"`
	LateArrival        bool            `json:"late_arrival,omitempty"`
	Explanation        string          `json:"explanation,omitempty"`
}

// LifecycleCommand is an external acknowledge/resolve request referencing an
// incident by ID.
type LifecycleCommand struct {
	IncidentID string `json:"incident_id"`
	Action     string `json:"action"`
	Reason     string `json:"reason,omitempty"`
	Operator   string `json:"operator,omitempty"`
}
