package models

import "time"

// RawEvent is one anomaly signal observed on a fleet asset. It is created by
// the ingest parser when a bus message is deserialized and is immutable
// afterwards.
type RawEvent struct {
	EventID         string    `json:"event_id"`
	AssetID         string    `json:"asset_id"`
	Category        string    `json:"metric_or_category"`
	ObservedValue   *float64  `json:"observed_value,omitempty"`
	SeverityHint    Severity  `json:"severity_hint"`
	Timestamp       time.Time `json:"timestamp"`
	SourceSystem    string    `json:"source_system,omitempty"`
	CorrelationTags []string  `json:"correlation_tags,omitempty"`
	TraceID         string    `json:"trace_id,omitempty"`

	// Fields carries the remaining payload keys for rule evaluation.
	Fields map[string]interface{} `json:"-"`
}

// HasTag reports whether the event carries the given correlation tag.
func (e *RawEvent) HasTag(tag string) bool {
	for _, t := range e.CorrelationTags {
		if t == tag {
			return true
		}
	}
	return false
}

// ScoredEvent is a RawEvent after anomaly scoring. Owned by the window
// manager once admitted.
type ScoredEvent struct {
	RawEvent
	AnomalyScore  float64 `json:"anomaly_score"`
	DetectorName  string  `json:"detector_name"`
	ThresholdUsed float64 `json:"threshold_used"`
	LateArrival   bool    `json:"late_arrival,omitempty"`
}

// Summary converts the event into the immutable value form stored on
// incidents. Incidents never hold live event references.
func (e *ScoredEvent) Summary() EventSummary {
	return EventSummary{
		EventID:      e.EventID,
		AnomalyScore: e.AnomalyScore,
		Timestamp:    e.Timestamp,
		Severity:     e.SeverityHint,
		Category:     e.Category,
	}
}

// EventSummary is the bounded per-event record carried by incidents:
// identifiers and scores, not full raw payloads.
type EventSummary struct {
	EventID      string    `json:"event_id"`
	AnomalyScore float64   `json:"anomaly_score"`
	Timestamp    time.Time `json:"timestamp"`
	Severity     Severity  `json:"severity"`
	Category     string    `json:"category,omitempty"`
}
