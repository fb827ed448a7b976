package models

import "strings"

// Severity is the operator-facing urgency level of an event or incident.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRanks = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

var severityByRank = []Severity{
	SeverityInfo,
	SeverityLow,
	SeverityMedium,
	SeverityHigh,
	SeverityCritical,
}

// ParseSeverity normalizes a severity string, defaulting to info.
func ParseSeverity(raw string) Severity {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := severityRanks[s]; ok {
		return s
	}
	return SeverityInfo
}

// Rank returns the ordering position of the severity (info lowest).
func (s Severity) Rank() int {
	return severityRanks[s]
}

// Escalate returns the severity one level above s, capped at critical.
func (s Severity) Escalate() Severity {
	rank := s.Rank() + 1
	if rank >= len(severityByRank) {
		return SeverityCritical
	}
	return severityByRank[rank]
}

// MaxSeverity returns the higher of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
