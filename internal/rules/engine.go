package rules

import "fleetwatch/pkg/models"

// Engine derives extra correlation tags for an event.
type Engine interface {
	Apply(event *models.RawEvent) []string
}

// NoopEngine returns no tags.
type NoopEngine struct{}

// Apply returns an empty tag list.
func (n *NoopEngine) Apply(event *models.RawEvent) []string {
	return nil
}
