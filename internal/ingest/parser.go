package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetwatch/internal/logger"
	"fleetwatch/pkg/models"
)

// UnknownAsset is the placeholder used when neither the message nor the
// registry can name the asset. Events are never rejected for a missing asset.
const UnknownAsset = "unknown-asset"

// Resolver maps a hostname or IP to a logical asset identifier. Lookups are
// best-effort and must respect the passed context deadline.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (string, bool)
}

// Parser converts inbound bus messages into RawEvents with defensive
// defaulting. Required fields: an asset or hostname, a timestamp, and a
// severity hint.
type Parser struct {
	resolver Resolver
}

// NewParser creates a parser. The resolver may be nil when no registry is
// configured.
func NewParser(resolver Resolver) *Parser {
	return &Parser{resolver: resolver}
}

// Parse deserializes one message. The event ID is generated here; the event
// is immutable afterwards.
func (p *Parser) Parse(ctx context.Context, data []byte) (*models.RawEvent, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}

	event := &models.RawEvent{
		EventID: uuid.NewString(),
		Fields:  raw,
	}

	ts := getString(raw, "timestamp", "@timestamp", "event_time")
	if ts == "" {
		return nil, fmt.Errorf("event is missing timestamp")
	}
	parsed, ok := parseTimestamp(ts)
	if !ok {
		return nil, fmt.Errorf("unparseable event timestamp: %q", ts)
	}
	event.Timestamp = parsed

	event.SeverityHint = models.ParseSeverity(getString(raw, "severity_hint", "severity", "level"))
	event.Category = getString(raw, "metric_or_category", "category", "metric")
	if event.Category == "" {
		event.Category = "uncategorized"
	}
	event.SourceSystem = getString(raw, "source_system", "source")
	event.TraceID = getString(raw, "trace_id")
	event.CorrelationTags = getStringSlice(raw, "correlation_tags", "tags")

	if v, ok := getFloat(raw, "observed_value", "value"); ok {
		event.ObservedValue = &v
	}

	event.AssetID = p.resolveAsset(ctx, raw)
	return event, nil
}

func (p *Parser) resolveAsset(ctx context.Context, raw map[string]interface{}) string {
	if asset := getString(raw, "asset_id"); asset != "" {
		return asset
	}

	identifier := getString(raw, "asset_id_or_hostname", "hostname", "host", "ip")
	if identifier == "" {
		logger.Warnf("Event carries no asset identifier; using placeholder")
		return UnknownAsset
	}
	if p.resolver == nil {
		return identifier
	}
	if asset, ok := p.resolver.Resolve(ctx, identifier); ok {
		return asset
	}
	logger.Warnf("Registry lookup failed for %s; using placeholder", identifier)
	return UnknownAsset
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}

	for _, layout := range []string{
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

func getString(root map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := root[key]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" {
				return s
			}
		case fmt.Stringer:
			return val.String()
		case float64:
			if val == float64(int64(val)) {
				return fmt.Sprintf("%d", int64(val))
			}
			return fmt.Sprintf("%f", val)
		}
	}
	return ""
}

// getFloat extracts a finite numeric value. NaN and infinities are treated as
// missing so they never reach a detector.
func getFloat(root map[string]interface{}, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := root[key]
		if !ok {
			continue
		}
		var f float64
		switch val := v.(type) {
		case float64:
			f = val
		case int:
			f = float64(val)
		case json.Number:
			parsed, err := val.Float64()
			if err != nil {
				continue
			}
			f = parsed
		default:
			continue
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		return f, true
	}
	return 0, false
}

func getStringSlice(root map[string]interface{}, keys ...string) []string {
	for _, key := range keys {
		v, ok := root[key]
		if !ok {
			continue
		}
		items, ok := v.([]interface{})
		if !ok {
			continue
		}
		out := make([]string, 0, len(items))
		seen := make(map[string]struct{}, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				continue
			}
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
		if len(out) > 0 {
			sort.Strings(out)
			return out
		}
	}
	return nil
}
