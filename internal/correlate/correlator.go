package correlate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/window"
	"fleetwatch/pkg/models"
)

// Config controls group admission and escalation.
type Config struct {
	// AdmissionThreshold is the minimum top anomaly score an info-level group
	// needs to survive the noise filter.
	AdmissionThreshold float64
	// EscalationCount is how many medium members in one group bump the
	// aggregate severity a level. Catches slow-burn degradations no single
	// event would flag.
	EscalationCount int
}

// Correlator clusters the members of one closed window into incident
// candidates.
type Correlator struct {
	cfg Config
}

// NewCorrelator creates a correlator.
func NewCorrelator(cfg Config) *Correlator {
	if cfg.AdmissionThreshold <= 0 {
		cfg.AdmissionThreshold = 0.5
	}
	if cfg.EscalationCount <= 0 {
		cfg.EscalationCount = 3
	}
	return &Correlator{cfg: cfg}
}

// Correlate produces zero or more candidates from a closed window. The same
// closed window always yields identical candidates: members are re-sorted by
// timestamp regardless of arrival order and correlation IDs are derived, not
// generated.
func (c *Correlator) Correlate(w *window.Window) []models.Candidate {
	if w == nil || len(w.Members) == 0 {
		return nil
	}

	members := make([]models.ScoredEvent, 0, len(w.Members))
	for i := range w.Members {
		ev := w.Members[i]
		if ev.EventID == "" || ev.Timestamp.IsZero() {
			// Malformed members are excluded, never fatal for the window.
			logger.Warnf("Excluding malformed member from window %s", w.Key)
			continue
		}
		members = append(members, ev)
	}
	if len(members) == 0 {
		return nil
	}

	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Timestamp.Equal(members[j].Timestamp) {
			return members[i].EventID < members[j].EventID
		}
		return members[i].Timestamp.Before(members[j].Timestamp)
	})

	groups := groupByTags(members)

	out := make([]models.Candidate, 0, len(groups))
	for _, g := range groups {
		severity := aggregateSeverity(g, c.cfg.EscalationCount)

		if topScore(g) < c.cfg.AdmissionThreshold && severity == models.SeverityInfo {
			continue
		}

		out = append(out, c.buildCandidate(w, g, severity))
	}
	return out
}

// groupByTags unions members that share at least one correlation tag. All
// members of a window already share asset and category through the window
// key; untagged members therefore collapse into a single group.
func groupByTags(members []models.ScoredEvent) [][]models.ScoredEvent {
	parent := make([]int, len(members))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			if rb < ra {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	tagOwner := make(map[string]int)
	untagged := -1
	for i, ev := range members {
		if len(ev.CorrelationTags) == 0 {
			if untagged == -1 {
				untagged = i
			} else {
				union(untagged, i)
			}
			continue
		}
		for _, tag := range ev.CorrelationTags {
			if owner, ok := tagOwner[tag]; ok {
				union(owner, i)
			} else {
				tagOwner[tag] = i
			}
		}
	}

	byRoot := make(map[int][]models.ScoredEvent)
	order := make([]int, 0, 4)
	for i := range members {
		root := find(i)
		if _, seen := byRoot[root]; !seen {
			order = append(order, root)
		}
		byRoot[root] = append(byRoot[root], members[i])
	}

	// Members are timestamp-sorted, so roots in first-seen order tie-break
	// groups by their earliest member.
	groups := make([][]models.ScoredEvent, 0, len(order))
	for _, root := range order {
		groups = append(groups, byRoot[root])
	}
	return groups
}

func aggregateSeverity(group []models.ScoredEvent, escalationCount int) models.Severity {
	agg := models.SeverityInfo
	mediums := 0
	for _, ev := range group {
		agg = models.MaxSeverity(agg, ev.SeverityHint)
		if ev.SeverityHint == models.SeverityMedium {
			mediums++
		}
	}
	if mediums >= escalationCount {
		agg = agg.Escalate()
	}
	return agg
}

func topScore(group []models.ScoredEvent) float64 {
	top := 0.0
	for _, ev := range group {
		if ev.AnomalyScore > top {
			top = ev.AnomalyScore
		}
	}
	return top
}

func (c *Correlator) buildCandidate(w *window.Window, group []models.ScoredEvent, severity models.Severity) models.Candidate {
	summaries := make([]models.EventSummary, 0, len(group))
	ids := make([]string, 0, len(group))
	tagSet := make(map[string]struct{})
	late := w.LateArrival
	trace := ""
	traceShared := true

	for i := range group {
		ev := &group[i]
		summaries = append(summaries, ev.Summary())
		ids = append(ids, ev.EventID)
		for _, t := range ev.CorrelationTags {
			tagSet[t] = struct{}{}
		}
		if ev.LateArrival {
			late = true
		}
		if ev.TraceID != "" {
			if trace == "" {
				trace = ev.TraceID
			} else if trace != ev.TraceID {
				traceShared = false
			}
		}
	}
	if !traceShared {
		trace = ""
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	return models.Candidate{
		CorrelationID: correlationID(w.Key, ids),
		WindowKey:     w.Key,
		AssetID:       group[0].AssetID,
		Category:      group[0].Category,
		Severity:      severity,
		Tags:          tags,
		TraceID:       trace,
		Members:       group,
		Summaries:     summaries,
		LateArrival:   late,
	}
}

// correlationID hashes the window key plus the sorted member IDs so that
// re-running a closed window reproduces the same ID.
func correlationID(windowKey string, eventIDs []string) string {
	sorted := make([]string, len(eventIDs))
	copy(sorted, eventIDs)
	sort.Strings(sorted)
	sum := xxhash.Sum64String(windowKey + "\x00" + strings.Join(sorted, "\x00"))
	return fmt.Sprintf("corr-%016x", sum)
}
