package scoring

import (
	"fleetwatch/pkg/models"
)

// Config controls scoring behavior.
type Config struct {
	Detector     string
	ZCritical    float64
	EWMAAlpha    float64
	EWMAK        float64
	MADK         float64
	MinBaseline  int
	BaselineSize int
	DefaultScore float64
}

// Scorer attaches anomaly scores to raw events. Baseline state is partitioned
// per asset+metric key; no cross-asset sharing.
type Scorer struct {
	cfg       Config
	detector  Detector
	baselines *BaselineStore
}

// NewScorer creates a scorer with the configured detector.
func NewScorer(cfg Config) *Scorer {
	if cfg.EWMAAlpha <= 0 || cfg.EWMAAlpha > 1 {
		cfg.EWMAAlpha = 0.3
	}
	if cfg.MinBaseline <= 0 {
		cfg.MinBaseline = 5
	}
	if cfg.BaselineSize <= 0 {
		cfg.BaselineSize = 64
	}
	if cfg.DefaultScore <= 0 {
		cfg.DefaultScore = 0.1
	}

	var detector Detector
	switch cfg.Detector {
	case "ewma":
		detector = &EWMADetector{Alpha: cfg.EWMAAlpha, K: cfg.EWMAK}
	case "mad":
		detector = &MADDetector{K: cfg.MADK}
	default:
		detector = &ZScoreDetector{ZCritical: cfg.ZCritical}
	}

	return &Scorer{
		cfg:       cfg,
		detector:  detector,
		baselines: NewBaselineStore(cfg.BaselineSize),
	}
}

// Score converts a raw event into a scored one. Events without a numeric
// observation pass through with a severity-hint-derived score; detector
// shortfalls (insufficient baseline) yield a low-confidence default rather
// than an error.
func (s *Scorer) Score(event *models.RawEvent) models.ScoredEvent {
	scored := models.ScoredEvent{RawEvent: *event}

	if event.ObservedValue == nil {
		scored.AnomalyScore = hintScore(event.SeverityHint)
		scored.DetectorName = "severity-hint"
		return scored
	}

	x := *event.ObservedValue
	key := event.AssetID + "/" + event.Category

	s.baselines.WithBaseline(key, func(b *Baseline) {
		if b.Count() < s.cfg.MinBaseline {
			scored.AnomalyScore = s.cfg.DefaultScore
			scored.DetectorName = s.detector.Name()
			scored.ThresholdUsed = 0
		} else {
			score, threshold := s.detector.Score(x, b)
			scored.AnomalyScore = score
			scored.DetectorName = s.detector.Name()
			scored.ThresholdUsed = threshold
		}
		b.update(x, s.cfg.EWMAAlpha)
	})

	return scored
}

func hintScore(hint models.Severity) float64 {
	switch hint {
	case models.SeverityCritical:
		return 0.9
	case models.SeverityHigh:
		return 0.7
	case models.SeverityMedium:
		return 0.5
	case models.SeverityLow:
		return 0.3
	default:
		return 0.1
	}
}
