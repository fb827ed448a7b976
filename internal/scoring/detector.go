package scoring

import "math"

// madConsistency rescales MAD to be comparable with a standard deviation
// under a normal distribution.
const madConsistency = 0.6745

// Detector converts one observation plus the baseline history into an
// anomaly score in [0,1]. Detectors never mutate the baseline.
type Detector interface {
	Name() string
	Score(x float64, b *Baseline) (score, threshold float64)
}

// ZScoreDetector scores by standard deviations from the rolling mean.
type ZScoreDetector struct {
	ZCritical float64
}

func (d *ZScoreDetector) Name() string { return "zscore" }

func (d *ZScoreDetector) Score(x float64, b *Baseline) (float64, float64) {
	zCrit := d.ZCritical
	if zCrit <= 0 {
		zCrit = 3
	}
	mean := b.Mean()
	stddev := math.Sqrt(b.Variance())
	if stddev < 1e-9 {
		// No variance in the baseline: fall back to absolute deviation so a
		// flat series still flags a jump.
		return absoluteDeviationScore(x, mean), zCrit
	}
	z := math.Abs(x-mean) / stddev
	return clamp(z/zCrit, 0, 1), zCrit
}

// EWMADetector scores by deviation from the exponentially weighted mean.
type EWMADetector struct {
	Alpha float64
	K     float64
}

func (d *EWMADetector) Name() string { return "ewma" }

func (d *EWMADetector) Score(x float64, b *Baseline) (float64, float64) {
	k := d.K
	if k <= 0 {
		k = 3
	}
	mean, dev, ok := b.EWMA()
	if !ok {
		return 0, k
	}
	if dev < 1e-9 {
		return absoluteDeviationScore(x, mean), k
	}
	return clamp(math.Abs(x-mean)/(k*dev), 0, 1), k
}

// MADDetector scores by median absolute deviation, robust to outliers in the
// baseline itself.
type MADDetector struct {
	K float64
}

func (d *MADDetector) Name() string { return "mad" }

func (d *MADDetector) Score(x float64, b *Baseline) (float64, float64) {
	k := d.K
	if k <= 0 {
		k = 1
	}
	med := b.Median()
	mad := b.MAD()
	if mad < 1e-9 {
		return absoluteDeviationScore(x, med), k
	}
	robustZ := madConsistency * math.Abs(x-med) / mad
	return clamp(robustZ/k, 0, 1), k
}

// absoluteDeviationScore handles the zero-variance case: score by relative
// distance from the center instead of dividing by a vanishing spread.
func absoluteDeviationScore(x, center float64) float64 {
	scale := math.Abs(center)
	if scale < 1 {
		scale = 1
	}
	return clamp(math.Abs(x-center)/scale, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
