package scoring

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const baselineShards = 16

// Baseline is the rolling statistical history for one asset+metric key. A
// baseline is mutated only by the scorer that owns its key.
type Baseline struct {
	samples  []float64
	maxSize  int
	ewma     float64
	ewmaDev  float64
	seeded   bool
	observed int
}

func newBaseline(maxSize int) *Baseline {
	return &Baseline{samples: make([]float64, 0, maxSize), maxSize: maxSize}
}

// Count returns how many observations the baseline has absorbed in total.
func (b *Baseline) Count() int {
	return b.observed
}

// Mean returns the arithmetic mean of the retained samples.
func (b *Baseline) Mean() float64 {
	if len(b.samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range b.samples {
		sum += v
	}
	return sum / float64(len(b.samples))
}

// Variance returns the population variance of the retained samples.
func (b *Baseline) Variance() float64 {
	if len(b.samples) == 0 {
		return 0
	}
	mean := b.Mean()
	acc := 0.0
	for _, v := range b.samples {
		d := v - mean
		acc += d * d
	}
	return acc / float64(len(b.samples))
}

// Median returns the sample median.
func (b *Baseline) Median() float64 {
	return median(b.samples)
}

// MAD returns the median absolute deviation of the retained samples.
func (b *Baseline) MAD() float64 {
	if len(b.samples) == 0 {
		return 0
	}
	med := b.Median()
	devs := make([]float64, len(b.samples))
	for i, v := range b.samples {
		d := v - med
		if d < 0 {
			d = -d
		}
		devs[i] = d
	}
	return median(devs)
}

// EWMA returns the exponentially weighted mean and deviation.
func (b *Baseline) EWMA() (mean, dev float64, ok bool) {
	return b.ewma, b.ewmaDev, b.seeded
}

// update absorbs one observation into the rolling window and EWMA state.
func (b *Baseline) update(x, alpha float64) {
	b.observed++
	if len(b.samples) == b.maxSize {
		copy(b.samples, b.samples[1:])
		b.samples[len(b.samples)-1] = x
	} else {
		b.samples = append(b.samples, x)
	}

	if !b.seeded {
		b.ewma = x
		b.ewmaDev = 0
		b.seeded = true
		return
	}
	diff := x - b.ewma
	if diff < 0 {
		diff = -diff
	}
	b.ewma = alpha*x + (1-alpha)*b.ewma
	b.ewmaDev = alpha*diff + (1-alpha)*b.ewmaDev
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// BaselineStore holds per-key baselines sharded to avoid a global lock.
type BaselineStore struct {
	shards [baselineShards]baselineShard
	size   int
}

type baselineShard struct {
	mu        sync.Mutex
	baselines map[string]*Baseline
}

// NewBaselineStore creates a store keeping up to size samples per key.
func NewBaselineStore(size int) *BaselineStore {
	if size <= 0 {
		size = 64
	}
	s := &BaselineStore{size: size}
	for i := range s.shards {
		s.shards[i].baselines = make(map[string]*Baseline)
	}
	return s
}

func (s *BaselineStore) shard(key string) *baselineShard {
	return &s.shards[xxhash.Sum64String(key)%baselineShards]
}

// WithBaseline runs fn with exclusive access to the baseline for key,
// creating it on first use.
func (s *BaselineStore) WithBaseline(key string, fn func(b *Baseline)) {
	shard := s.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	b := shard.baselines[key]
	if b == nil {
		b = newBaseline(s.size)
		shard.baselines[key] = b
	}
	fn(b)
}
