package store

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// DefaultCapacity bounds the per-metric ring buffer.
const DefaultCapacity = 100

// MetricStore keeps a rolling window of samples per metric name plus an
// optional baseline computed from a warm-up window. Everything downstream
// (classifier, lifecycle manager, automation engine) reads from here.
type MetricStore struct {
	mu        sync.RWMutex
	capacity  int
	series    map[string]*ring
	baselines map[string]models.Baseline
}

// NewMetricStore creates a store with the given per-metric capacity.
func NewMetricStore(capacity int) *MetricStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MetricStore{
		capacity:  capacity,
		series:    make(map[string]*ring),
		baselines: make(map[string]models.Baseline),
	}
}

// Append records a sample, evicting the oldest when the buffer is full.
func (s *MetricStore) Append(sample models.MetricSample) {
	if sample.Name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.series[sample.Name]
	if !ok {
		r = newRing(s.capacity)
		s.series[sample.Name] = r
	}
	r.push(sample)
}

// Latest returns the most recent sample for the metric.
func (s *MetricStore) Latest(name string) (models.MetricSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[name]
	if !ok || r.len() == 0 {
		return models.MetricSample{}, false
	}
	return r.last(), true
}

// History returns samples for the metric within the trailing window, oldest first.
// A zero window returns the full buffer.
func (s *MetricStore) History(name string, window time.Duration) []models.MetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[name]
	if !ok {
		return nil
	}
	samples := r.snapshot()
	if window <= 0 {
		return samples
	}
	cutoff := time.Now().Add(-window)
	out := samples[:0:0]
	for _, sample := range samples {
		if !sample.Timestamp.Before(cutoff) {
			out = append(out, sample)
		}
	}
	return out
}

// Summary returns the latest value/status per metric name.
func (s *MetricStore) Summary() map[string]models.MetricPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := make(map[string]models.MetricPoint, len(s.series))
	for name, r := range s.series {
		if r.len() == 0 {
			continue
		}
		latest := r.last()
		summary[name] = models.MetricPoint{Value: latest.Value, Status: latest.Status}
	}
	return summary
}

// Names returns all metric names with at least one sample.
func (s *MetricStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.series))
	for name, r := range s.series {
		if r.len() > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Baseline returns the computed baseline for the metric, if any.
func (s *MetricStore) Baseline(name string) (models.Baseline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.baselines[name]
	return b, ok
}

// RecomputeBaseline derives the baseline from the metric's current window.
// Baselines never decay on their own; callers decide when to recompute.
func (s *MetricStore) RecomputeBaseline(name string) (models.Baseline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.series[name]
	if !ok || r.len() == 0 {
		return models.Baseline{}, false
	}
	b := computeBaseline(r.snapshot())
	s.baselines[name] = b
	return b, true
}

// WarmupBaselines computes baselines for every metric that has at least
// minSamples observations and no baseline yet.
func (s *MetricStore) WarmupBaselines(minSamples int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	computed := 0
	for name, r := range s.series {
		if _, ok := s.baselines[name]; ok {
			continue
		}
		if r.len() < minSamples {
			continue
		}
		s.baselines[name] = computeBaseline(r.snapshot())
		computed++
	}
	return computed
}

func computeBaseline(samples []models.MetricSample) models.Baseline {
	values := make([]float64, len(samples))
	for i, sample := range samples {
		values[i] = sample.Value
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	min, max := values[0], values[0]
	for _, v := range values {
		variance += (v - mean) * (v - mean)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	variance /= float64(len(values))

	return models.Baseline{
		Mean:   mean,
		StdDev: math.Sqrt(variance),
		Min:    min,
		Max:    max,
		P95:    percentile(values, 0.95),
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Round(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ring is a fixed-capacity sample buffer with oldest-first snapshots.
type ring struct {
	buf   []models.MetricSample
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]models.MetricSample, capacity)}
}

func (r *ring) push(sample models.MetricSample) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = sample
		r.count++
		return
	}
	r.buf[r.start] = sample
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int { return r.count }

func (r *ring) last() models.MetricSample {
	return r.buf[(r.start+r.count-1)%len(r.buf)]
}

func (r *ring) snapshot() []models.MetricSample {
	out := make([]models.MetricSample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
