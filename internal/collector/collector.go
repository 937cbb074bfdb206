package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/store"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

const (
	// DefaultSampleInterval is how often the collector polls mirador-core
	// when no interval is configured.
	DefaultSampleInterval = 10 * time.Second

	// DefaultBaselineWindow bounds the history fetched to warm baselines at
	// startup.
	DefaultBaselineWindow = time.Hour

	pollFailureBackoff = 2 * time.Second
)

// MetricSource supplies current and historical metric data. *repo.CoreClient
// satisfies it.
type MetricSource interface {
	GetMetricSummary(ctx context.Context) (map[string]models.MetricPoint, error)
	GetMetricHistory(ctx context.Context, name string, window time.Duration) ([]models.MetricSample, error)
}

// Collector polls a MetricSource on a fixed interval and appends each sample
// to the metric store. Detection quality depends on a steady sample cadence,
// so the interval is explicit and validated rather than defaulted silently.
type Collector struct {
	source         MetricSource
	store          *store.MetricStore
	interval       time.Duration
	baselineWindow time.Duration
	logger         *slog.Logger
	latency        *utils.LatencyTracker

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Collector. interval must be positive.
func New(source MetricSource, metricStore *store.MetricStore, interval time.Duration, logger *slog.Logger) (*Collector, error) {
	if source == nil {
		return nil, fmt.Errorf("metric source is required")
	}
	if metricStore == nil {
		return nil, fmt.Errorf("metric store is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sample interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		source:         source,
		store:          metricStore,
		interval:       interval,
		baselineWindow: DefaultBaselineWindow,
		logger:         logger,
		latency:        utils.NewLatencyTracker(512),
	}, nil
}

// Warmup pulls recent history for every metric the source currently reports
// and recomputes baselines, so anomaly scoring has context before the first
// live sample. Failures per metric are logged and skipped.
func (c *Collector) Warmup(ctx context.Context, minSamples int) error {
	summary, err := c.source.GetMetricSummary(ctx)
	if err != nil {
		return fmt.Errorf("warmup summary: %w", err)
	}

	for name := range summary {
		samples, err := c.source.GetMetricHistory(ctx, name, c.baselineWindow)
		if err != nil {
			c.logger.Warn("warmup history fetch failed",
				slog.String("metric", name),
				slog.String("error", err.Error()))
			continue
		}
		for _, sample := range samples {
			c.store.Append(sample)
		}
	}

	warmed := c.store.WarmupBaselines(minSamples)
	c.logger.Info("baseline warmup complete",
		slog.Int("metrics", len(summary)),
		slog.Int("baselines", warmed))
	return nil
}

// Start launches the polling loop. It is a no-op if already running.
func (c *Collector) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx)

	c.logger.Info("collector started", slog.Duration("interval", c.interval))
}

// Stop halts the polling loop and waits for the in-flight poll to finish.
func (c *Collector) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	c.logger.Info("collector stopped")
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Poll(ctx); err != nil {
				c.logger.Warn("metric poll failed", slog.String("error", err.Error()))
				select {
				case <-ctx.Done():
					return
				case <-time.After(pollFailureBackoff):
				}
			}
		}
	}
}

// Poll fetches the current metric summary once and appends every point to the
// store with a shared timestamp.
func (c *Collector) Poll(ctx context.Context) error {
	start := time.Now()
	summary, err := c.source.GetMetricSummary(ctx)
	if err != nil {
		return err
	}
	c.latency.Observe(time.Since(start))
	if count := c.latency.Count(); count >= 20 && count%20 == 0 {
		c.logger.Info("poll latency",
			slog.Duration("p95", c.latency.Percentile(95)), slog.Int("samples", count))
	}

	now := time.Now().UTC()
	for name, point := range summary {
		c.store.Append(models.MetricSample{
			Name:      name,
			Timestamp: now,
			Value:     point.Value,
			Status:    point.Status,
		})
	}
	return nil
}
