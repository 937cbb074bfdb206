package faults

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-heal/internal/classify"
	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/notify"
	"github.com/miradorstack/mirador-heal/internal/store"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

const (
	// DefaultTickInterval paces the detect/resolve loop.
	DefaultTickInterval = 10 * time.Second
	// DefaultHistorySize bounds the fault history buffer.
	DefaultHistorySize = 1000

	// healthyStreakTarget is the consecutive healthy-sample count that resolves
	// a service-unavailable fault.
	healthyStreakTarget = 3
	// performanceRecoveryRatio resolves degradation once the metric drops below
	// this share of its threshold.
	performanceRecoveryRatio = 0.8
	// resourceRecoveryRatio resolves exhaustion once usage drops below this
	// share of its threshold.
	resourceRecoveryRatio = 0.7

	// tickFailureBackoff delays the next iteration after a failed tick body.
	tickFailureBackoff = 2 * time.Second
)

// Subscriber receives every newly created FaultEvent. Invoked synchronously on
// the detection tick, so implementations must hand off long work.
type Subscriber func(models.FaultEvent)

// Manager owns the fault lifecycle: deduplication, root-cause attribution,
// recovery-action generation, resolution, and the periodic detect/resolve loop.
// It is the only writer of the active-fault map and fault history.
type Manager struct {
	logger     *slog.Logger
	store      *store.MetricStore
	classifier *classify.Classifier
	notifier   notify.Notifier
	tick       time.Duration
	latencies  *utils.LatencyTracker

	mu          sync.RWMutex
	active      map[models.FaultKey]*models.FaultEvent
	history     []*models.FaultEvent
	historyCap  int
	subscribers []Subscriber
	// patternIDs remembers which pattern produced an active fault so
	// resolution can feed the confidence EMA.
	patternIDs map[string]string

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager constructs a lifecycle manager.
func NewManager(logger *slog.Logger, metricStore *store.MetricStore, classifier *classify.Classifier, notifier notify.Notifier) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Manager{
		logger:     logger,
		store:      metricStore,
		classifier: classifier,
		notifier:   notifier,
		tick:       DefaultTickInterval,
		latencies:  utils.NewLatencyTracker(1024),
		active:     make(map[models.FaultKey]*models.FaultEvent),
		historyCap: DefaultHistorySize,
		patternIDs: make(map[string]string),
	}
}

// SetTickInterval overrides the loop interval. Must be called before Start.
func (m *Manager) SetTickInterval(d time.Duration) {
	if d > 0 {
		m.tick = d
	}
}

// SetHistorySize overrides the fault history bound. Must be called before Start.
func (m *Manager) SetHistorySize(n int) {
	if n > 0 {
		m.historyCap = n
	}
}

// Subscribe registers a fault observer. All subscribers see every new fault.
func (m *Manager) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Start launches the periodic detect/resolve loop. Idempotent.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(loopCtx)
	m.logger.Info("fault lifecycle loop started", slog.Duration("interval", m.tick))
}

// Stop cancels the loop and waits for the current tick to finish. Idempotent.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
	m.logger.Info("fault lifecycle loop stopped")
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok := m.safeTick(ctx); !ok {
				select {
				case <-ctx.Done():
					return
				case <-time.After(tickFailureBackoff):
				}
			}
		}
	}
}

// safeTick runs one detect+resolve iteration. A panic is contained so the next
// iteration proceeds normally.
func (m *Manager) safeTick(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("detection tick panicked", slog.Any("panic", r))
			ok = false
		}
	}()

	start := time.Now()
	m.DetectTick(ctx)
	m.ResolveTick(time.Now())
	duration := time.Since(start)

	m.latencies.Observe(duration)
	metrics.ObserveDetectionTick(duration)
	if count := m.latencies.Count(); count >= 20 && count%20 == 0 {
		m.logger.Info("detection tick latency",
			slog.Duration("p95", m.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return true
}

// DetectTick runs the classifier strategies and files each candidate. All
// candidates of one tick are deduplicated against a single consistent view of
// the active map: creation is serialised under the manager lock.
func (m *Manager) DetectTick(ctx context.Context) {
	for _, candidate := range m.classifier.Detect(ctx) {
		m.CreateFault(ctx, candidate)
	}
}

// CreateFault files a candidate as a FaultEvent unless an active fault already
// holds the same (type, service) key. Returns the event and whether it is new.
func (m *Manager) CreateFault(ctx context.Context, candidate classify.Candidate) (models.FaultEvent, bool) {
	key := models.FaultKey{Type: candidate.Type, Service: candidate.Service}

	m.mu.Lock()
	if existing, ok := m.active[key]; ok {
		m.mu.Unlock()
		return *existing, false
	}

	event := &models.FaultEvent{
		FaultID:          "fault-" + uuid.NewString(),
		Type:             candidate.Type,
		Severity:         candidate.Severity,
		ServiceName:      candidate.Service,
		Description:      candidate.Description,
		DetectedAt:       time.Now().UTC(),
		RootCause:        deriveRootCause(candidate, m.store),
		AffectedServices: append([]string(nil), candidate.AffectedServices...),
		Metrics:          copyMetrics(candidate.Metrics),
		RecoveryActions:  recoveryActions(candidate.Type, candidate.Severity),
	}

	m.active[key] = event
	m.appendHistory(event)
	if candidate.PatternID != "" {
		m.patternIDs[event.FaultID] = candidate.PatternID
	}
	subscribers := append([]Subscriber(nil), m.subscribers...)
	m.mu.Unlock()

	m.logger.Warn("fault detected",
		slog.String("fault_id", event.FaultID),
		slog.String("type", string(event.Type)),
		slog.String("severity", string(event.Severity)),
		slog.String("service", event.ServiceName),
		slog.String("root_cause", event.RootCause),
	)
	metrics.FaultDetected(string(event.Type), string(event.Severity))
	metrics.SetActiveFaults(m.activeCount())

	for _, fn := range subscribers {
		fn(*event)
	}

	m.sendNotification(ctx,
		fmt.Sprintf("Fault detected: %s", event.Type),
		fmt.Sprintf("%s on %s: %s", event.Severity, event.ServiceName, event.Description),
		notify.PriorityForSeverity(event.Severity),
	)
	return *event, true
}

// ResolveTick checks every active fault against its type-specific resolution
// criteria and resolves the ones that recovered.
func (m *Manager) ResolveTick(now time.Time) {
	m.mu.Lock()
	resolved := make([]*models.FaultEvent, 0)
	for key, event := range m.active {
		resolvedAt, ok := m.resolutionTime(event, now)
		if !ok {
			continue
		}
		m.finishLocked(event, resolvedAt)
		delete(m.active, key)
		resolved = append(resolved, event)
	}
	m.mu.Unlock()

	for _, event := range resolved {
		m.afterResolution(event)
	}
}

// ResolveFault manually resolves a fault by ID. Cascade and configuration
// faults have no automatic criteria and are closed through this path.
func (m *Manager) ResolveFault(faultID string) (models.FaultEvent, error) {
	m.mu.Lock()
	var target *models.FaultEvent
	var targetKey models.FaultKey
	for key, event := range m.active {
		if event.FaultID == faultID {
			target = event
			targetKey = key
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return models.FaultEvent{}, fmt.Errorf("no active fault with id %s", faultID)
	}
	m.finishLocked(target, time.Now().UTC())
	delete(m.active, targetKey)
	m.mu.Unlock()

	m.afterResolution(target)
	return *target, nil
}

// resolutionTime reports when the fault's recovery criteria were met.
func (m *Manager) resolutionTime(event *models.FaultEvent, now time.Time) (time.Time, bool) {
	switch event.Type {
	case models.FaultServiceUnavailable:
		return m.healthyStreakEnd(event)
	case models.FaultPerformanceDegradation:
		return m.metricsBelow(event, performanceRecoveryRatio)
	case models.FaultResourceExhaustion:
		return m.metricsBelow(event, resourceRecoveryRatio)
	default:
		// Cascade and configuration faults wait for manual resolution.
		return time.Time{}, false
	}
}

// healthyStreakEnd looks for three consecutive healthy samples on the service's
// health metric recorded after detection, returning the timestamp of the last.
func (m *Manager) healthyStreakEnd(event *models.FaultEvent) (time.Time, bool) {
	history := m.store.History(classify.HealthMetric(event.ServiceName), 0)
	streak := 0
	var end time.Time
	for _, sample := range history {
		if sample.Timestamp.Before(event.DetectedAt) {
			continue
		}
		if sample.Status == models.StatusHealthy {
			streak++
			end = sample.Timestamp
			if streak >= healthyStreakTarget {
				return end, true
			}
		} else {
			streak = 0
		}
	}
	return time.Time{}, false
}

// metricsBelow reports recovery when every thresholded metric recorded on the
// fault is back under ratio*threshold. The latest such sample's timestamp is
// the resolution instant.
func (m *Manager) metricsBelow(event *models.FaultEvent, ratio float64) (time.Time, bool) {
	checked := 0
	var latest time.Time
	for metric := range event.Metrics {
		limit, ok := classify.ResourceThresholds[metric]
		if !ok {
			continue
		}
		sample, ok := m.store.Latest(metric)
		if !ok {
			return time.Time{}, false
		}
		if sample.Value >= limit*ratio {
			return time.Time{}, false
		}
		checked++
		if sample.Timestamp.After(latest) {
			latest = sample.Timestamp
		}
	}
	if checked == 0 {
		return time.Time{}, false
	}
	return latest, true
}

func (m *Manager) finishLocked(event *models.FaultEvent, resolvedAt time.Time) {
	if resolvedAt.Before(event.DetectedAt) {
		resolvedAt = event.DetectedAt
	}
	at := resolvedAt
	event.ResolvedAt = &at
	event.ResolutionTime = resolvedAt.Sub(event.DetectedAt)
}

func (m *Manager) afterResolution(event *models.FaultEvent) {
	m.logger.Info("fault resolved",
		slog.String("fault_id", event.FaultID),
		slog.String("type", string(event.Type)),
		slog.String("service", event.ServiceName),
		slog.Duration("resolution_time", event.ResolutionTime),
	)
	metrics.FaultResolved(string(event.Type))
	metrics.SetActiveFaults(m.activeCount())

	m.mu.Lock()
	patternID, ok := m.patternIDs[event.FaultID]
	if ok {
		delete(m.patternIDs, event.FaultID)
	}
	m.mu.Unlock()
	if ok {
		m.classifier.Patterns().UpdateConfidence(patternID, 1.0)
	}

	m.sendNotification(context.Background(),
		fmt.Sprintf("Fault resolved: %s", event.Type),
		fmt.Sprintf("%s on %s recovered after %s", event.Type, event.ServiceName, event.ResolutionTime),
		notify.PriorityNormal,
	)
}

func (m *Manager) sendNotification(ctx context.Context, title, message string, priority notify.Priority) {
	if err := m.notifier.Notify(ctx, title, message, priority, nil); err != nil {
		// Alerting must never block fault handling.
		m.logger.Warn("notification delivery failed", slog.Any("error", err))
	}
}

func (m *Manager) appendHistory(event *models.FaultEvent) {
	m.history = append(m.history, event)
	if len(m.history) > m.historyCap {
		m.history = m.history[len(m.history)-m.historyCap:]
	}
}

// ActiveFaults returns copies of the currently unresolved faults.
func (m *Manager) ActiveFaults() []models.FaultEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.FaultEvent, 0, len(m.active))
	for _, event := range m.active {
		out = append(out, *event)
	}
	return out
}

// History returns copies of all recorded faults, oldest first. Includes both
// resolved and still-active events.
func (m *Manager) History() []models.FaultEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.FaultEvent, 0, len(m.history))
	for _, event := range m.history {
		out = append(out, *event)
	}
	return out
}

// ActiveFault looks up the active fault for a (type, service) key.
func (m *Manager) ActiveFault(key models.FaultKey) (models.FaultEvent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	event, ok := m.active[key]
	if !ok {
		return models.FaultEvent{}, false
	}
	return *event, true
}

func (m *Manager) activeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Statistics summarises lifecycle history.
func (m *Manager) Statistics() models.FaultStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.FaultStatistics{
		Total:      len(m.history),
		Active:     len(m.active),
		ByType:     make(map[models.FaultType]int),
		BySeverity: make(map[models.Severity]int),
	}

	var totalResolution time.Duration
	for _, event := range m.history {
		stats.ByType[event.Type]++
		stats.BySeverity[event.Severity]++
		if event.Resolved() {
			stats.Resolved++
			totalResolution += event.ResolutionTime
		}
	}
	if stats.Total > 0 {
		stats.ResolutionRate = float64(stats.Resolved) / float64(stats.Total)
	}
	if stats.Resolved > 0 {
		stats.AvgResolutionTime = totalResolution / time.Duration(stats.Resolved)
	}
	return stats
}

func copyMetrics(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
