package patterns

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// DefaultMineInterval paces the periodic mining pass.
const DefaultMineInterval = 10 * time.Minute

// HistorySource supplies the fault history to mine. *faults.Manager
// satisfies it.
type HistorySource interface {
	History() []models.FaultEvent
}

// Sink receives mined patterns. *classify.PatternRegistry satisfies it.
// Existing patterns are left alone so learned confidence survives.
type Sink interface {
	Register(pattern models.FaultPattern)
	Get(id string) (models.FaultPattern, bool)
}

// Runner periodically mines fault history and registers new patterns.
type Runner struct {
	logger   *slog.Logger
	miner    *Miner
	source   HistorySource
	sink     Sink
	interval time.Duration

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner constructs a mining loop.
func NewRunner(logger *slog.Logger, miner *Miner, source HistorySource, sink Sink, interval time.Duration) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if miner == nil {
		miner = NewMiner(logger)
	}
	if interval <= 0 {
		interval = DefaultMineInterval
	}
	return &Runner{
		logger:   logger,
		miner:    miner,
		source:   source,
		sink:     sink,
		interval: interval,
	}
}

// Start launches the mining loop. Idempotent.
func (r *Runner) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(loopCtx)
	r.logger.Info("pattern mining loop started", slog.Duration("interval", r.interval))
}

// Stop halts the loop and waits for the in-flight pass. Idempotent.
func (r *Runner) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil
	r.logger.Info("pattern mining loop stopped")
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.MineOnce()
		}
	}
}

// MineOnce performs a single mining pass, registering only patterns the sink
// has not seen.
func (r *Runner) MineOnce() int {
	mined := r.miner.Mine(r.source.History())
	registered := 0
	for _, pattern := range mined {
		if _, exists := r.sink.Get(pattern.ID); exists {
			continue
		}
		r.sink.Register(pattern)
		registered++
		r.logger.Info("mined fault pattern",
			slog.String("pattern_id", pattern.ID),
			slog.String("type", string(pattern.Type)),
			slog.Int("occurrences", pattern.Occurrences))
	}
	return registered
}
