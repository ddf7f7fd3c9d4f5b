package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pokegambler-engine/internal/config"
	"github.com/pokegambler-engine/internal/engine"
	"github.com/pokegambler-engine/internal/registry"
)

// SweepWorker handles periodic expiry of matches that stalled in a
// non-terminal state
type SweepWorker struct {
	registry *registry.Registry
	engine   engine.Config
	config   *config.SweepConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSweepWorker creates a new sweep worker
func NewSweepWorker(
	reg *registry.Registry,
	engineCfg engine.Config,
	cfg *config.SweepConfig,
	logger *slog.Logger,
) *SweepWorker {
	return &SweepWorker{
		registry: reg,
		engine:   engineCfg,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background sweep process
func (w *SweepWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sweep worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sweep process
func (w *SweepWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sweep worker stopped")
	return nil
}

// run is the main worker loop
func (w *SweepWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweepAll(ctx)
		}
	}
}

// sweepAll expires every match whose last activity exceeds the timeout
// for its current state. Expiry refunds escrowed stakes and releases
// locks inside the match itself, so a crash mid-sweep loses nothing.
func (w *SweepWorker) sweepAll(ctx context.Context) {
	startTime := time.Now()
	views := w.registry.Snapshot()

	expiredCount := 0
	errorCount := 0

	for _, view := range views {
		if view.State.Terminal() {
			continue
		}
		timeout := w.engine.TimeoutFor(view.State)
		if time.Since(view.LastActivity) < timeout {
			continue
		}

		m, err := w.registry.Lookup(view.ID)
		if err != nil {
			// Terminated between snapshot and lookup.
			continue
		}
		if err := m.Expire(ctx); err != nil {
			w.logger.Error("failed to expire match",
				"match_id", view.ID,
				"state", view.State,
				"error", err,
			)
			errorCount++
		} else {
			w.logger.Info("expired stale match",
				"match_id", view.ID,
				"state", view.State,
				"idle", time.Since(view.LastActivity),
			)
			expiredCount++
		}
	}

	if expiredCount > 0 || errorCount > 0 {
		w.logger.Info("sweep cycle completed",
			"duration", time.Since(startTime),
			"expired", expiredCount,
			"errors", errorCount,
		)
	}
}

// IsRunning returns whether the worker is currently running
func (w *SweepWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sweep cycle (useful for manual triggers)
func (w *SweepWorker) RunOnce(ctx context.Context) {
	w.sweepAll(ctx)
}
