// Package scheduler runs the periodic follow-graph reconciliation sweep.
// The sweep repairs the derived FollowerIDs projections out of the hot
// path, so a partially failed follow never stays inconsistent forever.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reconciler defines the interface for the follow-graph repair pass.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Scheduler handles periodic reconciliation of the follow graph.
type Scheduler struct {
	reconciler Reconciler
	interval   time.Duration
	logger     *slog.Logger
	stopCh     chan struct{}
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex
}

// Config holds configuration for the reconciliation scheduler.
type Config struct {
	Interval time.Duration
}

// New creates a new reconciliation scheduler.
func New(reconciler Reconciler, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Minute
	}

	return &Scheduler{
		reconciler: reconciler,
		interval:   cfg.Interval,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("follow-graph reconciler started", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("follow-graph reconciler stopped")
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run after a short delay on start (to let the app initialize).
	select {
	case <-time.After(15 * time.Second):
		s.sweep(ctx)
	case <-s.stopCh:
		return
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	started := time.Now()
	repaired, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		s.logger.Error("follow-graph reconciliation failed", "error", err)
		return
	}
	if repaired > 0 {
		s.logger.Info("follow-graph reconciliation repaired records",
			"repaired", repaired, "duration", time.Since(started))
		return
	}
	s.logger.Debug("follow-graph reconciliation found no drift", "duration", time.Since(started))
}
