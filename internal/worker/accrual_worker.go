// Package worker runs the background schedulers of the ledger service.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/service"
)

const defaultAccrualInterval = time.Minute

// Accruer runs one accrual pass over every eligible user
type Accruer interface {
	AccrueAll(ctx context.Context, now time.Time) (*service.AccrualSummary, error)
}

// AccrualWorker triggers profit accrual on a fixed interval, once at start and
// then on every tick. Catch-up limits live in the accrual engine, so a missed
// tick only delays profit.
type AccrualWorker struct {
	accruer  Accruer
	interval time.Duration
	clock    func() time.Time
	logger   *logging.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stats   AccrualWorkerStats
}

// AccrualWorkerStats reports the outcome of recent passes
type AccrualWorkerStats struct {
	Running     bool                    `json:"running"`
	Runs        int                     `json:"runs"`
	LastRunAt   time.Time               `json:"lastRunAt"`
	LastSummary *service.AccrualSummary `json:"lastSummary,omitempty"`
	LastError   string                  `json:"lastError,omitempty"`
}

// NewAccrualWorker creates a new accrual worker
func NewAccrualWorker(accruer Accruer, interval time.Duration, logger *logging.Logger) (*AccrualWorker, error) {
	if accruer == nil {
		return nil, fmt.Errorf("accruer cannot be nil")
	}
	if interval <= 0 {
		interval = defaultAccrualInterval
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &AccrualWorker{
		accruer:  accruer,
		interval: interval,
		clock:    time.Now,
		logger:   logger.Component("accrual_worker"),
	}, nil
}

// Start runs one pass immediately and then one per interval
func (w *AccrualWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("accrual worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.WithField("interval", w.interval.String()).Info("starting accrual worker")
	go w.loop(ctx)
	return nil
}

// Stop signals the loop and waits for the current pass to finish
func (w *AccrualWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("accrual worker is not running")
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		w.logger.Info("accrual worker stopped gracefully")
	case <-ctx.Done():
		w.logger.Warn("accrual worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *AccrualWorker) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single accrual pass and records its outcome
func (w *AccrualWorker) RunOnce(ctx context.Context) {
	now := w.clock()
	summary, err := w.accruer.AccrueAll(ctx, now)

	w.mu.Lock()
	w.stats.Runs++
	w.stats.LastRunAt = now
	w.stats.LastSummary = summary
	w.stats.LastError = ""
	if err != nil {
		w.stats.LastError = err.Error()
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.WithError(err).Error("accrual pass failed")
		return
	}
	if summary.Applied > 0 || summary.Failed > 0 {
		w.logger.WithFields(map[string]interface{}{
			"users":     summary.Users,
			"applied":   summary.Applied,
			"failed":    summary.Failed,
			"profitUSD": summary.ProfitUSD.String(),
		}).Info("accrual pass completed")
	}
}

// Stats returns a copy of the worker statistics
func (w *AccrualWorker) Stats() AccrualWorkerStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.stats
	s.Running = w.running
	return s
}
