package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stone-miner/internal/config"
	"github.com/stone-miner/internal/metrics"
)

// Reconcilable applies passive accrual to players that may be idle
type Reconcilable interface {
	ListIdentities(ctx context.Context, after string, limit int) ([]string, error)
	Reconcile(ctx context.Context, playerID string) error
}

// Reconciler walks every player in fixed-size batches. Players within a
// batch run concurrently; batches run one after another.
type Reconciler struct {
	*periodic
	target      Reconcilable
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// CycleStats summarizes one reconciliation pass
type CycleStats struct {
	Processed int
	Failed    int
	Batches   int
}

// NewReconciler creates a new background reconciler
func NewReconciler(target Reconcilable, cfg *config.ReconcileConfig, logger *slog.Logger) *Reconciler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = batchSize
	}
	r := &Reconciler{
		target:      target,
		batchSize:   batchSize,
		concurrency: concurrency,
		logger:      logger,
	}
	r.periodic = newPeriodic("reconciler", cfg.Interval, func(ctx context.Context) { r.RunOnce(ctx) }, logger)
	return r
}

// RunOnce runs a single reconciliation cycle over all players
func (r *Reconciler) RunOnce(ctx context.Context) CycleStats {
	r.logger.Info("starting reconcile cycle")
	startTime := time.Now()

	var stats CycleStats
	after := ""
	for {
		ids, err := r.target.ListIdentities(ctx, after, r.batchSize)
		if err != nil {
			r.logger.Error("failed to list players for reconcile", "after", after, "error", err)
			break
		}
		if len(ids) == 0 {
			break
		}

		failed := r.reconcileBatch(ctx, ids)
		stats.Batches++
		stats.Processed += len(ids)
		stats.Failed += failed
		after = ids[len(ids)-1]

		if len(ids) < r.batchSize || ctx.Err() != nil {
			break
		}
	}

	r.logger.Info("reconcile cycle completed",
		"duration", time.Since(startTime),
		"processed", stats.Processed,
		"errors", stats.Failed,
		"batches", stats.Batches,
	)
	return stats
}

// reconcileBatch processes one batch concurrently. A failing player is
// logged and counted; it never cancels its siblings.
func (r *Reconciler) reconcileBatch(ctx context.Context, ids []string) int {
	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			if err := r.target.Reconcile(ctx, id); err != nil {
				failed.Add(1)
				metrics.ReconciledTotal.WithLabelValues("error").Inc()
				r.logger.Error("failed to reconcile player", "player_id", id, "error", err)
				return nil
			}
			metrics.ReconciledTotal.WithLabelValues("ok").Inc()
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}
