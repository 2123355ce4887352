package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/stone-miner/internal/config"
	"github.com/stone-miner/internal/metrics"
)

// Flushable writes cached state to durable storage
type Flushable interface {
	Flush(ctx context.Context) (int, error)
}

// Flusher periodically writes the write-back cache to the store. A failed
// flush is logged and retried on the next tick.
type Flusher struct {
	*periodic
	target Flushable
	logger *slog.Logger
}

// NewFlusher creates a new cache flusher
func NewFlusher(target Flushable, cfg *config.FlushConfig, logger *slog.Logger) *Flusher {
	f := &Flusher{
		target: target,
		logger: logger,
	}
	f.periodic = newPeriodic("cache flusher", cfg.Interval, f.RunOnce, logger)
	return f
}

// RunOnce performs a single flush
func (f *Flusher) RunOnce(ctx context.Context) {
	start := time.Now()
	n, err := f.target.Flush(ctx)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FlushesTotal.WithLabelValues("error").Inc()
		f.logger.Error("cache flush failed", "error", err)
		return
	}
	metrics.FlushesTotal.WithLabelValues("ok").Inc()
	if n > 0 {
		f.logger.Debug("cache flushed", "players", n, "duration", time.Since(start))
	}
}
