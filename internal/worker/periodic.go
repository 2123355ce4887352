package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// periodic runs a task on a fixed interval until stopped
type periodic struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context)
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

func newPeriodic(name string, interval time.Duration, task func(ctx context.Context), logger *slog.Logger) *periodic {
	return &periodic{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background loop
func (w *periodic) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info(w.name+" started", "interval", w.interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background loop and waits for an in-flight run
func (w *periodic) Stop() error {
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

	w.logger.Info(w.name + " stopped")
	return nil
}

// IsRunning returns whether the loop is currently running
func (w *periodic) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *periodic) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.task(ctx)
		}
	}
}
