package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of periodic work
type Task func(ctx context.Context) error

// PeriodicWorker runs a task on a fixed interval until stopped
type PeriodicWorker struct {
	name     string
	interval time.Duration
	task     Task
	logger   *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	runs      int
	failures  int
	lastError error
}

// NewPeriodicWorker creates a worker that runs task every interval
func NewPeriodicWorker(name string, interval time.Duration, task Task, logger *zap.Logger) *PeriodicWorker {
	return &PeriodicWorker{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger,
	}
}

// Start runs the task once immediately, then on every tick
func (w *PeriodicWorker) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive", w.name)
	}

	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("%s already running", w.name)
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("Periodic worker started",
		zap.String("worker_name", w.name),
		zap.Duration("interval", w.interval))

	go w.loop(ctx, w.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight run to return
func (w *PeriodicWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.Lock()
	runs, failures := w.runs, w.failures
	w.mu.Unlock()
	w.logger.Info("Periodic worker stopped",
		zap.String("worker_name", w.name),
		zap.Int("runs", runs),
		zap.Int("failures", failures))
	return nil
}

// Name returns the worker name for identification
func (w *PeriodicWorker) Name() string {
	return w.name
}

// Stats returns run counters and the last error
func (w *PeriodicWorker) Stats() (runs, failures int, lastErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs, w.failures, w.lastError
}

func (w *PeriodicWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *PeriodicWorker) runOnce(ctx context.Context) {
	err := w.task(ctx)

	w.mu.Lock()
	w.runs++
	if err != nil {
		w.failures++
		w.lastError = err
	}
	w.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		w.logger.Error("Periodic task failed", zap.String("worker_name", w.name), zap.Error(err))
	}
}
