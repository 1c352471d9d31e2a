package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"voxlate/internal/models"
)

// Handler processes one job. It is called with the job ID exactly as it
// was enqueued and must tolerate being called for a job that is no longer
// Queued.
type Handler func(ctx context.Context, jobID string) error

// QueuedLister finds jobs persisted in a given status.
type QueuedLister interface {
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.TranslationJob, error)
}

// Config holds pool settings
type Config struct {
	Concurrency  int           // number of worker goroutines
	QueueSize    int           // in-memory queue capacity
	PollInterval time.Duration // recovery poll interval, 0 disables polling
}

// Worker runs jobs from an in-memory queue on a fixed number of goroutines.
// Delivery is at least once: a poller re-enqueues jobs still stored as
// Queued, which covers restarts and a full queue.
type Worker struct {
	handler Handler
	lister  QueuedLister
	cfg     Config
	logger  *slog.Logger

	queue chan string
	stop  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{} // enqueued or running

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a worker pool. lister may be nil to disable recovery polling.
func New(handler Handler, lister QueuedLister, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		handler: handler,
		lister:  lister,
		cfg:     cfg,
		logger:  logger.With("component", "worker"),
		queue:   make(chan string, cfg.QueueSize),
		stop:    make(chan struct{}),
		pending: make(map[string]struct{}),
	}
}

// Start launches the worker goroutines and the recovery poller
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		for i := 1; i <= w.cfg.Concurrency; i++ {
			w.wg.Add(1)
			go w.run(ctx, i)
		}
		if w.lister != nil && w.cfg.PollInterval > 0 {
			w.wg.Add(1)
			go w.pollLoop(ctx)
		}
		w.logger.Info("worker started", "concurrency", w.cfg.Concurrency, "queue_size", w.cfg.QueueSize)
	})
}

// Stop stops accepting work and waits for running jobs to finish
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// Enqueue schedules a job without blocking. It returns false when the job
// is already pending or the queue is full; the poller picks up the latter.
func (w *Worker) Enqueue(jobID string) bool {
	select {
	case <-w.stop:
		return false
	default:
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.pending[jobID]; ok {
		return false
	}
	select {
	case w.queue <- jobID:
		w.pending[jobID] = struct{}{}
		return true
	default:
		w.logger.Warn("queue full, job left for recovery poll", "job_id", jobID)
		return false
	}
}

// Pending returns the number of jobs enqueued or running
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Worker) run(ctx context.Context, id int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case jobID := <-w.queue:
			w.process(ctx, id, jobID)
		}
	}
}

func (w *Worker) process(ctx context.Context, workerID int, jobID string) {
	defer func() {
		w.mu.Lock()
		delete(w.pending, jobID)
		w.mu.Unlock()
	}()

	start := time.Now()
	if err := w.safeRun(ctx, jobID); err != nil {
		w.logger.Error("job attempt failed", "worker", workerID, "job_id", jobID,
			"elapsed", time.Since(start), "error", err)
		return
	}
	w.logger.Debug("job attempt finished", "worker", workerID, "job_id", jobID, "elapsed", time.Since(start))
}

func (w *Worker) safeRun(ctx context.Context, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			w.logger.Error("job handler panicked", "job_id", jobID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return w.handler(ctx, jobID)
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll enqueues stored Queued jobs, highest priority first.
func (w *Worker) poll(ctx context.Context) int {
	jobs, err := w.lister.ListByStatus(ctx, models.StatusQueued, w.cfg.QueueSize)
	if err != nil {
		w.logger.Error("failed to list queued jobs", "error", err)
		return 0
	}

	n := 0
	for _, job := range jobs {
		if w.Enqueue(job.ID) {
			n++
		}
	}
	if n > 0 {
		w.logger.Info("recovered queued jobs", "count", n)
	}
	return n
}
