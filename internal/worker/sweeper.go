package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Maintainer expires and purges jobs.
type Maintainer interface {
	SweepExpired(ctx context.Context) (int, error)
	PurgeFinished(ctx context.Context, retention time.Duration) (int, error)
}

// ContentSweeper deletes stored content older than a cutoff.
type ContentSweeper interface {
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// SweeperConfig holds sweeper settings
type SweeperConfig struct {
	Interval  time.Duration
	Retention time.Duration // how long finished jobs are kept
	// ContentMaxAge removes artifacts no job references any more. Zero disables it.
	ContentMaxAge time.Duration
}

// SweepResult counts what one sweep removed
type SweepResult struct {
	Expired int
	Purged  int
	Files   int
}

// Sweeper periodically expires and purges jobs.
type Sweeper struct {
	jobs    Maintainer
	content ContentSweeper
	cfg     SweeperConfig
	logger  *slog.Logger
	now     func() time.Time

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSweeper creates a sweeper. content may be nil.
func NewSweeper(jobs Maintainer, content ContentSweeper, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		jobs:    jobs,
		content: content,
		cfg:     cfg,
		logger:  logger.With("component", "sweeper"),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// RunOnce performs one sweep. Every stage runs even if an earlier one
// failed; the errors are joined.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var errs []error

	n, err := s.jobs.SweepExpired(ctx)
	res.Expired = n
	errs = append(errs, err)

	if s.cfg.Retention > 0 {
		n, err = s.jobs.PurgeFinished(ctx, s.cfg.Retention)
		res.Purged = n
		errs = append(errs, err)
	}

	if s.content != nil && s.cfg.ContentMaxAge > 0 {
		n, err = s.content.Sweep(ctx, s.now().Add(-s.cfg.ContentMaxAge))
		res.Files = n
		errs = append(errs, err)
	}

	return res, errors.Join(errs...)
}

// Start runs the sweep on every tick until Stop or ctx is done
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				res, err := s.RunOnce(ctx)
				if err != nil {
					s.logger.Error("sweep failed", "error", err)
				}
				if res != (SweepResult{}) {
					s.logger.Info("sweep finished", "expired", res.Expired, "purged", res.Purged, "files", res.Files)
				}
			}
		}
	}()
	s.logger.Info("sweeper started", "interval", s.cfg.Interval, "retention", s.cfg.Retention)
}

// Stop stops the sweeper and waits for a running sweep
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}
