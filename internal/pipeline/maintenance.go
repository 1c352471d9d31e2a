package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voxlate/internal/models"
)

// casAttempts bounds retries of a conditional write that lost a race with
// a concurrent status change.
const casAttempts = 3

// purgeBatch is the page size used when purging finished jobs.
const purgeBatch = 100

// mutate loads the job, applies change and writes it back conditionally on
// the status it was loaded with. change returns false to leave the job
// untouched. A nil job means it does not exist.
func (o *Orchestrator) mutate(ctx context.Context, jobID string, change func(*models.TranslationJob) bool) (*models.TranslationJob, bool, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		job, err := o.jobs.GetByID(ctx, jobID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load job %s: %w", jobID, err)
		}
		if job == nil {
			return nil, false, nil
		}
		prev := job.Status
		if !change(job) {
			return job, false, nil
		}
		err = o.save(ctx, job, prev)
		if err == nil {
			return job, true, nil
		}
		if !errors.Is(err, errStopped) {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("job %s kept changing, gave up after %d attempts", jobID, casAttempts)
}

// Cancel stops a job that has not reached a terminal status. It returns
// false when the job does not exist or can no longer be cancelled. A step
// already running for the job finishes its provider call, but its result
// is discarded.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (bool, error) {
	_, changed, err := o.mutate(ctx, jobID, func(job *models.TranslationJob) bool {
		return job.Cancel()
	})
	if err != nil {
		return false, err
	}
	if changed {
		o.logger.Info("job cancelled", "job_id", jobID)
	}
	return changed, nil
}

// Retry moves a Failed job back to Queued. The caller is responsible for
// enqueueing it again; processing restarts from the first step.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*models.TranslationJob, bool, error) {
	job, changed, err := o.mutate(ctx, jobID, func(job *models.TranslationJob) bool {
		return job.ResetForRetry() == nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		o.logger.Info("job queued for retry", "job_id", jobID, "retry_count", job.RetryCount)
	}
	return job, changed, nil
}

// Refresh returns the current job, first moving it to Expired if its TTL
// has passed and it never completed. A missing job is nil.
func (o *Orchestrator) Refresh(ctx context.Context, jobID string) (*models.TranslationJob, error) {
	now := o.now()
	job, changed, err := o.mutate(ctx, jobID, func(job *models.TranslationJob) bool {
		if job.Status == models.StatusCompleted || !job.IsExpired(now) {
			return false
		}
		return job.Expire()
	})
	if err != nil {
		return nil, err
	}
	if changed {
		o.logger.Info("job expired on query", "job_id", jobID)
	}
	return job, nil
}

// SweepExpired moves every job past its TTL to Expired and deletes its
// artifacts. Failures on one job or file are logged and skipped.
func (o *Orchestrator) SweepExpired(ctx context.Context) (int, error) {
	expired, err := o.jobs.ListExpired(ctx, o.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired jobs: %w", err)
	}

	count := 0
	for _, job := range expired {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		prev := job.Status
		if !job.Expire() {
			continue
		}
		if err := o.save(ctx, job, prev); err != nil {
			if !errors.Is(err, errStopped) {
				o.logger.Warn("failed to expire job", "job_id", job.ID, "error", err)
			}
			continue
		}
		o.deleteArtifacts(ctx, job)
		count++
	}

	if count > 0 {
		o.logger.Info("expired jobs swept", "count", count)
	}
	return count, nil
}

// PurgeFinished deletes terminal jobs, and their artifacts, that finished
// more than retention ago.
func (o *Orchestrator) PurgeFinished(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := o.now().Add(-retention)
	purged := 0
	for {
		batch, err := o.jobs.ListFinishedBefore(ctx, cutoff, purgeBatch)
		if err != nil {
			return purged, fmt.Errorf("failed to list finished jobs: %w", err)
		}

		deleted := 0
		for _, job := range batch {
			if err := ctx.Err(); err != nil {
				return purged, err
			}
			o.deleteArtifacts(ctx, job)
			if err := o.jobs.Delete(ctx, job.ID); err != nil {
				o.logger.Warn("failed to delete job", "job_id", job.ID, "error", err)
				continue
			}
			deleted++
		}
		purged += deleted

		// a short page is the last one; a page with no progress would repeat forever
		if len(batch) < purgeBatch || deleted == 0 {
			break
		}
	}

	if purged > 0 {
		o.logger.Info("finished jobs purged", "count", purged, "retention", retention)
	}
	return purged, nil
}

// deleteArtifacts removes every file the job references, best effort.
func (o *Orchestrator) deleteArtifacts(ctx context.Context, job *models.TranslationJob) {
	paths := []string{
		job.OriginalAudioPath,
		job.TranslatedAudioPath,
		job.TranscriptPath,
		job.TranslatedTextPath,
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := o.files.Delete(ctx, p); err != nil {
			o.logger.Warn("failed to delete artifact", "job_id", job.ID, "path", p, "error", err)
		}
	}
}
