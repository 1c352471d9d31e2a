package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"voxlate/internal/audio"
	"voxlate/internal/filestore"
	"voxlate/internal/models"
	"voxlate/internal/storage"
	"voxlate/internal/validation"
	"voxlate/internal/youtube"
)

// processingOverhead is added to the duration-based completion estimate.
const processingOverhead = 30 * time.Second

// processingFactor scales the audio duration into an estimated processing time.
const processingFactor = 3

// ETACalculating is reported while no progress has been measured yet.
const ETACalculating = "calculating"

// ErrYouTubeDisabled is returned by SubmitYouTube when no fetcher is configured.
var ErrYouTubeDisabled = errors.New("youtube submissions are not enabled")

// Lifecycle performs job state transitions on behalf of the service.
type Lifecycle interface {
	Cancel(ctx context.Context, jobID string) (bool, error)
	Retry(ctx context.Context, jobID string) (*models.TranslationJob, bool, error)
	Refresh(ctx context.Context, jobID string) (*models.TranslationJob, error)
}

// Enqueuer schedules a job for processing.
type Enqueuer interface {
	Enqueue(jobID string) bool
}

// AudioFetcher downloads the audio track of a video.
type AudioFetcher interface {
	FetchAudio(ctx context.Context, videoURL, language string, maxBytes int64) (*youtube.Download, error)
}

// Service accepts uploads, creates jobs and answers job queries.
type Service struct {
	jobs      storage.JobRepository
	files     filestore.Store
	validator *validation.Validator
	lifecycle Lifecycle
	queue     Enqueuer
	fetcher   AudioFetcher
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Options configures a Service
type Options struct {
	Jobs      storage.JobRepository
	Files     filestore.Store
	Validator *validation.Validator
	Lifecycle Lifecycle
	Queue     Enqueuer
	Fetcher   AudioFetcher  // optional
	TTL       time.Duration // 0 means models.DefaultTTL
	Logger    *slog.Logger
}

// NewService creates a new Service
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobs:      opts.Jobs,
		files:     opts.Files,
		validator: opts.Validator,
		lifecycle: opts.Lifecycle,
		queue:     opts.Queue,
		fetcher:   opts.Fetcher,
		ttl:       opts.TTL,
		logger:    logger.With("component", "ingestion"),
		now:       time.Now,
	}
}

// SubmitRequest is an uploaded clip to translate
type SubmitRequest struct {
	Data           []byte
	Filename       string
	ContentType    string
	SourceLanguage string
	TargetLanguage string
	UserID         string
	Quality        models.Quality
	Priority       int
}

// SubmitResult describes a newly created job
type SubmitResult struct {
	JobID               string        `json:"job_id"`
	Status              models.Status `json:"status"`
	CreatedAt           time.Time     `json:"created_at"`
	EstimatedCompletion string        `json:"estimated_completion"`
}

// Submit validates the upload, stores it and queues a job. Validation
// failures are returned as *validation.Error and no job is created.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	var violations []string
	for _, lang := range []struct{ name, value string }{
		{"source language", req.SourceLanguage},
		{"target language", req.TargetLanguage},
	} {
		if n := len(strings.TrimSpace(lang.value)); n < 2 || n > 5 {
			violations = append(violations, fmt.Sprintf("%s must be 2-5 characters", lang.name))
		}
	}
	if len(violations) > 0 {
		return nil, &validation.Error{Violations: violations}
	}

	meta, err := s.validator.Validate(ctx, validation.Upload{
		Data:        req.Data,
		Filename:    req.Filename,
		ContentType: req.ContentType,
	})
	if err != nil {
		return nil, err
	}

	format := meta.Format
	if !format.Valid() {
		format = audio.Detect(req.Filename, req.Data, meta.Codec)
	}

	job := models.NewTranslationJob(models.NewJobParams{
		SourceLanguage:   strings.TrimSpace(req.SourceLanguage),
		TargetLanguage:   strings.TrimSpace(req.TargetLanguage),
		OriginalFilename: req.Filename,
		OriginalFileSize: int64(len(req.Data)),
		OriginalDuration: meta.Duration,
		InputFormat:      format,
		UserID:           req.UserID,
		Quality:          req.Quality,
		Priority:         req.Priority,
		TTL:              s.ttl,
	}, s.now())

	job.OriginalAudioPath = filestore.JobPath(job.ID, "original"+format.Extension())
	if err := s.files.Save(ctx, job.OriginalAudioPath, req.Data); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	job.SetProgress(models.ProgressQueued, "queued for processing")

	if err := s.jobs.Create(ctx, job); err != nil {
		if derr := s.files.Delete(ctx, job.OriginalAudioPath); derr != nil {
			s.logger.Warn("failed to remove orphaned upload", "job_id", job.ID, "error", derr)
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if !s.queue.Enqueue(job.ID) {
		s.logger.Warn("job not enqueued, waiting for recovery poll", "job_id", job.ID)
	}
	s.logger.Info("job submitted", "job_id", job.ID, "user_id", job.UserID,
		"format", format, "duration", meta.Duration, "size", len(req.Data))

	return &SubmitResult{
		JobID:               job.ID,
		Status:              job.Status,
		CreatedAt:           job.CreatedAt,
		EstimatedCompletion: FormatDuration(meta.Duration*processingFactor + processingOverhead),
	}, nil
}

// YouTubeRequest submits the audio track of a video
type YouTubeRequest struct {
	URL            string
	SourceLanguage string
	TargetLanguage string
	UserID         string
	Quality        models.Quality
	Priority       int
}

// SubmitYouTube downloads the video's audio and submits it like an upload.
func (s *Service) SubmitYouTube(ctx context.Context, req YouTubeRequest) (*SubmitResult, error) {
	if s.fetcher == nil {
		return nil, ErrYouTubeDisabled
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, &validation.Error{Violations: []string{"url is required"}}
	}

	dl, err := s.fetcher.FetchAudio(ctx, req.URL, req.SourceLanguage, s.validator.Policy().MaxFileSize)
	if errors.Is(err, youtube.ErrTooLarge) || errors.Is(err, youtube.ErrNoAudio) {
		return nil, &validation.Error{Violations: []string{err.Error()}}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audio: %w", err)
	}

	return s.Submit(ctx, SubmitRequest{
		Data:           dl.Data,
		Filename:       dl.Filename,
		ContentType:    dl.ContentType,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		UserID:         req.UserID,
		Quality:        req.Quality,
		Priority:       req.Priority,
	})
}

// StatusResult is the externally visible state of a job
type StatusResult struct {
	JobID                  string        `json:"job_id"`
	Status                 models.Status `json:"status"`
	Progress               int           `json:"progress"`
	CurrentStep            string        `json:"current_step,omitempty"`
	ErrorMessage           string        `json:"error_message,omitempty"`
	RetryCount             int           `json:"retry_count"`
	CreatedAt              time.Time     `json:"created_at"`
	CompletedAt            *time.Time    `json:"completed_at,omitempty"`
	ExpiresAt              time.Time     `json:"expires_at"`
	EstimatedTimeRemaining string        `json:"estimated_time_remaining"`
}

// Status returns the job's state, or nil if it does not exist. A job past
// its expiry that never completed is moved to Expired first.
func (s *Service) Status(ctx context.Context, jobID string) (*StatusResult, error) {
	job, err := s.lifecycle.Refresh(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	return s.statusOf(job), nil
}

func (s *Service) statusOf(job *models.TranslationJob) *StatusResult {
	return &StatusResult{
		JobID:                  job.ID,
		Status:                 job.Status,
		Progress:               job.Progress,
		CurrentStep:            job.CurrentStep,
		ErrorMessage:           job.ErrorMessage,
		RetryCount:             job.RetryCount,
		CreatedAt:              job.CreatedAt,
		CompletedAt:            job.CompletedAt,
		ExpiresAt:              job.ExpiresAt,
		EstimatedTimeRemaining: EstimateRemaining(job, s.now()),
	}
}

// Result is the outcome of a download request. Ready is false until the
// job completes, in which case only Status and Progress are set.
type Result struct {
	Ready       bool
	Status      models.Status
	Progress    int
	Data        []byte
	ContentType string
	Filename    string
	Size        int64
}

// Result returns the final audio of a completed job, or nil if the job
// does not exist.
func (s *Service) Result(ctx context.Context, jobID string) (*Result, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	if job.Status != models.StatusCompleted {
		return &Result{Status: job.Status, Progress: job.Progress}, nil
	}

	data, err := s.files.Load(ctx, job.TranslatedAudioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load result of job %s: %w", jobID, err)
	}

	format, ok := audio.FromExtension(job.TranslatedAudioPath)
	if !ok {
		format = audio.Detect("", data, "")
	}
	base := strings.TrimSuffix(path.Base(job.OriginalFilename), path.Ext(job.OriginalFilename))
	if base == "" || base == "." || base == "/" {
		base = "translation"
	}

	return &Result{
		Ready:       true,
		Status:      job.Status,
		Progress:    job.Progress,
		Data:        data,
		ContentType: format.ContentType(),
		Filename:    fmt.Sprintf("%s_%s%s", base, job.TargetLanguage, format.Extension()),
		Size:        int64(len(data)),
	}, nil
}

// Cancel cancels a job. It returns false if the job does not exist or is
// already finished.
func (s *Service) Cancel(ctx context.Context, jobID string) (bool, error) {
	return s.lifecycle.Cancel(ctx, jobID)
}

// Retry requeues a failed job that has retries left.
func (s *Service) Retry(ctx context.Context, jobID string) (bool, error) {
	job, ok, err := s.lifecycle.Retry(ctx, jobID)
	if err != nil || !ok {
		return false, err
	}
	if !s.queue.Enqueue(job.ID) {
		s.logger.Warn("retried job not enqueued, waiting for recovery poll", "job_id", job.ID)
	}
	return true, nil
}

// ListByUser returns the user's jobs, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*StatusResult, error) {
	jobs, err := s.jobs.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*StatusResult, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, s.statusOf(job))
	}
	return out, nil
}

// EstimateRemaining extrapolates the remaining time from elapsed time and
// progress. It returns ETACalculating until processing has started.
func EstimateRemaining(job *models.TranslationJob, now time.Time) string {
	if job.StartedAt == nil || job.Progress <= 0 {
		return ETACalculating
	}
	end := now
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	elapsed := end.Sub(*job.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	total := time.Duration(float64(elapsed) / (float64(job.Progress) / 100))
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return FormatDuration(remaining)
}

// FormatDuration renders d as whole seconds under a minute, whole minutes
// under an hour and fractional hours beyond.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Round(time.Second)/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Round(time.Minute)/time.Minute))
	default:
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
}
