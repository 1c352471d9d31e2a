// Package pipeline advances translation jobs through transcription,
// translation and speech synthesis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voxlate/internal/audio"
	"voxlate/internal/events"
	"voxlate/internal/filestore"
	"voxlate/internal/models"
	"voxlate/internal/providers"
	"voxlate/internal/storage"
)

// TranscriptionSampleRate is the sample rate prepared audio is resampled to.
const TranscriptionSampleRate = 16000

// ErrNoSpeech is recorded when transcription returns no text.
var ErrNoSpeech = errors.New("no speech detected")

// errStopped signals that the job left the orchestrator's control
// (cancelled, expired or deleted) and the run should end quietly.
var errStopped = errors.New("job no longer processable")

// StepError is a failure inside one pipeline step. Message becomes the
// job's error message and Err its error detail.
type StepError struct {
	Step    string
	Message string
	Err     error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Message, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepError(step, message string, err error) error {
	return &StepError{Step: step, Message: message, Err: err}
}

// Config tunes the orchestrator.
type Config struct {
	// OutputFormat is the delivery format of the final audio.
	OutputFormat audio.Format

	// ProviderTimeout bounds each provider call. Zero disables it.
	ProviderTimeout time.Duration
}

// Deps are the collaborators the orchestrator sequences.
type Deps struct {
	Jobs        storage.JobRepository
	Files       filestore.Store
	Prober      audio.Prober
	Converter   audio.Converter
	Transcriber providers.Transcriber
	Translator  providers.Translator
	Synthesizer providers.Synthesizer
	Events      events.Publisher // optional
	Logger      *slog.Logger     // optional
}

// Orchestrator owns job state transitions.
type Orchestrator struct {
	jobs        storage.JobRepository
	files       filestore.Store
	prober      audio.Prober
	converter   audio.Converter
	transcriber providers.Transcriber
	translator  providers.Translator
	synthesizer providers.Synthesizer
	events      events.Publisher
	logger      *slog.Logger

	cfg Config
	now func() time.Time
}

// New creates an orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = audio.DefaultFormat
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		jobs:        deps.Jobs,
		files:       deps.Files,
		prober:      deps.Prober,
		converter:   deps.Converter,
		transcriber: deps.Transcriber,
		translator:  deps.Translator,
		synthesizer: deps.Synthesizer,
		events:      deps.Events,
		logger:      logger.With("component", "pipeline"),
		cfg:         cfg,
		now:         time.Now,
	}
}

// OutputFormat returns the delivery format of final audio.
func (o *Orchestrator) OutputFormat() audio.Format {
	return o.cfg.OutputFormat
}

type step struct {
	name string
	run  func(ctx context.Context, job *models.TranslationJob) error
}

// Run processes one job from start to finish.
//
// Only a Queued job is processed; anything else is a no-op, which makes
// duplicate delivery of the same job harmless. A step failure marks the job
// Failed and is returned so the scheduler can record the attempt.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job == nil {
		o.logger.Warn("job not found", "job_id", jobID)
		return nil
	}
	if job.Status != models.StatusQueued {
		o.logger.Debug("skipping job", "job_id", jobID, "status", job.Status)
		return nil
	}

	now := o.now()
	if job.IsExpired(now) {
		job.Expire()
		if err := o.save(ctx, job, models.StatusQueued); err != nil && !errors.Is(err, errStopped) {
			return fmt.Errorf("failed to expire job %s: %w", jobID, err)
		}
		o.logger.Info("job expired before processing", "job_id", jobID)
		return nil
	}

	// claim: only one delivery wins the Queued -> Validating transition
	if err := job.UpdateStatus(models.StatusValidating, models.ProgressValidating, "validating audio", now); err != nil {
		return err
	}
	if err := o.save(ctx, job, models.StatusQueued); err != nil {
		if errors.Is(err, errStopped) {
			o.logger.Debug("job claimed elsewhere", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}
	o.logger.Info("processing job", "job_id", jobID,
		"source_language", job.SourceLanguage, "target_language", job.TargetLanguage)

	steps := []step{
		{"validate", o.validate},
		{"prepare", o.prepare},
		{"transcribe", o.transcribe},
		{"translate", o.translate},
		{"synthesize", o.synthesize},
		{"finalize", o.finalize},
	}
	for _, s := range steps {
		err := o.runStep(ctx, jobID, s)
		if errors.Is(err, errStopped) {
			o.logger.Info("job stopped", "job_id", jobID, "step", s.name)
			return nil
		}
		if err != nil {
			return o.fail(ctx, jobID, s.name, err)
		}
	}
	return nil
}

func (o *Orchestrator) runStep(ctx context.Context, jobID string, s step) error {
	job, err := o.load(ctx, jobID)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := s.run(ctx, job); err != nil {
		return err
	}
	o.logger.Debug("step done", "job_id", jobID, "step", s.name, "elapsed", time.Since(start))
	return nil
}

// load reads the current job and reports errStopped once it is terminal
// or gone, so cancellation takes effect at the next step boundary.
func (o *Orchestrator) load(ctx context.Context, jobID string) (*models.TranslationJob, error) {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil || job.Status.IsTerminal() {
		return nil, errStopped
	}
	return job, nil
}

// save persists job only if its stored status is still expected, so a
// cancel or expiry that landed in between is never overwritten.
func (o *Orchestrator) save(ctx context.Context, job *models.TranslationJob, expected models.Status) error {
	ok, err := o.jobs.UpdateIfStatus(ctx, job, expected)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if !ok {
		return errStopped
	}
	o.publish(job)
	return nil
}

// transition moves job to status and persists it.
func (o *Orchestrator) transition(ctx context.Context, job *models.TranslationJob, status models.Status, progress int, step string) error {
	prev := job.Status
	if err := job.UpdateStatus(status, progress, step, o.now()); err != nil {
		return err
	}
	return o.save(ctx, job, prev)
}

func (o *Orchestrator) publish(job *models.TranslationJob) {
	if o.events != nil {
		o.events.Publish(events.FromJob(job))
	}
}

// fail records err on the job and returns it. The write uses a context
// detached from ctx so a cancelled run still leaves the job Failed.
func (o *Orchestrator) fail(ctx context.Context, jobID, stepName string, err error) error {
	var se *StepError
	if !errors.As(err, &se) {
		se = &StepError{Step: stepName, Message: stepName + " failed", Err: err}
	}

	ctx = context.WithoutCancel(ctx)
	job, lerr := o.jobs.GetByID(ctx, jobID)
	if lerr != nil {
		o.logger.Error("failed to load job to record failure", "job_id", jobID, "error", lerr)
		return se
	}
	if job == nil || job.Status.IsTerminal() {
		return nil
	}

	detail := ""
	if se.Err != nil {
		detail = se.Err.Error()
	}
	prev := job.Status
	if merr := job.MarkFailed(se.Message, detail); merr != nil {
		return se
	}
	if serr := o.save(ctx, job, prev); serr != nil {
		if errors.Is(serr, errStopped) {
			return nil
		}
		o.logger.Error("failed to record job failure", "job_id", jobID, "error", serr)
		return se
	}

	o.logger.Error("job failed", "job_id", jobID, "step", se.Step,
		"message", se.Message, "error", se.Err, "retry_count", job.RetryCount)
	return se
}

// providerContext applies the configured per-call timeout.
func (o *Orchestrator) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.ProviderTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.ProviderTimeout)
}
