// Package app assembles the service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"voxlate/internal/asr"
	"voxlate/internal/audio"
	"voxlate/internal/config"
	"voxlate/internal/events"
	"voxlate/internal/filestore"
	"voxlate/internal/handlers"
	"voxlate/internal/ingestion"
	"voxlate/internal/pipeline"
	"voxlate/internal/providers"
	"voxlate/internal/providers/openai"
	"voxlate/internal/storage"
	"voxlate/internal/validation"
	"voxlate/internal/worker"
	"voxlate/internal/youtube"
)

const (
	providerOpenAI = "openai"
	providerSherpa = "sherpa"
)

const connectTimeout = 10 * time.Second

// Core is the storage side of the service: enough to inspect and maintain
// jobs without any speech provider configured.
type Core struct {
	Config       config.Config
	Logger       *slog.Logger
	Jobs         storage.JobRepository
	Files        *filestore.Local
	FFmpeg       *audio.FFmpeg
	Bus          *events.Bus
	Orchestrator *pipeline.Orchestrator

	closers []func() error
}

// App is the full service: Core plus providers, worker pool, sweeper and
// the HTTP server.
type App struct {
	*Core
	Worker  *worker.Worker
	Sweeper *worker.Sweeper
	Service *ingestion.Service
	Server  *echo.Echo

	cancel context.CancelFunc
}

// OpenCore connects storage and builds an orchestrator with no providers.
func OpenCore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Core, error) {
	return openCore(ctx, cfg, logger, pipeline.Deps{})
}

func openCore(ctx context.Context, cfg config.Config, logger *slog.Logger, deps pipeline.Deps) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	format, ok := audio.ParseFormat(cfg.OutputFormat)
	if !ok {
		return nil, fmt.Errorf("unsupported output format %q", cfg.OutputFormat)
	}

	c := &Core{
		Config: cfg,
		Logger: logger,
		FFmpeg: audio.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath),
		Bus:    events.NewBus(events.DefaultMaxEvents),
	}

	jobs, err := c.openJobs(ctx)
	if err != nil {
		return nil, err
	}
	c.Jobs = jobs

	files, err := filestore.NewLocal(cfg.ContentDir(), logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open content store: %w", err)
	}
	c.Files = files

	deps.Jobs = c.Jobs
	deps.Files = c.Files
	deps.Prober = c.FFmpeg
	deps.Converter = c.FFmpeg
	deps.Events = c.Bus
	deps.Logger = logger
	c.Orchestrator = pipeline.New(deps, pipeline.Config{
		OutputFormat:    format,
		ProviderTimeout: cfg.ProviderTimeout,
	})
	return c, nil
}

func (c *Core) openJobs(ctx context.Context) (storage.JobRepository, error) {
	switch c.Config.DBDriver {
	case "", "sqlite":
		if err := os.MkdirAll(filepath.Dir(c.Config.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := storage.Open(c.Config.SQLitePath)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, db.Close)
		c.Logger.Info("job store opened", "driver", "sqlite", "path", c.Config.SQLitePath)
		return storage.NewSQLiteJobRepository(db), nil

	case "mongo", "mongodb":
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(c.Config.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("failed to create MongoDB client: %w", err)
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
		}
		c.closers = append(c.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()
			return client.Disconnect(ctx)
		})

		repo, err := storage.NewMongoJobRepository(connectCtx, client.Database(c.Config.MongoDatabase))
		if err != nil {
			return nil, err
		}
		c.Logger.Info("job store opened", "driver", "mongo", "database", c.Config.MongoDatabase)
		return repo, nil

	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", c.Config.DBDriver)
	}
}

// Close releases everything opened by OpenCore in reverse order.
func (c *Core) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// New builds the full service. Nothing runs until Start.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	deps, closers, err := buildProviders(cfg, logger)
	if err != nil {
		return nil, err
	}
	core, err := openCore(ctx, cfg, logger, deps)
	if err != nil {
		for _, closeFn := range closers {
			_ = closeFn()
		}
		return nil, err
	}
	core.closers = append(core.closers, closers...)

	if err := core.FFmpeg.Available(); err != nil {
		logger.Warn("ffmpeg not available, uploads will fail validation", "error", err)
	}

	a := &App{Core: core}
	a.Worker = worker.New(core.Orchestrator.Run, core.Jobs, worker.Config{
		Concurrency:  cfg.WorkerConcurrency,
		QueueSize:    cfg.QueueSize,
		PollInterval: cfg.PollInterval,
	}, logger)
	a.Sweeper = worker.NewSweeper(core.Orchestrator, core.Files, worker.SweeperConfig{
		Interval:      cfg.SweepInterval,
		Retention:     cfg.Retention,
		ContentMaxAge: cfg.JobTTL + cfg.Retention,
	}, logger)

	policy := validation.DefaultPolicy()
	policy.MaxFileSize = cfg.MaxUploadBytes
	policy.MaxDuration = cfg.MaxDuration

	a.Service = ingestion.NewService(ingestion.Options{
		Jobs:      core.Jobs,
		Files:     core.Files,
		Validator: validation.NewValidator(policy, core.FFmpeg),
		Lifecycle: core.Orchestrator,
		Queue:     a.Worker,
		Fetcher:   youtube.NewClient(),
		TTL:       cfg.JobTTL,
		Logger:    logger,
	})

	a.Server = handlers.NewServer(
		handlers.NewTranslationHandler(a.Service, cfg.MaxUploadBytes),
		handlers.NewEventsHandler(a.Service, core.Bus),
		core.Jobs,
	)
	return a, nil
}

// Start launches the worker pool and the sweeper. Background work is
// detached from ctx and only stops through Shutdown.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.Worker.Start(ctx)
	a.Sweeper.Start(ctx)
}

// Shutdown stops the HTTP server, then background work, then storage.
// Running jobs get until ctx is done to finish; after that they are
// cancelled and recorded as failed, which leaves them retryable.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if a.cancel != nil {
		a.Sweeper.Stop()

		done := make(chan struct{})
		go func() {
			a.Worker.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.Logger.Warn("shutdown timeout, cancelling running jobs")
			a.cancel()
			<-done
		}
		a.cancel()
	}

	errs = append(errs, a.Close())
	return errors.Join(errs...)
}

// buildProviders selects the speech backends. Translation always goes
// through OpenAI; the local models have no translation counterpart.
func buildProviders(cfg config.Config, logger *slog.Logger) (pipeline.Deps, []func() error, error) {
	var (
		deps    pipeline.Deps
		closers []func() error
	)
	fail := func(err error) (pipeline.Deps, []func() error, error) {
		for _, closeFn := range closers {
			_ = closeFn()
		}
		return pipeline.Deps{}, nil, err
	}

	client, err := openai.NewClient(openai.Config{
		APIKey:             cfg.OpenAIAPIKey,
		BaseURL:            cfg.OpenAIBaseURL,
		TranscriptionModel: cfg.OpenAITranscriptionModel,
		TranslationModel:   cfg.OpenAITranslationModel,
		SpeechModel:        cfg.OpenAISpeechModel,
		SpeechHDModel:      cfg.OpenAISpeechHDModel,
		Voice:              cfg.OpenAIVoice,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("openai client: %w", err))
	}

	deps.Translator = &providers.ChunkedTranslator{
		Inner:    openai.NewTranslator(client),
		MaxChars: cfg.TranslationMaxChars,
		Delay:    cfg.ChunkDelay,
	}

	switch cfg.Transcriber {
	case "", providerOpenAI:
		deps.Transcriber = openai.NewTranscriber(client)
	case providerSherpa:
		asrConfig, err := asr.NewConfig(cfg.SherpaASRModelDir, cfg.SherpaASRLanguage)
		if err != nil {
			return fail(fmt.Errorf("sherpa recognizer: %w", err))
		}
		recognizer, err := asr.NewRecognizer(asrConfig)
		if err != nil {
			return fail(fmt.Errorf("sherpa recognizer: %w", err))
		}
		closers = append(closers, recognizer.Close)
		deps.Transcriber = recognizer
	default:
		return fail(fmt.Errorf("unknown TRANSCRIBER %q", cfg.Transcriber))
	}

	var synth providers.Synthesizer
	switch cfg.Synthesizer {
	case "", providerOpenAI:
		format, _ := audio.ParseFormat(cfg.OutputFormat)
		synth = openai.NewSynthesizer(client, format)
	case providerSherpa:
		ttsConfig, err := asr.NewTTSConfig(cfg.SherpaTTSModelDir, cfg.SherpaTTSLanguage)
		if err != nil {
			return fail(fmt.Errorf("sherpa synthesizer: %w", err))
		}
		tts, err := asr.NewSynthesizer(ttsConfig)
		if err != nil {
			return fail(fmt.Errorf("sherpa synthesizer: %w", err))
		}
		closers = append(closers, tts.Close)
		synth = tts
	default:
		return fail(fmt.Errorf("unknown SYNTHESIZER %q", cfg.Synthesizer))
	}
	deps.Synthesizer = &providers.ChunkedSynthesizer{
		Inner:    synth,
		MaxChars: cfg.SpeechMaxChars,
		Delay:    cfg.ChunkDelay,
	}

	logger.Info("providers configured", "transcriber", cfg.Transcriber, "synthesizer", cfg.Synthesizer)
	return deps, closers, nil
}
