// Package bootstrap provides dependency initialization for the voicetrack API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/maauso/voicetrack/internal/audio"
	"github.com/maauso/voicetrack/internal/config"
	"github.com/maauso/voicetrack/internal/job"
	"github.com/maauso/voicetrack/internal/media"
	"github.com/maauso/voicetrack/internal/notify"
	"github.com/maauso/voicetrack/internal/segment"
	"github.com/maauso/voicetrack/internal/storage"
	"github.com/maauso/voicetrack/internal/synth"
	"github.com/maauso/voicetrack/internal/telemetry"
)

// ServiceName identifies the service in telemetry and bus connections.
const ServiceName = "voicetrack"

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service   *job.PipelineService
	Voices    *config.VoiceCatalog
	Telemetry *telemetry.Provider // nil unless metrics are enabled

	notifier notify.Notifier
	closers  []io.Closer
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	if cfg.MetricsEnabled {
		tp, err := telemetry.Setup(ctx, ServiceName, version, logger)
		if err != nil {
			return nil, fmt.Errorf("set up telemetry: %w", err)
		}
		deps.Telemetry = tp
	}

	voices, err := config.LoadVoices(cfg.VoicesFile)
	if err != nil {
		return nil, err
	}
	deps.Voices = voices

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	repo, err := initRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := repo.(io.Closer); ok {
		deps.closers = append(deps.closers, c)
	}

	engine := media.NewFFmpegEngine(cfg.FFmpegPath,
		media.WithFFprobePath(cfg.FFprobePath),
		media.WithTimeout(cfg.EngineTimeout),
		media.WithLogger(logger),
	)

	synthesizer, err := initSynthesizer(cfg, engine)
	if err != nil {
		deps.closeAll()
		return nil, err
	}

	notifier, err := initNotifier(cfg, logger)
	if err != nil {
		deps.closeAll()
		return nil, err
	}
	deps.notifier = notifier

	orchestrator := job.NewOrchestrator(synthesizer, logger,
		job.WithConcurrency(cfg.MaxConcurrentChunks),
		job.WithSynthesisTimeout(cfg.SynthTimeout),
	)

	deps.Service = job.NewPipelineService(
		repo,
		store,
		orchestrator,
		audio.NewAssembler(engine, logger),
		audio.NewAligner(engine, logger),
		logger,
		job.WithSegmentOptions(segment.Options{
			MaxChars:     cfg.MaxChunkChars,
			HardMaxChars: cfg.MaxChunkHardCap,
		}),
		job.WithAlignTolerance(cfg.AlignTolerance),
		job.WithAutoAssemble(cfg.AutoAssemble),
		job.WithPauseBetween(cfg.PauseBetweenChunks),
		job.WithDefaultVoice(cfg.DefaultVoice(voices)),
		job.WithDefaultMix(audio.MixSpec{
			IntroFade:   cfg.IntroFadeSec,
			OutroFade:   cfg.OutroFadeSec,
			OutroExtend: cfg.OutroExtendSec,
		}),
		job.WithNotifier(notifier),
	)

	return deps, nil
}

// Close waits for background jobs, then releases the notifier, the
// repository and the meter provider.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	if d.Service != nil {
		if err := d.Service.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for jobs: %w", err))
		}
	}
	if d.notifier != nil {
		if err := d.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	if err := d.closeAll(); err != nil {
		errs = append(errs, err)
	}
	if d.Telemetry != nil {
		if err := d.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dependencies) closeAll() error {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}

// initRepository opens the SQLite repository when DATABASE_PATH is set and
// keeps jobs in memory otherwise.
func initRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Repository, error) {
	if cfg.DatabasePath == "" {
		logger.Info("job repository configured", slog.String("backend", "memory"))
		return job.NewMemoryRepository(), nil
	}
	repo, err := job.OpenSQLiteRepository(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}
	logger.Info("job repository configured",
		slog.String("backend", "sqlite"),
		slog.String("path", cfg.DatabasePath),
	)
	return repo, nil
}

// initSynthesizer creates the configured speech synthesis adapter. Both
// adapters probe durations the provider does not report with engine.
func initSynthesizer(cfg *config.Config, engine media.Engine) (synth.Synthesizer, error) {
	switch strings.ToLower(cfg.SynthProvider) {
	case config.ProviderExec:
		s, err := synth.NewExecSynthesizer(cfg.SynthCommand, engine)
		if err != nil {
			return nil, fmt.Errorf("create exec synthesizer: %w", err)
		}
		return s, nil
	case config.ProviderHTTP:
		s, err := synth.NewHTTPSynthesizer(cfg.SynthEndpoint,
			synth.WithAPIKey(cfg.SynthAPIKey),
			synth.WithProber(engine),
		)
		if err != nil {
			return nil, fmt.Errorf("create http synthesizer: %w", err)
		}
		return s, nil
	default:
		return nil, config.ErrUnknownProvider
	}
}

// initNotifier connects to NATS when configured.
func initNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	if !cfg.NATSEnabled() {
		return notify.Nop{}, nil
	}
	n, err := notify.NewNATSNotifier(cfg.NATSURL, cfg.NATSSubject, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS notifier: %w", err)
	}
	return n, nil
}
