package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/charterhq/charter/internal/orchestrator/action"
	"github.com/charterhq/charter/internal/orchestrator/audit"
	"github.com/charterhq/charter/internal/orchestrator/backend"
	"github.com/charterhq/charter/internal/orchestrator/cleanup"
	"github.com/charterhq/charter/internal/orchestrator/config"
	"github.com/charterhq/charter/internal/orchestrator/dispatch"
	"github.com/charterhq/charter/internal/orchestrator/executor"
	"github.com/charterhq/charter/internal/orchestrator/registry"
	"github.com/charterhq/charter/internal/server"
)

func run(ctx context.Context) error {
	slog := log.With().Str("state", "init").Logger()

	slog.Info().Str("config_file", configFile).Msg("loading config file")
	if err := config.LoadConfig(configFile); err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	cfg := config.Config()

	factory, err := buildFactory(cfg)
	if err != nil {
		return fmt.Errorf("creating backend factory: %w", err)
	}
	defer factory.Shutdown()

	defaultLevel, err := action.ParseVerificationLevel(cfg.Pool.DefaultVerification)
	if err != nil {
		return fmt.Errorf("parsing default verification level: %w", err)
	}
	reg := registry.New(factory, registry.Options{
		MaxSessions:         cfg.Pool.MaxSessions,
		MemoryBudgetBytes:   cfg.Pool.MemoryBudgetMB << 20,
		MemoryCeilingBytes:  cfg.Pool.MemoryCeilingMB << 20,
		DefaultVerification: defaultLevel,
	})

	exec := executor.New(executor.Options{
		VerifyWindow:    config.DurationOrDefault(cfg.Executor.VerifyWindow, 2*time.Second),
		PollInterval:    config.DurationOrDefault(cfg.Executor.PollInterval, 50*time.Millisecond),
		StabilizeWindow: config.DurationOrDefault(cfg.Executor.StabilizeWindow, 5*time.Second),
	})

	var recorder dispatch.Recorder
	var trail *audit.Trail
	var artifacts *audit.ArtifactStore
	if cfg.Audit.Enabled {
		rt := config.GetRuntimeConfig()
		trailPath := filepath.Join(config.GetAuditLogDir(),
			fmt.Sprintf("%s-%d.alog", rt.OrchestratorID.String(), time.Now().Unix()))
		trail, err = audit.NewTrail(trailPath, rt.LogSigningKey.PrivateKey)
		if err != nil {
			return fmt.Errorf("opening audit trail: %w", err)
		}
		defer trail.Close()
		recorder = trail

		artifacts, err = audit.NewArtifactStore(config.GetArtifactDir())
		if err != nil {
			return fmt.Errorf("creating artifact store: %w", err)
		}
		slog.Info().Str("trail", trailPath).Str("artifacts", artifacts.Dir()).Msg("audit enabled")
	}

	d := dispatch.New(reg, exec, recorder, dispatch.Options{
		QueueSize:     cfg.Dispatch.QueueSize,
		CoalesceDelay: config.DurationOrDefault(cfg.Dispatch.CoalesceDelay, 2*time.Millisecond),
		TickInterval:  config.DurationOrDefault(cfg.Dispatch.TickInterval, 25*time.Millisecond),
		MaxBatch:      cfg.Dispatch.MaxBatch,
		Artifacts:     artifactSaver(artifacts),
	})
	go d.Run(ctx)

	sweeper := cleanup.New(reg, cleanup.Options{
		Interval:      config.DurationOrDefault(cfg.Cleanup.Interval, 30*time.Second),
		IdleThreshold: config.DurationOrDefault(cfg.Cleanup.IdleThreshold, 120*time.Second),
		MaxPerSweep:   cfg.Cleanup.MaxPerSweep,
	})
	go sweeper.Run(ctx)

	if stdioMode {
		err = serveStdio(ctx, d)
	} else {
		err = serveHTTP(ctx, d, reg)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if derr := d.Shutdown(shutdownCtx); derr != nil {
		log.Error().Err(derr).Msg("dispatcher did not drain in time")
	}
	sweeper.Stop()
	reg.CloseAll(shutdownCtx)

	log.Info().Msg("server stopped")
	return err
}

// artifactSaver adapts a possibly-nil store to the dispatcher option. A nil
// *ArtifactStore inside a non-nil interface would dodge the dispatcher's nil
// check.
func artifactSaver(s *audit.ArtifactStore) dispatch.ArtifactSaver {
	if s == nil {
		return nil
	}
	return s
}

func buildFactory(cfg *config.ConfigParam) (backend.Factory, error) {
	switch cfg.Backend.Engine {
	case "fake":
		return &backend.FakeFactory{}, nil
	case "playwright":
		return backend.NewPlaywrightFactory(cfg.Backend.Headless, cfg.Backend.BlockResources)
	default:
		return nil, fmt.Errorf("unknown backend engine %q", cfg.Backend.Engine)
	}
}

func serveStdio(ctx context.Context, d *dispatch.Dispatcher) error {
	log.Info().Msg("serving command protocol on stdio")
	ch := dispatch.NewLineChannel(d, os.Stdout)
	return ch.Serve(ctx, os.Stdin)
}

func serveHTTP(ctx context.Context, d *dispatch.Dispatcher, reg *registry.Registry) error {
	s, err := server.CreateNewServer(d, reg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	s.MountHandlers()

	srv := &http.Server{
		Addr:              ":" + config.Config().ServerPort,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("port", config.Config().ServerPort).Msg("server started")
		okLabel.Fprintf(os.Stderr, "charterd listening on %s (engine: %s)\n",
			config.GetURL(), config.Config().Backend.Engine)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("could not stop server gracefully")
			if err := srv.Close(); err != nil {
				log.Error().Err(err).Msg("could not stop server")
			}
		}
		return nil
	}
}
