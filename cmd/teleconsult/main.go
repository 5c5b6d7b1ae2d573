package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TeleConsult/internal/audio"
	"TeleConsult/internal/config"
	"TeleConsult/internal/httpapi"
	"TeleConsult/internal/logging"
	"TeleConsult/internal/meddoc"
	"TeleConsult/internal/session"
	"TeleConsult/internal/signaling"
	"TeleConsult/internal/telemetry"
	"TeleConsult/internal/transcribe"
)

func main() {
	cfg := config.Default()

	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", cfg.Addr, "HTTP listen address")
	debug := flag.Bool("debug", cfg.Debug, "Enable debug logging")
	transcriber := flag.String("transcriber", cfg.PrimaryTranscriber, "Primary transcription provider (openai|deepgram|mock)")
	docBackend := flag.String("doc-backend", cfg.DocBackend, "Document generation backend (anthropic|openai)")
	flushInterval := flag.Duration("flush-interval", cfg.FlushInterval, "Audio buffer flush interval")
	maxChunkBytes := flag.Int("max-chunk-bytes", cfg.MaxChunkBytes, "Audio buffer flush size threshold")
	sweepMaxAge := flag.Duration("sweep-max-age", cfg.SweepMaxAge, "Age after which inactive ended sessions are removed")
	evictIdle := flag.Bool("evict-idle", cfg.EvictIdle, "Also sweep connectionless sessions that were never ended")
	flag.Parse()

	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Explicit flags win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "debug":
			cfg.Debug = *debug
		case "transcriber":
			cfg.PrimaryTranscriber = *transcriber
		case "doc-backend":
			cfg.DocBackend = *docBackend
		case "flush-interval":
			cfg.FlushInterval = *flushInterval
		case "max-chunk-bytes":
			cfg.MaxChunkBytes = *maxChunkBytes
		case "sweep-max-age":
			cfg.SweepMaxAge = *sweepMaxAge
		case "evict-idle":
			cfg.EvictIdle = *evictIdle
		}
	})
	cfg.ResolveEnv()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logger, err := logging.Init(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, meter, cleanupTelemetry, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanupTelemetry()

	httpClient := &http.Client{Timeout: 60 * time.Second}

	registry := session.NewRegistry(logger, nil)
	tracker := session.NewConnTracker()

	gateway := transcribe.NewGateway(
		cfg.PrimaryTranscriber,
		[]transcribe.Provider{
			transcribe.NewOpenAIProvider(cfg.OpenAIKey, httpClient, tracer, meter),
			transcribe.NewDeepgramProvider(cfg.DeepgramKey, httpClient, tracer, meter),
		},
		transcribe.NewMockProvider(),
		cfg.ProviderTimeout,
		logger,
		meter,
	)

	generator := meddoc.NewGenerator(cfg, httpClient, logger, tracer, meter, nil)

	hub := signaling.NewHub(registry, tracker, gateway, generator, audio.Config{
		MaxChunkBytes: cfg.MaxChunkBytes,
		FlushInterval: cfg.FlushInterval,
	}, logger, tracer, meter, nil)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	httpapi.NewServer(registry, hub, gateway, generator, logger).Register(mux)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	go hub.Run(ctx)

	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := registry.SweepInactive(cfg.SweepMaxAge, cfg.EvictIdle)
				if removed > 0 {
					logger.Info("inactive sessions swept", "removed", removed)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("teleconsult listening", "addr", cfg.Addr,
			"transcriber", cfg.PrimaryTranscriber, "doc_backend", cfg.DocBackend)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	hub.Close()

	return nil
}
