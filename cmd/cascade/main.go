// Command cascade transcribes audio files through the adaptive multi-tier
// fallback orchestrator and prints the outcome per file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicekit-labs/cascade/internal/config"
	"github.com/voicekit-labs/cascade/internal/health"
	"github.com/voicekit-labs/cascade/internal/history"
	"github.com/voicekit-labs/cascade/internal/observe"
	"github.com/voicekit-labs/cascade/internal/orchestrator"
	"github.com/voicekit-labs/cascade/pkg/backend"
	openaibackend "github.com/voicekit-labs/cascade/pkg/backend/openai"
	"github.com/voicekit-labs/cascade/pkg/backend/whispernative"
	"github.com/voicekit-labs/cascade/pkg/backend/whisperserver"
	"github.com/voicekit-labs/cascade/pkg/wav"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	calibrate := flag.Bool("calibrate", false, "probe every configured backend against the first audio file and exit")
	rerank := flag.Bool("rerank", false, "apply the historical chain ranking before transcribing")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cascade: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cascade: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("cascade starting",
		"config", *configPath,
		"primary", cfg.Primary.Key(),
		"fallbacks", len(cfg.Fallbacks),
		"rtf_threshold", cfg.Thresholds.RTF,
		"memory_threshold_mb", cfg.Thresholds.MemoryMB,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "cascade",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := backend.NewRegistry()
	registerBuiltinBackends(reg, cfg)

	// ── Orchestrator ──────────────────────────────────────────────────────────
	opts := []orchestrator.Option{
		orchestrator.WithAttemptTimeout(cfg.Thresholds.AttemptTimeout()),
	}

	var pool *pgxpool.Pool
	if cfg.History.PostgresDSN != "" {
		pool, err = pgxpool.New(ctx, cfg.History.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pool.Close()

		sink := history.NewPostgresSink(pool)
		if err := sink.Migrate(ctx); err != nil {
			slog.Error("failed to migrate attempt table", "err", err)
			return 1
		}
		opts = append(opts, orchestrator.WithSink(history.NewGuard(sink)))
		slog.Info("durable attempt sink enabled")
	}

	orch := orchestrator.New(
		cfg.Primary,
		cfg.Fallbacks,
		orchestrator.Thresholds{RTF: cfg.Thresholds.RTF, MemoryMB: cfg.Thresholds.MemoryMB},
		reg,
		opts...,
	)
	defer orch.ClearCache()

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config) {
		orch.SetChain(next.Fallbacks)
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Observability listener (optional) ─────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		go serveObservability(ctx, cfg.Server.ListenAddr, orch, pool)
	}

	// ── Work ──────────────────────────────────────────────────────────────────
	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "cascade: no audio files given")
		return 1
	}

	if *calibrate {
		return runCalibration(ctx, orch, files[0])
	}

	if *rerank {
		orch.ApplyRanking(orch.OptimizeChain())
	}

	exit := 0
	for _, path := range files {
		duration, err := wavDuration(path)
		if err != nil {
			slog.Warn("cannot determine audio duration; RTF check will reject",
				"file", path, "err", err)
		}

		res := orch.TranscribeWithFallback(ctx, path, duration)
		switch res.Tag {
		case orchestrator.TagFailed:
			fmt.Fprintf(os.Stderr, "%s: FAILED: %s\n", path, res.ErrorMessage)
			exit = 1
		default:
			fmt.Printf("%s [%s via %s, rtf=%.2f]: %s\n",
				path, res.Tag, res.BackendName, res.RTF, res.Text)
		}
	}

	stats := orch.Statistics()
	if stats.TotalAttempts > 0 {
		slog.Info("fallback summary",
			"attempts", stats.TotalAttempts,
			"success_rate", stats.SuccessRate,
		)
	}
	return exit
}

// runCalibration probes every configured backend against sample and prints a
// latency table.
func runCalibration(ctx context.Context, orch *orchestrator.Orchestrator, sample string) int {
	duration, err := wavDuration(sample)
	if err != nil {
		slog.Warn("cannot determine sample duration", "file", sample, "err", err)
	}

	results, err := orch.Calibrate(ctx, sample, duration)
	if err != nil {
		slog.Error("calibration aborted", "err", err)
		return 1
	}
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("%-40s ERROR: %v\n", r.Config.Key(), r.Err)
			continue
		}
		fmt.Printf("%-40s %8.2fs  rtf=%.2f\n", r.Config.Key(), r.Duration.Seconds(), r.RTF)
	}
	return 0
}

// serveObservability runs the /metrics, /healthz, /readyz, and /stats
// endpoints until ctx is cancelled.
func serveObservability(ctx context.Context, addr string, orch *orchestrator.Orchestrator, pool *pgxpool.Pool) {
	var checkers []health.Checker
	if pool != nil {
		checkers = append(checkers, health.Checker{
			Name:  "postgres",
			Check: pool.Ping,
		})
	}

	mux := http.NewServeMux()
	health.New(orch, checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(observe.DefaultMetrics())(mux),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("observability listener started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("observability listener error", "err", err)
	}
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the backend factories that ship with cascade
// into reg. Each factory resolves connection settings from the shared
// backends config block; per-variant knobs come from the backend.Config the
// orchestrator hands to the factory.
func registerBuiltinBackends(reg *backend.Registry, cfg *config.Config) {
	reg.Register("whisper-native", func(bc backend.Config) (backend.Transcriber, error) {
		path := fmt.Sprintf("%s/ggml-%s.bin", cfg.Backends.WhisperModelDir, bc.ModelID)
		return whispernative.New(path)
	})

	reg.Register("whisper-server", func(bc backend.Config) (backend.Transcriber, error) {
		return whisperserver.New(cfg.Backends.WhisperServerURL)
	})

	reg.Register("openai", func(bc backend.Config) (backend.Transcriber, error) {
		return openaibackend.New(cfg.Backends.OpenAIAPIKey)
	})

	reg.Register("stub", func(bc backend.Config) (backend.Transcriber, error) {
		return stubTranscriber{}, nil
	})
}

// stubTranscriber is a built-in no-op backend used for smoke-testing the
// fallback chain without any model or server available.
type stubTranscriber struct{}

func (stubTranscriber) Transcribe(_ context.Context, audioRef string, _ backend.Config) (string, error) {
	return "[stub transcript for " + audioRef + "]", nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// newLogger builds the process-wide slog logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// wavDuration reads a RIFF/WAV header and returns the clip duration. The
// orchestrator treats an unknown (zero) duration as an automatic RTF failure,
// so callers should surface errors from here loudly.
func wavDuration(path string) (time.Duration, error) {
	info, err := wav.ReadInfo(path)
	if err != nil {
		return 0, err
	}
	if info.Duration <= 0 {
		return 0, fmt.Errorf("%q has no audio data", path)
	}
	return info.Duration, nil
}
