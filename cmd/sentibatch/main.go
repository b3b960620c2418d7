package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spacesedan/sentibatch/config"
	"github.com/spacesedan/sentibatch/internal/clients"
	"github.com/spacesedan/sentibatch/internal/logging"
	"github.com/spacesedan/sentibatch/internal/monitoring"
	"github.com/spacesedan/sentibatch/internal/runner"
	"github.com/spacesedan/sentibatch/internal/sentiment"
	"github.com/spacesedan/sentibatch/internal/sentiment/onnx"
	"github.com/spacesedan/sentibatch/internal/sinks"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

// Usage: sentibatch [input.csv [checkpoint.json]]
func main() {
	os.Exit(run())
}

func run() int {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	config.LoadEnv(env)
	logging.InitLogger(os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("[Main] Invalid configuration", slog.String("error", err.Error()))
		return exitFailure
	}
	if len(os.Args) > 1 {
		cfg.InputPath = os.Args[1]
	}
	if len(os.Args) > 2 {
		cfg.CheckpointPath = os.Args[2]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	classifier, closeClassifier, err := newClassifier(cfg)
	if err != nil {
		slog.Error("[Main] Failed to create classifier", slog.String("error", err.Error()))
		return exitFailure
	}
	defer closeClassifier()

	if checker, ok := classifier.(monitoring.HealthChecker); ok && cfg.Completions.HealthInterval > 0 {
		healthy := &atomic.Bool{}
		healthy.Store(true)
		go monitoring.MonitorEndpointHealth(ctx, classifier.Name(), checker, healthy, cfg.Completions.HealthInterval)
	}

	fanout, err := sinks.Open(ctx, cfg)
	if err != nil {
		slog.Error("[Main] Failed to open result sinks", slog.String("error", err.Error()))
		return exitFailure
	}
	defer func() {
		if err := fanout.Close(); err != nil {
			slog.Warn("[Main] Failed to close result sinks", slog.String("error", err.Error()))
		}
	}()

	slog.Info("[Main] Starting sentiment batch",
		slog.String("input", cfg.InputPath),
		slog.String("checkpoint", cfg.CheckpointPath),
		slog.String("classifier", classifier.Name()),
		slog.Int("sinks", fanout.Len()))

	res, err := runner.New(runner.OptionsFromConfig(cfg), classifier, fanout).Run(ctx)
	if errors.Is(err, context.Canceled) {
		slog.Warn("[Main] Interrupted, progress saved",
			slog.String("checkpoint", cfg.CheckpointPath),
			slog.Int("processed", res.Processed))
		return exitInterrupted
	}
	if err != nil {
		slog.Error("[Main] Run failed", slog.String("error", err.Error()))
		return exitFailure
	}

	slog.Info("[Main] Total sentiments collected",
		slog.Int("count", res.Record.Len()),
		slog.Int("processed", res.Processed),
		slog.String("run_id", res.RunID))
	return exitOK
}

func newClassifier(cfg *config.Config) (runner.Classifier, func(), error) {
	noop := func() {}
	switch cfg.ClassifierBackend {
	case config.BackendCompletions:
		return clients.NewCompletionsClient(cfg.Completions), noop, nil
	case config.BackendVader:
		return sentiment.NewLexiconClassifier(), noop, nil
	case config.BackendONNX:
		c, err := onnx.NewClassifier(cfg.ONNX)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {
			if err := c.Close(); err != nil {
				slog.Warn("[Main] Failed to close classifier", slog.String("error", err.Error()))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown classifier backend %q", cfg.ClassifierBackend)
	}
}
