// Command syncd runs the environmental-data sync service: the HTTP API, the
// optional sync-all scheduler, and the optional Kafka trigger pipeline.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"syscall"

	httpadapter "github.com/couchcryptid/field-env-sync/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/field-env-sync/internal/adapter/kafka"
	"github.com/couchcryptid/field-env-sync/internal/app"
	"github.com/couchcryptid/field-env-sync/internal/config"
	"github.com/couchcryptid/field-env-sync/internal/observability"
	"github.com/couchcryptid/field-env-sync/internal/pipeline"
	"github.com/joho/godotenv"
	"github.com/oklog/run"
)

func main() {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	if err := serve(cfg, logger, metrics); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func serve(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck // process exit

	// Warm resolution. Failure is cached and reported by /readyz until
	// POST /upstream/resolve succeeds.
	if base, err := a.Resolver.Resolve(ctx); err != nil {
		logger.Error("upstream endpoint unresolved", "error", err)
	} else {
		logger.Info("upstream endpoint resolved", "base_url", base)
	}

	var publisher pipeline.ResultPublisher
	var g run.Group

	if cfg.KafkaEnabled {
		reader := kafkaadapter.NewReader(cfg, logger)
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer writer.Close() //nolint:errcheck // process exit
		publisher = writer

		p := pipeline.New(reader, a.Orchestrator, writer, logger, metrics)
		pctx, pcancel := context.WithCancel(ctx)
		g.Add(func() error {
			return p.Run(pctx)
		}, func(error) {
			pcancel()
			if err := reader.Close(); err != nil {
				logger.Error("kafka reader close error", "error", err)
			}
		})
		logger.Info("kafka trigger pipeline enabled",
			"trigger_topic", cfg.KafkaTriggerTopic,
			"result_topic", cfg.KafkaResultTopic,
		)
	}

	if cfg.SyncInterval > 0 {
		s := pipeline.NewScheduler(a.Orchestrator, publisher, cfg.SyncInterval, nil, logger, metrics)
		sctx, scancel := context.WithCancel(ctx)
		g.Add(func() error {
			return s.Run(sctx)
		}, func(error) {
			scancel()
		})
	}

	{
		srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
			Ready:    a,
			Syncer:   a.Orchestrator,
			Records:  a.Store,
			Polygons: a.Registry,
			Upstream: a.Resolver,
		}, cfg.HTTPRateLimit, logger)

		g.Add(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		})
	}

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		logger.Info("shutting down", "signal", sigErr.Signal.String())
		return nil
	}
	return err
}
