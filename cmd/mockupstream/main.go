// Command mockupstream serves a deterministic stand-in for the agro monitoring
// API so syncd and syncctl can be exercised without a real API key.
//
// Usage:
//
//	go run ./cmd/mockupstream -addr :9090 -api-key local
//	AGRO_BASE_URLS=http://localhost:9090/agro/1.0 AGRO_API_KEY=local go run ./cmd/syncd
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/mockupstream"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

func main() {
	addr := flag.String("addr", sharedcfg.EnvOrDefault("MOCK_UPSTREAM_ADDR", ":9090"), "listen address")
	apiKey := flag.String("api-key", sharedcfg.EnvOrDefault("AGRO_API_KEY", "local"), "accepted appid")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mockupstream.New(*apiKey, nil).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("mock upstream listening", "addr", *addr, "base_path", mockupstream.BasePath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
