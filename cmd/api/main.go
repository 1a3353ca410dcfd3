package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"formhooks/internal/api"
	"formhooks/internal/buildinfo"
	"formhooks/internal/config"
	"formhooks/internal/logging"
	"formhooks/internal/metrics"
	"formhooks/internal/store"
	"formhooks/internal/webhooks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "formhooks: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.Log)
	defer func() { _ = logger.Close() }()
	slog.SetDefault(logger.Logger)
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg.Database, logger.Logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var broker api.EventBroker = api.NewBroker()
	if cfg.RedisURL != "" {
		rb, err := api.NewRedisBroker(ctx, cfg.RedisURL, logger.Logger)
		if err != nil {
			logger.Warn("redis broker unavailable, using in-process broker", "error", err)
		} else {
			defer func() { _ = rb.Close() }()
			broker = rb
		}
	}

	exec := webhooks.NewExecutor(cfg.Webhooks.Workers, cfg.Webhooks.QueueSize, logger.Logger)
	sched := webhooks.NewTimerScheduler()
	dispatcher := webhooks.NewDispatcher(st, exec, sched, logger.Logger)

	srv := api.NewServer(cfg, st, dispatcher, broker, logger.Logger)
	defer srv.Limiter.Stop()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening", "addr", httpSrv.Addr, "version", buildinfo.Version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if dropped := sched.Stop(); dropped > 0 {
		logger.Warn("dropping pending webhook retries", "count", dropped)
	}
	if err := exec.Shutdown(shutdownCtx); err != nil {
		logger.Warn("webhook executor shutdown", "error", err)
	}
	return nil
}

// openStore picks Postgres when a URL is configured, SQLite when a path is,
// and the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (store.Store, func(), error) {
	var (
		s   *store.SQL
		err error
	)
	switch {
	case cfg.URL != "":
		s, err = store.NewPostgres(cfg.URL)
	case cfg.SQLitePath != "":
		s, err = store.NewSQLite(cfg.SQLitePath)
	default:
		logger.Info("using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("migrating store: %w", err)
		}
	}
	return s, func() { _ = s.Close() }, nil
}
