package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"async-task-api/internal/api"
	"async-task-api/internal/config"
	"async-task-api/internal/janitor"
	"async-task-api/internal/queue"
	"async-task-api/internal/ratelimit"
	"async-task-api/internal/store"
	"async-task-api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st := store.New(cfg.MaxWaitTimeout)
	q := queue.New(cfg.QueueSize)
	limiter := ratelimit.NewSlidingWindow(cfg.RateLimitMax, cfg.RateLimitWindow)

	processor := worker.NewProcessor(cfg, q, st, logger)
	processor.Start(ctx)

	jan := janitor.New(st, limiter, cfg.JanitorInterval, cfg.Retention, logger)
	go jan.Run(ctx)

	server := api.New(cfg, st, q, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("api listening",
		"port", cfg.HTTPPort,
		"concurrency", cfg.Concurrency,
		"queue_size", cfg.QueueSize)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)

	q.Close()
	processor.Wait()
	logger.Info("shutdown complete")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
