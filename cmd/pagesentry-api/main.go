package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pagesentry/internal/bootstrap"
	"pagesentry/internal/config"
	server "pagesentry/internal/http"
	"pagesentry/internal/jobs"
	"pagesentry/internal/logging"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|all")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad(*configPath)
	logger := logging.SetDefault(cfg.Log)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := bootstrap.Build(rootCtx, cfg, bootstrap.Options{}, logger)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer comps.Close()

	switch *role {
	case "api":
		serve(rootCtx, cfg, comps, logger)
	case "worker":
		startWorker(rootCtx, cfg, comps, logger)
		<-rootCtx.Done()
	case "all":
		startWorker(rootCtx, cfg, comps, logger)
		serve(rootCtx, cfg, comps, logger)
	default:
		log.Fatalf("invalid role: %s (expected api|worker|all)", *role)
	}
	logger.Info("shutdown complete")
}

func startWorker(ctx context.Context, cfg *config.Config, comps *bootstrap.Components, logger *slog.Logger) {
	r := jobs.NewRescraper(cfg, comps.Store, comps.Runner, comps.Cache, nil, logger)
	go r.Start(ctx)
	logger.Info("rescrape worker started", "poll_interval_ms", cfg.Worker.PollIntervalMs)
}

func serve(ctx context.Context, cfg *config.Config, comps *bootstrap.Components, logger *slog.Logger) {
	s := server.NewServer(cfg, &server.Deps{
		Validator: comps.Validator,
		Schemas:   comps.Generator,
		Runner:    comps.Runner,
		Fetcher:   comps.Fetcher,
		Prober:    comps.Prober,
		Store:     comps.Store,
		Cache:     comps.Cache,
		Redis:     comps.Redis,
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Listen() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Error("server shutdown failed", "error", err)
		}
	}
}
