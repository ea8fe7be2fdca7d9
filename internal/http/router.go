package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"pagesentry/internal/cache"
	"pagesentry/internal/config"
	"pagesentry/internal/extract"
	"pagesentry/internal/metrics"
	"pagesentry/internal/scraper"
	"pagesentry/internal/services"
	"pagesentry/internal/store"
	"pagesentry/internal/urladapt"
)

// Deps are the pipeline components the routes call. Store, Cache, Prober,
// Schemas and Redis are optional; the routes that need them answer 503
// without.
type Deps struct {
	Validator services.ValidationService
	Schemas   InstructionSchemaGenerator
	Runner    *extract.Runner
	Fetcher   scraper.Fetcher
	Prober    *urladapt.Prober
	Store     store.TaskStore
	Cache     cache.Cache
	Redis     *redis.Client
}

// pinger is implemented by the Postgres store and the Redis cache.
type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	app    *fiber.App
	config *config.Config
	deps   *Deps
	logger *slog.Logger
}

func NewServer(cfg *config.Config, deps *Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		BodyLimit:    8 * 1024 * 1024,
	})

	// Inject config and pipeline components into context for handlers
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("deps", deps)
		return c.Next()
	})
	app.Use(requestLogger(logger))

	app.Get("/healthz", healthHandler)

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4; charset=utf-8")
		return c.SendString(metrics.Export())
	})

	var rateMw fiber.Handler
	if deps.Redis != nil && cfg.Server.RateLimitPerMinute > 0 {
		rateMw = rateLimitMiddleware(cfg.Server.RateLimitPerMinute, deps.Redis)
	} else {
		rateMw = func(c *fiber.Ctx) error { return c.Next() }
	}

	v1 := app.Group("/v1", rateMw)
	registerV1Routes(v1)

	return &Server{
		app:    app,
		config: cfg,
		deps:   deps,
		logger: logger,
	}
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func registerV1Routes(group fiber.Router) {
	group.Post("/tasks/validate", validateTaskHandler)
	group.Post("/tasks/:id/approve", approveTaskHandler)
	group.Post("/scrape", scrapeHandler)
	group.Post("/detect", detectHandler)
	group.Post("/schemas/generate", generateSchemaHandler)
	group.Post("/instructions/parse", parseInstructionHandler)
	group.Post("/urls/adapt", adaptURLHandler)
	group.Delete("/cache", clearCacheHandler)
}

func healthHandler(c *fiber.Ctx) error {
	// Shallow health: process is up
	if c.Query("deep") != "true" {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	// Deep health: check DB and Redis connectivity.
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	deps := depsFrom(c)
	cfg := c.Locals("config").(*config.Config)

	dbStatus := pingStatus(ctx, deps.Store)
	redisStatus := pingStatus(ctx, deps.Cache)

	rodStatus := "disabled"
	if cfg.Rod.Enabled {
		rodStatus = "enabled"
	}

	status := "ok"
	if dbStatus == "error" || redisStatus == "error" {
		status = "error"
	}

	return c.JSON(fiber.Map{
		"status": status,
		"db":     dbStatus,
		"redis":  redisStatus,
		"rod":    rodStatus,
	})
}

func pingStatus(ctx context.Context, v any) string {
	p, ok := v.(pinger)
	if !ok {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "error"
	}
	return "ok"
}

func depsFrom(c *fiber.Ctx) *Deps {
	d, _ := c.Locals("deps").(*Deps)
	if d == nil {
		return &Deps{}
	}
	return d
}

// errorHandler renders fiber errors (unknown routes, body limits) in the
// usual envelope.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	errCode := "INTERNAL_ERROR"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		switch code {
		case fiber.StatusNotFound:
			errCode = "NOT_FOUND"
		case fiber.StatusMethodNotAllowed:
			errCode = "METHOD_NOT_ALLOWED"
		case fiber.StatusRequestEntityTooLarge:
			errCode = "PAYLOAD_TOO_LARGE"
		default:
			errCode = "ERROR"
		}
	}
	return c.Status(code).JSON(ErrorResponse{
		Success: false,
		Code:    errCode,
		Error:   err.Error(),
	})
}
