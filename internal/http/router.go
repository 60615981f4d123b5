package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"jobrunner/internal/config"
	"jobrunner/internal/lifecycle"
	"jobrunner/internal/metrics"
	"jobrunner/internal/quota"
	"jobrunner/internal/store"
)

type Server struct {
	app    *fiber.App
	config *config.Config
	store  *store.Store
	logger *slog.Logger
}

func NewServer(cfg *config.Config, st *store.Store, engine *lifecycle.Engine, guard *quota.Guard, rdb *redis.Client, logger *slog.Logger) *Server {
	app := fiber.New()

	// Inject config, store, engine, and quota guard into context for
	// handlers
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("store", st)
		c.Locals("engine", engine)
		c.Locals("quota", guard)
		return c.Next()
	})

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		// Ensure a request ID exists
		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		if logger != nil {
			c.Locals("logger", logger)
		}

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}

		return err
	})

	// Health endpoints
	app.Get("/healthz", func(c *fiber.Ctx) error {
		// Shallow health: process is up
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		// Deep health: check DB and Redis connectivity.
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if err := st.DB.PingContext(ctx); err != nil {
			dbStatus = "error"
		}

		redisStatus := "disabled"
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			} else {
				redisStatus = "ok"
			}
		}

		status := "ok"
		if dbStatus != "ok" || redisStatus == "error" {
			status = "error"
		}

		return c.JSON(fiber.Map{
			"status": status,
			"db":     dbStatus,
			"redis":  redisStatus,
		})
	})

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	app.Post("/auth/token", tokenHandler)

	authMw := authMiddleware(cfg, st)
	var rateMw fiber.Handler
	if rdb != nil {
		rateMw = rateLimitMiddleware(cfg, rdb)
	} else {
		rateMw = func(c *fiber.Ctx) error { return c.Next() }
	}

	v1 := app.Group("/api/v1", authMw, rateMw)
	registerV1Routes(v1)

	admin := app.Group("/admin", authMw, adminOnlyMiddleware)
	registerAdminRoutes(admin)

	return &Server{
		app:    app,
		config: cfg,
		store:  st,
		logger: logger,
	}
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func registerV1Routes(group fiber.Router) {
	group.Get("/me", meHandler)

	group.Post("/jobs", writerOnlyMiddleware, jobSubmitHandler)
	group.Get("/jobs", jobsListHandler)
	group.Get("/jobs/stats", jobStatsHandler)
	group.Get("/jobs/:id", jobDetailHandler)
	group.Get("/jobs/:id/logs", jobLogsHandler)
	group.Delete("/jobs/:id", writerOnlyMiddleware, jobCancelHandler)
	group.Post("/jobs/:id/force-complete", writerOnlyMiddleware, jobForceCompleteHandler)
	group.Delete("/jobs/:id/purge", writerOnlyMiddleware, jobPurgeHandler)

	group.Post("/batches", writerOnlyMiddleware, batchSubmitHandler)
	group.Get("/batches", batchesListHandler)
	group.Get("/batches/:id", batchDetailHandler)
	group.Post("/batches/:id/cancel", writerOnlyMiddleware, batchCancelHandler)
	group.Post("/batches/:id/force-complete", writerOnlyMiddleware, batchForceCompleteHandler)
	group.Delete("/batches/:id", writerOnlyMiddleware, batchDeleteHandler)
}

func registerAdminRoutes(group fiber.Router) {
	group.Post("/users", adminCreateUserHandler)
	group.Get("/users", adminListUsersHandler)
	group.Post("/users/:id/deactivate", adminDeactivateUserHandler)

	group.Get("/limits", adminLimitsHandler)
	group.Post("/limits/global", adminSetGlobalLimitHandler)
	group.Post("/limits/users/:id", adminSetUserLimitHandler)
}
