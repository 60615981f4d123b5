package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"jobrunner/internal/bootstrap"
	"jobrunner/internal/config"
	"jobrunner/internal/dispatch"
	server "jobrunner/internal/http"
	"jobrunner/internal/lifecycle"
	"jobrunner/internal/migrate"
	"jobrunner/internal/quota"
	"jobrunner/internal/retention"
	"jobrunner/internal/store"
	"jobrunner/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|all")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// Create a shared *sql.DB with pooling for the Store
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	// Basic pool settings; adjust as needed
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)

	// Set up logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	rootCtx := context.Background()

	// Seed the initial admin account if configured
	if err := bootstrap.Run(rootCtx, cfg, st); err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	rdb := redis.NewClient(opt)

	queue := dispatch.NewRedisQueue(rdb)
	guard := quota.New(st, cfg.Jobs.DefaultMaxJobsPerUser)
	engine := lifecycle.NewEngine(st, guard, queue, cfg, logger)

	sweeper := retention.NewSweeper(st, cfg, logger)
	if err := sweeper.Start(rootCtx); err != nil {
		log.Fatalf("retention scheduler failed: %v", err)
	}

	startWorker := func() {
		executor := worker.NewExecutor(engine, cfg, logger)
		runner := worker.NewRunner(queue, executor, cfg, logger)
		go runner.Start(rootCtx)
	}

	switch *role {
	case "api":
		// API-only: do not start the executor loop.
		s := server.NewServer(cfg, st, engine, guard, rdb, logger)
		if err := s.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case "worker":
		// Worker-only: consume the queue and block.
		startWorker()
		select {}
	case "all":
		// Default: run both API and worker in one process.
		startWorker()
		s := server.NewServer(cfg, st, engine, guard, rdb, logger)
		if err := s.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	default:
		log.Fatalf("invalid role: %s (expected api|worker|all)", *role)
	}
}
