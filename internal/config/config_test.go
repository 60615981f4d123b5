package config

import "testing"

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8000 {
		t.Fatalf("expected default port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Auth.TokenTTLMinutes != 60 {
		t.Fatalf("expected token TTL 60, got %d", cfg.Auth.TokenTTLMinutes)
	}
	if cfg.Jobs.DefaultQueue != "default" {
		t.Fatalf("expected default queue, got %q", cfg.Jobs.DefaultQueue)
	}
	if len(cfg.Jobs.Queues) != 1 || cfg.Jobs.Queues[0] != "default" {
		t.Fatalf("expected queues to include the default, got %v", cfg.Jobs.Queues)
	}
	if cfg.Jobs.CommandTimeoutSeconds != 3600 {
		t.Fatalf("expected command timeout 3600, got %d", cfg.Jobs.CommandTimeoutSeconds)
	}
	if cfg.Jobs.DefaultMaxJobsPerUser != 100 {
		t.Fatalf("expected default quota 100, got %d", cfg.Jobs.DefaultMaxJobsPerUser)
	}
	if cfg.Worker.MaxConcurrentJobs != 4 {
		t.Fatalf("expected 4 worker slots, got %d", cfg.Worker.MaxConcurrentJobs)
	}
	if cfg.Retention.Schedule != "@hourly" || cfg.Retention.TTLDays != 30 {
		t.Fatalf("unexpected retention defaults: %q %d", cfg.Retention.Schedule, cfg.Retention.TTLDays)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("JOBRUNNER_DATABASE_DSN", "postgres://env/db")
	t.Setenv("JOBRUNNER_JWT_SECRET", "env-secret")

	cfg := Default()
	if cfg.Database.DSN != "postgres://env/db" {
		t.Fatalf("expected env DSN to win, got %q", cfg.Database.DSN)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Fatalf("expected env secret to win, got %q", cfg.Auth.JWTSecret)
	}
}
