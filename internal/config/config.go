package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// InitialAdminConfig seeds the first admin account at startup. Both
// fields must be set for bootstrap to run; it never modifies an
// existing user.
type InitialAdminConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type AuthConfig struct {
	JWTSecret       string             `yaml:"jwtSecret"`
	TokenTTLMinutes int                `yaml:"tokenTTLMinutes"`
	InitialAdmin    InitialAdminConfig `yaml:"initialAdmin"`
}

type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute"`
}

// JobsConfig controls admission policy and the execution contract.
// AllowedWorkdirs is a security boundary: when non-empty, every job's
// working directory must resolve to a descendant of one of its roots.
type JobsConfig struct {
	DefaultQueue          string   `yaml:"defaultQueue"`
	Queues                []string `yaml:"queues"`
	DefaultWorkingDir     string   `yaml:"defaultWorkingDir"`
	AllowedWorkdirs       []string `yaml:"allowedWorkdirs"`
	CommandTimeoutSeconds int      `yaml:"commandTimeoutSeconds"`
	DefaultMaxJobsPerUser int      `yaml:"defaultMaxJobsPerUser"`
}

type WorkerConfig struct {
	MaxConcurrentJobs int `yaml:"maxConcurrentJobs"`
	PollTimeoutMs     int `yaml:"pollTimeoutMs"`
}

// RetentionConfig controls TTL-like deletion of old terminal jobs and
// completed batches so the database does not grow without bound.
type RetentionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	TTLDays  int    `yaml:"ttlDays"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Worker    WorkerConfig    `yaml:"worker"`
	Retention RetentionConfig `yaml:"retention"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}
	cfg.applyDefaults()

	return &cfg
}

// Default returns a configuration with every default applied and no
// file loaded. Useful for tests.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if v := os.Getenv("JOBRUNNER_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("JOBRUNNER_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("JOBRUNNER_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		c.Auth.TokenTTLMinutes = 60
	}
	if c.Jobs.DefaultQueue == "" {
		c.Jobs.DefaultQueue = "default"
	}
	if len(c.Jobs.Queues) == 0 {
		c.Jobs.Queues = []string{c.Jobs.DefaultQueue}
	}
	if c.Jobs.DefaultWorkingDir == "" {
		c.Jobs.DefaultWorkingDir = "."
	}
	if c.Jobs.CommandTimeoutSeconds <= 0 {
		c.Jobs.CommandTimeoutSeconds = 3600
	}
	if c.Jobs.DefaultMaxJobsPerUser <= 0 {
		c.Jobs.DefaultMaxJobsPerUser = 100
	}
	if c.Worker.MaxConcurrentJobs <= 0 {
		c.Worker.MaxConcurrentJobs = 4
	}
	if c.Worker.PollTimeoutMs <= 0 {
		c.Worker.PollTimeoutMs = 2000
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = "@hourly"
	}
	if c.Retention.TTLDays <= 0 {
		c.Retention.TTLDays = 30
	}
}
