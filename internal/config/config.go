package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	KeyModeServer = "server"
	KeyModeHeader = "header"
)

// Config holds all configuration for the PodPilot server.
type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Logs     LogsConfig
	Archive  ArchiveConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	CORSAllowedOrigins []string
}

type ProviderConfig struct {
	BaseURL string
	APIKey  string
	KeyMode string
	Timeout time.Duration
}

type LogsConfig struct {
	Dir       string
	Level     slog.Level
	File      string
	MaxSizeMB int
}

type ArchiveConfig struct {
	Bucket        string
	Region        string
	AccessKey     string
	SecretKey     string
	Endpoint      string
	UseSSL        bool
	CreateBucket  bool
	SweepInterval time.Duration
}

// Enabled reports whether credentials and a bucket are all present.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != "" && a.AccessKey != "" && a.SecretKey != ""
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL                string
	RateLimitPerMinute int
}

var validKeyModes = map[string]bool{
	KeyModeServer: true,
	KeyModeHeader: true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any value is invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("PODPILOT_PORT", 8080),
			Env:                envString("PODPILOT_ENV", "development"),
			CORSAllowedOrigins: envList("CORS_ALLOWED_ORIGINS"),
		},
		Provider: ProviderConfig{
			BaseURL: strings.TrimRight(envString("RUNPOD_BASE_URL", "https://rest.runpod.io/v1"), "/"),
			APIKey:  os.Getenv("RUNPOD_API_KEY"),
			KeyMode: envString("PROVIDER_KEY_MODE", KeyModeServer),
			Timeout: envDuration("RUNPOD_TIMEOUT", 30*time.Second),
		},
		Logs: LogsConfig{
			Dir:       envString("LOGS_DIR", "./logs"),
			Level:     envLevel("LOG_LEVEL", slog.LevelInfo),
			File:      os.Getenv("LOG_FILE"),
			MaxSizeMB: envInt("LOG_MAX_SIZE_MB", 100),
		},
		Archive: ArchiveConfig{
			Bucket:        os.Getenv("S3_BUCKET_NAME"),
			Region:        envString("AWS_REGION", "us-east-1"),
			AccessKey:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey:     os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Endpoint:      envString("S3_ENDPOINT", "s3.amazonaws.com"),
			UseSSL:        envBool("S3_USE_SSL", true),
			CreateBucket:  envBool("S3_CREATE_BUCKET", false),
			SweepInterval: envDuration("ARCHIVE_SWEEP_INTERVAL", 0),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:                os.Getenv("REDIS_URL"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 30),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PODPILOT_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
		return fmt.Errorf("RUNPOD_BASE_URL must start with http:// or https://, got %q", c.Provider.BaseURL)
	}
	if !validKeyModes[c.Provider.KeyMode] {
		return fmt.Errorf("PROVIDER_KEY_MODE must be one of server, header; got %q", c.Provider.KeyMode)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("RUNPOD_TIMEOUT must be positive, got %s", c.Provider.Timeout)
	}

	if c.Logs.Dir == "" {
		return fmt.Errorf("LOGS_DIR must not be empty")
	}

	if c.Archive.SweepInterval < 0 {
		return fmt.Errorf("ARCHIVE_SWEEP_INTERVAL must not be negative, got %s", c.Archive.SweepInterval)
	}
	if c.Database.URL != "" &&
		!strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return lvl
}
