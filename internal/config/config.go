// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/blockaid/internal/domain"
)

const envPrefix = "BLOCKAID_"

// Load starts from the tier defaults selected by BLOCKAID_TIER and applies
// BLOCKAID_* overrides on top.
func Load() (*domain.Config, error) {
	var cfg *domain.Config
	switch tier := domain.Tier(strings.ToLower(getEnv("TIER", string(domain.TierCommunity)))); tier {
	case domain.TierCommunity:
		cfg = domain.DefaultConfig()
	case domain.TierPro:
		cfg = domain.ProConfig()
	default:
		return nil, fmt.Errorf("unknown tier: %s", tier)
	}

	s := &cfg.Server
	s.Host = getEnv("HOST", s.Host)
	s.Port = getEnvInt("PORT", s.Port)
	s.ReadTimeout = getEnvInt("READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvInt("WRITE_TIMEOUT", s.WriteTimeout)
	s.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(s.MaxUploadBytes)))

	r := &cfg.Repository
	r.Driver = getEnv("DB_DRIVER", r.Driver)
	r.SQLitePath = getEnv("SQLITE_PATH", r.SQLitePath)
	r.PostgresHost = getEnv("POSTGRES_HOST", r.PostgresHost)
	r.PostgresPort = getEnvInt("POSTGRES_PORT", r.PostgresPort)
	r.PostgresUser = getEnv("POSTGRES_USER", r.PostgresUser)
	r.PostgresPassword = getEnv("POSTGRES_PASSWORD", r.PostgresPassword)
	r.PostgresDB = getEnv("POSTGRES_DB", r.PostgresDB)
	r.PostgresSSLMode = getEnv("POSTGRES_SSLMODE", r.PostgresSSLMode)
	r.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", r.MaxOpenConns)
	r.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", r.MaxIdleConns)
	r.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", r.ConnMaxLifetime)
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		if err := applyDatabaseURL(r, dbURL); err != nil {
			return nil, err
		}
	}

	c := &cfg.Cache
	c.Type = getEnv("CACHE_TYPE", c.Type)
	c.LocalMaxSize = getEnvInt("CACHE_LOCAL_MAX_SIZE", c.LocalMaxSize)
	c.LocalTTL = getEnvDuration("CACHE_LOCAL_TTL", c.LocalTTL)
	c.EventTTL = getEnvDuration("CACHE_EVENT_TTL", c.EventTTL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.KeyPrefix = getEnv("CACHE_KEY_PREFIX", c.KeyPrefix)
	c.EnableTwoPhase = getEnvBool("CACHE_TWO_PHASE", c.EnableTwoPhase)

	b := &cfg.EventBus
	b.Type = getEnv("BUS_TYPE", b.Type)
	b.ChannelBufferSize = getEnvInt("BUS_BUFFER_SIZE", b.ChannelBufferSize)
	b.NATSUrl = getEnv("NATS_URL", b.NATSUrl)
	b.NATSToken = getEnv("NATS_TOKEN", b.NATSToken)
	b.NATSMaxReconnects = getEnvInt("NATS_MAX_RECONNECTS", b.NATSMaxReconnects)
	b.NATSReconnectWait = getEnvInt("NATS_RECONNECT_WAIT", b.NATSReconnectWait)

	cfg.Classifier.URL = getEnv("CLASSIFIER_URL", cfg.Classifier.URL)
	cfg.Classifier.Timeout = getEnvDuration("CLASSIFIER_TIMEOUT", cfg.Classifier.Timeout)

	e := &cfg.Escalation
	e.Enabled = getEnvBool("ESCALATION_ENABLED", e.Enabled)
	e.AlertThreshold = getEnvFloat("ESCALATION_THRESHOLD", e.AlertThreshold)
	e.VelocityWindow = getEnvDuration("VELOCITY_WINDOW", e.VelocityWindow)
	e.MaxWorkers = getEnvInt("RULE_WORKERS", e.MaxWorkers)

	rl := &cfg.RateLimit
	rl.Enabled = getEnvBool("RATE_LIMIT_ENABLED", rl.Enabled)
	rl.RequestsPerSecond = getEnvFloat("RATE_LIMIT_RPS", rl.RequestsPerSecond)
	rl.Burst = getEnvInt("RATE_LIMIT_BURST", rl.Burst)

	cfg.Logging.Level = strings.ToLower(getEnv("LOG_LEVEL", cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(getEnv("LOG_FORMAT", cfg.Logging.Format))
	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.ServiceName = getEnv("SERVICE_NAME", cfg.Tracing.ServiceName)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDatabaseURL fills the PostgreSQL settings from a postgres:// URL.
func applyDatabaseURL(r *domain.RepositoryConfig, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %sDATABASE_URL: %w", envPrefix, err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("invalid %sDATABASE_URL scheme: %s", envPrefix, u.Scheme)
	}

	r.Driver = "postgres"
	r.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %sDATABASE_URL port: %s", envPrefix, p)
		}
		r.PostgresPort = port
	}
	if u.User != nil {
		r.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			r.PostgresPassword = pw
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		r.PostgresDB = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		r.PostgresSSLMode = mode
	}
	return nil
}

func validate(c *domain.Config) error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}

	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Repository.Driver)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type: %s", c.Cache.Type)
	}
	switch c.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type: %s", c.EventBus.Type)
	}

	if t := c.Escalation.AlertThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("escalation threshold must be in (0,1]: %v", t)
	}
	if c.Escalation.VelocityWindow < time.Minute {
		return fmt.Errorf("velocity window must be at least 1 minute")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1) {
		return fmt.Errorf("rate limit needs positive rps and burst")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(envPrefix + key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(envPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(envPrefix + key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(envPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(envPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
