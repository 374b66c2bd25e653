package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "astra.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ASTRA_PORT")
	setString(&cfg.Server.CORSOrigin, "ASTRA_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ASTRA_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ASTRA_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ASTRA_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ASTRA_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ASTRA_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "ASTRA_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ASTRA_LOG_SERVICE")
	setInt(&cfg.Engine.MaxParallel, "ASTRA_ENGINE_MAX_PARALLEL")
	setInt(&cfg.Engine.MaxAttempts, "ASTRA_ENGINE_MAX_ATTEMPTS")
	setDuration(&cfg.Engine.StepTimeout, "ASTRA_ENGINE_STEP_TIMEOUT")
	setDuration(&cfg.Engine.RetryBaseDelay, "ASTRA_ENGINE_RETRY_BASE_DELAY")
	setDuration(&cfg.Engine.RetryMaxDelay, "ASTRA_ENGINE_RETRY_MAX_DELAY")
	setDuration(&cfg.Engine.ApprovalTimeout, "ASTRA_ENGINE_APPROVAL_TIMEOUT")
	setInt(&cfg.Snapshot.EventTail, "ASTRA_SNAPSHOT_EVENT_TAIL")
	setInt64(&cfg.Snapshot.CacheMaxMB, "ASTRA_SNAPSHOT_CACHE_MB")
	setDuration(&cfg.Snapshot.CacheTTL, "ASTRA_SNAPSHOT_CACHE_TTL")
	setBool(&cfg.Metrics.Enabled, "ASTRA_METRICS_ENABLED")
	setString(&cfg.Metrics.Endpoint, "ASTRA_METRICS_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Engine.MaxParallel < 1 {
		return errors.New("engine.max_parallel must be >= 1")
	}
	if cfg.Engine.MaxAttempts < 1 {
		return errors.New("engine.max_attempts must be >= 1")
	}
	if cfg.Snapshot.EventTail < 0 {
		return errors.New("snapshot.event_tail must be >= 0")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
