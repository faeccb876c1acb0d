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
const DefaultConfigFile = "tribunal.yaml"

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
	setString(&cfg.Server.Port, "TRIBUNAL_PORT")
	setString(&cfg.Server.CORSOrigin, "TRIBUNAL_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TRIBUNAL_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TRIBUNAL_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TRIBUNAL_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TRIBUNAL_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TRIBUNAL_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "TRIBUNAL_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TRIBUNAL_LOG_SERVICE")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.Service, "TRIBUNAL_OTEL_SERVICE")

	// Cache
	setBool(&cfg.Cache.Enabled, "TRIBUNAL_CACHE_ENABLED")
	setDuration(&cfg.Cache.TTL, "TRIBUNAL_CACHE_TTL")
	setInt64(&cfg.Cache.L1MaxSizeMB, "TRIBUNAL_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "TRIBUNAL_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L1Expire, "TRIBUNAL_CACHE_L1_EXPIRE")

	// Orchestrator
	setString(&cfg.Orchestrator.Mode, "TRIBUNAL_ORCH_MODE")
	setInt(&cfg.Orchestrator.MaxParallel, "TRIBUNAL_ORCH_MAX_PARALLEL")
	setDuration(&cfg.Orchestrator.AgentTimeout, "TRIBUNAL_ORCH_AGENT_TIMEOUT")
	setFloat64(&cfg.Orchestrator.EscalationThreshold, "TRIBUNAL_ORCH_ESCALATION_THRESHOLD")
	setString(&cfg.Orchestrator.RunsDir, "TRIBUNAL_ORCH_RUNS_DIR")
	setDuration(&cfg.Orchestrator.ResultTTL, "TRIBUNAL_ORCH_RESULT_TTL")
}

// validate checks that required fields are set.
// Postgres and NATS are optional collaborators, so their settings are not required.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Orchestrator.Mode {
	case "sequential", "staged":
	default:
		return fmt.Errorf("orchestrator.mode must be sequential or staged, got %q", cfg.Orchestrator.Mode)
	}
	if cfg.Orchestrator.MaxParallel < 1 {
		return errors.New("orchestrator.max_parallel must be >= 1")
	}
	if cfg.Orchestrator.AgentTimeout <= 0 {
		return errors.New("orchestrator.agent_timeout must be > 0")
	}
	if cfg.Orchestrator.EscalationThreshold < 0 || cfg.Orchestrator.EscalationThreshold > 1 {
		return errors.New("orchestrator.escalation_threshold must be in [0,1]")
	}
	if cfg.Cache.Enabled && cfg.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be > 0 when cache is enabled")
	}
	for _, e := range cfg.Agents {
		if e.Weight < 0 {
			return fmt.Errorf("agent %q: weight must be >= 0", e.Name)
		}
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
