// Package config provides hierarchical configuration loading for Tribunal.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the Tribunal core.
type Config struct {
	Server       Server       `yaml:"server"`
	Postgres     Postgres     `yaml:"postgres"`
	NATS         NATS         `yaml:"nats"`
	Logging      Logging      `yaml:"logging"`
	Cache        Cache        `yaml:"cache"`
	Telemetry    Telemetry    `yaml:"telemetry"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Agents       []AgentEntry `yaml:"agents"`
}

// Orchestrator holds scheduler configuration.
type Orchestrator struct {
	Mode                string        `yaml:"mode"`                 // "sequential" | "staged" (default: "staged")
	MaxParallel         int           `yaml:"max_parallel"`         // Max concurrent agents within a stage (default: 4)
	AgentTimeout        time.Duration `yaml:"agent_timeout"`        // Per-agent deadline enforced at the stage barrier (default: 5m)
	EscalationThreshold float64       `yaml:"escalation_threshold"` // Confidence below this needs escalation (default: 0.7)
	RunsDir             string        `yaml:"runs_dir"`             // Where summary artifacts are written (default: "runs")
	ResultTTL           time.Duration `yaml:"result_ttl"`           // Expiry for durable result rows (default: 24h)
}

// AgentEntry describes one roster entry: which backend implements the agent
// and which agents must have produced a verdict before it may run.
type AgentEntry struct {
	Name      string            `yaml:"name"`
	Backend   string            `yaml:"backend"`
	DependsOn []string          `yaml:"depends_on"`
	Settings  map[string]string `yaml:"settings"`
	Weight    float64           `yaml:"weight"` // consensus vote weight, 0 means 1.0
	Active    *bool             `yaml:"active"` // nil means active
}

// IsActive reports whether the entry should be loaded.
func (e AgentEntry) IsActive() bool {
	return e.Active == nil || *e.Active
}

// Server holds HTTP server configuration for serve mode.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Postgres holds the optional durable result store configuration.
// An empty DSN disables the store entirely.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds the optional event bus configuration.
// An empty URL disables the bus entirely.
type NATS struct {
	URL string `yaml:"url"`
}

// Cache holds memoization cache configuration.
type Cache struct {
	Enabled     bool          `yaml:"enabled"`
	TTL         time.Duration `yaml:"ttl"`            // Max age of a memoized payload (default: 1h)
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"` // Ristretto budget (default: 64)
	L2Bucket    string        `yaml:"l2_bucket"`      // JetStream KV bucket; empty = L1 only
	L1Expire    time.Duration `yaml:"l1_expire"`      // L1 lifetime for L2 backfill entries
}

// Telemetry holds OpenTelemetry configuration.
// An empty endpoint disables exporters; the no-op global providers remain.
type Telemetry struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Defaults returns a Config with sensible default values for local use.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Postgres: Postgres{
			DSN:             "",
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			URL: "",
		},
		Logging: Logging{
			Level:   "info",
			Service: "tribunal-core",
		},
		Cache: Cache{
			Enabled:     true,
			TTL:         time.Hour,
			L1MaxSizeMB: 64,
			L2Bucket:    "",
			L1Expire:    5 * time.Minute,
		},
		Telemetry: Telemetry{
			Endpoint: "",
			Service:  "tribunal",
		},
		Orchestrator: Orchestrator{
			Mode:                "staged",
			MaxParallel:         4,
			AgentTimeout:        5 * time.Minute,
			EscalationThreshold: 0.7,
			RunsDir:             "runs",
			ResultTTL:           24 * time.Hour,
		},
	}
}
