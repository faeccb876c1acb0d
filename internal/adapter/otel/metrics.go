package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tribunal"

// Metrics holds all Tribunal metric instruments.
type Metrics struct {
	AgentsStarted   metric.Int64Counter
	AgentsCompleted metric.Int64Counter
	AgentsFailed    metric.Int64Counter
	AgentsSkipped   metric.Int64Counter
	StageDuration   metric.Float64Histogram
	CacheHits       metric.Int64Counter
	CacheMisses     metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AgentsStarted, err = meter.Int64Counter("tribunal.agents.started",
		metric.WithDescription("Number of agent executions started"))
	if err != nil {
		return nil, err
	}

	m.AgentsCompleted, err = meter.Int64Counter("tribunal.agents.completed",
		metric.WithDescription("Number of agent executions completed"))
	if err != nil {
		return nil, err
	}

	m.AgentsFailed, err = meter.Int64Counter("tribunal.agents.failed",
		metric.WithDescription("Number of agent executions failed"))
	if err != nil {
		return nil, err
	}

	m.AgentsSkipped, err = meter.Int64Counter("tribunal.agents.skipped",
		metric.WithDescription("Number of agent executions skipped"))
	if err != nil {
		return nil, err
	}

	m.StageDuration, err = meter.Float64Histogram("tribunal.stage.duration_seconds",
		metric.WithDescription("Stage duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("tribunal.cache.hits",
		metric.WithDescription("Memoization cache hits"))
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter("tribunal.cache.misses",
		metric.WithDescription("Memoization cache misses"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
