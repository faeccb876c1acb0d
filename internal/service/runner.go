package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	tbotel "github.com/tribunal-dev/tribunal/internal/adapter/otel"
	"github.com/tribunal-dev/tribunal/internal/config"
	"github.com/tribunal-dev/tribunal/internal/domain/session"
	"github.com/tribunal-dev/tribunal/internal/domain/stage"
	"github.com/tribunal-dev/tribunal/internal/domain/verdict"
	"github.com/tribunal-dev/tribunal/internal/port/agent"
	"github.com/tribunal-dev/tribunal/internal/port/messagequeue"
	"github.com/tribunal-dev/tribunal/internal/port/resultstore"
)

// Mode selects the scheduling strategy for a run.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeStaged     Mode = "staged"
)

// ParseMode validates a mode string, defaulting empty to staged.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSequential, ModeStaged:
		return Mode(s), nil
	case "":
		return ModeStaged, nil
	}
	return "", fmt.Errorf("invalid mode %q: must be sequential or staged", s)
}

// Runner executes one orchestration run: it plans stages from the roster's
// dependency declarations, executes each stage in order, records verdicts
// into the session context, and produces a run report.
//
// The durable store, event bus, and metrics are optional collaborators
// injected at construction; a nil handle disables that side channel and a
// failure in it never affects an agent's recorded outcome.
type Runner struct {
	agents  []agent.Agent
	weights map[string]float64
	memo    *Memoizer
	queue   messagequeue.Queue
	store   resultstore.Store
	metrics *tbotel.Metrics
	cfg     config.Orchestrator
}

// NewRunner creates a Runner over the loaded roster. memo, queue, store, and
// metrics may each be nil.
func NewRunner(roster *Roster, memo *Memoizer, queue messagequeue.Queue, store resultstore.Store, metrics *tbotel.Metrics, cfg config.Orchestrator) *Runner {
	return &Runner{
		agents:  roster.Agents,
		weights: roster.Weights,
		memo:    memo,
		queue:   queue,
		store:   store,
		metrics: metrics,
		cfg:     cfg,
	}
}

// Run executes every agent once, honoring stage order. Only a configuration
// error (cyclic or undeclared dependency) returns an error; every per-agent
// failure is isolated into the report.
func (r *Runner) Run(ctx context.Context, inputs map[string]any, mode Mode) (*Report, error) {
	descriptors := make([]stage.Descriptor, 0, len(r.agents))
	byName := make(map[string]agent.Agent, len(r.agents))
	for _, a := range r.agents {
		descriptors = append(descriptors, stage.Descriptor{Name: a.Name(), DependsOn: a.Dependencies()})
		byName[a.Name()] = a
	}

	stages, err := stage.Build(descriptors)
	if err != nil {
		return nil, fmt.Errorf("plan stages: %w", err)
	}

	var memo session.MemoStore
	if r.memo != nil {
		memo = r.memo
	}
	rc := session.New(inputs, memo)
	report := &Report{
		SessionID: rc.SessionID,
		Mode:      string(mode),
		StartedAt: rc.StartedAt,
	}

	ctx, runSpan := tbotel.StartRunSpan(ctx, rc.SessionID, string(mode))
	defer runSpan.End()

	slog.Info("run started", "session_id", rc.SessionID, "mode", mode, "stages", len(stages), "agents", len(r.agents))
	r.publish(ctx, messagequeue.SubjectRunStarted, map[string]any{
		"session_id": rc.SessionID,
		"mode":       string(mode),
		"agents":     len(r.agents),
	})

	for i, tier := range stages {
		stageStart := time.Now()
		stageCtx, stageSpan := tbotel.StartStageSpan(ctx, rc.SessionID, i, len(tier))

		outcomes := make([]*Outcome, len(tier))
		switch mode {
		case ModeSequential:
			for j, d := range tier {
				outcomes[j] = r.runAgent(stageCtx, rc, byName[d.Name], i)
			}
		default: // staged-parallel: fan out the whole tier, wait at the barrier
			g, gctx := errgroup.WithContext(stageCtx)
			g.SetLimit(r.cfg.MaxParallel)
			for j, d := range tier {
				g.Go(func() error {
					outcomes[j] = r.runAgent(gctx, rc, byName[d.Name], i)
					return nil
				})
			}
			_ = g.Wait() // workers never return errors; failures live in outcomes
		}

		// Fan-in barrier: record every outcome before the next stage starts,
		// so dependents observe a consistent shared context.
		for _, o := range outcomes {
			r.record(ctx, rc, report, o)
		}

		stageSpan.End()
		if r.metrics != nil {
			r.metrics.StageDuration.Record(ctx, time.Since(stageStart).Seconds())
		}
	}

	report.FinishedAt = time.Now().UTC()
	report.Consensus = r.resolve(report)
	ok, failed, skipped := report.Counts()
	slog.Info("run finished",
		"session_id", rc.SessionID,
		"ok", ok, "failed", failed, "skipped", skipped,
		"decision", report.Consensus.Decision,
		"needs_escalation", report.Consensus.NeedsEscalation,
	)
	r.publish(ctx, messagequeue.SubjectRunCompleted, map[string]any{
		"session_id": rc.SessionID,
		"ok":         ok,
		"failed":     failed,
		"skipped":    skipped,
		"decision":   string(report.Consensus.Decision),
	})

	return report, nil
}

// resolve aggregates the run's successful verdicts into one consensus,
// applying the configured escalation threshold on top of the aggregate's
// fixed floor.
func (r *Runner) resolve(report *Report) *verdict.Consensus {
	var verdicts []*verdict.Verdict
	for _, o := range report.Outcomes {
		if o.Status == StatusOK && o.Verdict != nil {
			verdicts = append(verdicts, o.Verdict)
		}
	}

	c := verdict.Aggregate(verdicts, r.weights)
	if c.Confidence < r.cfg.EscalationThreshold {
		c.NeedsEscalation = true
	}
	return &c
}

// runAgent executes one agent and returns its outcome. It never writes the
// session context; recording happens at the stage barrier.
func (r *Runner) runAgent(ctx context.Context, rc *session.Context, a agent.Agent, stageIdx int) *Outcome {
	name := a.Name()
	start := time.Now()
	out := &Outcome{Agent: name, Stage: stageIdx}

	if r.metrics != nil {
		r.metrics.AgentsStarted.Add(ctx, 1)
	}
	r.publish(ctx, messagequeue.SubjectAgentStarted, map[string]any{
		"session_id": rc.SessionID,
		"agent":      name,
	})

	if !a.ValidateInputs(rc) {
		out.Status = StatusSkipped
		out.Error = "input validation failed"
		out.Duration = time.Since(start)
		if r.metrics != nil {
			r.metrics.AgentsSkipped.Add(ctx, 1)
		}
		slog.Info("agent skipped", "session_id", rc.SessionID, "agent", name)
		return out
	}

	agentCtx, span := tbotel.StartAgentSpan(ctx, rc.SessionID, name)
	v, err := r.executeWithDeadline(agentCtx, rc, a)
	span.End()
	out.Duration = time.Since(start)

	if err != nil {
		out.Status = StatusFailed
		out.Error = err.Error()
		if r.metrics != nil {
			r.metrics.AgentsFailed.Add(ctx, 1)
		}
		slog.Error("agent failed", "session_id", rc.SessionID, "agent", name, "error", err)
		return out
	}

	// An envelope violating the protocol invariants is a failure in its own
	// right, never silently accepted.
	if vErr := v.Validate(); vErr != nil {
		out.Status = StatusFailed
		out.Error = fmt.Sprintf("invalid verdict: %v", vErr)
		if r.metrics != nil {
			r.metrics.AgentsFailed.Add(ctx, 1)
		}
		slog.Error("agent returned invalid verdict", "session_id", rc.SessionID, "agent", name, "error", vErr)
		return out
	}
	if v.AgentName != name {
		out.Status = StatusFailed
		out.Error = fmt.Sprintf("verdict agent_name %q does not match agent %q", v.AgentName, name)
		if r.metrics != nil {
			r.metrics.AgentsFailed.Add(ctx, 1)
		}
		return out
	}

	out.Status = StatusOK
	out.Verdict = v
	out.Cached = v.Metadata["cached"] == "true"
	if r.metrics != nil {
		r.metrics.AgentsCompleted.Add(ctx, 1)
		if out.Cached {
			r.metrics.CacheHits.Add(ctx, 1)
		} else {
			r.metrics.CacheMisses.Add(ctx, 1)
		}
	}
	slog.Info("agent completed",
		"session_id", rc.SessionID,
		"agent", name,
		"decision", v.Decision,
		"confidence", v.Confidence,
		"duration_ms", out.Duration.Milliseconds(),
	)
	return out
}

// executeWithDeadline runs the agent under the per-agent timeout. Agents
// without the async capability are offloaded to a goroutine, so a blocking
// Execute never holds up stage siblings, and a hung agent resolves to a
// recorded failure at the deadline instead of stalling the barrier.
func (r *Runner) executeWithDeadline(ctx context.Context, rc *session.Context, a agent.Agent) (*verdict.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.AgentTimeout)
	defer cancel()

	type result struct {
		v   *verdict.Verdict
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("agent panicked: %v", p)}
			}
		}()
		if async, ok := a.(agent.AsyncAgent); ok {
			v, err := async.ExecuteAsync(ctx, rc)
			done <- result{v: v, err: err}
			return
		}
		v, err := a.Execute(ctx, rc)
		done <- result{v: v, err: err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("agent deadline exceeded after %s: %w", r.cfg.AgentTimeout, ctx.Err())
	}
}

// record writes a successful verdict into the shared context and forwards it
// to the optional side channels. Side-channel failures are logged and
// dropped; they never alter the recorded outcome.
func (r *Runner) record(ctx context.Context, rc *session.Context, report *Report, out *Outcome) {
	if out.Status == StatusOK {
		if err := rc.Record(out.Agent, out.Verdict); err != nil {
			// Duplicate keys cannot happen with a valid plan; surface loudly.
			out.Status = StatusFailed
			out.Error = err.Error()
			out.Verdict = nil
		}
	}

	report.Outcomes = append(report.Outcomes, *out)

	if out.Status == StatusOK && r.store != nil {
		payload, err := json.Marshal(out.Verdict)
		if err == nil {
			err = r.store.Save(ctx, rc.SessionID, out.Agent, payload, r.cfg.ResultTTL)
		}
		if err != nil {
			slog.Warn("result store save failed", "session_id", rc.SessionID, "agent", out.Agent, "error", err)
		}
	}

	r.publish(ctx, messagequeue.SubjectAgentCompleted, map[string]any{
		"session_id": rc.SessionID,
		"agent":      out.Agent,
		"status":     string(out.Status),
		"error":      out.Error,
	})
}

// publish sends a best-effort notification to the optional event bus.
func (r *Runner) publish(ctx context.Context, subject string, payload map[string]any) {
	if r.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := r.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("event publish failed", "subject", subject, "error", err)
	}
}
