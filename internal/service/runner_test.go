package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tribunal-dev/tribunal/internal/config"
	"github.com/tribunal-dev/tribunal/internal/domain/session"
	"github.com/tribunal-dev/tribunal/internal/domain/stage"
	"github.com/tribunal-dev/tribunal/internal/domain/verdict"
	"github.com/tribunal-dev/tribunal/internal/port/agent"
	"github.com/tribunal-dev/tribunal/internal/port/messagequeue"
	"github.com/tribunal-dev/tribunal/internal/service"
)

// stubAgent is a scriptable in-memory agent for runner tests.
type stubAgent struct {
	name     string
	deps     []string
	validate func(rc *session.Context) bool
	execute  func(ctx context.Context, rc *session.Context) (*verdict.Verdict, error)
}

func (s *stubAgent) Name() string           { return s.name }
func (s *stubAgent) Dependencies() []string { return s.deps }

func (s *stubAgent) ValidateInputs(rc *session.Context) bool {
	if s.validate != nil {
		return s.validate(rc)
	}
	for _, dep := range s.deps {
		if !rc.HasResult(dep) {
			return false
		}
	}
	return true
}

func (s *stubAgent) Execute(ctx context.Context, rc *session.Context) (*verdict.Verdict, error) {
	if s.execute != nil {
		return s.execute(ctx, rc)
	}
	return verdict.New(s.name, verdict.DecisionApprove, "ok", 0.9), nil
}

func approver(name string, deps ...string) *stubAgent {
	return &stubAgent{name: name, deps: deps}
}

func testCfg() config.Orchestrator {
	return config.Orchestrator{
		Mode:                "staged",
		MaxParallel:         4,
		AgentTimeout:        2 * time.Second,
		EscalationThreshold: 0.7,
		ResultTTL:           time.Hour,
	}
}

func newTestRunner(t *testing.T, agents ...agent.Agent) *service.Runner {
	t.Helper()
	return service.NewRunner(&service.Roster{Agents: agents}, nil, nil, nil, nil, testCfg())
}

func TestRun_StagedHonorsDependencyOrder(t *testing.T) {
	// C depends on A and B; it must observe both results when it executes.
	var sawBoth bool
	c := &stubAgent{
		name: "C",
		deps: []string{"A", "B"},
		execute: func(_ context.Context, rc *session.Context) (*verdict.Verdict, error) {
			sawBoth = rc.HasResult("A") && rc.HasResult("B")
			return verdict.New("C", verdict.DecisionApprove, "", 0.9), nil
		},
	}

	r := newTestRunner(t, approver("A"), approver("B"), c)
	report, err := r.Run(context.Background(), nil, service.ModeStaged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !sawBoth {
		t.Fatal("C executed before both dependencies had results")
	}
	ok, failed, skipped := report.Counts()
	if ok != 3 || failed != 0 || skipped != 0 {
		t.Fatalf("expected 3 ok, got %d ok / %d failed / %d skipped", ok, failed, skipped)
	}

	outC, _ := report.Outcome("C")
	if outC.Stage != 1 {
		t.Fatalf("C should run in stage 1, got %d", outC.Stage)
	}
}

func TestRun_SequentialIsLinear(t *testing.T) {
	var mu sync.Mutex
	var order []string
	mk := func(name string, deps ...string) *stubAgent {
		return &stubAgent{
			name: name,
			deps: deps,
			execute: func(_ context.Context, _ *session.Context) (*verdict.Verdict, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return verdict.New(name, verdict.DecisionApprove, "", 0.9), nil
			},
		}
	}

	r := newTestRunner(t, mk("A"), mk("B"), mk("C", "A", "B"))
	if _, err := r.Run(context.Background(), nil, service.ModeSequential); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Fatalf("expected linear order [A B C], got %v", order)
	}
}

func TestRun_FailureIsolatedAndCascadesAsSkip(t *testing.T) {
	failing := &stubAgent{
		name: "A",
		execute: func(_ context.Context, _ *session.Context) (*verdict.Verdict, error) {
			return nil, errors.New("upstream exploded")
		},
	}

	r := newTestRunner(t, failing, approver("B"), approver("C", "A"))
	report, err := r.Run(context.Background(), nil, service.ModeStaged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outA, _ := report.Outcome("A")
	if outA.Status != service.StatusFailed || !strings.Contains(outA.Error, "upstream exploded") {
		t.Fatalf("expected A failed with error text, got %+v", outA)
	}

	outB, _ := report.Outcome("B")
	if outB.Status != service.StatusOK {
		t.Fatalf("sibling B must be unaffected, got %s", outB.Status)
	}

	outC, _ := report.Outcome("C")
	if outC.Status != service.StatusSkipped {
		t.Fatalf("dependent C must cascade to a skip, got %s", outC.Status)
	}
}

func TestRun_InvalidVerdictRecordedAsFailure(t *testing.T) {
	bad := &stubAgent{
		name: "A",
		execute: func(_ context.Context, _ *session.Context) (*verdict.Verdict, error) {
			return verdict.New("A", verdict.DecisionApprove, "", 1.5), nil
		},
	}

	r := newTestRunner(t, bad)
	report, err := r.Run(context.Background(), nil, service.ModeStaged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, _ := report.Outcome("A")
	if out.Status != service.StatusFailed || !strings.Contains(out.Error, "invalid verdict") {
		t.Fatalf("expected output-contract failure, got %+v", out)
	}
}

func TestRun_MismatchedAgentNameRejected(t *testing.T) {
	impostor := &stubAgent{
		name: "A",
		execute: func(_ context.Context, _ *session.Context) (*verdict.Verdict, error) {
			return verdict.New("B", verdict.DecisionApprove, "", 0.9), nil
		},
	}

	r := newTestRunner(t, impostor)
	report, _ := r.Run(context.Background(), nil, service.ModeStaged)
	out, _ := report.Outcome("A")
	if out.Status != service.StatusFailed {
		t.Fatalf("expected failure for mismatched agent_name, got %s", out.Status)
	}
}

func TestRun_HungAgentTimesOutWithoutBlockingSiblings(t *testing.T) {
	cfg := testCfg()
	cfg.AgentTimeout = 50 * time.Millisecond

	hung := &stubAgent{
		name: "slow",
		execute: func(ctx context.Context, _ *session.Context) (*verdict.Verdict, error) {
			<-ctx.Done()
			time.Sleep(5 * time.Second) // ignore cancellation entirely
			return nil, ctx.Err()
		},
	}

	r := service.NewRunner(&service.Roster{Agents: []agent.Agent{hung, approver("fast")}}, nil, nil, nil, nil, cfg)

	start := time.Now()
	report, err := r.Run(context.Background(), nil, service.ModeStaged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("run should resolve at the deadline, took %s", elapsed)
	}

	outSlow, _ := report.Outcome("slow")
	if outSlow.Status != service.StatusFailed || !strings.Contains(outSlow.Error, "deadline") {
		t.Fatalf("expected deadline failure, got %+v", outSlow)
	}
	outFast, _ := report.Outcome("fast")
	if outFast.Status != service.StatusOK {
		t.Fatalf("sibling must complete despite hung agent, got %s", outFast.Status)
	}
}

func TestRun_PanicIsolated(t *testing.T) {
	panicky := &stubAgent{
		name: "A",
		execute: func(_ context.Context, _ *session.Context) (*verdict.Verdict, error) {
			panic("boom")
		},
	}

	r := newTestRunner(t, panicky, approver("B"))
	report, err := r.Run(context.Background(), nil, service.ModeStaged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outA, _ := report.Outcome("A")
	if outA.Status != service.StatusFailed || !strings.Contains(outA.Error, "panicked") {
		t.Fatalf("expected recorded panic, got %+v", outA)
	}
	outB, _ := report.Outcome("B")
	if outB.Status != service.StatusOK {
		t.Fatalf("sibling must survive a panic, got %s", outB.Status)
	}
}

func TestRun_CycleIsFatalConfigurationError(t *testing.T) {
	r := newTestRunner(t, approver("A", "B"), approver("B", "A"))
	_, err := r.Run(context.Background(), nil, service.ModeStaged)
	if !errors.Is(err, stage.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

// recordingQueue captures published subjects.
type recordingQueue struct {
	mu       sync.Mutex
	subjects []string
	fail     bool
}

func (q *recordingQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subjects = append(q.subjects, subject)
	if q.fail {
		return errors.New("bus down")
	}
	return nil
}

func (q *recordingQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *recordingQueue) Drain() error      { return nil }
func (q *recordingQueue) Close() error      { return nil }
func (q *recordingQueue) IsConnected() bool { return true }

// failingStore always errors on save.
type failingStore struct{}

func (failingStore) Save(context.Context, string, string, []byte, time.Duration) error {
	return errors.New("store down")
}
func (failingStore) Load(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, nil
}
func (failingStore) PurgeExpired(context.Context) (int64, error) { return 0, nil }

func TestRun_SideChannelFailuresNeverAffectOutcome(t *testing.T) {
	q := &recordingQueue{fail: true}

	r := service.NewRunner(&service.Roster{Agents: []agent.Agent{approver("A")}}, nil, q, failingStore{}, nil, testCfg())
	report, err := r.Run(context.Background(), nil, service.ModeStaged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, _ := report.Outcome("A")
	if out.Status != service.StatusOK {
		t.Fatalf("side-channel failures must not affect recorded success, got %s", out.Status)
	}
}

func TestRun_PublishesLifecycleNotifications(t *testing.T) {
	q := &recordingQueue{}

	r := service.NewRunner(&service.Roster{Agents: []agent.Agent{approver("A")}}, nil, q, nil, nil, testCfg())
	if _, err := r.Run(context.Background(), nil, service.ModeStaged); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]bool{
		messagequeue.SubjectRunStarted:     false,
		messagequeue.SubjectAgentStarted:   false,
		messagequeue.SubjectAgentCompleted: false,
		messagequeue.SubjectRunCompleted:   false,
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, s := range q.subjects {
		want[s] = true
	}
	for subject, seen := range want {
		if !seen {
			t.Fatalf("expected a %s notification, got %v", subject, q.subjects)
		}
	}
}

func TestRun_ConsensusReflectsRosterWeights(t *testing.T) {
	approve := &stubAgent{
		name: "A",
		execute: func(_ context.Context, _ *session.Context) (*verdict.Verdict, error) {
			return verdict.New("A", verdict.DecisionApprove, "", 0.9), nil
		},
	}
	reject := &stubAgent{
		name: "B",
		execute: func(_ context.Context, _ *session.Context) (*verdict.Verdict, error) {
			return verdict.New("B", verdict.DecisionReject, "", 0.9), nil
		},
	}

	roster := &service.Roster{
		Agents:  []agent.Agent{approve, reject},
		Weights: map[string]float64{"B": 3.0},
	}
	r := service.NewRunner(roster, nil, nil, nil, nil, testCfg())

	report, err := r.Run(context.Background(), nil, service.ModeStaged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := report.Consensus
	if c == nil {
		t.Fatal("expected a consensus on the report")
	}
	if c.Decision != verdict.DecisionReject {
		t.Fatalf("weighted reject must win, got %s", c.Decision)
	}
	if !c.NeedsEscalation {
		t.Fatal("disagreement must flag escalation")
	}
}

func TestRun_ConfiguredThresholdEscalates(t *testing.T) {
	confident := &stubAgent{
		name: "A",
		execute: func(_ context.Context, _ *session.Context) (*verdict.Verdict, error) {
			return verdict.New("A", verdict.DecisionApprove, "", 0.85), nil
		},
	}

	cfg := testCfg()
	cfg.EscalationThreshold = 0.95

	r := service.NewRunner(&service.Roster{Agents: []agent.Agent{confident}}, nil, nil, nil, nil, cfg)
	report, err := r.Run(context.Background(), nil, service.ModeStaged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !report.Consensus.NeedsEscalation {
		t.Fatal("confidence below the configured threshold must escalate")
	}
}

func TestRun_NoSuccessfulVerdictsEscalates(t *testing.T) {
	failing := &stubAgent{
		name: "A",
		execute: func(_ context.Context, _ *session.Context) (*verdict.Verdict, error) {
			return nil, errors.New("boom")
		},
	}

	r := newTestRunner(t, failing)
	report, _ := r.Run(context.Background(), nil, service.ModeStaged)
	c := report.Consensus
	if c == nil || c.Decision != verdict.DecisionSkip || !c.NeedsEscalation {
		t.Fatalf("empty aggregate must be skip + escalate, got %+v", c)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := service.ParseMode(""); err != nil || m != service.ModeStaged {
		t.Fatalf("empty mode should default to staged, got %v %v", m, err)
	}
	if _, err := service.ParseMode("warp"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
