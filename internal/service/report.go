package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tribunal-dev/tribunal/internal/domain/verdict"
)

// Status is the recorded outcome of one agent in one run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome is one row of the run report: the agent's verdict or its
// failure/skip record.
type Outcome struct {
	Agent    string           `json:"agent"`
	Stage    int              `json:"stage"`
	Status   Status           `json:"status"`
	Verdict  *verdict.Verdict `json:"verdict,omitempty"`
	Error    string           `json:"error,omitempty"`
	Duration time.Duration    `json:"duration_ns"`
	Cached   bool             `json:"cached,omitempty"`
}

// Report is the result of one orchestration run: one outcome per agent in
// execution order, plus run metadata.
type Report struct {
	SessionID  string             `json:"session_id"`
	Mode       string             `json:"mode"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Outcomes   []Outcome          `json:"outcomes"`
	Consensus  *verdict.Consensus `json:"consensus,omitempty"`
}

// Outcome returns the recorded outcome for the named agent, if any.
func (r *Report) Outcome(agentName string) (*Outcome, bool) {
	for i := range r.Outcomes {
		if r.Outcomes[i].Agent == agentName {
			return &r.Outcomes[i], true
		}
	}
	return nil, false
}

// Counts returns how many agents finished ok, failed, and skipped.
func (r *Report) Counts() (ok, failed, skipped int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusOK:
			ok++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return ok, failed, skipped
}

// Render produces the human-readable summary table: one row per agent with an
// explicit status and, for failures, the error text. A reader must be able to
// identify the failing stage and agent from this table alone.
func (r *Report) Render() string {
	t := table.NewWriter()
	// Keep footer text as written; the default style uppercases it.
	t.Style().Format.Footer = text.FormatDefault
	t.SetTitle("run %s (%s)", r.SessionID, r.Mode)
	t.AppendHeader(table.Row{"STAGE", "AGENT", "STATUS", "DECISION", "CONFIDENCE", "DURATION", "ERROR"})

	for _, o := range r.Outcomes {
		decision, confidence := "-", "-"
		if o.Verdict != nil {
			decision = string(o.Verdict.Decision)
			confidence = fmt.Sprintf("%.2f", o.Verdict.Confidence)
		}
		t.AppendRow(table.Row{
			o.Stage,
			o.Agent,
			string(o.Status),
			decision,
			confidence,
			o.Duration.Round(time.Millisecond).String(),
			o.Error,
		})
	}

	ok, failed, skipped := r.Counts()
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d ok / %d failed / %d skipped", ok, failed, skipped)})

	out := t.Render()
	if r.Consensus != nil {
		out += fmt.Sprintf("\nconsensus: %s (confidence %.2f)", r.Consensus.Decision, r.Consensus.Confidence)
		if r.Consensus.NeedsEscalation {
			out += " [needs escalation]"
		}
	}
	return out
}

// WriteArtifacts writes the rendered summary and the serialized report to
// <dir>/<session>/ and returns the summary path.
func (r *Report) WriteArtifacts(dir string) (string, error) {
	runDir := filepath.Join(dir, r.SessionID)
	if err := os.MkdirAll(runDir, 0o750); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}

	summaryPath := filepath.Join(runDir, "summary.txt")
	if err := os.WriteFile(summaryPath, []byte(r.Render()+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "report.json"), data, 0o640); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	return summaryPath, nil
}
