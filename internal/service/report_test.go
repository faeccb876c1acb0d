package service_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tribunal-dev/tribunal/internal/domain/verdict"
	"github.com/tribunal-dev/tribunal/internal/service"
)

func sampleReport() *service.Report {
	return &service.Report{
		SessionID: "sess-1",
		Mode:      "staged",
		StartedAt: time.Now().UTC(),
		Outcomes: []service.Outcome{
			{Agent: "research", Stage: 0, Status: service.StatusOK, Verdict: verdict.New("research", verdict.DecisionApprove, "fine", 0.9), Duration: 120 * time.Millisecond},
			{Agent: "security", Stage: 0, Status: service.StatusFailed, Error: "agent deadline exceeded after 5m0s", Duration: 5 * time.Minute},
			{Agent: "review", Stage: 1, Status: service.StatusSkipped, Error: "input validation failed"},
		},
	}
}

func TestRender_IdentifiesFailingAgentAndStage(t *testing.T) {
	out := sampleReport().Render()

	for _, want := range []string{"security", "failed", "agent deadline exceeded", "review", "skipped", "1 ok / 1 failed / 1 skipped"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestCounts(t *testing.T) {
	ok, failed, skipped := sampleReport().Counts()
	if ok != 1 || failed != 1 || skipped != 1 {
		t.Fatalf("got %d/%d/%d", ok, failed, skipped)
	}
}

func TestWriteArtifacts(t *testing.T) {
	dir := t.TempDir()
	r := sampleReport()

	summaryPath, err := r.WriteArtifacts(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summaryPath != filepath.Join(dir, "sess-1", "summary.txt") {
		t.Fatalf("unexpected summary path %q", summaryPath)
	}

	if _, err := os.Stat(summaryPath); err != nil {
		t.Fatalf("summary not written: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sess-1", "report.json"))
	if err != nil {
		t.Fatalf("report.json not written: %v", err)
	}
	var decoded service.Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report.json not valid JSON: %v", err)
	}
	if decoded.SessionID != "sess-1" || len(decoded.Outcomes) != 3 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}
}
