// Package script implements the agent port by running an external command.
// The command receives the run context as JSON on stdin and prints a verdict
// envelope as JSON on stdout, keeping domain logic out of the core.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tribunal-dev/tribunal/internal/domain/session"
	"github.com/tribunal-dev/tribunal/internal/domain/verdict"
	"github.com/tribunal-dev/tribunal/internal/port/agent"
)

func init() {
	agent.Register("script", New)
}

// Agent runs one configured command per execution.
type Agent struct {
	name    string
	deps    []string
	command string
	dir     string
	require []string
	memo    []string
}

// New creates a script agent from roster settings. Recognized settings:
// "command" (required shell command), "dir" (working directory), "require"
// (comma-separated input keys that must be present), and "memo"
// (comma-separated inputs whose content hash keys the memoization cache;
// entries name input keys, file paths, or glob patterns).
func New(name string, dependencies []string, settings map[string]string) (agent.Agent, error) {
	command := settings["command"]
	if command == "" {
		return nil, errors.New("script: command setting is required")
	}

	return &Agent{
		name:    name,
		deps:    dependencies,
		command: command,
		dir:     settings["dir"],
		require: splitList(settings["require"]),
		memo:    splitList(settings["memo"]),
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Name returns the roster name of this agent.
func (a *Agent) Name() string { return a.name }

// Dependencies returns the agents whose verdicts must precede this one.
func (a *Agent) Dependencies() []string { return a.deps }

// ValidateInputs checks that every dependency has a recorded verdict and
// every required input key is present. False soft-skips the agent, which is
// how upstream failures cascade without crashing.
func (a *Agent) ValidateInputs(rc *session.Context) bool {
	for _, dep := range a.deps {
		if !rc.HasResult(dep) {
			return false
		}
	}
	for _, key := range a.require {
		if _, ok := rc.Inputs[key]; !ok {
			return false
		}
	}
	return true
}

// stdinPayload is what the command reads on stdin.
type stdinPayload struct {
	SessionID string                      `json:"session_id"`
	Agent     string                      `json:"agent"`
	Inputs    map[string]any              `json:"inputs"`
	Results   map[string]*verdict.Verdict `json:"results"`
}

// Execute runs the command and decodes its stdout as a verdict envelope.
// When the roster declares memo inputs and the run carries a cache handle,
// a fresh memoized verdict short-circuits the command entirely.
func (a *Agent) Execute(ctx context.Context, rc *session.Context) (*verdict.Verdict, error) {
	memoKey := a.memoKey(rc)
	if memoKey != "" {
		if payload, ok := rc.Memo.Get(ctx, a.name, memoKey); ok {
			if v := verdictFromPayload(payload); v != nil {
				return v, nil
			}
		}
	}

	input, err := json.Marshal(stdinPayload{
		SessionID: rc.SessionID,
		Agent:     a.name,
		Inputs:    rc.Inputs,
		Results:   rc.Results(),
	})
	if err != nil {
		return nil, fmt.Errorf("script %s: encode stdin: %w", a.name, err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", a.command) //nolint:gosec // G204: command comes from the operator's roster config
	cmd.Dir = a.dir
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = append(cmd.Environ(), "TRIBUNAL_AGENT="+a.name, "TRIBUNAL_SESSION="+rc.SessionID)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("script %s: %w (stderr: %s)", a.name, err, strings.TrimSpace(stderr.String()))
	}

	var v verdict.Verdict
	if err := json.Unmarshal(stdout.Bytes(), &v); err != nil {
		return nil, fmt.Errorf("script %s: decode verdict: %w", a.name, err)
	}
	if v.AgentName == "" {
		v.AgentName = a.name
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().UTC()
	}
	if v.Payload == nil {
		v.Payload = map[string]any{}
	}

	if memoKey != "" {
		rc.Memo.Set(ctx, a.name, memoKey, verdictToPayload(&v))
	}
	return &v, nil
}

// memoKey resolves the declared memo inputs against the run and hashes them.
// Entries matching an input key hash the input's current value; everything
// else passes through as a path, glob, or literal. Any failure disables
// memoization for this execution.
func (a *Agent) memoKey(rc *session.Context) string {
	if len(a.memo) == 0 || rc.Memo == nil {
		return ""
	}

	resolved := make([]string, 0, len(a.memo))
	for _, in := range a.memo {
		if val, ok := rc.Inputs[in]; ok {
			resolved = append(resolved, fmt.Sprintf("%s=%v", in, val))
			continue
		}
		resolved = append(resolved, in)
	}

	key, err := rc.Memo.Key(resolved...)
	if err != nil {
		return ""
	}
	return key
}

// verdictToPayload flattens a verdict into the memo payload shape.
func verdictToPayload(v *verdict.Verdict) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// verdictFromPayload rebuilds a verdict from a memo payload. A payload that
// does not decode to a valid envelope reads as a miss.
func verdictFromPayload(payload map[string]any) *verdict.Verdict {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var v verdict.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	if v.Validate() != nil {
		return nil
	}
	if v.Metadata == nil {
		v.Metadata = map[string]string{}
	}
	v.Metadata["cached"] = "true"
	return &v
}
