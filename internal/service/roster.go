package service

import (
	"fmt"
	"log/slog"

	"github.com/tribunal-dev/tribunal/internal/config"
	"github.com/tribunal-dev/tribunal/internal/domain/stage"
	"github.com/tribunal-dev/tribunal/internal/port/agent"
)

// LoadError records one roster entry that could not be constructed.
// Broken entries never abort the load of the others.
type LoadError struct {
	Name    string
	Backend string
	Err     error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("load agent %s (backend %s): %v", e.Name, e.Backend, e.Err)
}

// Roster is the ordered set of constructed agents plus per-entry load errors.
// Weights carries the consensus vote weight for entries that declare one.
type Roster struct {
	Agents  []agent.Agent
	Weights map[string]float64
	Errors  []LoadError
}

// LoadRoster constructs agents from the configured entries in declaration
// order. Inactive entries are skipped and logged. An unknown backend or
// factory failure is recorded per entry. Duplicate names are a configuration
// error and fail the whole load.
func LoadRoster(entries []config.AgentEntry) (*Roster, error) {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("roster entry with backend %q has no name", e.Backend)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("%w: %s", stage.ErrDuplicateName, e.Name)
		}
		seen[e.Name] = true
	}

	r := &Roster{}
	for _, e := range entries {
		if !e.IsActive() {
			slog.Info("roster entry inactive, skipping", "agent", e.Name, "backend", e.Backend)
			continue
		}

		a, err := agent.New(e.Backend, e.Name, e.DependsOn, e.Settings)
		if err != nil {
			slog.Error("roster entry failed to load", "agent", e.Name, "backend", e.Backend, "error", err)
			r.Errors = append(r.Errors, LoadError{Name: e.Name, Backend: e.Backend, Err: err})
			continue
		}
		r.Agents = append(r.Agents, a)
		if e.Weight > 0 {
			if r.Weights == nil {
				r.Weights = make(map[string]float64)
			}
			r.Weights[e.Name] = e.Weight
		}
	}

	slog.Info("roster loaded", "agents", len(r.Agents), "errors", len(r.Errors))
	return r, nil
}

// Descriptors returns the planner input for the loaded agents, in declaration order.
func (r *Roster) Descriptors() []stage.Descriptor {
	ds := make([]stage.Descriptor, 0, len(r.Agents))
	for _, a := range r.Agents {
		ds = append(ds, stage.Descriptor{Name: a.Name(), DependsOn: a.Dependencies()})
	}
	return ds
}
