// Package stage groups agent descriptors into dependency-respecting
// concurrency tiers. Stage k+1 contains only descriptors whose dependencies
// are fully satisfied by the union of stages 0..k.
package stage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrDuplicateName     = errors.New("duplicate agent name")
	ErrUnknownDependency = errors.New("dependency references unknown agent")
	ErrCycle             = errors.New("agent dependencies contain a cycle")
)

// Descriptor is the static declaration the planner works from.
type Descriptor struct {
	Name      string
	DependsOn []string
}

// Build computes the staged execution order. Within a stage, descriptors keep
// their declaration order so repeated runs produce reproducible logs.
//
// A pass that places no descriptors while some remain means the remaining
// declarations are cyclic; that is a configuration error, never silently
// resolved. Undeclared references are rejected up front.
func Build(descriptors []Descriptor) ([][]Descriptor, error) {
	known := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if known[d.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
		}
		known[d.Name] = true
	}
	for _, d := range descriptors {
		for _, dep := range d.DependsOn {
			if !known[dep] {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, d.Name, dep)
			}
		}
	}

	placed := make(map[string]bool, len(descriptors))
	remaining := descriptors
	var stages [][]Descriptor

	for len(remaining) > 0 {
		var tier, next []Descriptor
		for _, d := range remaining {
			if satisfied(d, placed) {
				tier = append(tier, d)
			} else {
				next = append(next, d)
			}
		}

		if len(tier) == 0 {
			return nil, fmt.Errorf("%w: involving %s", ErrCycle, names(next))
		}

		for _, d := range tier {
			placed[d.Name] = true
		}
		stages = append(stages, tier)
		remaining = next
	}

	return stages, nil
}

func satisfied(d Descriptor, placed map[string]bool) bool {
	for _, dep := range d.DependsOn {
		if !placed[dep] {
			return false
		}
	}
	return true
}

func names(ds []Descriptor) string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Name)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
