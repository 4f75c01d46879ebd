// Package scenario runs ordered groups of scenarios against one world and
// turns each run into exactly one outcome record.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kuitang/promptdeck-e2e/internal/outcome"
	"github.com/kuitang/promptdeck-e2e/internal/world"
)

// Func is a scenario body. It may attach details to rec through Note, and
// returns nil to pass, Skip(...) to skip, or any other error to fail. A
// body that already finished rec itself keeps that outcome.
type Func func(ctx context.Context, w *world.World, rec *outcome.Record) error

// Scenario is one self-contained test procedure.
type Scenario struct {
	ID    string // e.g. "T2.3"
	Name  string
	Needs []string // world facts that must hold, else the scenario is skipped
	Run   Func
}

// Group is an ordered block of scenarios, e.g. T2 "prompts".
type Group struct {
	ID        string
	Name      string
	Scenarios []Scenario
}

// SkipError marks an expected precondition miss.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

// Skip returns an error that makes the runner record the scenario as
// skipped with reason.
func Skip(reason string) error { return &SkipError{Reason: reason} }

// Skipf is Skip with formatting.
func Skipf(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkip reports whether err asks for a skip, and why.
func IsSkip(err error) (string, bool) {
	var se *SkipError
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return "", false
}

// Validate checks that group and scenario ids are unique and every scenario
// has a body.
func Validate(groups []Group) error {
	var problems []string
	seen := map[string]bool{}
	for _, g := range groups {
		if g.ID == "" || g.Name == "" {
			problems = append(problems, "group with empty id or name")
		}
		if seen[g.ID] {
			problems = append(problems, "duplicate group id "+g.ID)
		}
		seen[g.ID] = true
		for _, s := range g.Scenarios {
			if seen[s.ID] {
				problems = append(problems, "duplicate scenario id "+s.ID)
			}
			seen[s.ID] = true
			if !strings.HasPrefix(s.ID, g.ID+".") {
				problems = append(problems, fmt.Sprintf("scenario %s is not numbered under group %s", s.ID, g.ID))
			}
			if s.Run == nil {
				problems = append(problems, "scenario "+s.ID+" has no body")
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid scenario registry: %s", strings.Join(problems, "; "))
	}
	return nil
}
