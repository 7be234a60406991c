// Package planner produces the next-action suggestions returned with
// every find result. Callers may supply their own strategy; it runs behind
// a validating boundary that falls back to the default on any failure.
package planner

import (
	"fmt"
	"log/slog"

	"github.com/docsift/docsift/internal/claims"
)

// Action is one suggested follow-up call.
type Action struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Reason string         `json:"reason"`
}

// Planner derives next actions from a query's summary.
type Planner interface {
	Plan(traceID string, summary claims.Summary) ([]Action, error)
}

// Default is the built-in strategy.
type Default struct{}

var _ Planner = Default{}

// Plan suggests the obvious follow-ups for each integration status.
func (Default) Plan(traceID string, s claims.Summary) ([]Action, error) {
	fetch := func(kind, reason string) Action {
		return Action{
			Tool:   "fetch",
			Args:   map[string]any{"trace_id": traceID, "kind": kind},
			Reason: reason,
		}
	}

	switch s.IntegrationStatus {
	case claims.StatusBlocked:
		return []Action{{
			Tool:   "find",
			Args:   map[string]any{"expand_scope": true},
			Reason: "no candidates in scope; retry with scope expansion",
		}}, nil
	case claims.StatusReady:
		return []Action{
			fetch("integrated_top", "results are consistent; read the top evidence"),
			fetch("candidates", "full ranked candidate list"),
		}, nil
	}

	var actions []Action
	if s.ConflictCount > 0 {
		actions = append(actions, fetch("conflicts", "contradicting evidence needs review"))
	}
	if s.GapCount > 0 {
		actions = append(actions, fetch("gaps", "unresolved claims need more evidence"))
	}
	actions = append(actions, fetch("candidates", "inspect what was found so far"))
	if s.GapCount > 0 {
		actions = append(actions, Action{
			Tool:   "find",
			Args:   map[string]any{"expand_scope": true},
			Reason: "gaps remain; neighboring corpora may fill them",
		})
	}
	return actions, nil
}

// Validated wraps a caller-supplied planner. Any error, panic, or invalid
// action set falls back to the default strategy; planning never fails a
// query.
type Validated struct {
	inner    Planner
	fallback Default
	logger   *slog.Logger
}

// NewValidated wraps p; a nil p is the default strategy directly.
func NewValidated(p Planner) *Validated {
	return &Validated{inner: p, logger: slog.Default()}
}

var _ Planner = (*Validated)(nil)

func (v *Validated) Plan(traceID string, s claims.Summary) ([]Action, error) {
	if v.inner == nil {
		return v.fallback.Plan(traceID, s)
	}
	actions, err := v.planSafely(traceID, s)
	if err != nil {
		v.logger.Warn("planner_fallback", slog.Any("error", err))
		return v.fallback.Plan(traceID, s)
	}
	for _, a := range actions {
		if a.Tool == "" {
			v.logger.Warn("planner_fallback", slog.String("error", "action without tool"))
			return v.fallback.Plan(traceID, s)
		}
	}
	if len(actions) == 0 {
		return v.fallback.Plan(traceID, s)
	}
	return actions, nil
}

func (v *Validated) planSafely(traceID string, s claims.Summary) (actions []Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("planner panicked: %v", r)
		}
	}()
	return v.inner.Plan(traceID, s)
}
