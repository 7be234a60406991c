package planner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsift/docsift/internal/claims"
)

func TestDefault_Blocked(t *testing.T) {
	actions, err := Default{}.Plan("t1", claims.Summary{IntegrationStatus: claims.StatusBlocked})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "find", actions[0].Tool)
	assert.Equal(t, true, actions[0].Args["expand_scope"])
}

func TestDefault_Ready(t *testing.T) {
	actions, err := Default{}.Plan("t1", claims.Summary{IntegrationStatus: claims.StatusReady})
	require.NoError(t, err)
	require.NotEmpty(t, actions)
	assert.Equal(t, "fetch", actions[0].Tool)
	assert.Equal(t, "integrated_top", actions[0].Args["kind"])
	assert.Equal(t, "t1", actions[0].Args["trace_id"])
}

func TestDefault_NeedsFollowup(t *testing.T) {
	actions, err := Default{}.Plan("t1", claims.Summary{
		IntegrationStatus: claims.StatusNeedsFollowup,
		GapCount:          2,
		ConflictCount:     1,
	})
	require.NoError(t, err)

	kinds := map[any]bool{}
	for _, a := range actions {
		kinds[a.Args["kind"]] = true
	}
	assert.True(t, kinds["conflicts"])
	assert.True(t, kinds["gaps"])
}

type failingPlanner struct{ err error }

func (f failingPlanner) Plan(string, claims.Summary) ([]Action, error) { return nil, f.err }

type panickingPlanner struct{}

func (panickingPlanner) Plan(string, claims.Summary) ([]Action, error) { panic("boom") }

type invalidPlanner struct{}

func (invalidPlanner) Plan(string, claims.Summary) ([]Action, error) {
	return []Action{{Tool: "", Reason: "broken"}}, nil
}

func TestValidated_FallsBackToDefault(t *testing.T) {
	summary := claims.Summary{IntegrationStatus: claims.StatusReady}
	want, _ := Default{}.Plan("t1", summary)

	for name, p := range map[string]Planner{
		"error":   failingPlanner{err: errors.New("nope")},
		"panic":   panickingPlanner{},
		"invalid": invalidPlanner{},
		"nil":     nil,
	} {
		t.Run(name, func(t *testing.T) {
			got, err := NewValidated(p).Plan("t1", summary)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestValidated_PassesThroughGoodPlans(t *testing.T) {
	p := plannerFunc(func(traceID string, s claims.Summary) ([]Action, error) {
		return []Action{{Tool: "fetch", Reason: "custom"}}, nil
	})
	got, err := NewValidated(p).Plan("t1", claims.Summary{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "custom", got[0].Reason)
}

type plannerFunc func(string, claims.Summary) ([]Action, error)

func (f plannerFunc) Plan(traceID string, s claims.Summary) ([]Action, error) {
	return f(traceID, s)
}
