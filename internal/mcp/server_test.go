package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsift/docsift/internal/corpus"
	"github.com/docsift/docsift/internal/engine"
	"github.com/docsift/docsift/internal/errors"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "faq"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "faq", "fees.md"),
		[]byte("# 手数料\n\n振込手数料は300円以内です。\n\n## 例外\n\nただし月3回まで無料です。\n"), 0o644))

	eng := engine.New(corpus.NewDirSource(root), engine.DefaultOptions())
	s, err := NewServer(eng)
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParameter))
}

func TestFindHandler_ReturnsTraceAndSummary(t *testing.T) {
	s := newTestServer(t)

	_, out, err := s.findHandler(context.Background(), nil, FindInput{
		Query:  "振込手数料はいくらですか",
		Corpus: "faq",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.NotEmpty(t, out.Result.TraceID)
	assert.Greater(t, out.Result.Summary.Candidates, 0)
}

func TestFindHandler_BudgetOverrides(t *testing.T) {
	s := newTestServer(t)

	_, out, err := s.findHandler(context.Background(), nil, FindInput{
		Query:         "手数料",
		Corpus:        "faq",
		MaxCandidates: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Result.Applied.Budget.MaxCandidates)
	assert.Equal(t, engine.DefaultBudget.TimeMS, out.Result.Applied.Budget.TimeMS)
}

func TestFindHandler_ValidationErrorsCarryCodes(t *testing.T) {
	s := newTestServer(t)

	_, _, err := s.findHandler(context.Background(), nil, FindInput{Corpus: "faq"})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParameter))

	// Out-of-range budget values must reach validation, not be replaced
	// with defaults.
	_, _, err = s.findHandler(context.Background(), nil, FindInput{
		Query:  "手数料",
		Corpus: "faq",
		TimeMS: -100,
	})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParameter))

	_, _, err = s.findHandler(context.Background(), nil, FindInput{
		Query:         "手数料",
		Corpus:        "faq",
		MaxCandidates: -5,
	})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParameter))

	_, _, err = s.findHandler(context.Background(), nil, FindInput{
		Query:         "手数料",
		Corpus:        "faq",
		MaxCandidates: engine.MaxMaxCandidates + 1,
	})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParameter))

	_, _, err = s.findHandler(context.Background(), nil, FindInput{
		Query:  "手数料",
		Corpus: "no-such-corpus",
	})
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestFetchHandler_PagesCandidates(t *testing.T) {
	s := newTestServer(t)

	_, found, err := s.findHandler(context.Background(), nil, FindInput{
		Query:  "振込手数料",
		Corpus: "faq",
	})
	require.NoError(t, err)

	_, out, err := s.fetchHandler(context.Background(), nil, FetchInput{
		TraceID: found.Result.TraceID,
		Kind:    engine.KindCandidates,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, DefaultFetchLimit, out.Result.Limit)
	assert.Greater(t, out.Result.Total, 0)

	_, _, err = s.fetchHandler(context.Background(), nil, FetchInput{
		TraceID: found.Result.TraceID,
		Kind:    "everything",
	})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParameter))
}

func TestStatusHandler_ListsCorpora(t *testing.T) {
	s := newTestServer(t)

	_, out, err := s.statusHandler(context.Background(), nil, StatusInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{"faq"}, out.Corpora)
	assert.NotEmpty(t, out.Version)
}
