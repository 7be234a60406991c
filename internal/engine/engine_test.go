package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsift/docsift/internal/cache"
	"github.com/docsift/docsift/internal/claims"
	"github.com/docsift/docsift/internal/corpus"
	"github.com/docsift/docsift/internal/errors"
	"github.com/docsift/docsift/internal/rank"
)

func newTestEngine(t *testing.T, files map[string]string) *Engine {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return New(corpus.NewDirSource(root), DefaultOptions())
}

func boolPtr(b bool) *bool { return &b }

func TestFind_Validation(t *testing.T) {
	e := newTestEngine(t, map[string]string{"m1/a.md": "# a\nbody\n"})
	ctx := context.Background()

	tests := []struct {
		name string
		req  FindRequest
		code string
	}{
		{"empty query", FindRequest{CorpusID: "m1"}, errors.CodeInvalidParameter},
		{"empty corpus", FindRequest{Query: "q"}, errors.CodeInvalidParameter},
		{"unknown corpus", FindRequest{Query: "q", CorpusID: "nope"}, errors.CodeNotFound},
		{"zero time budget", FindRequest{Query: "q", CorpusID: "m1",
			Budget: &rank.Budget{TimeMS: 0, MaxCandidates: 5}}, errors.CodeInvalidParameter},
		{"negative candidates", FindRequest{Query: "q", CorpusID: "m1",
			Budget: &rank.Budget{TimeMS: 100, MaxCandidates: -1}}, errors.CodeInvalidParameter},
		{"oversized budget", FindRequest{Query: "q", CorpusID: "m1",
			Budget: &rank.Budget{TimeMS: MaxTimeMS + 1, MaxCandidates: 5}}, errors.CodeInvalidParameter},
		{"blank required term", FindRequest{Query: "q", CorpusID: "m1",
			RequiredTerms: []string{""}}, errors.CodeInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Find(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestFind_BlockedWhenNothingMatches(t *testing.T) {
	e := newTestEngine(t, map[string]string{"m1/a.md": "# お知らせ\n営業時間について。\n"})

	res, err := e.Find(context.Background(), FindRequest{
		Query:    "存在しない用語",
		CorpusID: "m1",
	})
	require.NoError(t, err)
	assert.Zero(t, res.Summary.Candidates)
	assert.Equal(t, claims.StatusBlocked, res.Summary.IntegrationStatus)
	assert.GreaterOrEqual(t, res.Summary.GapCount, 1)
	require.NotEmpty(t, res.NextActions)
	assert.Equal(t, "find", res.NextActions[0].Tool)
}

func TestFind_ExceptionsScenario(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"m1/fees.md": "# 手数料\n手数料の一覧。\n## 例外\n学生は対象外です。\n",
	})

	res, err := e.Find(context.Background(), FindRequest{
		Query:    "対象外",
		CorpusID: "m1",
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Summary.Candidates, 1)
	assert.NotEqual(t, claims.StatusBlocked, res.Summary.IntegrationStatus)

	page, err := e.Fetch(res.TraceID, KindCandidates, 0, 50)
	require.NoError(t, err)
	found := false
	for _, item := range page.Items {
		c := item.(*rank.Candidate)
		if c.HasSignal(rank.SignalExceptions) {
			found = true
		}
	}
	assert.True(t, found, "exceptions signal present on the 例外 section")
}

func TestFind_CandidateCapRecordsUnscanned(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"m1/a.md": "# 手数料\n手数料は330円。\n",
		"m1/b.md": "# 手数料一覧\n手数料の一覧表。\n",
		"m1/c.md": "# 手数料改定\n手数料の改定について。\n",
	})
	cfg := rank.DefaultConfig()
	cfg.ScanCeiling = 1 // force the candidate cap after the first file
	opts := DefaultOptions()
	opts.Rank = cfg
	e.scorer = rank.NewScorer(e.src, e.store, cfg)

	res, err := e.Find(context.Background(), FindRequest{
		Query:    "手数料",
		CorpusID: "m1",
		Budget:   &rank.Budget{TimeMS: 5000, MaxCandidates: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Candidates)

	page, err := e.Fetch(res.TraceID, KindUnscanned, 0, 50)
	require.NoError(t, err)
	require.NotEmpty(t, page.Items)
	sawCap := false
	for _, item := range page.Items {
		if item.(rank.Unscanned).Reason == rank.CutoffCandidateCap {
			sawCap = true
		}
	}
	assert.True(t, sawCap)
}

func TestFind_CacheExactHit(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"m1/fees.md": "# 手数料\n振込手数料は330円です。\n",
	})
	req := FindRequest{Query: "振込手数料", CorpusID: "m1"}

	first, err := e.Find(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, cache.ModeMiss, first.Applied.CacheMode)

	second, err := e.Find(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, cache.ModeExact, second.Applied.CacheMode)
	assert.Equal(t, first.Summary.Candidates, second.Summary.Candidates)
	assert.NotEqual(t, first.TraceID, second.TraceID, "every find gets its own trace")
}

func TestFind_CacheGuardRevalidates(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "m1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "m1", "a.md"),
		[]byte("# 手数料\n手数料は330円。\n"), 0o644))

	opts := DefaultOptions()
	opts.CacheGuard = CacheGuard{MaxGaps: 0, MaxConflicts: 0}
	e := New(corpus.NewDirSource(root), opts)

	// A single candidate leaves a gap, so the cached summary fails the
	// guard and the second call recomputes.
	req := FindRequest{Query: "手数料", CorpusID: "m1"}
	first, err := e.Find(context.Background(), req)
	require.NoError(t, err)
	require.GreaterOrEqual(t, first.Summary.GapCount, 1)

	second, err := e.Find(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, cache.ModeGuard, second.Applied.CacheMode)
	assert.Equal(t, first.Summary.Candidates, second.Summary.Candidates)
}

func TestFind_CacheToggleParity(t *testing.T) {
	files := map[string]string{
		"m1/fees.md": "# 手数料\n振込手数料は330円です。\n## 上限\n上限は10万円。\n",
		"m1/info.md": "# 口座\n口座の手数料について。\n",
	}
	cached := newTestEngine(t, files)
	uncached := newTestEngine(t, files)

	req := FindRequest{Query: "振込手数料", CorpusID: "m1"}
	reqOff := req
	reqOff.UseCache = boolPtr(false)

	// Warm the cache, then compare a cached answer to a fresh one.
	_, err := cached.Find(context.Background(), req)
	require.NoError(t, err)
	warm, err := cached.Find(context.Background(), req)
	require.NoError(t, err)
	cold, err := uncached.Find(context.Background(), reqOff)
	require.NoError(t, err)

	assert.Equal(t, cold.Summary.Candidates, warm.Summary.Candidates,
		"cache changes latency, not results")

	warmTop, err := cached.Fetch(warm.TraceID, KindCandidates, 0, 1)
	require.NoError(t, err)
	coldTop, err := uncached.Fetch(cold.TraceID, KindCandidates, 0, 1)
	require.NoError(t, err)
	require.NotEmpty(t, warmTop.Items)
	require.NotEmpty(t, coldTop.Items)
	assert.Equal(t,
		coldTop.Items[0].(*rank.Candidate).Key(),
		warmTop.Items[0].(*rank.Candidate).Key())
}

func TestFind_DeclinedExpansionListsStageCap(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"fee-main/a.md":    "# 手数料\n手数料は330円。\n",
		"fee-archive/b.md": "# 旧手数料\n昔の手数料。\n",
	})

	// One weak candidate fires the low-candidates trigger; expansion was
	// not requested, so neighbors are only listed, never scanned.
	res, err := e.Find(context.Background(), FindRequest{
		Query:    "手数料",
		CorpusID: "fee-main",
	})
	require.NoError(t, err)
	assert.False(t, res.Applied.Expanded)
	assert.Contains(t, res.Summary.EscalationReasons, "expansion_not_requested")

	page, err := e.Fetch(res.TraceID, KindUnscanned, 0, 50)
	require.NoError(t, err)
	sawStageCap := false
	for _, item := range page.Items {
		u := item.(rank.Unscanned)
		if u.Corpus == "fee-archive" && u.Reason == rank.CutoffStageCap {
			sawStageCap = true
		}
	}
	assert.True(t, sawStageCap)
}

func TestFind_RequestedExpansionMerges(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"fee-main/a.md":    "# 手数料\n手数料は330円。\n",
		"fee-archive/b.md": "# 旧手数料\n旧手数料は220円。\n",
	})

	res, err := e.Find(context.Background(), FindRequest{
		Query:       "手数料",
		CorpusID:    "fee-main",
		ExpandScope: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Applied.Expanded)

	page, err := e.Fetch(res.TraceID, KindCandidates, 0, 50)
	require.NoError(t, err)
	sawNeighbor := false
	for _, item := range page.Items {
		c := item.(*rank.Candidate)
		if c.Ref.Corpus == "fee-archive" {
			sawNeighbor = true
			assert.True(t, c.HasSignal(rank.SignalExpandedScope))
		}
	}
	assert.True(t, sawNeighbor)
}

func TestFetch_Validation(t *testing.T) {
	e := newTestEngine(t, map[string]string{"m1/a.md": "# a\n手数料\n"})
	res, err := e.Find(context.Background(), FindRequest{Query: "手数料", CorpusID: "m1"})
	require.NoError(t, err)

	_, err = e.Fetch("", KindCandidates, 0, 10)
	assert.Equal(t, errors.CodeInvalidParameter, errors.CodeOf(err))

	_, err = e.Fetch(res.TraceID, "bogus", 0, 10)
	assert.Equal(t, errors.CodeInvalidParameter, errors.CodeOf(err))

	_, err = e.Fetch(res.TraceID, KindCandidates, -1, 10)
	assert.Equal(t, errors.CodeInvalidParameter, errors.CodeOf(err))

	_, err = e.Fetch(res.TraceID, KindCandidates, 0, 0)
	assert.Equal(t, errors.CodeInvalidParameter, errors.CodeOf(err))

	_, err = e.Fetch("00000000-0000-0000-0000-000000000000", KindCandidates, 0, 10)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestFetch_Pagination(t *testing.T) {
	body := "# 手数料\n手数料の話。\n"
	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d"} {
		files["m1/"+name+".md"] = body
	}
	e := newTestEngine(t, files)

	res, err := e.Find(context.Background(), FindRequest{
		Query:    "手数料",
		CorpusID: "m1",
		Budget:   &rank.Budget{TimeMS: 5000, MaxCandidates: 4},
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Summary.Candidates, 3)

	first, err := e.Fetch(res.TraceID, KindCandidates, 0, 2)
	require.NoError(t, err)
	assert.Len(t, first.Items, 2)
	assert.True(t, first.HasMore)

	rest, err := e.Fetch(res.TraceID, KindCandidates, 2, 50)
	require.NoError(t, err)
	assert.False(t, rest.HasMore)
	assert.Equal(t, first.Total, rest.Total)

	past, err := e.Fetch(res.TraceID, KindCandidates, 999, 10)
	require.NoError(t, err)
	assert.Empty(t, past.Items)
	assert.False(t, past.HasMore)
}

func TestFetch_ClaimKinds(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"m1/fees.md": "# 手数料\n手数料は330円。\n## 例外\n学生は対象外。\n",
	})
	res, err := e.Find(context.Background(), FindRequest{Query: "手数料の対象外", CorpusID: "m1"})
	require.NoError(t, err)

	cl, err := e.Fetch(res.TraceID, KindClaims, 0, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, cl.Items)

	edges, err := e.Fetch(res.TraceID, KindEdges, 0, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, edges.Items)

	top, err := e.Fetch(res.TraceID, KindIntegratedTop, 0, 50)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(top.Items), integratedTopSize)

	ev, err := e.Fetch(res.TraceID, KindEvidences, 0, 50)
	require.NoError(t, err)
	require.NotEmpty(t, ev.Items)
	cands, err := e.Fetch(res.TraceID, KindCandidates, 0, 50)
	require.NoError(t, err)
	assert.Len(t, ev.Items, len(cands.Items), "one evidence entry per candidate")
	for _, item := range ev.Items {
		evidence, ok := item.(*claims.Evidence)
		require.True(t, ok)
		assert.NotEmpty(t, evidence.CandidateKey)
		assert.NotEmpty(t, evidence.Digest)
	}
}
