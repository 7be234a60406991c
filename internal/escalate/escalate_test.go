package escalate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsift/docsift/internal/corpus"
	"github.com/docsift/docsift/internal/index"
	"github.com/docsift/docsift/internal/rank"
)

func testSource(t *testing.T, files map[string]string) corpus.Source {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return corpus.NewDirSource(root)
}

func cand(path string, score float64) *rank.Candidate {
	return &rank.Candidate{
		Ref:   rank.Ref{Corpus: "m1", Path: path, StartLine: 1},
		Score: score,
	}
}

func TestFileBias(t *testing.T) {
	assert.Zero(t, FileBias(nil))
	assert.InDelta(t, 1.0, FileBias([]*rank.Candidate{cand("a.md", 1)}), 1e-9)

	cands := []*rank.Candidate{
		cand("a.md", 5), cand("a.md", 4), cand("a.md", 3), cand("b.md", 2),
	}
	assert.InDelta(t, 0.75, FileBias(cands), 1e-9)
}

func TestTopMargin(t *testing.T) {
	assert.InDelta(t, 1.0, TopMargin(nil, 3), 1e-9, "no runners-up means no ambiguity")

	clear := []*rank.Candidate{cand("a.md", 10), cand("b.md", 2), cand("c.md", 2)}
	assert.InDelta(t, 0.8, TopMargin(clear, 3), 1e-9)

	tight := []*rank.Candidate{cand("a.md", 10), cand("b.md", 9.8), cand("c.md", 9.9)}
	assert.Less(t, TopMargin(tight, 3), 0.05)
}

func TestHeuristicTriggers(t *testing.T) {
	th := DefaultThresholds()

	assert.Contains(t, Heuristic(nil, th), ReasonZeroCandidates)
	assert.Contains(t, Heuristic([]*rank.Candidate{cand("a.md", 1)}, th), ReasonLowCandidates)

	biased := []*rank.Candidate{
		cand("a.md", 5), cand("a.md", 4), cand("a.md", 3), cand("a.md", 2), cand("b.md", 1),
	}
	assert.Contains(t, Heuristic(biased, th), ReasonFileBias)

	healthy := []*rank.Candidate{
		cand("a.md", 5), cand("b.md", 4), cand("c.md", 3),
	}
	assert.Empty(t, Heuristic(healthy, th))
}

func TestDecide_CorrectiveTriggers(t *testing.T) {
	src := testSource(t, map[string]string{"m1/a.md": "# a\nbody\n"})
	c := NewController(src, DefaultConfig())
	th := DefaultThresholds()

	healthy := []*rank.Candidate{cand("a.md", 10), cand("b.md", 2), cand("c.md", 1)}

	reasons := c.Decide(Observation{Candidates: healthy, GapCount: 2, ClaimCoverage: 1}, th)
	assert.Contains(t, reasons, ReasonGapCount)

	reasons = c.Decide(Observation{Candidates: healthy, ConflictCount: 1, ClaimCoverage: 1}, th)
	assert.Contains(t, reasons, ReasonConflictCount)

	reasons = c.Decide(Observation{Candidates: healthy, ClaimCoverage: 0.1}, th)
	assert.Contains(t, reasons, ReasonLowClaimCoverage)

	reasons = c.Decide(Observation{Candidates: healthy, ClaimCoverage: 1}, th)
	assert.Empty(t, reasons)

	disabled := NewController(src, Config{CorrectiveEnabled: false})
	reasons = disabled.Decide(Observation{Candidates: healthy, GapCount: 5}, th)
	assert.Empty(t, reasons)
}

func TestExpand_MergesPenalizedNeighbors(t *testing.T) {
	src := testSource(t, map[string]string{
		"fee-main/a.md":    "# 手数料\n振込手数料は330円です。\n",
		"fee-archive/b.md": "# 旧手数料\n振込手数料は220円でした。\n",
		"unrelated/c.md":   "# その他\n別の話題。\n",
	})
	scorer := rank.NewScorer(src, index.NewStore(src, 4), rank.DefaultConfig())
	c := NewController(src, DefaultConfig())

	in := rank.PassInput{
		Corpora: []string{"fee-main"},
		Query:   "振込手数料",
		Budget:  rank.Budget{TimeMS: 5000, MaxCandidates: 10},
	}
	pr, err := scorer.RunPass(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, pr.Candidates)

	merged, neighbors, err := c.Expand(context.Background(), scorer, in, pr.Candidates)
	require.NoError(t, err)
	assert.Contains(t, neighbors, "fee-archive", "shared-prefix neighbor is scanned")

	var sawExpanded bool
	for _, cd := range merged {
		if cd.HasSignal(rank.SignalExpandedScope) {
			sawExpanded = true
			assert.NotEqual(t, "fee-main", cd.Ref.Corpus)
		}
	}
	assert.True(t, sawExpanded, "neighbor results carry the expanded_scope tag")
	assert.False(t, merged[0].HasSignal(rank.SignalExpandedScope),
		"penalized secondary results never displace the primary top")
}

func TestDeclined_ListsNeighborFilesAsStageCap(t *testing.T) {
	src := testSource(t, map[string]string{
		"fee-main/a.md":    "# a\nbody\n",
		"fee-archive/b.md": "# b\nbody\n",
		"fee-archive/c.md": "# c\nbody\n",
	})
	c := NewController(src, DefaultConfig())

	declined := c.Declined("fee-main")
	require.Len(t, declined, 2)
	for _, u := range declined {
		assert.Equal(t, "fee-archive", u.Corpus)
		assert.Equal(t, rank.CutoffStageCap, u.Reason)
	}
}
