package rank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuse_RanksCrossListConsensusFirst(t *testing.T) {
	shared := &Candidate{Ref: Ref{Path: "shared.md", StartLine: 1}, Score: 5, LexScore: 5}
	onlyA := &Candidate{Ref: Ref{Path: "a.md", StartLine: 1}, Score: 9, LexScore: 9}
	onlyB := &Candidate{Ref: Ref{Path: "b.md", StartLine: 1}, Score: 8, LexScore: 8}

	fused := fuse([]rankedList{
		{cands: []*Candidate{onlyA, shared}, weight: 1.0},
		{cands: []*Candidate{onlyB, shared}, weight: 1.0},
	}, 60, 0.0) // alpha 0 isolates the RRF component

	require.Len(t, fused, 3)
	assert.Equal(t, "shared.md", fused[0].Ref.Path,
		"a candidate in both lists beats single-list leaders")
}

func TestFuse_BlendKeepsLexicalGaps(t *testing.T) {
	big := &Candidate{Ref: Ref{Path: "big.md", StartLine: 1}, Score: 100, LexScore: 100}
	tiny := &Candidate{Ref: Ref{Path: "tiny.md", StartLine: 1}, Score: 0.1, LexScore: 0.1}
	tiny2 := &Candidate{Ref: Ref{Path: "tiny2.md", StartLine: 1}, Score: 0.05, LexScore: 0.05}

	fused := fuse([]rankedList{
		{cands: []*Candidate{big, tiny, tiny2}, weight: 1.0},
	}, 60, 0.7)

	require.Len(t, fused, 3)
	assert.Equal(t, "big.md", fused[0].Ref.Path)
	gapTop := fused[0].Score - fused[1].Score
	gapTail := fused[1].Score - fused[2].Score
	assert.Greater(t, gapTop, gapTail,
		"the lexical blend preserves the dominant score gap")
}

func TestFuse_WeightedLists(t *testing.T) {
	a := &Candidate{Ref: Ref{Path: "a.md", StartLine: 1}, Score: 1, LexScore: 1}
	b := &Candidate{Ref: Ref{Path: "b.md", StartLine: 1}, Score: 1, LexScore: 1}

	fused := fuse([]rankedList{
		{cands: []*Candidate{a}, weight: 1.10},
		{cands: []*Candidate{b}, weight: 1.00},
	}, 60, 0.0)

	require.Len(t, fused, 2)
	assert.Equal(t, "a.md", fused[0].Ref.Path, "heavier list wins the tie")
}

func TestFuse_Empty(t *testing.T) {
	assert.Nil(t, fuse(nil, 60, 0.7))
	assert.Nil(t, fuse([]rankedList{{cands: nil, weight: 1}}, 60, 0.7))
}

func TestDecomposeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int // expected sub-query count, 0 for none
	}{
		{"japanese difference pattern", "普通預金と定期預金の違い", 3},
		{"japanese comparison pattern", "窓口とatmの比較", 3},
		{"vs pattern", "nisa vs ideco", 3},
		{"plain query untouched", "振込手数料はいくらですか", 0},
		{"single term untouched", "手数料", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs := decomposeQuery(tt.query, 3)
			if tt.want == 0 {
				assert.Empty(t, subs)
				return
			}
			require.Len(t, subs, tt.want)
			assert.NotEqual(t, subs[0], subs[1], "arms differ")
		})
	}
}

func TestDecomposeQuery_ArmsCarrySharedAspect(t *testing.T) {
	subs := decomposeQuery("普通預金と定期預金の違いの手数料", 3)
	require.Len(t, subs, 3)
	assert.Contains(t, subs[0], "普通預金")
	assert.Contains(t, subs[1], "定期預金")
}

func TestSearch_DecomposesComparisonQuery(t *testing.T) {
	s := newTestScorer(t, map[string]string{
		"m1/futsu.md":  "# 普通預金\n普通預金はいつでも引き出せます。\n",
		"m1/teiki.md":  "# 定期預金\n定期預金は満期まで預け入れます。\n",
		"m1/hikaku.md": "# 預金の比較\n普通預金と定期預金の違いは流動性です。\n",
	})

	res, err := s.Search(context.Background(), PassInput{
		Corpora: []string{"m1"},
		Query:   "普通預金と定期預金の違い",
		Budget:  Budget{TimeMS: 5000, MaxCandidates: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, StrategyDecompose, res.Strategy)
	assert.Len(t, res.SubQueries, 3)
	require.NotEmpty(t, res.Candidates)

	paths := map[string]bool{}
	for _, c := range res.Candidates {
		paths[c.Ref.Path] = true
	}
	assert.True(t, paths["hikaku.md"], "the direct comparison section surfaces")
}

func TestSearch_RequiredRRFWithTwoTerms(t *testing.T) {
	s := newTestScorer(t, map[string]string{
		"m1/both.md": "# 両方\n普通預金と定期預金の手数料。\n",
		"m1/a.md":    "# 普通\n普通預金の手数料。\n",
		"m1/b.md":    "# 定期\n定期預金の手数料。\n",
	})

	res, err := s.Search(context.Background(), PassInput{
		Corpora:       []string{"m1"},
		Query:         "手数料",
		RequiredTerms: []string{"普通預金", "定期預金"},
		Budget:        Budget{TimeMS: 5000, MaxCandidates: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, StrategyRequiredRRF, res.Strategy)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, "both.md", res.Candidates[0].Ref.Path,
		"the AND pass carries the heaviest fusion weight")
}

func TestSearch_SingleStrategyPassThrough(t *testing.T) {
	s := newTestScorer(t, map[string]string{
		"m1/a.md": "# 手数料\n振込手数料は330円です。\n",
	})
	res, err := s.Search(context.Background(), PassInput{
		Corpora: []string{"m1"},
		Query:   "振込手数料",
		Budget:  Budget{TimeMS: 5000, MaxCandidates: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, StrategySingle, res.Strategy)
	assert.NotEmpty(t, res.Candidates)
}
