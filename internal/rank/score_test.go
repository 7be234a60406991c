package rank

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsift/docsift/internal/expand"
	"github.com/docsift/docsift/internal/index"
	"github.com/docsift/docsift/internal/textnorm"
)

func scoringDoc(title, text string) *index.Document {
	return &index.Document{
		Corpus:    "m1",
		Path:      "a.md",
		StartLine: 1,
		Title:     title,
		Text:      text,
		NormText:  textnorm.Normalize(text),
		NormTitle: textnorm.Normalize(title),
		Length:    len(textnorm.Tokenize(textnorm.Normalize(text))),
	}
}

func scoringIndex(docs ...*index.Document) *index.SparseIndex {
	idx := &index.SparseIndex{Docs: docs, DocFreq: map[string]int{}, AvgLen: 10}
	return idx
}

func terms(texts ...string) []expand.Term {
	out := make([]expand.Term, 0, len(texts))
	for _, t := range texts {
		out = append(out, expand.Term{Text: t, Weight: 1})
	}
	return out
}

func TestScoreDocument_ProximityNeedsLongAnchor(t *testing.T) {
	s := &Scorer{cfg: DefaultConfig()}
	doc := scoringDoc("料金", "円は330のすぐ近くにある。")

	cand, _ := s.scoreDocument(scoringIndex(doc), doc, terms("円", "330"), nil, nil, nil)
	require.NotNil(t, cand)
	assert.True(t, cand.HasSignal(SignalNumberContext))
	assert.False(t, cand.HasSignal(SignalProximity),
		"a single-rune term cannot anchor a proximity bonus")
}

func TestScoreDocument_ProximityUsesNearestOccurrencePair(t *testing.T) {
	s := &Scorer{cfg: DefaultConfig()}
	far := strings.Repeat("関係のない説明文が続きます。", 10)
	doc := scoringDoc("案内", "手数料の案内。"+far+"この手数料は330円です。")

	cand, _ := s.scoreDocument(scoringIndex(doc), doc, terms("手数料", "330"), nil, nil, nil)
	require.NotNil(t, cand)
	assert.True(t, cand.HasSignal(SignalProximity),
		"the later anchor occurrence sits inside the window even though the first does not")
}

func TestScoreDocument_DigestCarriesSectionContent(t *testing.T) {
	s := &Scorer{cfg: DefaultConfig()}
	doc := scoringDoc("手数料", "振込手数料は330円です。")

	cand, _ := s.scoreDocument(scoringIndex(doc), doc, terms("手数料"), nil, nil, nil)
	require.NotNil(t, cand)
	assert.Equal(t, ContentDigest(doc.Text), cand.Digest)
	assert.NotEqual(t, cand.Digest, ContentDigest(doc.Text+"改定あり"))
}

func TestContentDigest_Deterministic(t *testing.T) {
	a := ContentDigest("振込手数料は330円です。")
	assert.Equal(t, a, ContentDigest("振込手数料は330円です。"))
	assert.Len(t, a, 16)
}

func TestNearestDistance(t *testing.T) {
	assert.Equal(t, -1, nearestDistance(nil, []int{1}))
	assert.Equal(t, -1, nearestDistance([]int{1}, nil))
	assert.Equal(t, 2, nearestDistance([]int{10, 50}, []int{48, 100}))
	assert.Equal(t, 0, nearestDistance([]int{7}, []int{7}))
}

func TestRuneIndexes(t *testing.T) {
	assert.Equal(t, []int{0, 3}, runeIndexes("abcabc", "abc"))
	assert.Equal(t, []int{0, 3}, runeIndexes("あいうあい", "あい"))
	assert.Empty(t, runeIndexes("abc", "xyz"))
}
