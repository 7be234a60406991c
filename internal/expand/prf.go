package expand

import (
	"regexp"
	"sort"

	"github.com/docsift/docsift/internal/index"
)

// PRFConfig bounds pseudo-relevance feedback expansion.
type PRFConfig struct {
	// TopDocs is how many seed-scored documents to harvest terms from.
	TopDocs int
	// MaxTerms caps the expansion terms kept, by accumulated gain.
	MaxTerms int
	// DFRatioCeiling excludes terms whose document frequency exceeds this
	// fraction of the corpus (stop-word-ish terms carry no signal).
	DFRatioCeiling float64
	// Weight is the low scoring weight assigned to expansion terms.
	Weight float64
}

// DefaultPRFConfig returns the tuned defaults.
func DefaultPRFConfig() PRFConfig {
	return PRFConfig{
		TopDocs:        5,
		MaxTerms:       4,
		DFRatioCeiling: 0.30,
		Weight:         0.30,
	}
}

var codeLike = regexp.MustCompile(`^[a-z]{1,4}\d{2,6}[a-z]?$`)
var pureDigits = regexp.MustCompile(`^\d+$`)

// PRF runs a bounded BM25 pass with the matched seed terms over the full
// index and harvests co-occurring terms from the top documents. It is
// invoked only when some coverage groups have no hits at all; the
// harvested terms broaden recall without dominating the ranking.
func PRF(idx *index.SparseIndex, seeds []Term, cfg PRFConfig) []Term {
	if idx == nil || len(idx.Docs) == 0 || len(seeds) == 0 {
		return nil
	}
	if cfg.TopDocs <= 0 || cfg.MaxTerms <= 0 {
		return nil
	}

	seedSet := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		seedSet[s.Text] = true
	}

	// Seed BM25 pass over posting lists only; this is the bounded pass,
	// not the full multi-signal scorer.
	total := len(idx.Docs)
	docScore := make(map[*index.Document]float64)
	for _, s := range seeds {
		postings, ok := idx.Postings[s.Text]
		if !ok {
			continue
		}
		idf := index.IDF(total, idx.DocFreq[s.Text])
		for _, p := range postings {
			docScore[p.Doc] += s.Weight * idf * index.BM25TF(p.Freq, p.Doc.Length, idx.AvgLen)
		}
	}
	if len(docScore) == 0 {
		return nil
	}

	type scoredDoc struct {
		doc   *index.Document
		score float64
	}
	top := make([]scoredDoc, 0, len(docScore))
	for d, s := range docScore {
		top = append(top, scoredDoc{doc: d, score: s})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].score != top[j].score {
			return top[i].score > top[j].score
		}
		return top[i].doc.Key() < top[j].doc.Key()
	})
	if len(top) > cfg.TopDocs {
		top = top[:cfg.TopDocs]
	}

	dfCeiling := int(cfg.DFRatioCeiling * float64(total))
	if dfCeiling < 2 {
		// Tiny scopes would otherwise exclude everything.
		dfCeiling = 2
	}
	gain := make(map[string]float64)
	for _, sd := range top {
		for term, freq := range sd.doc.TermFreq {
			if seedSet[term] || pureDigits.MatchString(term) || codeLike.MatchString(term) {
				continue
			}
			df := idx.DocFreq[term]
			if df > dfCeiling {
				continue
			}
			gain[term] += sd.score * index.IDF(total, df) * index.BM25TF(freq, sd.doc.Length, idx.AvgLen)
		}
	}
	if len(gain) == 0 {
		return nil
	}

	type gained struct {
		term string
		g    float64
	}
	ranked := make([]gained, 0, len(gain))
	for t, g := range gain {
		ranked = append(ranked, gained{term: t, g: g})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].g != ranked[j].g {
			return ranked[i].g > ranked[j].g
		}
		return ranked[i].term < ranked[j].term
	})
	if len(ranked) > cfg.MaxTerms {
		ranked = ranked[:cfg.MaxTerms]
	}

	out := make([]Term, len(ranked))
	for i, r := range ranked {
		out[i] = Term{Text: r.term, Weight: cfg.Weight, PRF: true}
	}
	return out
}
