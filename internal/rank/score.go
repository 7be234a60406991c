package rank

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/docsift/docsift/internal/expand"
	"github.com/docsift/docsift/internal/index"
	"github.com/docsift/docsift/internal/textnorm"
)

// explEntry is a reject kept aside for the exploration pool, with its raw
// BM25 score before any bonus or penalty.
type explEntry struct {
	cand      *Candidate
	bm25      float64
	codeBonus float64
}

func explainf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

// codeShape matches product/procedure codes like wf103 or kz2024a.
var codeShape = regexp.MustCompile(`^[a-z]{1,4}\d{2,6}[a-z]?$`)

var digitsOnly = regexp.MustCompile(`^\d+$`)

// numberContextKeywords mark amounts, limits, and counts; a numeric query
// term near these is almost certainly the fact the user asked about.
var numberContextKeywords = []string{
	"円", "以内", "以上", "以下", "未満", "回", "件", "か月", "ヶ月", "営業日", "%",
}

// exceptionKeywords flag carve-out sections.
var exceptionKeywords = []string{
	"例外", "対象外", "除外", "但し", "ただし", "特例", "免除",
}

// minAnchorRunes is the shortest non-numeric term that can anchor a
// proximity bonus; single-rune terms are too ambiguous to anchor anything.
const minAnchorRunes = 2

// scoreDocument scores one document against the expanded query. It returns
// the candidate (nil when the document scores out) plus an exploration
// entry when the document had raw BM25 mass worth a second look.
func (s *Scorer) scoreDocument(
	idx *index.SparseIndex,
	doc *index.Document,
	terms []expand.Term,
	groups []expand.Group,
	grams map[string]float64,
	requiredGroups [][]string,
) (*Candidate, *explEntry) {
	text := doc.NormText
	title := doc.NormTitle
	compactText := textnorm.Compact(text)
	compactTitle := textnorm.Compact(title)

	contains := func(term string) int {
		if n := strings.Count(text, term) + strings.Count(title, term); n > 0 {
			return n
		}
		ct := textnorm.Compact(term)
		if ct == "" || ct == term {
			return 0
		}
		return strings.Count(compactText, ct) + strings.Count(compactTitle, ct)
	}

	// Required-term groups are an AND filter: every group must match by at
	// least one variant, with the loose separator-tolerant match as the
	// last resort.
	for _, variants := range requiredGroups {
		matched := false
		for _, v := range variants {
			if contains(v) > 0 {
				matched = true
				break
			}
		}
		if !matched {
			for _, v := range variants {
				if textnorm.LooseMatch(v, text) || textnorm.LooseMatch(v, title) {
					matched = true
					break
				}
			}
		}
		if !matched {
			return nil, nil
		}
	}

	total := len(idx.Docs)
	var bm25 float64
	var tokens []TokenHit
	var explain []string
	var signals []Signal
	var codeBonus float64
	prfPresent := 0

	for _, t := range terms {
		n := contains(t.Text)
		if n == 0 {
			continue
		}
		df := idx.DocFreq[t.Text]
		if df == 0 {
			// Matched only via substring or compact fallback.
			df = 1
		}
		bm25 += t.Weight * index.IDF(total, df) * index.BM25TF(n, doc.Length, idx.AvgLen)
		if t.PRF {
			prfPresent++
			continue
		}
		tokens = append(tokens, TokenHit{Token: t.Text, Count: n})
		if strings.Contains(title, t.Text) && !hasSignal(signals, SignalAnchor) {
			signals = append(signals, SignalAnchor)
		}
		// The code shape alone is not enough: the separator-tolerant
		// pattern must also confirm the code against the raw text.
		if codeShape.MatchString(t.Text) &&
			(textnorm.LooseMatch(t.Text, doc.Text) || textnorm.LooseMatch(t.Text, doc.Title)) {
			codeBonus += s.cfg.CodeExactBonus
		}
	}
	if len(tokens) == 0 && prfPresent == 0 {
		return nil, nil
	}

	score := bm25
	explain = append(explain, explainf("bm25 %.3f", bm25))

	// Coverage over the original query concepts.
	coverage := 0.0
	if len(groups) > 0 {
		covered := 0
		exact := false
		for _, g := range groups {
			hit := false
			for _, m := range g.Members {
				if contains(m) > 0 {
					hit = true
					if m == g.Source {
						exact = true
					}
				}
			}
			if hit {
				covered++
			}
		}
		coverage = float64(covered) / float64(len(groups))
		if coverage > 0 {
			bonus := coverage * (s.cfg.SparseCoverageWeight + s.cfg.LexCoverageWeight)
			score += bonus
			explain = append(explain, explainf("coverage %.2f +%.3f", coverage, bonus))
		}
		if exact {
			signals = append(signals, SignalExact)
		}
	}

	// Phrase n-gram bonus, idf-weighted per gram.
	if len(grams) > 0 {
		var phrase float64
		for g, idf := range grams {
			if strings.Contains(text, g) || strings.Contains(title, g) {
				phrase += s.cfg.PhraseWeight * idf
			}
		}
		if phrase > 0 {
			score += phrase
			explain = append(explain, explainf("phrase +%.3f", phrase))
			signals = append(signals, SignalPhrase)
		}
	}

	// Number context and proximity: a matched numeric term near a matched
	// anchor term or near an amount/limit keyword. The anchor must be a
	// long non-numeric term, and the nearest occurrence pair decides the
	// window, not the first.
	var numPositions, anchorPositions []int
	for _, th := range tokens {
		if digitsOnly.MatchString(th.Token) {
			numPositions = append(numPositions, runeIndexes(text, th.Token)...)
		} else if len([]rune(th.Token)) >= minAnchorRunes {
			anchorPositions = append(anchorPositions, runeIndexes(text, th.Token)...)
		}
	}
	if len(numPositions) > 0 {
		for _, kw := range numberContextKeywords {
			if strings.Contains(text, kw) {
				score += s.cfg.NumberContextBonus
				explain = append(explain, explainf("number_context +%.3f", s.cfg.NumberContextBonus))
				signals = append(signals, SignalNumberContext)
				break
			}
		}
		if dist := nearestDistance(numPositions, anchorPositions); dist >= 0 {
			switch {
			case dist <= s.cfg.ProximityNearWindow:
				score += s.cfg.ProximityNearBonus
				explain = append(explain, explainf("proximity near(%d) +%.3f", dist, s.cfg.ProximityNearBonus))
				signals = append(signals, SignalProximity)
			case dist <= s.cfg.ProximityFarWindow:
				score += s.cfg.ProximityFarBonus
				explain = append(explain, explainf("proximity far(%d) +%.3f", dist, s.cfg.ProximityFarBonus))
				signals = append(signals, SignalProximity)
			}
		}
	}

	if codeBonus > 0 {
		score += codeBonus
		explain = append(explain, explainf("code_exact +%.3f", codeBonus))
		signals = append(signals, SignalCodeExact)
	}

	if prfPresent > 0 {
		bonus := float64(prfPresent) * s.cfg.PRFBonus
		score += bonus
		explain = append(explain, explainf("prf x%d +%.3f", prfPresent, bonus))
		signals = append(signals, SignalPRF)
	}

	for _, kw := range exceptionKeywords {
		if strings.Contains(title, kw) || strings.Contains(text, kw) {
			signals = append(signals, SignalExceptions)
			break
		}
	}
	if len(requiredGroups) > 0 {
		signals = append(signals, SignalRequiredTerm)
	}

	// Long sections dilute the evidence they carry.
	if chars := len([]rune(doc.Text)); chars > s.cfg.LengthThreshold && s.cfg.LengthThreshold > 0 {
		penalty := s.cfg.LengthPenaltyPerK * float64(chars-s.cfg.LengthThreshold) / 1000.0
		score -= penalty
		explain = append(explain, explainf("length -%.3f", penalty))
	}

	cand := &Candidate{
		Ref: Ref{
			Corpus:    doc.Corpus,
			Path:      doc.Path,
			StartLine: doc.StartLine,
			HeadingID: doc.HeadingID,
			Title:     doc.Title,
		},
		Digest:   ContentDigest(doc.Text),
		Signals:  signals,
		Score:    score,
		LexScore: score,
		Tokens:   tokens,
		Coverage: coverage,
		Explain:  explain,
	}

	var expl *explEntry
	if s.cfg.ExplorationEnabled && bm25 > 0 {
		expl = &explEntry{cand: cand, bm25: bm25, codeBonus: codeBonus}
	}
	if score <= 0 {
		return nil, expl
	}
	return cand, expl
}

// ContentDigest fingerprints the matched section content; evidence
// entries carry it so a caller can detect that the underlying section
// changed since the trace was taken.
func ContentDigest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// nearestDistance returns the smallest absolute distance between any pair
// of positions drawn from the two sets, or -1 when either set is empty.
func nearestDistance(a, b []int) int {
	best := -1
	for _, x := range a {
		for _, y := range b {
			d := x - y
			if d < 0 {
				d = -d
			}
			if best < 0 || d < best {
				best = d
			}
		}
	}
	return best
}

// runeIndexes returns the rune offsets of the occurrences of needle in
// haystack, capped to keep the proximity scan cheap on repetitive text.
func runeIndexes(haystack, needle string) []int {
	const maxOccurrences = 8
	var out []int
	base := 0
	rest := haystack
	for len(out) < maxOccurrences {
		b := strings.Index(rest, needle)
		if b < 0 {
			break
		}
		out = append(out, base+len([]rune(rest[:b])))
		adv := b + len(needle)
		base += len([]rune(rest[:adv]))
		rest = rest[adv:]
	}
	return out
}
