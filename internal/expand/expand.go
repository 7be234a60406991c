// Package expand turns raw query terms into lexical search terms and
// coverage groups.
//
// Each original query term produces one coverage group: the set of surface
// forms derived from it. Coverage groups let the scorer measure how many
// distinct original query concepts a candidate actually covers, rather
// than rewarding many hits on one concept.
package expand

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/docsift/docsift/internal/textnorm"
)

// Term is one lexical search term with its scoring weight.
type Term struct {
	Text   string
	Weight float64
	PRF    bool // sourced from pseudo-relevance feedback
}

// Group is the coverage group for one original query term.
type Group struct {
	Source  string
	Members []string
}

// Matched reports whether any member of the group satisfies pred.
func (g Group) Matched(pred func(string) bool) bool {
	for _, m := range g.Members {
		if pred(m) {
			return true
		}
	}
	return false
}

// linkingParticle splits very long compound intents ("AのBの場合の手数料").
const linkingParticle = "の"

// longTermRunes is the length at which a particle split is attempted.
const longTermRunes = 10

var punctSplit = regexp.MustCompile(`[、。，．,.()\[\]「」『』【】〈〉《》<>:;!?・/\s]+`)

var digitRun = regexp.MustCompile(`\d+`)

// compoundSuffixes are known multi-character compound tails, longest first.
// A CJK run ending in one of these decomposes into the whole, the suffix,
// and the recursively decomposed prefix.
var compoundSuffixes = []string{
	"手数料", "申請書", "対象外", "保険料",
	"手続き", "手続", "申請", "届出", "期限", "期間",
	"条件", "対象", "方法", "金額", "上限", "下限",
	"番号", "書類", "口座", "保険", "控除", "申告",
	"料金", "変更", "確認", "登録", "解約", "停止",
}

// ExpandTerms segments raw query terms into ordered unique lexical terms
// plus one coverage group per original term. If nothing survives
// segmentation, the raw normalized terms are returned as singleton groups.
func ExpandTerms(rawTerms []string) ([]Term, []Group) {
	var groups []Group
	seen := make(map[string]bool)
	var terms []Term

	for _, raw := range rawTerms {
		norm := textnorm.Normalize(raw)
		if norm == "" {
			continue
		}
		members := segment(norm)
		if len(members) == 0 {
			continue
		}
		groups = append(groups, Group{Source: norm, Members: members})
		for _, m := range members {
			if !seen[m] {
				seen[m] = true
				terms = append(terms, Term{Text: m, Weight: 1.0})
			}
		}
	}

	if len(terms) == 0 {
		for _, raw := range rawTerms {
			norm := textnorm.Normalize(raw)
			if norm == "" || seen[norm] {
				continue
			}
			seen[norm] = true
			terms = append(terms, Term{Text: norm, Weight: 1.0})
			groups = append(groups, Group{Source: norm, Members: []string{norm}})
		}
	}

	return terms, groups
}

// segment derives all surface-form variants of one normalized query term.
func segment(term string) []string {
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		for _, existing := range out {
			if existing == s {
				return
			}
		}
		out = append(out, s)
	}

	pieces := []string{term}
	if len([]rune(term)) >= longTermRunes && strings.Contains(term, linkingParticle) {
		// Very long compound intent: each particle-delimited part is a
		// sub-intent in its own right, alongside the whole.
		add(term)
		pieces = append(pieces, strings.Split(term, linkingParticle)...)
	}

	for _, piece := range pieces {
		for _, p := range punctSplit.Split(piece, -1) {
			for _, run := range scriptRuns(p) {
				if isCJK([]rune(run)[0]) {
					for _, v := range decomposeCompound(run) {
						add(v)
					}
				} else {
					add(run)
				}
			}
		}
	}

	// Numeric substrings become standalone terms.
	for _, v := range append([]string(nil), out...) {
		for _, num := range digitRun.FindAllString(v, -1) {
			add(num)
		}
	}

	return out
}

// scriptRuns splits a piece into script-homogeneous runs: an
// alphanumeric run stays one token (mixed letters and digits included,
// so product codes survive), a pure-digit run is its own token, and a
// CJK run is kept whole for compound decomposition.
func scriptRuns(s string) []string {
	runes := []rune(s)
	var runs []string
	var cur []rune
	var curKind int // 0 none, 1 alnum, 2 cjk

	flush := func() {
		if len(cur) > 0 {
			runs = append(runs, string(cur))
			cur = nil
		}
		curKind = 0
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		// A hyphen between alphanumerics joins the run with the separator
		// dropped, so product codes like wf-103 survive as wf103.
		if r == '-' && curKind == 1 && i+1 < len(runes) && isAlnum(runes[i+1]) {
			continue
		}
		var kind int
		switch {
		case isAlnum(r):
			kind = 1
		case isCJK(r):
			kind = 2
		default:
			flush()
			continue
		}
		if kind != curKind {
			flush()
			curKind = kind
		}
		cur = append(cur, r)
	}
	flush()

	return runs
}

// decomposeCompound breaks a CJK run of four or more runes on known
// compound suffixes, accumulating the whole and its parts.
func decomposeCompound(run string) []string {
	runes := []rune(run)
	if len(runes) < 4 {
		return []string{run}
	}
	for _, suffix := range compoundSuffixes {
		if !strings.HasSuffix(run, suffix) {
			continue
		}
		prefix := string(runes[:len(runes)-len([]rune(suffix))])
		if len([]rune(prefix)) < 2 {
			continue
		}
		out := []string{run, suffix}
		for _, p := range decomposeCompound(prefix) {
			dup := false
			for _, existing := range out {
				if existing == p {
					dup = true
					break
				}
			}
			if !dup {
				out = append(out, p)
			}
		}
		return out
	}
	return []string{run}
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		r == 'ー' // prolonged sound mark binds katakana runs
}

func isHan(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

func isHiragana(r rune) bool {
	return unicode.Is(unicode.Hiragana, r)
}
