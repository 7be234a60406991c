// Package textnorm canonicalizes text before any comparison.
//
// Every component that matches query terms against document text must go
// through Normalize first. Comparing un-normalized strings is a correctness
// bug: full-width punctuation, mixed line endings, and case differences are
// the most common source of false negatives in this corpus.
package textnorm

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// punctFold maps the punctuation variants the corpus actually contains onto
// a single canonical form. Width folding handles the full-width forms;
// these are the stragglers width.Fold leaves alone.
var punctFold = strings.NewReplacer(
	"‐", "-", // hyphen
	"–", "-", // en dash
	"—", "-", // em dash
	"―", "-", // horizontal bar
	"−", "-", // minus sign
)

var spaceRun = regexp.MustCompile(`[\s\x{3000}]+`)

// Normalize applies Unicode canonical composition, line-ending unification,
// full-width to half-width punctuation folding, case folding, and
// whitespace collapsing.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = norm.NFC.String(s)
	s = width.Fold.String(s)
	s = punctFold.Replace(s)
	s = strings.ToLower(s)
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokenize splits text on whitespace after normalization, returning the
// ordered list of non-empty terms.
func Tokenize(s string) []string {
	n := Normalize(s)
	if n == "" {
		return nil
	}
	return strings.Fields(n)
}

// separatorClass is the set of characters LooseMatch tolerates between the
// characters of a term, and that Compact strips entirely.
const separatorClass = ` \-・/()（）`

// Compact strips separator characters so "WF-103" matches "WF103".
var compactStrip = regexp.MustCompile(`[ \-・/()（）]`)

// Compact removes all separator-class characters from s.
func Compact(s string) string {
	return compactStrip.ReplaceAllString(s, "")
}

// LooseMatch reports whether term occurs in text allowing separator
// characters between each character of the term. Matching is
// case-insensitive; both inputs are normalized first.
func LooseMatch(term, text string) bool {
	term = Normalize(term)
	if term == "" {
		return false
	}
	re, err := looseRegexp(term)
	if err != nil {
		return false
	}
	return re.MatchString(Normalize(text))
}

// looseRegexp builds the separator-tolerant pattern for a term.
func looseRegexp(term string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?i)")
	first := true
	for _, r := range term {
		if !first {
			b.WriteString("[" + separatorClass + "]*")
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
		first = false
	}
	return regexp.Compile(b.String())
}
