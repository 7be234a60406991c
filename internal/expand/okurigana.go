package expand

import "github.com/docsift/docsift/internal/textnorm"

// Okurigana-style inflection variants are generated only for required
// terms (explicit must-match filters). A required term written as a verb
// phrase ("取り消しする") must still match the nominalized spelling the
// manuals use ("取消"), so we strip trailing verb endings and elide the
// linking hiragana between two kanji.

// verbEndings are trailing inflection endings, longest first.
var verbEndings = []string{
	"します", "ります", "きます", "えます", "れます",
	"する", "ます", "した", "して", "った", "って",
	"い", "う", "く", "す", "つ", "り", "き", "し", "え", "れ", "る",
}

// RequiredVariants generates alternate-spelling match-group members for a
// required term: the normalized original, verb-ending-stripped forms, and
// kanji-hiragana-kanji elision forms. Members are unique, original first.
func RequiredVariants(term string) []string {
	base := normalizeVariant(term)
	if base == "" {
		return nil
	}

	variants := []string{base}
	addUnique := func(v string) {
		if v == "" {
			return
		}
		for _, existing := range variants {
			if existing == v {
				return
			}
		}
		variants = append(variants, v)
	}

	if stripped := stripVerbEnding(base); stripped != "" {
		addUnique(stripped)
		for _, e := range elisionVariants(stripped) {
			addUnique(e)
		}
	}
	for _, e := range elisionVariants(base) {
		addUnique(e)
		if stripped := stripVerbEnding(e); stripped != "" {
			addUnique(stripped)
		}
	}

	return variants
}

func normalizeVariant(term string) string {
	// Required terms share the normalizer with everything else.
	return textnorm.Normalize(term)
}

// stripVerbEnding removes a trailing inflection ending when the remainder
// is at least two runes and ends with a kanji.
func stripVerbEnding(term string) string {
	runes := []rune(term)
	for _, ending := range verbEndings {
		er := []rune(ending)
		if len(runes) <= len(er) {
			continue
		}
		tail := string(runes[len(runes)-len(er):])
		if tail != ending {
			continue
		}
		rest := runes[:len(runes)-len(er)]
		if len(rest) >= 2 && isHan(rest[len(rest)-1]) {
			return string(rest)
		}
	}
	return ""
}

// elisionVariants elides a single linking hiragana syllable between two
// kanji ("取り消" -> "取消") when a kanji follows the elided syllable.
func elisionVariants(term string) []string {
	runes := []rune(term)
	var out []string
	for i := 1; i < len(runes)-1; i++ {
		if isHiragana(runes[i]) && isHan(runes[i-1]) && isHan(runes[i+1]) {
			elided := make([]rune, 0, len(runes)-1)
			elided = append(elided, runes[:i]...)
			elided = append(elided, runes[i+1:]...)
			out = append(out, string(elided))
			// A double form like 取り消し may elide both syllables.
			out = append(out, elisionVariants(string(elided))...)
		}
	}
	return out
}
