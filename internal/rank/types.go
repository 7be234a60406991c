// Package rank is the scoring and ranking engine: it scans the sparse
// index, scores documents with BM25 plus the corpus-tuned bonus stack, and
// produces ranked, evidence-linked candidates.
package rank

import (
	"sort"
	"strconv"
)

// Signal tags explain why a candidate matched.
type Signal string

const (
	SignalExact         Signal = "exact"
	SignalPhrase        Signal = "phrase"
	SignalAnchor        Signal = "anchor"
	SignalNumberContext Signal = "number_context"
	SignalProximity     Signal = "proximity"
	SignalCodeExact     Signal = "code_exact"
	SignalPRF           Signal = "prf"
	SignalExceptions    Signal = "exceptions"
	SignalRequiredTerm  Signal = "required_term"
	SignalExploration   Signal = "exploration"
	SignalExpandedScope Signal = "expanded_scope"
)

// strongSignals indicate a direct lexical match rather than an indirect
// (PRF/exploration) one. The claim graph keys its relations off these.
var strongSignals = map[Signal]bool{
	SignalExact:         true,
	SignalPhrase:        true,
	SignalAnchor:        true,
	SignalNumberContext: true,
	SignalProximity:     true,
}

// HasStrongSignal reports whether any of the signals is a strong match
// signal.
func HasStrongSignal(signals []Signal) bool {
	for _, s := range signals {
		if strongSignals[s] {
			return true
		}
	}
	return false
}

// Ref locates the document subrange a candidate points at.
type Ref struct {
	Corpus    string `json:"corpus"`
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	HeadingID string `json:"heading_id,omitempty"`
	Title     string `json:"title"`
}

// Key uniquely identifies a candidate: (corpus, path, start line).
func (r Ref) Key() string {
	return r.Corpus + "\x00" + r.Path + "\x00" + strconv.Itoa(r.StartLine)
}

// TokenHit is one matched query token with its per-document hit count.
type TokenHit struct {
	Token string `json:"token"`
	Count int    `json:"count"`
}

// Candidate is a scored reference to a document subrange.
//
// Candidates are immutable values: re-ranking stages derive new candidates
// through the With* builders instead of mutating shared state, so the same
// candidate can sit in several intermediate pools without aliasing bugs.
type Candidate struct {
	Ref      Ref       `json:"ref"`
	Digest   string    `json:"digest"`
	Signals  []Signal  `json:"signals"`
	Score    float64   `json:"score"`
	LexScore float64   `json:"lex_score"`
	Fused    float64   `json:"fused_score,omitempty"`
	Tokens   []TokenHit `json:"tokens"`
	Coverage float64   `json:"coverage"`
	Explain  []string  `json:"explain,omitempty"`
}

// Key returns the candidate's unique key.
func (c *Candidate) Key() string { return c.Ref.Key() }

// WithScore returns a copy with an updated score and an explain entry.
func (c *Candidate) WithScore(score float64, why string) *Candidate {
	dup := c.clone()
	dup.Score = score
	if why != "" {
		dup.Explain = append(dup.Explain, why)
	}
	return dup
}

// WithFused returns a copy carrying a fused score as the effective score,
// keeping the lexical component for later blending.
func (c *Candidate) WithFused(fused float64, why string) *Candidate {
	dup := c.clone()
	dup.Fused = fused
	dup.Score = fused
	if why != "" {
		dup.Explain = append(dup.Explain, why)
	}
	return dup
}

// WithSignals returns a copy with additional signal tags (deduplicated).
func (c *Candidate) WithSignals(add ...Signal) *Candidate {
	dup := c.clone()
	for _, s := range add {
		if !hasSignal(dup.Signals, s) {
			dup.Signals = append(dup.Signals, s)
		}
	}
	return dup
}

// HasSignal reports whether the candidate carries the signal.
func (c *Candidate) HasSignal(s Signal) bool { return hasSignal(c.Signals, s) }

func hasSignal(signals []Signal, s Signal) bool {
	for _, have := range signals {
		if have == s {
			return true
		}
	}
	return false
}

func (c *Candidate) clone() *Candidate {
	dup := *c
	dup.Signals = append([]Signal(nil), c.Signals...)
	dup.Tokens = append([]TokenHit(nil), c.Tokens...)
	dup.Explain = append([]string(nil), c.Explain...)
	return &dup
}

// sumHits and maxHit feed the canonical tie-break.
func (c *Candidate) sumHits() int {
	n := 0
	for _, t := range c.Tokens {
		n += t.Count
	}
	return n
}

func (c *Candidate) maxHit() int {
	m := 0
	for _, t := range c.Tokens {
		if t.Count > m {
			m = t.Count
		}
	}
	return m
}

// Compare implements the canonical candidate ordering, a strict total
// order. Returns a negative value when a ranks before b.
//
// Priority: higher score, higher coverage, more matched tokens, higher
// total hit count, higher max single-token hit count, smaller path,
// smaller start line.
func Compare(a, b *Candidate) int {
	switch {
	case a.Score != b.Score:
		if a.Score > b.Score {
			return -1
		}
		return 1
	case a.Coverage != b.Coverage:
		if a.Coverage > b.Coverage {
			return -1
		}
		return 1
	case len(a.Tokens) != len(b.Tokens):
		if len(a.Tokens) > len(b.Tokens) {
			return -1
		}
		return 1
	}
	if ah, bh := a.sumHits(), b.sumHits(); ah != bh {
		if ah > bh {
			return -1
		}
		return 1
	}
	if ah, bh := a.maxHit(), b.maxHit(); ah != bh {
		if ah > bh {
			return -1
		}
		return 1
	}
	if a.Ref.Path != b.Ref.Path {
		if a.Ref.Path < b.Ref.Path {
			return -1
		}
		return 1
	}
	switch {
	case a.Ref.StartLine < b.Ref.StartLine:
		return -1
	case a.Ref.StartLine > b.Ref.StartLine:
		return 1
	}
	return 0
}

// Sort orders candidates canonically, in place.
func Sort(cands []*Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return Compare(cands[i], cands[j]) < 0
	})
}

// Unscanned records a file the scan never reached and why.
type Unscanned struct {
	Corpus string `json:"corpus"`
	Path   string `json:"path"`
	Reason string `json:"reason"` // time_budget, candidate_cap, stage_cap
}

// Cutoff reasons.
const (
	CutoffTimeBudget   = "time_budget"
	CutoffCandidateCap = "candidate_cap"
	CutoffStageCap     = "stage_cap"
)

// Budget bounds one search pass.
type Budget struct {
	TimeMS        int
	MaxCandidates int
}

// PassInput parameterizes one scoring pass.
type PassInput struct {
	Corpora       []string
	Query         string
	RequiredTerms []string
	Budget        Budget
	PriorityHints []string
	AllowedPaths  []string
}

// PassResult is everything a pass reports back.
type PassResult struct {
	Candidates   []*Candidate
	ScannedFiles int
	ScannedDocs  int
	Warnings     int
	CutoffReason string
	Unscanned    []Unscanned
	IndexRebuilt bool
	IndexDocs    int
}
