// Package claims synthesizes the claim graph: per-facet claims inferred
// from the query, relation edges from candidates to claims, and the result
// summary the caller acts on.
package claims

import (
	"strings"

	"github.com/google/uuid"

	"github.com/docsift/docsift/internal/rank"
	"github.com/docsift/docsift/internal/textnorm"
)

// Facet classifies what a claim is about.
type Facet string

const (
	FacetDefinition  Facet = "definition"
	FacetProcedure   Facet = "procedure"
	FacetEligibility Facet = "eligibility"
	FacetExceptions  Facet = "exceptions"
	FacetCompare     Facet = "compare"
	FacetUnknown     Facet = "unknown"
)

// facetOrder is the fixed inference priority.
var facetOrder = []Facet{FacetDefinition, FacetProcedure, FacetEligibility, FacetExceptions, FacetCompare}

// facetHints are the per-facet query keyword lists.
var facetHints = map[Facet][]string{
	FacetDefinition:  {"とは", "何です", "なに", "定義", "意味", "what is"},
	FacetProcedure:   {"方法", "手順", "手続", "やり方", "流れ", "どうやって", "how to"},
	FacetEligibility: {"対象", "条件", "資格", "誰が", "該当"},
	FacetExceptions:  {"例外", "対象外", "除外", "免除", "特例"},
	FacetCompare:     {"違い", "比較", "どちら", "の差", "vs"},
}

// RelationKind labels a candidate-to-claim edge.
type RelationKind string

const (
	RelSupports         RelationKind = "supports"
	RelContradicts      RelationKind = "contradicts"
	RelRequiresFollowup RelationKind = "requires_followup"
)

// ClaimStatus is the resolved state of one claim.
type ClaimStatus string

const (
	StatusSupported  ClaimStatus = "supported"
	StatusConflicted ClaimStatus = "conflicted"
	StatusUnresolved ClaimStatus = "unresolved"
)

// Claim is one assertion the query implies, to be confirmed or refuted by
// the evidence.
type Claim struct {
	ID         string      `json:"id"`
	Facet      Facet       `json:"facet"`
	Query      string      `json:"query"`
	Status     ClaimStatus `json:"status"`
	Confidence float64     `json:"confidence"`
}

// Evidence wraps one candidate with a digest of the matched section
// content; edges point at evidence through the candidate key.
type Evidence struct {
	CandidateKey string   `json:"candidate_key"`
	Ref          rank.Ref `json:"ref"`
	Digest       string   `json:"digest"`
	Score        float64  `json:"score"`
}

// Edge relates one claim to one evidence entry.
type Edge struct {
	ClaimID      string       `json:"claim_id"`
	CandidateKey string       `json:"candidate_key"`
	Kind         RelationKind `json:"kind"`
	Confidence   float64      `json:"confidence"`
}

// Graph is the synthesized claim graph for one query.
type Graph struct {
	Claims    []*Claim    `json:"claims"`
	Evidences []*Evidence `json:"evidences"`
	Edges     []*Edge     `json:"edges"`
}

// Fixed edge confidences per relation rule.
const (
	confExceptionSupports   = 0.82
	confExceptionContradict = 0.70
	confEligibilityExcluded = 0.68
	confStrongSupports      = 0.72
	confFollowup            = 0.50
)

// InferFacets normalizes the query and tests the fixed per-facet keyword
// hints in priority order. A facet is also added when any candidate
// carries the exceptions signal. The unknown facet is the fallback.
func InferFacets(query string, cands []*rank.Candidate) []Facet {
	norm := textnorm.Normalize(query)
	var facets []Facet
	have := map[Facet]bool{}
	add := func(f Facet) {
		if !have[f] {
			have[f] = true
			facets = append(facets, f)
		}
	}
	for _, f := range facetOrder {
		for _, hint := range facetHints[f] {
			if strings.Contains(norm, hint) {
				add(f)
				break
			}
		}
	}
	for _, c := range cands {
		if c.HasSignal(rank.SignalExceptions) {
			add(FacetExceptions)
			break
		}
	}
	if len(facets) == 0 {
		facets = append(facets, FacetUnknown)
	}
	return facets
}

// Synthesize builds the claim graph: one claim per inferred facet, one
// evidence entry per candidate, one edge per candidate and claim pair.
func Synthesize(query string, cands []*rank.Candidate) *Graph {
	g := &Graph{}
	for _, f := range InferFacets(query, cands) {
		g.Claims = append(g.Claims, &Claim{
			ID:    uuid.NewString(),
			Facet: f,
			Query: query,
		})
	}
	for _, c := range cands {
		g.Evidences = append(g.Evidences, &Evidence{
			CandidateKey: c.Key(),
			Ref:          c.Ref,
			Digest:       c.Digest,
			Score:        c.Score,
		})
	}

	for _, cl := range g.Claims {
		var supports, contradicts int
		var confSum float64
		for _, c := range cands {
			e := relate(cl.Facet, c)
			e.ClaimID = cl.ID
			g.Edges = append(g.Edges, e)
			switch e.Kind {
			case RelSupports:
				supports++
				confSum += (c.Score + e.Confidence) / 2
			case RelContradicts:
				contradicts++
			}
		}
		switch {
		case supports > 0 && contradicts > 0:
			cl.Status = StatusConflicted
		case supports > 0:
			cl.Status = StatusSupported
		default:
			cl.Status = StatusUnresolved
		}
		if supports > 0 {
			cl.Confidence = confSum / float64(supports)
		}
	}
	return g
}

// relate derives the relation of one candidate to one claim facet.
func relate(facet Facet, c *rank.Candidate) *Edge {
	e := &Edge{CandidateKey: c.Key()}
	hasExceptions := c.HasSignal(rank.SignalExceptions)
	strong := rank.HasStrongSignal(c.Signals)

	switch {
	case facet == FacetExceptions && hasExceptions:
		e.Kind, e.Confidence = RelSupports, confExceptionSupports
	case facet == FacetExceptions && strong:
		e.Kind, e.Confidence = RelContradicts, confExceptionContradict
	case facet == FacetEligibility && hasExceptions:
		e.Kind, e.Confidence = RelContradicts, confEligibilityExcluded
	case strong:
		e.Kind, e.Confidence = RelSupports, confStrongSupports
	default:
		e.Kind, e.Confidence = RelRequiresFollowup, confFollowup
	}
	return e
}

// Coverage is the fraction of claims resolved as supported.
func (g *Graph) Coverage() float64 {
	if len(g.Claims) == 0 {
		return 0
	}
	supported := 0
	for _, cl := range g.Claims {
		if cl.Status == StatusSupported {
			supported++
		}
	}
	return float64(supported) / float64(len(g.Claims))
}

// counts used by the summary.
func (g *Graph) unresolvedCount() int {
	n := 0
	for _, cl := range g.Claims {
		if cl.Status == StatusUnresolved {
			n++
		}
	}
	return n
}

func (g *Graph) conflictedCount() int {
	n := 0
	for _, cl := range g.Claims {
		if cl.Status == StatusConflicted {
			n++
		}
	}
	return n
}

func (g *Graph) followupClaimCount() int {
	seen := map[string]bool{}
	for _, e := range g.Edges {
		if e.Kind == RelRequiresFollowup {
			seen[e.ClaimID] = true
		}
	}
	return len(seen)
}

func (g *Graph) contradictedClaimCount() int {
	seen := map[string]bool{}
	for _, e := range g.Edges {
		if e.Kind == RelContradicts {
			seen[e.ClaimID] = true
		}
	}
	return len(seen)
}

// Integration statuses.
const (
	StatusBlocked       = "blocked"
	StatusReady         = "ready"
	StatusNeedsFollowup = "needs_followup"
)

// Summary is the per-query rollup the caller sees first.
type Summary struct {
	Candidates        int      `json:"candidates"`
	GapCount          int      `json:"gap_count"`
	ConflictCount     int      `json:"conflict_count"`
	FileBias          float64  `json:"file_bias"`
	Sufficiency       float64  `json:"sufficiency"`
	ClaimCoverage     float64  `json:"claim_coverage"`
	IntegrationStatus string   `json:"integration_status"`
	EscalationReasons []string `json:"escalation_reasons,omitempty"`
}

// Summarize derives the summary from the candidates and the claim graph.
// heuristicGap is 1 when the scoring-side heuristic triggers (empty, low,
// or file-biased candidates) fired.
func Summarize(cands []*rank.Candidate, g *Graph, heuristicGap int, fileBias float64) Summary {
	s := Summary{
		Candidates:    len(cands),
		FileBias:      fileBias,
		ClaimCoverage: g.Coverage(),
	}

	s.GapCount = heuristicGap
	if n := g.unresolvedCount(); n > s.GapCount {
		s.GapCount = n
	}
	if n := g.followupClaimCount(); n > s.GapCount {
		s.GapCount = n
	}

	s.ConflictCount = g.conflictedCount()
	if n := g.contradictedClaimCount(); n > s.ConflictCount {
		s.ConflictCount = n
	}

	bias := fileBias
	if bias > 1 {
		bias = 1
	}
	size := float64(len(cands)) / 5
	if size > 1 {
		size = 1
	}
	s.Sufficiency = size * (1 - bias*0.2)

	switch {
	case len(cands) == 0:
		s.IntegrationStatus = StatusBlocked
	case s.Sufficiency >= 0.6 && s.GapCount == 0 && s.ConflictCount == 0:
		s.IntegrationStatus = StatusReady
	default:
		s.IntegrationStatus = StatusNeedsFollowup
	}
	return s
}

// DowngradeConfig bounds the post-synthesis ready-state checks.
type DowngradeConfig struct {
	// MinClaimCoverage is the minimum supported-claim fraction for ready.
	MinClaimCoverage float64
	// MinMarginalGain is the minimum candidates-per-summary-token ratio.
	MinMarginalGain float64
}

// DefaultDowngradeConfig returns the tuned defaults.
func DefaultDowngradeConfig() DowngradeConfig {
	return DowngradeConfig{MinClaimCoverage: 0.34, MinMarginalGain: 0.002}
}

// ApplyDowngrades demotes a ready summary to needs-followup when claim
// coverage or the estimated marginal gain is too low, recording the
// escalation reason.
func ApplyDowngrades(s Summary, marginalGain float64, cfg DowngradeConfig) Summary {
	if s.IntegrationStatus != StatusReady {
		return s
	}
	if s.ClaimCoverage < cfg.MinClaimCoverage {
		s.IntegrationStatus = StatusNeedsFollowup
		s.EscalationReasons = append(s.EscalationReasons, "low_claim_coverage")
		return s
	}
	if marginalGain < cfg.MinMarginalGain {
		s.IntegrationStatus = StatusNeedsFollowup
		s.EscalationReasons = append(s.EscalationReasons, "low_marginal_gain")
	}
	return s
}
