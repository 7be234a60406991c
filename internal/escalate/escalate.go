// Package escalate decides whether a query's primary results are good
// enough, and widens the scope to neighboring corpora when they are not
// and the caller allowed it.
package escalate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/docsift/docsift/internal/corpus"
	"github.com/docsift/docsift/internal/rank"
)

// Thresholds are the adaptive expansion thresholds the tuner maintains.
type Thresholds struct {
	// LowCandidates triggers expansion when the candidate count falls
	// below it. Clamped to [2,6].
	LowCandidates int
	// FileBias triggers expansion when one file's share of the candidates
	// reaches it (with at least 5 candidates). Clamped to [0.70,0.90].
	FileBias float64
}

// DefaultThresholds returns the configured base thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{LowCandidates: 3, FileBias: 0.80}
}

// Config controls the corrective trigger family and the expansion pass.
type Config struct {
	// CorrectiveEnabled turns the corrective trigger family on.
	CorrectiveEnabled bool
	// ConflictTrigger fires on any claim conflict.
	ConflictTrigger bool
	// MinCandidates is the corrective candidate floor.
	MinCandidates int
	// MinClaimCoverage is the minimum fraction of supported claims.
	MinClaimCoverage float64
	// MinTopMargin is the minimum normalized top-score margin.
	MinTopMargin float64
	// TopMarginWindow is how many runners-up the margin averages over.
	TopMarginWindow int

	// NeighborLimit bounds the neighbor corpora scanned on expansion.
	NeighborLimit int
	// ScorePenalty is subtracted flat from every secondary-scope score.
	ScorePenalty float64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		CorrectiveEnabled: true,
		ConflictTrigger:   true,
		MinCandidates:     2,
		MinClaimCoverage:  0.34,
		MinTopMargin:      0.05,
		TopMarginWindow:   3,
		NeighborLimit:     2,
		ScorePenalty:      0.5,
	}
}

// Trigger reasons.
const (
	ReasonZeroCandidates   = "zero_candidates"
	ReasonLowCandidates    = "low_candidates"
	ReasonFileBias         = "file_bias"
	ReasonGapCount         = "gap_count"
	ReasonConflictCount    = "conflict_count"
	ReasonBelowMin         = "below_min_candidates"
	ReasonLowClaimCoverage = "low_claim_coverage"
	ReasonLowTopMargin     = "low_top_margin"
	ReasonNotRequested     = "expansion_not_requested"
)

// Observation is everything the trigger evaluation looks at after the
// primary pass (and claim synthesis).
type Observation struct {
	Candidates    []*rank.Candidate
	GapCount      int
	ConflictCount int
	ClaimCoverage float64
}

// Controller evaluates triggers and runs the expansion pass.
type Controller struct {
	src    corpus.Source
	cfg    Config
	logger *slog.Logger
}

// NewController creates a scope-escalation controller.
func NewController(src corpus.Source, cfg Config) *Controller {
	return &Controller{src: src, cfg: cfg, logger: slog.Default()}
}

// FileBias returns the candidate share of the single most-represented file.
func FileBias(cands []*rank.Candidate) float64 {
	if len(cands) == 0 {
		return 0
	}
	counts := make(map[string]int)
	max := 0
	for _, c := range cands {
		key := c.Ref.Corpus + "\x00" + c.Ref.Path
		counts[key]++
		if counts[key] > max {
			max = counts[key]
		}
	}
	return float64(max) / float64(len(cands))
}

// TopMargin returns the top score's lead over the mean of the next
// candidates within the window, normalized by the top score magnitude.
func TopMargin(cands []*rank.Candidate, window int) float64 {
	if len(cands) < 2 || window <= 0 {
		return 1.0
	}
	top := cands[0].Score
	if top <= 0 {
		return 0
	}
	n := len(cands) - 1
	if n > window {
		n = window
	}
	var sum float64
	for _, c := range cands[1 : 1+n] {
		sum += c.Score
	}
	return (top - sum/float64(n)) / top
}

// Heuristic reports the heuristic expansion triggers: zero candidates, a
// low candidate count, or file bias over the adaptive thresholds.
func Heuristic(cands []*rank.Candidate, th Thresholds) []string {
	var reasons []string
	switch {
	case len(cands) == 0:
		reasons = append(reasons, ReasonZeroCandidates)
	case len(cands) < th.LowCandidates:
		reasons = append(reasons, ReasonLowCandidates)
	}
	if len(cands) >= 5 && FileBias(cands) >= th.FileBias {
		reasons = append(reasons, ReasonFileBias)
	}
	return reasons
}

// Decide evaluates both trigger families and returns the fired reasons.
func (c *Controller) Decide(obs Observation, th Thresholds) []string {
	reasons := Heuristic(obs.Candidates, th)

	if c.cfg.CorrectiveEnabled {
		if obs.GapCount > 0 {
			reasons = append(reasons, ReasonGapCount)
		}
		if c.cfg.ConflictTrigger && obs.ConflictCount > 0 {
			reasons = append(reasons, ReasonConflictCount)
		}
		if len(obs.Candidates) > 0 && len(obs.Candidates) < c.cfg.MinCandidates {
			reasons = append(reasons, ReasonBelowMin)
		}
		if obs.ClaimCoverage < c.cfg.MinClaimCoverage {
			reasons = append(reasons, ReasonLowClaimCoverage)
		}
		if TopMargin(obs.Candidates, c.cfg.TopMarginWindow) < c.cfg.MinTopMargin {
			reasons = append(reasons, ReasonLowTopMargin)
		}
	}
	return reasons
}

// Neighbors lists the neighbor corpora of the primary scope, bounded.
func (c *Controller) Neighbors(primary string) ([]string, error) {
	all, err := c.src.Corpora()
	if err != nil {
		return nil, err
	}
	return corpus.Neighbors(all, primary, c.cfg.NeighborLimit), nil
}

// Expand runs the secondary pass over the neighbor corpora and merges the
// penalized results into the primary candidates. Query decomposition is
// excluded from the secondary pass; primary candidates always win key
// collisions and canonical-order ties.
func (c *Controller) Expand(ctx context.Context, scorer *rank.Scorer, in rank.PassInput, primary []*rank.Candidate) ([]*rank.Candidate, []string, error) {
	if len(in.Corpora) == 0 {
		return primary, nil, nil
	}
	neighbors, err := c.Neighbors(in.Corpora[0])
	if err != nil {
		return primary, nil, err
	}
	if len(neighbors) == 0 {
		return primary, nil, nil
	}

	secIn := in
	secIn.Corpora = neighbors
	pr, err := scorer.RunPass(ctx, secIn)
	if err != nil {
		// The controller never fails the query; a misfire degrades to
		// having done nothing extra.
		c.logger.Warn("expansion_pass_failed", slog.Any("error", err))
		return primary, neighbors, nil
	}

	have := make(map[string]bool, len(primary))
	for _, cand := range primary {
		have[cand.Key()] = true
	}
	merged := append([]*rank.Candidate(nil), primary...)
	for _, cand := range pr.Candidates {
		if have[cand.Key()] {
			continue
		}
		score := cand.Score - c.cfg.ScorePenalty
		merged = append(merged, cand.
			WithScore(score, "expanded_scope penalty").
			WithSignals(rank.SignalExpandedScope))
	}
	sortPrimaryFirst(merged)

	c.logger.Info("scope_expanded",
		slog.String("primary", in.Corpora[0]),
		slog.String("neighbors", strings.Join(neighbors, ",")),
		slog.Int("merged", len(merged)))
	return merged, neighbors, nil
}

// sortPrimaryFirst is the canonical order with one extra rule: on an exact
// canonical tie, a candidate without the expanded-scope tag precedes one
// with it.
func sortPrimaryFirst(cands []*rank.Candidate) {
	rank.Sort(cands)
	for i := 1; i < len(cands); i++ {
		a, b := cands[i-1], cands[i]
		if rank.Compare(a, b) == 0 && a.HasSignal(rank.SignalExpandedScope) && !b.HasSignal(rank.SignalExpandedScope) {
			cands[i-1], cands[i] = b, a
		}
	}
}

// Declined lists every file in the neighbor corpora as unscanned with the
// stage-cap reason. Used when triggers fired but the caller did not
// request expansion; no extra work runs.
func (c *Controller) Declined(primaryCorpus string) []rank.Unscanned {
	neighbors, err := c.Neighbors(primaryCorpus)
	if err != nil {
		return nil
	}
	var out []rank.Unscanned
	for _, id := range neighbors {
		files, err := c.src.ListFiles(id)
		if err != nil {
			continue
		}
		for _, f := range files {
			out = append(out, rank.Unscanned{Corpus: id, Path: f.Path, Reason: rank.CutoffStageCap})
		}
	}
	return out
}
