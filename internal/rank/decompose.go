package rank

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/docsift/docsift/internal/textnorm"
)

// Strategy is the query execution plan the top-level Search picks.
type Strategy string

const (
	// StrategySingle runs one scoring pass.
	StrategySingle Strategy = "single"
	// StrategyDecompose splits a comparison query into sub-queries and
	// fuses the per-sub-query rankings.
	StrategyDecompose Strategy = "decompose"
	// StrategyRequiredRRF fuses an AND pass with two single-required-term
	// passes when exactly two required terms are given.
	StrategyRequiredRRF Strategy = "required_rrf"
)

// comparePatterns capture "difference between A and B" phrasings, most
// specific first. Each pattern's capture groups are the comparison arms;
// the bare "AとB" form is the last resort and only fires on short
// space-free queries so ordinary sentences stay whole.
var comparePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(.+?)と(.+?)の違い`),
	regexp.MustCompile(`^(.+?)と(.+?)の比較`),
	regexp.MustCompile(`^(.+?)と(.+?)の差`),
	regexp.MustCompile(`^(.+?)と(.+?)(?:はどちら|どちら)`),
	regexp.MustCompile(`^(.+?)と(.+?)はどう違`),
	regexp.MustCompile(`^(.+?)の場合の(.+)$`),
	regexp.MustCompile(`(.+?)\s+vs\.?\s+(.+)`),
	regexp.MustCompile(`(.+?)\s+versus\s+(.+)`),
	regexp.MustCompile(`^([^\sの]{2,8})と([^\sの]{2,8})$`),
}

// decomposeQuery splits a comparison query into sub-queries. The shared
// remainder of the query (the aspect being compared) is appended to each
// arm so the sub-queries stay anchored on the user's actual topic.
func decomposeQuery(query string, maxSubQueries int) []string {
	norm := textnorm.Normalize(query)
	for _, pat := range comparePatterns {
		m := pat.FindStringSubmatchIndex(norm)
		if m == nil {
			continue
		}
		arms := make([]string, 0, 2)
		for g := 1; g*2+1 < len(m); g++ {
			arm := strings.TrimSpace(norm[m[g*2]:m[g*2+1]])
			if arm != "" {
				arms = append(arms, arm)
			}
		}
		if len(arms) < 2 {
			continue
		}
		rest := strings.TrimSpace(norm[:m[0]] + " " + norm[m[1]:])
		var subs []string
		for _, arm := range arms {
			q := arm
			if rest != "" {
				q = arm + " " + rest
			}
			subs = append(subs, q)
		}
		// The whole query is the final sub-query so direct comparison
		// sections still rank.
		subs = append(subs, norm)
		if maxSubQueries > 0 && len(subs) > maxSubQueries {
			subs = subs[:maxSubQueries]
		}
		return subs
	}
	return nil
}

// SearchResult is the top-level ranked outcome of a query.
type SearchResult struct {
	Candidates   []*Candidate
	Strategy     Strategy
	SubQueries   []string
	ScannedFiles int
	ScannedDocs  int
	Warnings     int
	CutoffReason string
	Unscanned    []Unscanned
	IndexRebuilt bool
	IndexDocs    int
}

// Search picks the execution strategy and runs it. Required-terms RRF is
// the outer strategy: when it applies, comparison decomposition (if any)
// happens inside each required-terms pass.
func (s *Scorer) Search(ctx context.Context, in PassInput) (*SearchResult, error) {
	if s.cfg.RequiredRRFEnabled && len(in.RequiredTerms) == 2 {
		return s.searchRequiredRRF(ctx, in)
	}
	return s.searchMaybeDecomposed(ctx, in)
}

func (s *Scorer) searchMaybeDecomposed(ctx context.Context, in PassInput) (*SearchResult, error) {
	if s.cfg.DecomposeEnabled {
		if subs := decomposeQuery(in.Query, s.cfg.MaxSubQueries); len(subs) >= 2 {
			return s.searchDecomposed(ctx, in, subs)
		}
	}
	pr, err := s.RunPass(ctx, in)
	if err != nil {
		return nil, err
	}
	return resultFromPass(pr, StrategySingle, nil), nil
}

func (s *Scorer) searchDecomposed(ctx context.Context, in PassInput, subs []string) (*SearchResult, error) {
	// Each sub-query gets a proportional share of the overall budget.
	subBudget := in.Budget
	if n := len(subs); n > 1 {
		subBudget.TimeMS /= n
		if subBudget.MaxCandidates > 0 {
			subBudget.MaxCandidates = (subBudget.MaxCandidates + n - 1) / n
			if subBudget.MaxCandidates < 1 {
				subBudget.MaxCandidates = 1
			}
		}
	}

	results := make([]*PassResult, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		subIn := in
		subIn.Query = sub
		subIn.Budget = subBudget
		g.Go(func() error {
			pr, err := s.RunPass(gctx, subIn)
			if err != nil {
				return err
			}
			results[i] = pr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lists := make([]rankedList, 0, len(results))
	for _, pr := range results {
		lists = append(lists, rankedList{cands: pr.Candidates, weight: 1.0})
	}
	fused := fuse(lists, s.cfg.RRFK, s.cfg.BlendAlpha)
	if in.Budget.MaxCandidates > 0 && len(fused) > in.Budget.MaxCandidates {
		fused = fused[:in.Budget.MaxCandidates]
	}

	out := mergePassMeta(results, StrategyDecompose, subs)
	out.Candidates = fused
	s.logger.Debug("decomposed_search",
		slog.Int("sub_queries", len(subs)),
		slog.Int("fused_candidates", len(fused)))
	return out, nil
}

// searchRequiredRRF runs three passes for two required terms: both terms
// required (heaviest weight), then each term alone. Fusion surfaces
// sections that discuss only one side without losing the AND matches'
// lead.
func (s *Scorer) searchRequiredRRF(ctx context.Context, in PassInput) (*SearchResult, error) {
	inputs := [3]PassInput{in, in, in}
	inputs[1].RequiredTerms = []string{in.RequiredTerms[0]}
	inputs[2].RequiredTerms = []string{in.RequiredTerms[1]}

	results := make([]*SearchResult, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i, pi := range inputs {
		g.Go(func() error {
			sr, err := s.searchMaybeDecomposed(gctx, pi)
			if err != nil {
				return err
			}
			results[i] = sr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lists := make([]rankedList, len(results))
	for i, sr := range results {
		lists[i] = rankedList{cands: sr.Candidates, weight: requiredRRFWeights[i]}
	}
	fused := fuse(lists, s.cfg.RRFK, s.cfg.BlendAlpha)
	if in.Budget.MaxCandidates > 0 && len(fused) > in.Budget.MaxCandidates {
		fused = fused[:in.Budget.MaxCandidates]
	}

	out := mergeSearchMeta(results, StrategyRequiredRRF)
	out.Candidates = fused
	return out, nil
}

func resultFromPass(pr *PassResult, strategy Strategy, subs []string) *SearchResult {
	return &SearchResult{
		Candidates:   pr.Candidates,
		Strategy:     strategy,
		SubQueries:   subs,
		ScannedFiles: pr.ScannedFiles,
		ScannedDocs:  pr.ScannedDocs,
		Warnings:     pr.Warnings,
		CutoffReason: pr.CutoffReason,
		Unscanned:    pr.Unscanned,
		IndexRebuilt: pr.IndexRebuilt,
		IndexDocs:    pr.IndexDocs,
	}
}

func mergePassMeta(results []*PassResult, strategy Strategy, subs []string) *SearchResult {
	out := &SearchResult{Strategy: strategy, SubQueries: subs}
	seen := make(map[string]bool)
	for _, pr := range results {
		out.ScannedFiles += pr.ScannedFiles
		out.ScannedDocs += pr.ScannedDocs
		out.Warnings = pr.Warnings
		out.IndexRebuilt = out.IndexRebuilt || pr.IndexRebuilt
		out.IndexDocs = pr.IndexDocs
		if out.CutoffReason == "" {
			out.CutoffReason = pr.CutoffReason
		}
		for _, u := range pr.Unscanned {
			key := u.Corpus + "\x00" + u.Path
			if !seen[key] {
				seen[key] = true
				out.Unscanned = append(out.Unscanned, u)
			}
		}
	}
	return out
}

func mergeSearchMeta(results []*SearchResult, strategy Strategy) *SearchResult {
	out := &SearchResult{Strategy: strategy}
	seen := make(map[string]bool)
	for _, sr := range results {
		out.ScannedFiles += sr.ScannedFiles
		out.ScannedDocs += sr.ScannedDocs
		out.Warnings = sr.Warnings
		out.IndexRebuilt = out.IndexRebuilt || sr.IndexRebuilt
		out.IndexDocs = sr.IndexDocs
		if out.CutoffReason == "" {
			out.CutoffReason = sr.CutoffReason
		}
		for _, u := range sr.Unscanned {
			key := u.Corpus + "\x00" + u.Path
			if !seen[key] {
				seen[key] = true
				out.Unscanned = append(out.Unscanned, u)
			}
		}
	}
	return out
}
