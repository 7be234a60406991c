package rank

import "github.com/docsift/docsift/internal/expand"

// Config holds the numerically tuned scoring parameters. The defaults are
// calibrated against the gold-label evaluation sets; change them through
// configuration, not here.
type Config struct {
	// Coverage bonuses: both proportional to the fraction of original
	// query coverage-groups a document matches.
	SparseCoverageWeight float64
	LexCoverageWeight    float64

	// PhraseWeight scales the per-n-gram idf phrase bonus.
	PhraseWeight float64

	// NumberContextBonus applies once when a matched numeric term
	// co-occurs with a number-context keyword.
	NumberContextBonus float64

	// Proximity bonuses between a matched anchor term and a matched
	// numeric term, by character window.
	ProximityNearBonus   float64 // within ProximityNearWindow
	ProximityFarBonus    float64 // within ProximityFarWindow
	ProximityNearWindow  int
	ProximityFarWindow   int

	// CodeExactBonus applies per hit of a product/procedure-code shaped
	// term confirmed against the raw text.
	CodeExactBonus float64

	// PRFBonus applies per present PRF-sourced expansion term.
	PRFBonus float64

	// Length penalty beyond LengthThreshold characters.
	LengthPenaltyPerK float64
	LengthThreshold   int

	// PerFileCap bounds candidates retained per file.
	PerFileCap int

	// ScanCeiling bounds accepted candidates during a scan; the
	// effective hard cap is min(ScanCeiling, max(50, maxCandidates*20)).
	ScanCeiling int

	// DynamicCutoffRatio drops trailing candidates scoring below this
	// fraction of the top score.
	DynamicCutoffRatio float64

	// MinCandidates is the floor the dynamic cutoff and exploration
	// quota never go below.
	MinCandidates int

	// Exploration pool.
	ExplorationEnabled bool
	ExplorationRatio   float64
	ExplorationScale   float64

	// Late-interaction rerank.
	LateRerankEnabled bool
	LateRerankTopN    int
	LateRerankWeight  float64

	// Fusion.
	RRFK       int
	BlendAlpha float64

	// Multi-subquery decomposition.
	DecomposeEnabled bool
	MaxSubQueries    int

	// Required-terms RRF (exactly two required terms).
	RequiredRRFEnabled bool

	// PRF expansion bounds.
	PRF expand.PRFConfig
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		SparseCoverageWeight: 1.2,
		LexCoverageWeight:    0.8,
		PhraseWeight:         0.5,
		NumberContextBonus:   0.6,
		ProximityNearBonus:   0.8,
		ProximityFarBonus:    0.4,
		ProximityNearWindow:  40,
		ProximityFarWindow:   80,
		CodeExactBonus:       0.9,
		PRFBonus:             0.15,
		LengthPenaltyPerK:    0.3,
		LengthThreshold:      3000,
		PerFileCap:           3,
		ScanCeiling:          500,
		DynamicCutoffRatio:   0.25,
		MinCandidates:        3,
		ExplorationEnabled:   true,
		ExplorationRatio:     0.25,
		ExplorationScale:     0.5,
		LateRerankEnabled:    true,
		LateRerankTopN:       10,
		LateRerankWeight:     0.3,
		RRFK:                 60,
		BlendAlpha:           0.7,
		DecomposeEnabled:     true,
		MaxSubQueries:        3,
		RequiredRRFEnabled:   true,
		PRF:                  expand.DefaultPRFConfig(),
	}
}

// requiredRRFWeights are the pass weights for required-terms fusion:
// AND-both, single-A, single-B.
var requiredRRFWeights = [3]float64{1.10, 1.00, 1.00}
