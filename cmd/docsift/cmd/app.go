package cmd

import (
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/corpus"
	"github.com/docsift/docsift/internal/embed"
	"github.com/docsift/docsift/internal/engine"
	"github.com/docsift/docsift/internal/rank"
	"github.com/docsift/docsift/internal/telemetry"
	"github.com/docsift/docsift/internal/tuner"
)

// engineOptions translates the loaded configuration onto the engine's
// tuned defaults; zero values keep the default.
func engineOptions(cfg *config.Config) engine.Options {
	opts := engine.DefaultOptions()

	s := cfg.Search
	if s.PerFileCap > 0 {
		opts.Rank.PerFileCap = s.PerFileCap
	}
	if s.ScanCeiling > 0 {
		opts.Rank.ScanCeiling = s.ScanCeiling
	}
	if s.RRFK > 0 {
		opts.Rank.RRFK = s.RRFK
	}
	if s.BlendAlpha > 0 {
		opts.Rank.BlendAlpha = s.BlendAlpha
	}
	if s.ExplorationEnabled != nil {
		opts.Rank.ExplorationEnabled = *s.ExplorationEnabled
	}
	if s.LateRerankEnabled != nil {
		opts.Rank.LateRerankEnabled = *s.LateRerankEnabled
	}
	if s.DecomposeEnabled != nil {
		opts.Rank.DecomposeEnabled = *s.DecomposeEnabled
		opts.Rank.RequiredRRFEnabled = *s.DecomposeEnabled
	}
	if s.NeighborLimit > 0 {
		opts.Escalate.NeighborLimit = s.NeighborLimit
	}
	opts.MaxIndexes = s.MaxIndexes
	opts.DefaultBudget = &rank.Budget{
		TimeMS:        s.DefaultTimeMS,
		MaxCandidates: s.DefaultMaxCandidates,
	}

	opts.Cache.Disabled = !cfg.CacheOn()
	if cfg.Cache.TTL > 0 {
		opts.Cache.TTL = cfg.Cache.TTL
	}
	if cfg.Cache.MaxKeep > 0 {
		opts.Cache.MaxKeep = cfg.Cache.MaxKeep
	}
	if cfg.Cache.SemanticThreshold > 0 {
		opts.Cache.SemanticThreshold = cfg.Cache.SemanticThreshold
	}
	if cfg.Cache.MaxGaps != nil {
		opts.CacheGuard.MaxGaps = *cfg.Cache.MaxGaps
	}
	if cfg.Cache.MaxConflicts != nil {
		opts.CacheGuard.MaxConflicts = *cfg.Cache.MaxConflicts
	}

	if cfg.Trace.TTL > 0 {
		opts.TraceTTL = cfg.Trace.TTL
	}
	if cfg.Trace.MaxKeep > 0 {
		opts.TraceMaxKeep = cfg.Trace.MaxKeep
	}

	if cfg.Embed.Provider == "static" {
		opts.Embedder = embed.NewStatic(cfg.Embed.Dimensions)
	}

	if cfg.TunerOn() && cfg.Tuner.StatsPath != "" {
		sink := telemetry.NewSink(cfg.Tuner.StatsPath)
		tcfg := tuner.DefaultConfig()
		if cfg.Tuner.BaseLow > 0 {
			tcfg.BaseLow = cfg.Tuner.BaseLow
		}
		if cfg.Tuner.BaseBias > 0 {
			tcfg.BaseBias = cfg.Tuner.BaseBias
		}
		opts.Sink = sink
		opts.Tuner = tuner.New(sink, tcfg)
	}

	return opts
}

// buildEngine creates the engine over the configured corpus root.
func buildEngine(cfg *config.Config) *engine.Engine {
	return engine.New(corpus.NewDirSource(cfg.Root), engineOptions(cfg))
}
