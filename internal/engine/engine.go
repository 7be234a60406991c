// Package engine orchestrates the full query pipeline: validation, cache
// lookup, scoring, claim synthesis, scope escalation, trace storage, and
// statistics logging.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/docsift/docsift/internal/cache"
	"github.com/docsift/docsift/internal/claims"
	"github.com/docsift/docsift/internal/corpus"
	"github.com/docsift/docsift/internal/embed"
	"github.com/docsift/docsift/internal/errors"
	"github.com/docsift/docsift/internal/escalate"
	"github.com/docsift/docsift/internal/index"
	"github.com/docsift/docsift/internal/planner"
	"github.com/docsift/docsift/internal/rank"
	"github.com/docsift/docsift/internal/telemetry"
	"github.com/docsift/docsift/internal/textnorm"
	"github.com/docsift/docsift/internal/tuner"
)

// Validation ceilings for caller-supplied budgets.
const (
	MaxTimeMS        = 60_000
	MaxMaxCandidates = 50
	MaxRequiredTerms = 4
)

// DefaultBudget applies when the caller gives none.
var DefaultBudget = rank.Budget{TimeMS: 4_000, MaxCandidates: 8}

// CacheGuard bounds which cached summaries may be served; -1 means no
// limit.
type CacheGuard struct {
	MaxGaps      int
	MaxConflicts int
}

// Options configures an engine.
type Options struct {
	Rank       rank.Config
	Escalate   escalate.Config
	Cache      cache.Config
	CacheGuard CacheGuard
	Downgrade  claims.DowngradeConfig

	// DefaultBudget overrides the package default for requests that carry
	// no budget; nil keeps DefaultBudget.
	DefaultBudget *rank.Budget

	TraceTTL     time.Duration
	TraceMaxKeep int
	MaxIndexes   int

	// Embedder powers semantic cache lookups; nil means the no-op
	// provider.
	Embedder embed.Embedder
	// Sink receives per-query stats; nil disables logging and the
	// adaptive tuner.
	Sink *telemetry.Sink
	// Tuner derives adaptive thresholds; nil uses the defaults.
	Tuner *tuner.Tuner
	// Planner is an optional caller strategy; it runs validated.
	Planner planner.Planner
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{
		Rank:       rank.DefaultConfig(),
		Escalate:   escalate.DefaultConfig(),
		Cache:      cache.DefaultConfig(),
		CacheGuard: CacheGuard{MaxGaps: -1, MaxConflicts: -1},
		Downgrade:  claims.DefaultDowngradeConfig(),
	}
}

// queryPayload is the cached unit of work: everything a trace carries.
type queryPayload struct {
	Candidates []*rank.Candidate
	Graph      *claims.Graph
	Summary    claims.Summary
	Unscanned  []rank.Unscanned
	Expanded   bool
	Strategy   rank.Strategy
}

// Engine is the document retrieval engine. All mutable state (index
// store, result cache, trace store) is owned here; there are no package
// singletons.
type Engine struct {
	src      corpus.Source
	store    *index.Store
	scorer   *rank.Scorer
	esc      *escalate.Controller
	cache    *cache.Cache[queryPayload]
	traces   *TraceStore
	embedder embed.Embedder
	sink     *telemetry.Sink
	tuner    *tuner.Tuner
	plan     planner.Planner
	opts     Options
	logger   *slog.Logger
}

// New creates an engine over the corpus source.
func New(src corpus.Source, opts Options) *Engine {
	store := index.NewStore(src, opts.MaxIndexes)
	guard := func(p queryPayload) bool {
		if opts.CacheGuard.MaxGaps >= 0 && p.Summary.GapCount > opts.CacheGuard.MaxGaps {
			return false
		}
		if opts.CacheGuard.MaxConflicts >= 0 && p.Summary.ConflictCount > opts.CacheGuard.MaxConflicts {
			return false
		}
		return true
	}
	embedder := opts.Embedder
	if embedder == nil {
		embedder = embed.Noop{}
	}
	return &Engine{
		src:      src,
		store:    store,
		scorer:   rank.NewScorer(src, store, opts.Rank),
		esc:      escalate.NewController(src, opts.Escalate),
		cache:    cache.New(opts.Cache, guard),
		traces:   NewTraceStore(opts.TraceTTL, opts.TraceMaxKeep),
		embedder: embedder,
		sink:     opts.Sink,
		tuner:    opts.Tuner,
		plan:     planner.NewValidated(opts.Planner),
		opts:     opts,
		logger:   slog.Default(),
	}
}

// Store exposes the index store, for the corpus watcher.
func (e *Engine) Store() *index.Store { return e.store }

// Corpora lists the available corpus ids.
func (e *Engine) Corpora() ([]string, error) { return e.src.Corpora() }

// Stats are the engine's live resource counters.
type Stats struct {
	Indexes      int `json:"indexes"`
	CacheEntries int `json:"cache_entries"`
	Traces       int `json:"traces"`
}

// EngineStats reports the live counters.
func (e *Engine) EngineStats() Stats {
	return Stats{
		Indexes:      e.store.Len(),
		CacheEntries: e.cache.Len(),
		Traces:       e.traces.Len(),
	}
}

// FindRequest is the find entry point's input.
type FindRequest struct {
	Query         string
	CorpusID      string
	ExpandScope   bool
	RequiredTerms []string
	Budget        *rank.Budget
	UseCache      *bool // nil means enabled
}

// Applied reports what the pipeline actually did.
type Applied struct {
	Budget     rank.Budget         `json:"budget"`
	Thresholds escalate.Thresholds `json:"thresholds"`
	Strategy   rank.Strategy       `json:"strategy"`
	CacheMode  cache.Mode          `json:"cache_mode"`
	Expanded   bool                `json:"expanded"`
}

// FindResult is the find entry point's output; details hang off the
// trace.
type FindResult struct {
	TraceID     string           `json:"trace_id"`
	Summary     claims.Summary   `json:"summary"`
	NextActions []planner.Action `json:"next_actions"`
	Applied     Applied          `json:"applied"`
}

// Find answers one query. Validation failures abort before any index
// work; per-file read problems inside a scan degrade to warnings.
func (e *Engine) Find(ctx context.Context, req FindRequest) (*FindResult, error) {
	budget, err := e.validate(req)
	if err != nil {
		return nil, err
	}
	if err := e.checkCorpus(req.CorpusID); err != nil {
		return nil, err
	}

	th := escalate.DefaultThresholds()
	if e.tuner != nil {
		th = e.tuner.Thresholds()
	}

	normQuery := textnorm.Normalize(req.Query)
	corpora := []string{req.CorpusID}
	sig := cache.Signature(corpora, corpus.Fingerprint(e.src, corpora))

	useCache := req.UseCache == nil || *req.UseCache
	cacheMode := cache.ModeMiss
	var vec []float32

	if useCache {
		if hit, ok := e.cache.LookupExact(sig, normQuery); ok {
			return e.finish(req, normQuery, hit.Value, Applied{
				Budget: budget, Thresholds: th,
				Strategy: hit.Value.Strategy, CacheMode: hit.Mode,
				Expanded: hit.Value.Expanded,
			}, 0)
		} else if hit.Mode == cache.ModeGuard {
			cacheMode = cache.ModeGuard
		}

		// The embed call may block on an external provider; it runs
		// outside any cache lock.
		if v, err := e.embedder.Embed(ctx, normQuery); err == nil {
			vec = v
		} else {
			e.logger.Warn("embed_failed", slog.Any("error", err))
		}
		if hit, ok := e.cache.LookupSemantic(sig, normQuery, vec); ok {
			return e.finish(req, normQuery, hit.Value, Applied{
				Budget: budget, Thresholds: th,
				Strategy: hit.Value.Strategy, CacheMode: hit.Mode,
				Expanded: hit.Value.Expanded,
			}, 0)
		} else if hit.Mode == cache.ModeGuard {
			cacheMode = cache.ModeGuard
		}
	}

	start := time.Now()
	payload, added, err := e.compute(ctx, req, corpora, budget, th)
	if err != nil {
		return nil, errors.Coerce(err)
	}
	latency := time.Since(start)

	if useCache {
		e.cache.Put(sig, normQuery, vec, payload, latency)
	}

	res, err := e.finish(req, normQuery, payload, Applied{
		Budget: budget, Thresholds: th,
		Strategy: payload.Strategy, CacheMode: cacheMode,
		Expanded: payload.Expanded,
	}, latency)
	if err != nil {
		return nil, err
	}
	e.logStat(req, payload, added, cacheMode, th, latency)
	return res, nil
}

// compute runs the uncached pipeline.
func (e *Engine) compute(ctx context.Context, req FindRequest, corpora []string, budget rank.Budget, th escalate.Thresholds) (queryPayload, int, error) {
	in := rank.PassInput{
		Corpora:       corpora,
		Query:         req.Query,
		RequiredTerms: req.RequiredTerms,
		Budget:        budget,
	}
	sr, err := e.scorer.Search(ctx, in)
	if err != nil {
		return queryPayload{}, 0, err
	}

	cands := sr.Candidates
	graph := claims.Synthesize(req.Query, cands)
	bias := escalate.FileBias(cands)
	heur := escalate.Heuristic(cands, th)
	heurFlag := 0
	if len(heur) > 0 {
		heurFlag = 1
	}
	summary := claims.Summarize(cands, graph, heurFlag, bias)

	reasons := e.esc.Decide(escalate.Observation{
		Candidates:    cands,
		GapCount:      summary.GapCount,
		ConflictCount: summary.ConflictCount,
		ClaimCoverage: summary.ClaimCoverage,
	}, th)

	unscanned := sr.Unscanned
	expanded := false
	added := 0
	if len(reasons) > 0 {
		if req.ExpandScope {
			merged, _, err := e.esc.Expand(ctx, e.scorer, in, cands)
			if err == nil && len(merged) > len(cands) {
				added = len(merged) - len(cands)
				if budget.MaxCandidates > 0 && len(merged) > budget.MaxCandidates {
					merged = merged[:budget.MaxCandidates]
				}
				cands = merged
				expanded = true
				// The evidence changed; claims and summary follow it.
				graph = claims.Synthesize(req.Query, cands)
				bias = escalate.FileBias(cands)
				heurFlag = 0
				if len(escalate.Heuristic(cands, th)) > 0 {
					heurFlag = 1
				}
				summary = claims.Summarize(cands, graph, heurFlag, bias)
			}
		} else {
			// Triggers fired but the caller did not ask for expansion:
			// record what was left out, never do unrequested work.
			unscanned = append(unscanned, e.esc.Declined(req.CorpusID)...)
			reasons = append(reasons, escalate.ReasonNotRequested)
		}
	}
	summary.EscalationReasons = reasons
	summary = claims.ApplyDowngrades(summary, marginalGain(cands), e.opts.Downgrade)

	return queryPayload{
		Candidates: cands,
		Graph:      graph,
		Summary:    summary,
		Unscanned:  unscanned,
		Expanded:   expanded,
		Strategy:   sr.Strategy,
	}, added, nil
}

// finish stores the trace and assembles the result.
func (e *Engine) finish(req FindRequest, normQuery string, p queryPayload, applied Applied, latency time.Duration) (*FindResult, error) {
	traceID := e.traces.Put(&Trace{
		Query:      req.Query,
		Corpora:    []string{req.CorpusID},
		Candidates: p.Candidates,
		Graph:      p.Graph,
		Summary:    p.Summary,
		Unscanned:  p.Unscanned,
		Expanded:   p.Expanded,
		Strategy:   p.Strategy,
	})

	actions, err := e.plan.Plan(traceID, p.Summary)
	if err != nil {
		// The validated planner never fails, but degrade anyway.
		actions = nil
	}

	e.logger.Info("find_complete",
		slog.String("trace_id", traceID),
		slog.String("corpus", req.CorpusID),
		slog.String("query", normQuery),
		slog.Int("candidates", p.Summary.Candidates),
		slog.String("status", p.Summary.IntegrationStatus),
		slog.String("cache_mode", string(applied.CacheMode)),
		slog.Duration("latency", latency))

	return &FindResult{
		TraceID:     traceID,
		Summary:     p.Summary,
		NextActions: actions,
		Applied:     applied,
	}, nil
}

func (e *Engine) logStat(req FindRequest, p queryPayload, added int, mode cache.Mode, th escalate.Thresholds, latency time.Duration) {
	if e.sink == nil {
		return
	}
	err := e.sink.Append(telemetry.QueryStat{
		TS:            time.Now(),
		Query:         req.Query,
		Candidates:    p.Summary.Candidates,
		AddedEvidence: added,
		CutoffReason:  cutoffOf(p.Unscanned),
		ThresholdLow:  th.LowCandidates,
		ThresholdBias: th.FileBias,
		LatencyMS:     latency.Milliseconds(),
		CacheMode:     string(mode),
		Expanded:      p.Expanded,
	})
	if err != nil {
		e.logger.Warn("stats_append_failed", slog.Any("error", err))
	}
}

func cutoffOf(unscanned []rank.Unscanned) string {
	for _, u := range unscanned {
		if u.Reason != rank.CutoffStageCap {
			return u.Reason
		}
	}
	return ""
}

// marginalGain estimates candidates per summary token.
func marginalGain(cands []*rank.Candidate) float64 {
	if len(cands) == 0 {
		return 0
	}
	runes := 0
	for _, c := range cands {
		runes += len([]rune(c.Ref.Title)) + len([]rune(c.Ref.Path))
	}
	tokens := runes/4 + 40*len(cands)
	return float64(len(cands)) / float64(tokens)
}

func (e *Engine) validate(req FindRequest) (rank.Budget, error) {
	if req.Query == "" {
		return rank.Budget{}, errors.New(errors.CodeInvalidParameter, "query must not be empty")
	}
	if req.CorpusID == "" {
		return rank.Budget{}, errors.New(errors.CodeInvalidParameter, "corpus id must not be empty")
	}
	if len(req.RequiredTerms) > MaxRequiredTerms {
		return rank.Budget{}, errors.Newf(errors.CodeInvalidParameter, "at most %d required terms", MaxRequiredTerms)
	}
	for _, rt := range req.RequiredTerms {
		if rt == "" {
			return rank.Budget{}, errors.New(errors.CodeInvalidParameter, "required terms must not be empty")
		}
	}

	budget := DefaultBudget
	if e.opts.DefaultBudget != nil {
		budget = *e.opts.DefaultBudget
	}
	if req.Budget != nil {
		b := *req.Budget
		if b.TimeMS <= 0 || b.TimeMS > MaxTimeMS {
			return rank.Budget{}, errors.Newf(errors.CodeInvalidParameter, "time_ms must be in (0, %d]", MaxTimeMS)
		}
		if b.MaxCandidates <= 0 || b.MaxCandidates > MaxMaxCandidates {
			return rank.Budget{}, errors.Newf(errors.CodeInvalidParameter, "max_candidates must be in (0, %d]", MaxMaxCandidates)
		}
		budget = b
	}
	return budget, nil
}

func (e *Engine) checkCorpus(id string) error {
	all, err := e.src.Corpora()
	if err != nil {
		return errors.Coerce(err)
	}
	for _, have := range all {
		if have == id {
			return nil
		}
	}
	return errors.Newf(errors.CodeNotFound, "unknown corpus %q", id)
}
