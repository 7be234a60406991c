package rank

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/docsift/docsift/internal/corpus"
	"github.com/docsift/docsift/internal/expand"
	"github.com/docsift/docsift/internal/index"
	"github.com/docsift/docsift/internal/textnorm"
)

// Scorer runs scoring passes over the sparse index.
type Scorer struct {
	src    corpus.Source
	store  *index.Store
	cfg    Config
	logger *slog.Logger

	// now is swappable for deterministic budget tests.
	now func() time.Time
}

// NewScorer creates a scorer over the given source and index store.
func NewScorer(src corpus.Source, store *index.Store, cfg Config) *Scorer {
	return &Scorer{
		src:    src,
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config { return s.cfg }

// fileScan is one file's documents in scan order.
type fileScan struct {
	corpus    string
	corpusIdx int
	path      string
	docs      []*index.Document
}

// noiseFiles excludes index/TOC-style filenames that match everything and
// inform nothing.
var noiseFileNames = map[string]bool{
	"index": true, "_index": true, "toc": true, "readme": true,
	"sitemap": true, "目次": true,
}

func isNoiseFile(path string) bool {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return noiseFileNames[strings.ToLower(base)]
}

// RunPass executes one scoring pass. The time-budget check is cooperative:
// it is polled between files and is the only early termination.
func (s *Scorer) RunPass(ctx context.Context, in PassInput) (*PassResult, error) {
	start := s.now()
	res := &PassResult{}

	fp := corpus.Fingerprint(s.src, in.Corpora)
	idx, rebuilt, bres, err := s.store.GetOrBuild(in.Corpora, fp)
	if err != nil {
		return nil, err
	}
	res.IndexRebuilt = rebuilt
	res.IndexDocs = len(idx.Docs)
	res.Warnings = bres.Warnings

	rawTerms := textnorm.Tokenize(in.Query)
	if len(rawTerms) == 0 {
		return res, nil
	}
	terms, groups := expand.ExpandTerms(rawTerms)
	terms = s.withPRFTerms(idx, terms, groups)

	requiredGroups := make([][]string, 0, len(in.RequiredTerms))
	for _, rt := range in.RequiredTerms {
		if vs := expand.RequiredVariants(rt); len(vs) > 0 {
			requiredGroups = append(requiredGroups, vs)
		}
	}

	grams := phraseGrams(textnorm.Normalize(in.Query), idx)

	files := s.orderFiles(idx, in, terms)
	hardCap := s.hardCap(in.Budget.MaxCandidates)
	deadline := start.Add(time.Duration(in.Budget.TimeMS) * time.Millisecond)

	byFile := make(map[string][]*Candidate)
	accepted := 0
	var explPool []*explEntry

	for fi, f := range files {
		if in.Budget.TimeMS > 0 && s.now().After(deadline) {
			res.CutoffReason = CutoffTimeBudget
			s.recordUnscanned(res, files[fi:])
			break
		}
		if accepted >= hardCap {
			res.CutoffReason = CutoffCandidateCap
			s.recordUnscanned(res, files[fi:])
			break
		}
		if ctx.Err() != nil {
			res.CutoffReason = CutoffTimeBudget
			s.recordUnscanned(res, files[fi:])
			break
		}

		res.ScannedFiles++
		for _, doc := range f.docs {
			res.ScannedDocs++
			cand, expl := s.scoreDocument(idx, doc, terms, groups, grams, requiredGroups)
			if expl != nil {
				explPool = append(explPool, expl)
			}
			if cand == nil {
				continue
			}
			accepted += s.admit(byFile, cand)
		}
	}

	cands := make([]*Candidate, 0, accepted)
	for _, list := range byFile {
		cands = append(cands, list...)
	}
	Sort(cands)

	if s.cfg.ExplorationEnabled {
		cands = s.mergeExploration(cands, explPool, in.Budget.MaxCandidates)
	}

	cands = diversityRerank(cands)
	cands = s.dynamicCutoff(cands)

	if s.cfg.LateRerankEnabled {
		cands = s.lateRerank(in.Query, cands)
	}

	if in.Budget.MaxCandidates > 0 && len(cands) > in.Budget.MaxCandidates {
		cands = cands[:in.Budget.MaxCandidates]
	}
	res.Candidates = cands

	s.logger.Debug("pass_complete",
		slog.String("query", in.Query),
		slog.Int("candidates", len(cands)),
		slog.Int("scanned_files", res.ScannedFiles),
		slog.Int("scanned_docs", res.ScannedDocs),
		slog.String("cutoff", res.CutoffReason),
		slog.Duration("elapsed", s.now().Sub(start)))

	return res, nil
}

// withPRFTerms appends pseudo-relevance-feedback terms when some coverage
// groups have no surface-form hit anywhere in the index.
func (s *Scorer) withPRFTerms(idx *index.SparseIndex, terms []expand.Term, groups []expand.Group) []expand.Term {
	missing := 0
	for _, g := range groups {
		if !g.Matched(idx.ContainsDoc) {
			missing++
		}
	}
	if missing == 0 {
		return terms
	}
	var seeds []expand.Term
	for _, t := range terms {
		if idx.ContainsDoc(t.Text) {
			seeds = append(seeds, t)
		}
	}
	return append(terms, expand.PRF(idx, seeds, s.cfg.PRF)...)
}

// hardCap is the scan-time accepted-candidate ceiling.
func (s *Scorer) hardCap(maxCandidates int) int {
	dynamic := 50
	if maxCandidates*20 > dynamic {
		dynamic = maxCandidates * 20
	}
	if s.cfg.ScanCeiling > 0 && s.cfg.ScanCeiling < dynamic {
		return s.cfg.ScanCeiling
	}
	return dynamic
}

// orderFiles produces the scan order: corpus id order first, then priority
// hints, then filename relevance, then path. Noise files are dropped.
func (s *Scorer) orderFiles(idx *index.SparseIndex, in PassInput, terms []expand.Term) []fileScan {
	corpusIdx := make(map[string]int, len(in.Corpora))
	for i, id := range in.Corpora {
		corpusIdx[id] = i
	}

	byKey := make(map[string]*fileScan)
	var order []string
	for _, doc := range idx.Docs {
		key := doc.Corpus + "\x00" + doc.Path
		fs, ok := byKey[key]
		if !ok {
			if isNoiseFile(doc.Path) || !pathAllowed(doc.Path, in.AllowedPaths) {
				continue
			}
			fs = &fileScan{corpus: doc.Corpus, corpusIdx: corpusIdx[doc.Corpus], path: doc.Path}
			byKey[key] = fs
			order = append(order, key)
		}
		fs.docs = append(fs.docs, doc)
	}
	files := make([]fileScan, 0, len(order))
	for _, key := range order {
		files = append(files, *byKey[key])
	}

	hintRank := func(path string) int {
		norm := textnorm.Normalize(path)
		for i, h := range in.PriorityHints {
			if h != "" && strings.Contains(norm, textnorm.Normalize(h)) {
				return i
			}
		}
		return len(in.PriorityHints)
	}
	nameMatch := func(path string) int {
		norm := textnorm.Normalize(path)
		for _, t := range terms {
			if !t.PRF && strings.Contains(norm, t.Text) {
				return 1
			}
		}
		return 0
	}

	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if a.corpusIdx != b.corpusIdx {
			return a.corpusIdx < b.corpusIdx
		}
		if ha, hb := hintRank(a.path), hintRank(b.path); ha != hb {
			return ha < hb
		}
		if na, nb := nameMatch(a.path), nameMatch(b.path); na != nb {
			return na > nb
		}
		return a.path < b.path
	})
	return files
}

func pathAllowed(path string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, p := range allowed {
		if p != "" && (path == p || strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

// admit enforces the per-file candidate cap. Returns the change in the
// accepted count (1 for a plain add, 0 for an eviction-replace or reject).
func (s *Scorer) admit(byFile map[string][]*Candidate, cand *Candidate) int {
	key := cand.Ref.Corpus + "\x00" + cand.Ref.Path
	list := byFile[key]
	cap := s.cfg.PerFileCap
	if cap <= 0 {
		cap = 1
	}
	if len(list) < cap {
		byFile[key] = append(list, cand)
		return 1
	}
	// Full: replace the least-preferred existing candidate if the new one
	// ranks ahead of it.
	worst := 0
	for i := 1; i < len(list); i++ {
		if Compare(list[i], list[worst]) > 0 {
			worst = i
		}
	}
	if Compare(cand, list[worst]) < 0 {
		list[worst] = cand
	}
	return 0
}

// recordUnscanned lists every not-yet-scanned file with the cutoff reason.
func (s *Scorer) recordUnscanned(res *PassResult, remaining []fileScan) {
	for _, f := range remaining {
		res.Unscanned = append(res.Unscanned, Unscanned{
			Corpus: f.corpus,
			Path:   f.path,
			Reason: res.CutoffReason,
		})
	}
}

// phraseGrams derives the query n-grams (length >= 4 runes) that occur
// somewhere in the scope, with their idf weights. Grams are bounded so
// pathological queries stay cheap.
const maxPhraseGrams = 32

func phraseGrams(normQuery string, idx *index.SparseIndex) map[string]float64 {
	runes := []rune(normQuery)
	if len(runes) < 4 || len(idx.Docs) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var grams []string
	for n := 4; n <= 8 && n <= len(runes); n++ {
		for i := 0; i+n <= len(runes); i++ {
			g := strings.TrimSpace(string(runes[i : i+n]))
			if len([]rune(g)) < 4 || seen[g] {
				continue
			}
			seen[g] = true
			grams = append(grams, g)
			if len(grams) >= maxPhraseGrams {
				break
			}
		}
		if len(grams) >= maxPhraseGrams {
			break
		}
	}

	total := len(idx.Docs)
	out := make(map[string]float64)
	for _, g := range grams {
		df := 0
		for _, doc := range idx.Docs {
			if strings.Contains(doc.NormText, g) {
				df++
			}
		}
		if df > 0 {
			out[g] = index.IDF(total, df)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// dynamicCutoff drops trailing candidates scoring below the configured
// fraction of the top score, never below the minimum candidate floor.
func (s *Scorer) dynamicCutoff(cands []*Candidate) []*Candidate {
	if len(cands) == 0 || s.cfg.DynamicCutoffRatio <= 0 {
		return cands
	}
	floor := cands[0].Score * s.cfg.DynamicCutoffRatio
	keep := len(cands)
	for i, c := range cands {
		if i >= s.cfg.MinCandidates && c.Score < floor {
			keep = i
			break
		}
	}
	return cands[:keep]
}

// diversityRerank interleaves candidates round-robin across files, each
// file's own candidates staying in canonical order, so one dominant file
// cannot monopolize the head of the list.
func diversityRerank(cands []*Candidate) []*Candidate {
	if len(cands) < 3 {
		return cands
	}
	type bucket struct {
		items []*Candidate
	}
	order := []string{}
	buckets := make(map[string]*bucket)
	for _, c := range cands {
		key := c.Ref.Corpus + "\x00" + c.Ref.Path
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
			order = append(order, key)
		}
		b.items = append(b.items, c)
	}
	if len(order) == 1 {
		return cands
	}
	out := make([]*Candidate, 0, len(cands))
	for round := 0; len(out) < len(cands); round++ {
		for _, key := range order {
			b := buckets[key]
			if round < len(b.items) {
				out = append(out, b.items[round])
			}
		}
	}
	return out
}

// lateRerank applies a MaxSim-style late-interaction score over the top-N
// candidates: per raw query token, the best similarity against the
// candidate's matched tokens (exact 1.0, substring either way 0.7),
// averaged, then blended into the score.
func (s *Scorer) lateRerank(query string, cands []*Candidate) []*Candidate {
	topN := s.cfg.LateRerankTopN
	if topN <= 0 || len(cands) == 0 {
		return cands
	}
	queryTokens := textnorm.Tokenize(query)
	if len(queryTokens) == 0 {
		return cands
	}
	n := len(cands)
	if n > topN {
		n = topN
	}
	out := append([]*Candidate(nil), cands...)
	for i := 0; i < n; i++ {
		late := maxSim(queryTokens, out[i].Tokens)
		if late > 0 {
			out[i] = out[i].WithScore(out[i].Score+s.cfg.LateRerankWeight*late, explainf("late_rerank +%.3f", s.cfg.LateRerankWeight*late))
		}
	}
	Sort(out)
	return out
}

func maxSim(queryTokens []string, matched []TokenHit) float64 {
	if len(queryTokens) == 0 || len(matched) == 0 {
		return 0
	}
	var total float64
	for _, q := range queryTokens {
		best := 0.0
		for _, m := range matched {
			switch {
			case q == m.Token:
				best = 1.0
			case best < 0.7 && (strings.Contains(q, m.Token) || strings.Contains(m.Token, q)):
				best = 0.7
			}
			if best == 1.0 {
				break
			}
		}
		total += best
	}
	return total / float64(len(queryTokens))
}

// mergeExploration merges a bounded secondary BM25-only pool into the
// primary candidates, tagged with the exploration signal.
func (s *Scorer) mergeExploration(primary []*Candidate, pool []*explEntry, maxCandidates int) []*Candidate {
	if len(pool) == 0 {
		return primary
	}
	quota := int(math.Ceil(float64(maxCandidates) * s.cfg.ExplorationRatio))
	if quota < s.cfg.MinCandidates {
		quota = s.cfg.MinCandidates
	}

	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].bm25 != pool[j].bm25 {
			return pool[i].bm25 > pool[j].bm25
		}
		return pool[i].cand.Key() < pool[j].cand.Key()
	})

	have := make(map[string]bool, len(primary))
	for _, c := range primary {
		have[c.Key()] = true
	}

	merged := append([]*Candidate(nil), primary...)
	added := 0
	for _, e := range pool {
		if added >= quota {
			break
		}
		if have[e.cand.Key()] {
			continue
		}
		score := e.bm25*s.cfg.ExplorationScale + e.codeBonus
		if score <= 0 {
			continue
		}
		c := e.cand.WithScore(score, explainf("exploration bm25=%.3f", e.bm25)).WithSignals(SignalExploration)
		merged = append(merged, c)
		have[c.Key()] = true
		added++
	}
	Sort(merged)
	return merged
}
