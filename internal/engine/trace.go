package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/docsift/docsift/internal/claims"
	"github.com/docsift/docsift/internal/errors"
	"github.com/docsift/docsift/internal/rank"
)

// Trace is the full result bundle of one query, kept for later paginated
// retrieval. Traces are immutable once stored.
type Trace struct {
	ID        string
	Query     string
	Corpora   []string
	CreatedAt time.Time

	Candidates []*rank.Candidate
	Graph      *claims.Graph
	Summary    claims.Summary
	Unscanned  []rank.Unscanned
	Expanded   bool
	Strategy   rank.Strategy
}

// TraceStore holds traces under a TTL and a max-keep bound; the oldest or
// least-recently-read trace evicts first.
type TraceStore struct {
	entries *expirable.LRU[string, *Trace]
}

// Trace store defaults.
const (
	DefaultTraceTTL     = 30 * time.Minute
	DefaultTraceMaxKeep = 128
)

// NewTraceStore creates a trace store.
func NewTraceStore(ttl time.Duration, maxKeep int) *TraceStore {
	if ttl <= 0 {
		ttl = DefaultTraceTTL
	}
	if maxKeep <= 0 {
		maxKeep = DefaultTraceMaxKeep
	}
	return &TraceStore{entries: expirable.NewLRU[string, *Trace](maxKeep, nil, ttl)}
}

// Put stores the trace under a fresh id and returns the id.
func (s *TraceStore) Put(t *Trace) string {
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now()
	s.entries.Add(t.ID, t)
	return t.ID
}

// Get returns the trace or a not-found error for unknown and expired ids
// alike.
func (s *TraceStore) Get(id string) (*Trace, error) {
	t, ok := s.entries.Get(id)
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "unknown or expired trace id %q", id)
	}
	return t, nil
}

// Len returns the live trace count.
func (s *TraceStore) Len() int { return s.entries.Len() }
