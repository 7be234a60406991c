package index

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/docsift/docsift/internal/corpus"
)

// DefaultMaxIndexes bounds how many fingerprinted scope indexes the store
// retains before evicting least-recently-used ones.
const DefaultMaxIndexes = 8

// Store is the per-scope LRU index cache. One index exists per distinct
// ordered corpus-id set; a fingerprint mismatch triggers a rebuild.
//
// Builds use a build-once discipline: concurrent misses on the same scope
// key share a single in-flight build instead of duplicating work.
type Store struct {
	src   corpus.Source
	cache *lru.Cache[string, *SparseIndex]

	mu       sync.Mutex
	building map[string]*buildCall
}

type buildCall struct {
	done chan struct{}
	idx  *SparseIndex
	res  BuildResult
	err  error
}

// NewStore creates an index store retaining at most maxIndexes scopes.
func NewStore(src corpus.Source, maxIndexes int) *Store {
	if maxIndexes <= 0 {
		maxIndexes = DefaultMaxIndexes
	}
	cache, _ := lru.New[string, *SparseIndex](maxIndexes)
	return &Store{
		src:      src,
		cache:    cache,
		building: make(map[string]*buildCall),
	}
}

// ScopeKey returns the cache key for an ordered corpus-id set.
func ScopeKey(corpusIDs []string) string {
	return strings.Join(corpusIDs, ",")
}

// GetOrBuild returns the cached index when its fingerprint matches,
// otherwise rebuilds. The rebuilt flag reports whether a build ran on this
// call (or was joined in flight).
func (s *Store) GetOrBuild(corpusIDs []string, fingerprint string) (idx *SparseIndex, rebuilt bool, res BuildResult, err error) {
	key := ScopeKey(corpusIDs)

	if cached, ok := s.cache.Get(key); ok && cached.Fingerprint == fingerprint {
		return cached, false, BuildResult{}, nil
	}

	s.mu.Lock()
	if call, ok := s.building[key]; ok {
		s.mu.Unlock()
		<-call.done
		return call.idx, true, call.res, call.err
	}
	call := &buildCall{done: make(chan struct{})}
	s.building[key] = call
	s.mu.Unlock()

	call.idx, call.res, call.err = Build(s.src, corpusIDs, fingerprint)

	s.mu.Lock()
	delete(s.building, key)
	if call.err == nil {
		s.cache.Add(key, call.idx)
	}
	s.mu.Unlock()
	close(call.done)

	return call.idx, true, call.res, call.err
}

// Invalidate drops every cached index whose scope includes the corpus.
// Used by the corpus watcher; the fingerprint check remains authoritative.
func (s *Store) Invalidate(corpusID string) {
	for _, key := range s.cache.Keys() {
		for _, id := range strings.Split(key, ",") {
			if id == corpusID {
				s.cache.Remove(key)
				break
			}
		}
	}
}

// Len returns the number of cached scope indexes.
func (s *Store) Len() int {
	return s.cache.Len()
}
