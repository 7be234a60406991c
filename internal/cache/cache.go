// Package cache is the two-tier result cache: exact lookups by scope
// signature and normalized query, and semantic lookups by query-embedding
// similarity over the same keyed store.
package cache

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Mode reports how a lookup resolved.
type Mode string

const (
	ModeExact    Mode = "exact"
	ModeSemantic Mode = "semantic"
	// ModeGuard means a hit was found but its summary failed the
	// acceptability guard; the pipeline recomputes.
	ModeGuard Mode = "guard_revalidate"
	ModeMiss  Mode = "miss"
)

// Config bounds the cache.
type Config struct {
	// Disabled turns the cache off entirely; every lookup misses and
	// puts are dropped.
	Disabled bool
	// TTL is the entry lifetime.
	TTL time.Duration
	// MaxKeep caps retained entries; least-recently-touched evict first.
	MaxKeep int
	// SemanticThreshold is the minimum cosine similarity for a semantic
	// hit.
	SemanticThreshold float64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		TTL:               15 * time.Minute,
		MaxKeep:           64,
		SemanticThreshold: 0.93,
	}
}

// Signature identifies the cache partition: ordered scope plus the corpus
// fingerprint the result was computed against.
func Signature(corpora []string, fingerprint string) string {
	return strings.Join(corpora, ",") + "\x00" + fingerprint
}

type entry[V any] struct {
	sig     string
	query   string
	vec     []float32
	value   V
	latency time.Duration
}

// Hit is a successful lookup.
type Hit[V any] struct {
	Value V
	Mode  Mode
	// SavedLatency is the wall-clock cost of the original computation.
	SavedLatency time.Duration
	// Similarity is set for semantic hits.
	Similarity float64
}

// Cache is the keyed result store. The acceptable guard vets every hit
// before it is honored; a rejected hit downgrades to a revalidation.
type Cache[V any] struct {
	mu         sync.Mutex
	cfg        Config
	entries    *expirable.LRU[string, *entry[V]]
	acceptable func(V) bool
	logger     *slog.Logger

	// Semantic tier: query vectors in an HNSW graph with lazy deletion,
	// uint64 graph keys mapped to cache keys.
	graph   *hnsw.Graph[uint64]
	keyMap  map[uint64]string
	idMap   map[string]uint64
	nextKey uint64
}

// New creates a cache. acceptable may be nil, meaning every hit is
// honored.
func New[V any](cfg Config, acceptable func(V) bool) *Cache[V] {
	c := &Cache[V]{
		cfg:        cfg,
		acceptable: acceptable,
		logger:     slog.Default(),
		keyMap:     make(map[uint64]string),
		idMap:      make(map[string]uint64),
	}
	c.entries = expirable.NewLRU(cfg.MaxKeep, func(key string, _ *entry[V]) {
		// Lazy deletion: the graph node stays behind but is orphaned.
		if gk, ok := c.idMap[key]; ok {
			delete(c.keyMap, gk)
			delete(c.idMap, key)
		}
	}, cfg.TTL)

	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	c.graph = g
	return c
}

func cacheKey(sig, query string) string { return sig + "\x00" + query }

// Put stores a freshly computed result with the latency it took to
// produce. vec may be nil when no embedding provider is configured.
func (c *Cache[V]) Put(sig, normQuery string, vec []float32, value V, latency time.Duration) {
	if c.cfg.Disabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(sig, normQuery)
	e := &entry[V]{sig: sig, query: normQuery, value: value, latency: latency}
	if len(vec) > 0 {
		e.vec = normalize(vec)

		if old, ok := c.idMap[key]; ok {
			delete(c.keyMap, old)
			delete(c.idMap, key)
		}
		gk := c.nextKey
		c.nextKey++
		c.graph.Add(hnsw.MakeNode(gk, e.vec))
		c.idMap[key] = gk
		c.keyMap[gk] = key
	}
	c.entries.Add(key, e)
}

// LookupExact resolves by exact string equality on the signature and
// normalized query. The miss result distinguishes a plain miss from a
// guard rejection.
func (c *Cache[V]) LookupExact(sig, normQuery string) (Hit[V], bool) {
	if c.cfg.Disabled {
		return Hit[V]{Mode: ModeMiss}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(cacheKey(sig, normQuery))
	if !ok {
		return Hit[V]{Mode: ModeMiss}, false
	}
	if c.acceptable != nil && !c.acceptable(e.value) {
		return Hit[V]{Mode: ModeGuard}, false
	}
	return Hit[V]{Value: e.value, Mode: ModeExact, SavedLatency: e.latency}, true
}

// semanticShortlist bounds the graph probe.
const semanticShortlist = 8

// LookupSemantic resolves by embedding similarity within the same
// signature partition, picking the best match at or above the threshold.
// A nil query vector always misses.
func (c *Cache[V]) LookupSemantic(sig, normQuery string, vec []float32) (Hit[V], bool) {
	if c.cfg.Disabled || len(vec) == 0 {
		return Hit[V]{Mode: ModeMiss}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph.Len() == 0 {
		return Hit[V]{Mode: ModeMiss}, false
	}
	q := normalize(vec)

	var bestKey string
	var bestSim float64
	for _, node := range c.graph.Search(q, semanticShortlist) {
		key, ok := c.keyMap[node.Key]
		if !ok {
			continue // orphaned by lazy deletion
		}
		e, ok := c.entries.Peek(key)
		if !ok || e.sig != sig {
			continue
		}
		if sim := dot(q, e.vec); sim > bestSim {
			bestSim = sim
			bestKey = key
		}
	}
	if bestKey == "" || bestSim < c.cfg.SemanticThreshold {
		return Hit[V]{Mode: ModeMiss}, false
	}

	e, ok := c.entries.Get(bestKey) // counts as a touch
	if !ok {
		return Hit[V]{Mode: ModeMiss}, false
	}
	if c.acceptable != nil && !c.acceptable(e.value) {
		return Hit[V]{Mode: ModeGuard}, false
	}
	c.logger.Debug("semantic_cache_hit",
		slog.String("query", normQuery),
		slog.String("matched", e.query),
		slog.Float64("similarity", bestSim))
	return Hit[V]{Value: e.value, Mode: ModeSemantic, SavedLatency: e.latency, Similarity: bestSim}, true
}

// Len returns the live entry count.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Purge drops everything.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.keyMap = make(map[uint64]string)
	c.idMap = make(map[string]uint64)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
