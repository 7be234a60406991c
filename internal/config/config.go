// Package config loads the docsift configuration: YAML file first, then
// DOCSIFT_* environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete docsift configuration.
type Config struct {
	// Root is the corpus root directory; each immediate subdirectory is
	// one corpus.
	Root string `yaml:"root"`

	Logging LoggingConfig `yaml:"logging"`
	Search  SearchConfig  `yaml:"search"`
	Cache   CacheConfig   `yaml:"cache"`
	Tuner   TunerConfig   `yaml:"tuner"`
	Trace   TraceConfig   `yaml:"trace"`
	Watcher WatcherConfig `yaml:"watcher"`
	Embed   EmbedConfig   `yaml:"embeddings"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// SearchConfig carries the caller-tunable subset of the scoring
// parameters; everything else keeps its calibrated default.
type SearchConfig struct {
	DefaultTimeMS        int     `yaml:"default_time_ms"`
	DefaultMaxCandidates int     `yaml:"default_max_candidates"`
	PerFileCap           int     `yaml:"per_file_cap"`
	ScanCeiling          int     `yaml:"scan_ceiling"`
	MaxIndexes           int     `yaml:"max_indexes"`
	ExplorationEnabled   *bool   `yaml:"exploration_enabled"`
	LateRerankEnabled    *bool   `yaml:"late_rerank_enabled"`
	DecomposeEnabled     *bool   `yaml:"decompose_enabled"`
	RRFK                 int     `yaml:"rrf_constant"`
	BlendAlpha           float64 `yaml:"blend_alpha"`
	NeighborLimit        int     `yaml:"neighbor_limit"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Enabled           *bool         `yaml:"enabled"`
	TTL               time.Duration `yaml:"ttl"`
	MaxKeep           int           `yaml:"max_keep"`
	SemanticThreshold float64       `yaml:"semantic_threshold"`
	MaxGaps           *int          `yaml:"max_gaps"`
	MaxConflicts      *int          `yaml:"max_conflicts"`
}

// TunerConfig configures the adaptive threshold tuner.
type TunerConfig struct {
	Enabled   *bool   `yaml:"enabled"`
	StatsPath string  `yaml:"stats_path"`
	BaseLow   int     `yaml:"base_low"`
	BaseBias  float64 `yaml:"base_bias"`
}

// TraceConfig bounds the trace store.
type TraceConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	MaxKeep int           `yaml:"max_keep"`
}

// WatcherConfig configures corpus change watching.
type WatcherConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// EmbedConfig selects the embedding provider for the semantic cache.
type EmbedConfig struct {
	// Provider is "none" or "static".
	Provider   string `yaml:"provider"`
	Dimensions int    `yaml:"dimensions"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Root: ".",
		Logging: LoggingConfig{
			Level: "info",
		},
		Search: SearchConfig{
			DefaultTimeMS:        4000,
			DefaultMaxCandidates: 8,
		},
		Cache: CacheConfig{
			TTL:               15 * time.Minute,
			MaxKeep:           64,
			SemanticThreshold: 0.93,
		},
		Tuner: TunerConfig{
			StatsPath: "stats/queries.jsonl",
			BaseLow:   3,
			BaseBias:  0.80,
		},
		Trace: TraceConfig{
			TTL:     30 * time.Minute,
			MaxKeep: 128,
		},
		Watcher: WatcherConfig{
			Debounce: 500 * time.Millisecond,
		},
		Embed: EmbedConfig{
			Provider:   "none",
			Dimensions: 64,
		},
	}
}

// Load reads the YAML file at path (missing file means defaults) and
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies DOCSIFT_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCSIFT_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("DOCSIFT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOCSIFT_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("DOCSIFT_STATS_PATH"); v != "" {
		c.Tuner.StatsPath = v
	}
	if v := os.Getenv("DOCSIFT_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.TTL = d
		}
	}
	if v := os.Getenv("DOCSIFT_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cache.Enabled = &b
		}
	}
	if v := os.Getenv("DOCSIFT_EMBED_PROVIDER"); v != "" {
		c.Embed.Provider = v
	}
	if v := os.Getenv("DOCSIFT_TIME_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.DefaultTimeMS = n
		}
	}
	if v := os.Getenv("DOCSIFT_MAX_CANDIDATES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.DefaultMaxCandidates = n
		}
	}
}

func (c *Config) validate() error {
	if c.Root == "" {
		return fmt.Errorf("root must not be empty")
	}
	if c.Search.DefaultTimeMS <= 0 {
		return fmt.Errorf("search.default_time_ms must be positive")
	}
	if c.Search.DefaultMaxCandidates <= 0 {
		return fmt.Errorf("search.default_max_candidates must be positive")
	}
	switch c.Embed.Provider {
	case "", "none", "static":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embed.Provider)
	}
	return nil
}

// CacheOn reports whether the result cache is enabled (the default).
func (c *Config) CacheOn() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// TunerOn reports whether the adaptive tuner is enabled (the default).
func (c *Config) TunerOn() bool {
	return c.Tuner.Enabled == nil || *c.Tuner.Enabled
}

// WatcherOn reports whether the corpus watcher is enabled (the default).
func (c *Config) WatcherOn() bool {
	return c.Watcher.Enabled == nil || *c.Watcher.Enabled
}
