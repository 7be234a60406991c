// Package telemetry appends per-query statistics to a newline-delimited
// JSON log. The adaptive threshold tuner and the offline evaluation
// harness both consume it.
package telemetry

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// QueryStat is one logged query outcome.
type QueryStat struct {
	TS            time.Time `json:"ts"`
	Query         string    `json:"query"`
	Candidates    int       `json:"candidates"`
	AddedEvidence int       `json:"added_evidence"`
	CutoffReason  string    `json:"cutoff_reason,omitempty"`
	ThresholdLow  int       `json:"threshold_low"`
	ThresholdBias float64   `json:"threshold_bias"`
	LatencyMS     int64     `json:"latency_ms"`
	CacheMode     string    `json:"cache_mode,omitempty"`
	Expanded      bool      `json:"expanded,omitempty"`
}

// Sink is the append-only stats writer. Appends are serialized with a
// process-level mutex plus a cross-process file lock so concurrent
// instances never interleave partial lines.
type Sink struct {
	path   string
	mu     sync.Mutex
	flock  *flock.Flock
	logger *slog.Logger
}

// NewSink creates a sink writing to path; parent directories are created
// on first append.
func NewSink(path string) *Sink {
	return &Sink{
		path:   path,
		flock:  flock.New(path + ".lock"),
		logger: slog.Default(),
	}
}

// Path returns the log file path.
func (s *Sink) Path() string { return s.path }

// Append writes one stat line. Failures are reported but a caller may
// treat them as non-fatal: losing a stats line never fails a query.
func (s *Sink) Append(stat QueryStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := s.flock.Lock(); err != nil {
		return err
	}
	defer func() {
		if err := s.flock.Unlock(); err != nil {
			s.logger.Warn("stats_unlock_failed", slog.Any("error", err))
		}
	}()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	return enc.Encode(stat)
}

// ReadRecent returns up to n most recent stats, oldest first. Corrupt
// lines are skipped, never fatal.
func (s *Sink) ReadRecent(n int) ([]QueryStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flock.RLock(); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.flock.Unlock(); err != nil {
			s.logger.Warn("stats_unlock_failed", slog.Any("error", err))
		}
	}()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var stats []QueryStat
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var stat QueryStat
		if err := json.Unmarshal(sc.Bytes(), &stat); err != nil {
			continue
		}
		stats = append(stats, stat)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(stats) > n {
		stats = stats[len(stats)-n:]
	}
	return stats, nil
}
