// Package tuner derives the adaptive escalation thresholds from the
// per-query statistics log. Thresholds move slowly: a 24-hour hysteresis
// gates every nudge and a rollback guard resets to the configured bases
// when recent quality regresses.
package tuner

import (
	"log/slog"
	"time"

	"github.com/docsift/docsift/internal/escalate"
	"github.com/docsift/docsift/internal/telemetry"
)

// Config bounds the tuner.
type Config struct {
	// BaseLow and BaseBias are the configured base thresholds and the
	// rollback targets.
	BaseLow  int
	BaseBias float64

	// StepLow and StepBias are the fixed nudge increments.
	StepLow  int
	StepBias float64

	// Hysteresis is the minimum quiet period between threshold changes.
	Hysteresis time.Duration

	// CutoffWindow is how many recent entries the cutoff rate covers.
	CutoffWindow int
	// HighCutoffRate nudges thresholds down when exceeded.
	HighCutoffRate float64
	// LowCutoffRate nudges thresholds up when undercut.
	LowCutoffRate float64

	// RollbackWindow is the size of each of the two comparison windows.
	RollbackWindow int
	// MaxRecallDrop triggers a rollback when the recall proxy drops more
	// than this between windows.
	MaxRecallDrop float64
	// MaxCutoffWorsen triggers a rollback when the cutoff rate worsens
	// more than this between windows.
	MaxCutoffWorsen float64
	// MinRecall triggers a rollback when the recent recall proxy falls
	// below it.
	MinRecall float64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		BaseLow:         3,
		BaseBias:        0.80,
		StepLow:         1,
		StepBias:        0.05,
		Hysteresis:      24 * time.Hour,
		CutoffWindow:    220,
		HighCutoffRate:  0.20,
		LowCutoffRate:   0.05,
		RollbackWindow:  100,
		MaxRecallDrop:   0.03,
		MaxCutoffWorsen: 0.05,
		MinRecall:       0.30,
	}
}

// Threshold clamps.
const (
	minLow  = 2
	maxLow  = 6
	minBias = 0.70
	maxBias = 0.90
)

// Tuner evaluates the update rule once per call.
type Tuner struct {
	sink   *telemetry.Sink
	cfg    Config
	logger *slog.Logger

	now func() time.Time
}

// New creates a tuner over the stats sink.
func New(sink *telemetry.Sink, cfg Config) *Tuner {
	return &Tuner{sink: sink, cfg: cfg, logger: slog.Default(), now: time.Now}
}

// Thresholds derives the current escalation thresholds. Any read failure
// falls back to the configured bases: the tuner never fails a query.
func (t *Tuner) Thresholds() escalate.Thresholds {
	base := clamp(escalate.Thresholds{LowCandidates: t.cfg.BaseLow, FileBias: t.cfg.BaseBias})

	stats, err := t.sink.ReadRecent(t.cfg.CutoffWindow + 2*t.cfg.RollbackWindow)
	if err != nil {
		t.logger.Warn("stats_read_failed", slog.Any("error", err))
		return base
	}
	if len(stats) == 0 {
		return base
	}

	// Start from the last logged pair.
	last := stats[len(stats)-1]
	current := escalate.Thresholds{LowCandidates: last.ThresholdLow, FileBias: last.ThresholdBias}
	if current.LowCandidates == 0 && current.FileBias == 0 {
		current = base
	}
	current = clamp(current)

	if t.changedWithinHysteresis(stats) {
		return current
	}

	next := current
	if rate := cutoffRate(tail(stats, t.cfg.CutoffWindow)); rate > t.cfg.HighCutoffRate {
		next.LowCandidates -= t.cfg.StepLow
		next.FileBias -= t.cfg.StepBias
	} else if rate < t.cfg.LowCutoffRate {
		next.LowCandidates += t.cfg.StepLow
		next.FileBias += t.cfg.StepBias
	}
	next = clamp(next)

	if t.shouldRollback(stats) {
		t.logger.Info("thresholds_rollback",
			slog.Int("base_low", base.LowCandidates),
			slog.Float64("base_bias", base.FileBias))
		return base
	}
	if next != current {
		t.logger.Info("thresholds_nudged",
			slog.Int("low", next.LowCandidates),
			slog.Float64("bias", next.FileBias))
	}
	return next
}

// changedWithinHysteresis reports whether the logged threshold pair took
// more than one distinct value inside the hysteresis window.
func (t *Tuner) changedWithinHysteresis(stats []telemetry.QueryStat) bool {
	horizon := t.now().Add(-t.cfg.Hysteresis)
	type pair struct {
		low  int
		bias float64
	}
	seen := map[pair]bool{}
	for _, s := range stats {
		if s.TS.Before(horizon) {
			continue
		}
		seen[pair{low: s.ThresholdLow, bias: s.ThresholdBias}] = true
		if len(seen) > 1 {
			return true
		}
	}
	return false
}

// shouldRollback compares the two most recent contiguous windows.
func (t *Tuner) shouldRollback(stats []telemetry.QueryStat) bool {
	w := t.cfg.RollbackWindow
	if w <= 0 || len(stats) < 2*w {
		return false
	}
	recent := stats[len(stats)-w:]
	prev := stats[len(stats)-2*w : len(stats)-w]

	recentRecall, prevRecall := recallProxy(recent), recallProxy(prev)
	if prevRecall-recentRecall > t.cfg.MaxRecallDrop {
		return true
	}
	if cutoffRate(recent)-cutoffRate(prev) > t.cfg.MaxCutoffWorsen {
		return true
	}
	return recentRecall < t.cfg.MinRecall
}

// recallProxy is the fraction of entries that produced something (nonzero
// candidates or added evidence) without being cut off.
func recallProxy(stats []telemetry.QueryStat) float64 {
	if len(stats) == 0 {
		return 0
	}
	good := 0
	for _, s := range stats {
		if (s.Candidates > 0 || s.AddedEvidence > 0) && s.CutoffReason == "" {
			good++
		}
	}
	return float64(good) / float64(len(stats))
}

func cutoffRate(stats []telemetry.QueryStat) float64 {
	if len(stats) == 0 {
		return 0
	}
	cut := 0
	for _, s := range stats {
		if s.CutoffReason != "" {
			cut++
		}
	}
	return float64(cut) / float64(len(stats))
}

func tail(stats []telemetry.QueryStat, n int) []telemetry.QueryStat {
	if n > 0 && len(stats) > n {
		return stats[len(stats)-n:]
	}
	return stats
}

func clamp(th escalate.Thresholds) escalate.Thresholds {
	if th.LowCandidates < minLow {
		th.LowCandidates = minLow
	}
	if th.LowCandidates > maxLow {
		th.LowCandidates = maxLow
	}
	if th.FileBias < minBias {
		th.FileBias = minBias
	}
	if th.FileBias > maxBias {
		th.FileBias = maxBias
	}
	return th
}
