package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReadRecent(t *testing.T) {
	sink := NewSink(filepath.Join(t.TempDir(), "stats", "queries.jsonl"))

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Append(QueryStat{
			TS:            time.Date(2026, 8, 1, 10, i, 0, 0, time.UTC),
			Query:         "q",
			Candidates:    i,
			ThresholdLow:  3,
			ThresholdBias: 0.80,
		}))
	}

	got, err := sink.ReadRecent(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[0].Candidates, "oldest of the recent window first")
	assert.Equal(t, 4, got[2].Candidates)

	all, err := sink.ReadRecent(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestReadRecent_MissingFile(t *testing.T) {
	sink := NewSink(filepath.Join(t.TempDir(), "absent.jsonl"))
	got, err := sink.ReadRecent(10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadRecent_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.jsonl")
	sink := NewSink(path)
	require.NoError(t, sink.Append(QueryStat{Query: "ok", Candidates: 1}))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, sink.Append(QueryStat{Query: "after", Candidates: 2}))

	got, err := sink.ReadRecent(0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ok", got[0].Query)
	assert.Equal(t, "after", got[1].Query)
}
