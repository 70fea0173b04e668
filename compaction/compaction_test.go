package compaction_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eventengine/eventengine/columnar"
	"github.com/eventengine/eventengine/compaction"
)

func flushBatch(t *testing.T, store *columnar.Store, n, startVersion int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, store.Append(columnar.Record{
			EventID:   "e",
			EventType: "t",
			EntityID:  "entity-1",
			Payload:   json.RawMessage(`{}`),
			Timestamp: int64(startVersion + i),
			Version:   uint64(startVersion + i),
		}))
	}
	require.NoError(t, store.Flush())
}

func TestCompactionPreservesEventsAndReducesFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := columnar.New(columnar.Options{Dir: dir, BatchSize: 1000})
	require.NoError(t, err)

	flushBatch(t, store, 2, 0)
	flushBatch(t, store, 2, 10)
	flushBatch(t, store, 2, 20)

	before, err := columnar.ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, before, 3)

	c := compaction.New(compaction.Options{
		Dir:                dir,
		MinFilesToCompact:  2,
		SmallFileThreshold: 1 << 20,
		TargetFileSize:     1 << 20,
		MaxFileSize:        1 << 20,
	})

	stats, err := c.Compact(compaction.StrategySize, time.Now())
	require.NoError(t, err)
	require.Equal(t, 3, stats.FilesBefore)
	require.Equal(t, 6, stats.EventsMoved)

	after, err := columnar.ListFiles(dir)
	require.NoError(t, err)
	require.Less(t, len(after), len(before))

	var all []columnar.Record
	for _, f := range after {
		recs, err := columnar.ReadFile(f)
		require.NoError(t, err)
		all = append(all, recs...)
	}
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		require.LessOrEqual(t, all[i-1].Timestamp, all[i].Timestamp)
	}
}

func TestCompactionIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := columnar.New(columnar.Options{Dir: dir, BatchSize: 1000})
	require.NoError(t, err)
	flushBatch(t, store, 3, 0)
	flushBatch(t, store, 3, 100)

	c := compaction.New(compaction.Options{
		Dir:                dir,
		MinFilesToCompact:  1,
		SmallFileThreshold: 1 << 20,
		TargetFileSize:     1 << 20,
		MaxFileSize:        1 << 20,
	})

	_, err = c.Compact(compaction.StrategyFull, time.Now())
	require.NoError(t, err)
	firstPass, err := columnar.ListFiles(dir)
	require.NoError(t, err)

	var firstEvents []columnar.Record
	for _, f := range firstPass {
		recs, err := columnar.ReadFile(f)
		require.NoError(t, err)
		firstEvents = append(firstEvents, recs...)
	}

	_, err = c.Compact(compaction.StrategyFull, time.Now())
	require.NoError(t, err)
	secondPass, err := columnar.ListFiles(dir)
	require.NoError(t, err)

	var secondEvents []columnar.Record
	for _, f := range secondPass {
		recs, err := columnar.ReadFile(f)
		require.NoError(t, err)
		secondEvents = append(secondEvents, recs...)
	}

	require.Equal(t, len(firstEvents), len(secondEvents))
}
