package columnar_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventengine/eventengine/columnar"
)

func rec(id string, ts int64, version uint64) columnar.Record {
	return columnar.Record{
		EventID:   id,
		EventType: "score.updated",
		EntityID:  "user-1",
		Payload:   json.RawMessage(`{"score":1}`),
		Timestamp: ts,
		Version:   version,
	}
}

func TestFlushAndLoadAll(t *testing.T) {
	dir := t.TempDir()
	s, err := columnar.New(columnar.Options{Dir: dir, BatchSize: 3})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(rec("e"+string(rune('0'+i)), int64(i), uint64(i+1))))
	}
	// 5 appended with batch size 3: one auto-flush at 3, 2 remain pending.
	require.NoError(t, s.Flush())

	recs, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, recs, 5)
	for i, r := range recs {
		require.Equal(t, uint64(i+1), r.Version)
	}
}

func TestFileStatsSkip(t *testing.T) {
	dir := t.TempDir()
	s, err := columnar.New(columnar.Options{Dir: dir, BatchSize: 1000})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(rec("e", int64(i*1000), uint64(i+1))))
	}
	require.NoError(t, s.Flush())

	files, err := columnar.ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	count, minTS, maxTS, _, _, err := columnar.FileStats(files[0])
	require.NoError(t, err)
	require.Equal(t, 10, count)
	require.EqualValues(t, 0, minTS)
	require.EqualValues(t, 9000, maxTS)
}

func TestCorruptFileAbortsLoad(t *testing.T) {
	dir := t.TempDir()
	s, err := columnar.New(columnar.Options{Dir: dir, BatchSize: 10})
	require.NoError(t, err)
	require.NoError(t, s.Append(rec("e", 0, 1)))
	require.NoError(t, s.Flush())

	files, err := columnar.ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	_, err = columnar.ReadFile(files[0] + ".does-not-exist")
	require.Error(t, err)
}
