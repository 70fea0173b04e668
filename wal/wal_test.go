package wal_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventengine/eventengine/wal"
)

type payload struct {
	N int `json:"n"`
}

func marshal(t *testing.T, n int) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(payload{N: n})
	require.NoError(t, err)
	return b
}

func TestAppendRecoverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l, err := wal.Open(wal.Options{Dir: dir, SyncOnWrite: true})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		seq, err := l.Append(marshal(t, i))
		require.NoError(t, err)
		require.EqualValues(t, i, seq)
	}
	require.NoError(t, l.Close())

	l2, err := wal.Open(wal.Options{Dir: dir})
	require.NoError(t, err)
	recs, dropped, err := l2.Recover()
	require.NoError(t, err)
	require.Zero(t, dropped)
	require.Len(t, recs, 5)
	for i, r := range recs {
		var p payload
		require.NoError(t, json.Unmarshal(r.Payload, &p))
		require.Equal(t, i+1, p.N)
	}
}

func TestIdempotentReplay(t *testing.T) {
	dir := t.TempDir()
	l, err := wal.Open(wal.Options{Dir: dir, SyncOnWrite: true})
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err := l.Append(marshal(t, i))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	l1, err := wal.Open(wal.Options{Dir: dir})
	require.NoError(t, err)
	recs1, _, err := l1.Recover()
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := wal.Open(wal.Options{Dir: dir})
	require.NoError(t, err)
	recs2, _, err := l2.Recover()
	require.NoError(t, err)

	require.Equal(t, len(recs1), len(recs2))
	for i := range recs1 {
		require.Equal(t, string(recs1[i].Payload), string(recs2[i].Payload))
	}
}

func TestChecksumRejection(t *testing.T) {
	dir := t.TempDir()
	l, err := wal.Open(wal.Options{Dir: dir, SyncOnWrite: true})
	require.NoError(t, err)
	_, err = l.Append(marshal(t, 1))
	require.NoError(t, err)
	_, err = l.Append(marshal(t, 2))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	segments, err := filepath.Glob(filepath.Join(dir, "wal-*.log"))
	require.NoError(t, err)
	require.Len(t, segments, 1)

	data, err := os.ReadFile(segments[0])
	require.NoError(t, err)
	// Change the first '1' byte in the file (the first record's sequence
	// number) without touching the newline, simulating a corrupted middle
	// record.
	corrupted := append([]byte(nil), data...)
	for i, b := range corrupted {
		if b == '1' {
			corrupted[i] = '9'
			break
		}
	}
	require.NoError(t, os.WriteFile(segments[0], corrupted, 0o644))

	l2, err := wal.Open(wal.Options{Dir: dir})
	require.NoError(t, err)
	recs, dropped, err := l2.Recover()
	require.NoError(t, err)
	require.Equal(t, 1, dropped)
	require.Len(t, recs, 1)
}

func TestRotationAndPruning(t *testing.T) {
	dir := t.TempDir()
	l, err := wal.Open(wal.Options{Dir: dir, SyncOnWrite: true, MaxFileSize: 1, MaxWALFiles: 2})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err := l.Append(marshal(t, i))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	segments, err := filepath.Glob(filepath.Join(dir, "wal-*.log"))
	require.NoError(t, err)
	require.LessOrEqual(t, len(segments), 2)
}

func TestTruncateResetsSequence(t *testing.T) {
	dir := t.TempDir()
	l, err := wal.Open(wal.Options{Dir: dir, SyncOnWrite: true})
	require.NoError(t, err)
	_, err = l.Append(marshal(t, 1))
	require.NoError(t, err)
	require.NoError(t, l.Truncate())

	seq, err := l.Append(marshal(t, 2))
	require.NoError(t, err)
	require.EqualValues(t, 1, seq)
	require.NoError(t, l.Close())
}
