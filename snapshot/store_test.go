package snapshot_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	engine "github.com/eventengine/eventengine"
	"github.com/eventengine/eventengine/snapshot"
)

func TestSaveAndLatest(t *testing.T) {
	ctx := context.Background()
	s, err := snapshot.New(snapshot.Options{Dir: t.TempDir(), MaxSnapshotsPerEntity: 5})
	require.NoError(t, err)

	entity := engine.EntityId("order-1")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err = s.Save(ctx, entity, []byte(`{"v":1}`), base, 5, engine.SnapshotAutomatic)
	require.NoError(t, err)
	_, err = s.Save(ctx, entity, []byte(`{"v":2}`), base.Add(time.Hour), 10, engine.SnapshotAutomatic)
	require.NoError(t, err)

	latest, found, err := s.Latest(ctx, entity, time.Time{})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(10), latest.EventCount)
	require.JSONEq(t, `{"v":2}`, string(latest.State))

	asOfFirst, found, err := s.Latest(ctx, entity, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(5), asOfFirst.EventCount)
}

func TestLatestMissingEntity(t *testing.T) {
	ctx := context.Background()
	s, err := snapshot.New(snapshot.Options{Dir: t.TempDir()})
	require.NoError(t, err)

	_, found, err := s.Latest(ctx, engine.EntityId("nope"), time.Time{})
	require.NoError(t, err)
	require.False(t, found)
}

func TestRetentionPrunesOldest(t *testing.T) {
	ctx := context.Background()
	s, err := snapshot.New(snapshot.Options{Dir: t.TempDir(), MaxSnapshotsPerEntity: 2})
	require.NoError(t, err)

	entity := engine.EntityId("order-2")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.Save(ctx, entity, []byte(`{}`), base.Add(time.Duration(i)*time.Hour), int64(i+1), engine.SnapshotAutomatic)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	latest, found, err := s.Latest(ctx, entity, time.Time{})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(5), latest.EventCount)

	// Only 2 should survive; the oldest 3 must be gone, so asking as-of the
	// very first snapshot's timestamp should no longer resolve to it.
	_, found, err = s.Latest(ctx, entity, base)
	require.NoError(t, err)
	require.False(t, found)
}

func TestShouldSnapshotPolicy(t *testing.T) {
	s, err := snapshot.New(snapshot.Options{
		Dir:            t.TempDir(),
		EventThreshold: 100,
		TimeThreshold:  time.Hour,
	})
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.True(t, s.ShouldSnapshot(engine.Snapshot{}, false, 1, now))
	require.False(t, s.ShouldSnapshot(engine.Snapshot{}, false, 0, now))

	last := engine.Snapshot{EventCount: 10, AsOf: now.Add(-10 * time.Minute)}
	require.False(t, s.ShouldSnapshot(last, true, 50, now))  // under both thresholds
	require.True(t, s.ShouldSnapshot(last, true, 111, now))  // event threshold crossed
	require.True(t, s.ShouldSnapshot(last, true, 11, now.Add(2*time.Hour))) // time threshold crossed, new events exist
	require.False(t, s.ShouldSnapshot(last, true, 10, now.Add(2*time.Hour))) // time threshold crossed, but no new events
}
