package lsmrepo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	engine "github.com/eventengine/eventengine"
	"github.com/eventengine/eventengine/repository/lsmrepo"
)

func open(t *testing.T) *lsmrepo.Repository {
	t.Helper()
	r, err := lsmrepo.Open(lsmrepo.Options{InMemory: true, PartitionCount: 8})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, r.Close()) })
	return r
}

func appendOne(t *testing.T, r *lsmrepo.Repository, s *engine.Stream, tenant engine.TenantId) engine.Event {
	t.Helper()
	s.ExpectVersion(s.CurrentVersion)
	evType, err := engine.NewEventType("order.created")
	require.NoError(t, err)
	ev := engine.NewEvent(evType, s.StreamID, tenant, map[string]any{"x": 1}, nil)
	_, err = r.AppendToStream(context.Background(), s, ev)
	require.NoError(t, err)
	return ev
}

func TestAppendAndLoadStream(t *testing.T) {
	ctx := context.Background()
	r := open(t)

	s, err := r.GetOrCreate(ctx, "order-1", "acme")
	require.NoError(t, err)
	appendOne(t, r, s, "acme")
	appendOne(t, r, s, "acme")

	loaded, err := r.LoadStream(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, loaded.Events, 2)
	require.True(t, loaded.IsGapless())
}

func TestVersionConflict(t *testing.T) {
	ctx := context.Background()
	r := open(t)
	s, err := r.GetOrCreate(ctx, "order-1", "acme")
	require.NoError(t, err)
	appendOne(t, r, s, "acme")

	stale, err := r.GetOrCreate(ctx, "order-1", "acme")
	require.NoError(t, err)
	stale.ExpectVersion(0)
	evType, _ := engine.NewEventType("order.updated")
	ev := engine.NewEvent(evType, "order-1", "acme", nil, nil)
	_, err = r.AppendToStream(ctx, stale, ev)
	require.Error(t, err)
}

func TestPartitionAndTenantIndexes(t *testing.T) {
	ctx := context.Background()
	r := open(t)
	s, err := r.GetOrCreate(ctx, "order-1", "acme")
	require.NoError(t, err)
	appendOne(t, r, s, "acme")

	byTenant, err := r.GetStreamsByTenant(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, byTenant, 1)

	byPartition, err := r.GetStreamsByPartition(ctx, s.PartitionKey)
	require.NoError(t, err)
	require.Len(t, byPartition, 1)

	count, err := r.CountStreams(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	bad, err := r.VerifyGapless(ctx)
	require.NoError(t, err)
	require.Empty(t, bad)
}

func TestLoadStreamNotFound(t *testing.T) {
	r := open(t)
	_, err := r.LoadStream(context.Background(), "missing")
	require.Error(t, err)
}
