// Package enginetest is a backend-agnostic compliance suite for
// engine.Repository implementations, covering the engine's
// partition/tenant-indexed stream model. Every concrete
// repository (memrepo, lsmrepo, pgrepo) is expected to pass Run unchanged.
package enginetest

import (
	"errors"
	"testing"

	engine "github.com/eventengine/eventengine"
)

// Factory creates a fresh, isolated Repository instance for one subtest.
// Use t.Cleanup for teardown.
type Factory func(t *testing.T) engine.Repository

func mustEventType(t *testing.T, s string) engine.EventType {
	t.Helper()
	et, err := engine.NewEventType(s)
	if err != nil {
		t.Fatalf("invalid event type %q: %v", s, err)
	}
	return et
}

// Run executes the compliance suite against newRepo. Subtests run in
// parallel, so implementations must be concurrency-safe.
func Run(t *testing.T, newRepo Factory) {
	t.Run("append/load/version", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		r := newRepo(t)

		streamID := engine.EntityId("stream-1")
		s, err := r.GetOrCreate(ctx, streamID, "tenant-a")
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}

		s.ExpectVersion(0)
		ev1 := engine.NewEvent(mustEventType(t, "thing.opened"), streamID, "tenant-a", map[string]any{"id": "1"}, nil)
		v, err := r.AppendToStream(ctx, s, ev1)
		if err != nil {
			t.Fatalf("append 1 failed: %v", err)
		}
		if v != 1 {
			t.Fatalf("expected version 1, got %d", v)
		}

		s.ExpectVersion(1)
		ev2 := engine.NewEvent(mustEventType(t, "thing.added"), streamID, "tenant-a", map[string]any{"n": 5}, nil)
		v, err = r.AppendToStream(ctx, s, ev2)
		if err != nil {
			t.Fatalf("append 2 failed: %v", err)
		}
		if v != 2 {
			t.Fatalf("expected version 2, got %d", v)
		}

		loaded, err := r.LoadStream(ctx, streamID)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if len(loaded.Events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(loaded.Events))
		}
		if !loaded.IsGapless() {
			t.Fatalf("expected gapless stream")
		}
	})

	t.Run("version conflict", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		r := newRepo(t)
		streamID := engine.EntityId("stream-2")

		s, err := r.GetOrCreate(ctx, streamID, "tenant-a")
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		s.ExpectVersion(0)
		ev1 := engine.NewEvent(mustEventType(t, "thing.opened"), streamID, "tenant-a", nil, nil)
		if _, err := r.AppendToStream(ctx, s, ev1); err != nil {
			t.Fatalf("append failed: %v", err)
		}

		stale, err := r.GetOrCreate(ctx, streamID, "tenant-a")
		if err != nil {
			t.Fatalf("GetOrCreate (stale) failed: %v", err)
		}
		stale.ExpectVersion(0)
		ev2 := engine.NewEvent(mustEventType(t, "thing.added"), streamID, "tenant-a", nil, nil)
		_, err = r.AppendToStream(ctx, stale, ev2)

		var vc *engine.VersionConflictError
		if !errors.As(err, &vc) {
			t.Fatalf("expected VersionConflictError, got %v", err)
		}
	})

	t.Run("entity not found", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		r := newRepo(t)

		_, err := r.LoadStream(ctx, "does-not-exist")
		var nf *engine.EntityNotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("expected EntityNotFoundError, got %v", err)
		}
	})

	t.Run("get or create is idempotent", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		r := newRepo(t)

		s1, err := r.GetOrCreate(ctx, "stream-3", "tenant-a")
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		s2, err := r.GetOrCreate(ctx, "stream-3", "tenant-a")
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		if s1.StreamID != s2.StreamID {
			t.Fatalf("expected same stream id, got %s and %s", s1.StreamID, s2.StreamID)
		}
	})

	t.Run("partition and tenant indexes and gapless verification", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		r := newRepo(t)

		streamID := engine.EntityId("stream-4")
		s, err := r.GetOrCreate(ctx, streamID, "tenant-b")
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		s.ExpectVersion(0)
		ev := engine.NewEvent(mustEventType(t, "thing.opened"), streamID, "tenant-b", nil, nil)
		if _, err := r.AppendToStream(ctx, s, ev); err != nil {
			t.Fatalf("append failed: %v", err)
		}

		byTenant, err := r.GetStreamsByTenant(ctx, "tenant-b")
		if err != nil {
			t.Fatalf("GetStreamsByTenant failed: %v", err)
		}
		if len(byTenant) != 1 {
			t.Fatalf("expected 1 stream for tenant-b, got %d", len(byTenant))
		}

		byPartition, err := r.GetStreamsByPartition(ctx, s.PartitionKey)
		if err != nil {
			t.Fatalf("GetStreamsByPartition failed: %v", err)
		}
		found := false
		for _, st := range byPartition {
			if st.StreamID == streamID {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected stream-4 in partition %d", s.PartitionKey)
		}

		bad, err := r.VerifyGapless(ctx)
		if err != nil {
			t.Fatalf("VerifyGapless failed: %v", err)
		}
		if len(bad) != 0 {
			t.Fatalf("expected no gapless violations, got %v", bad)
		}
	})
}
