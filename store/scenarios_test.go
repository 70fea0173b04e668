package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	engine "github.com/eventengine/eventengine"
	"github.com/eventengine/eventengine/config"
	"github.com/eventengine/eventengine/repository/memrepo"
	st "github.com/eventengine/eventengine/store"
	"github.com/eventengine/eventengine/tenant"
)

type scoreState struct {
	Score int `json:"score"`
}

func scoreReducer(prior []byte, e engine.Event) ([]byte, error) {
	var s scoreState
	if len(prior) > 0 {
		if err := json.Unmarshal(prior, &s); err != nil {
			return nil, err
		}
	}
	if v, ok := e.Payload.(map[string]any)["score"].(float64); ok {
		s.Score = int(v)
	}
	return json.Marshal(s)
}

func newScenarioStore(t *testing.T, cfgFn func(*config.Config)) *st.Store {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Compaction.AutoCompact = false
	if cfgFn != nil {
		cfgFn(&cfg)
	}
	repo := memrepo.New(cfg.PartitionCount)
	s, err := st.New(cfg, repo, st.WithReducer(scoreReducer))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Tenants().Create(context.Background(), tenant.New("acme", "Acme Corp", tenant.Quotas{})))
	return s
}

// Scenario A — full lifecycle: ingest N events, query returns all of them,
// and the reconstructed state reflects the last one folded.
func TestScenarioA_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newScenarioStore(t, nil)
	evType, err := engine.NewEventType("score.updated")
	require.NoError(t, err)

	const n = 100
	for i := 0; i < n; i++ {
		_, err := s.Ingest(ctx, "user-1", "acme", evType, map[string]any{"score": float64(i * 10)}, nil, nil)
		require.NoError(t, err)
	}

	events, err := s.Query(ctx, "acme", st.QueryParams{EntityID: "user-1"})
	require.NoError(t, err)
	require.Len(t, events, n)

	state, version, err := s.ReconstructState(ctx, "user-1", time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(n), version)

	var final scoreState
	require.NoError(t, json.Unmarshal(state, &final))
	require.Equal(t, 990, final.Score)
}

// Scenario B — crash recovery: with the WAL enabled and columnar flush
// irrelevant to the outcome, ingest events, then open a brand-new Store
// over a brand-new (empty) repository pointed at the same directories —
// standing in for a process restart against a volatile backend — and
// recover. The query surface must see every acknowledged event.
func TestScenarioB_CrashRecovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Compaction.AutoCompact = false

	evType, err := engine.NewEventType("login.attempt")
	require.NoError(t, err)

	func() {
		repo := memrepo.New(cfg.PartitionCount)
		s, err := st.New(cfg, repo)
		require.NoError(t, err)
		defer s.Close()
		require.NoError(t, s.Tenants().Create(ctx, tenant.New("acme", "Acme Corp", tenant.Quotas{})))

		for i := 0; i < 30; i++ {
			_, err := s.Ingest(ctx, "user-2", "acme", evType, map[string]any{"attempt": i}, nil, nil)
			require.NoError(t, err)
		}
		// No explicit close beyond the deferred Close: the WAL segment is
		// what a real crash would leave behind intact (fsync already ran
		// per-Append), simulating the process dying before a graceful
		// shutdown flushes anything else.
	}()

	// "Restart": a fresh repository (memrepo holds nothing across
	// restarts) reopened against the same WAL/columnar/snapshot/audit
	// directories.
	repo2 := memrepo.New(cfg.PartitionCount)
	s2, err := st.New(cfg, repo2)
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.Tenants().Create(ctx, tenant.New("acme", "Acme Corp", tenant.Quotas{})))

	rs, err := s2.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 30, rs.Replayed)
	require.Equal(t, 0, rs.DroppedRecords)

	events, err := s2.Query(ctx, "acme", st.QueryParams{EntityID: "user-2"})
	require.NoError(t, err)
	require.Len(t, events, 30)
	for i, e := range events {
		require.Equal(t, int64(i+1), e.Version)
	}

	// Recovering a second time against the same WAL must not duplicate
	// anything: every record is already durable in repo2.
	rs2, err := s2.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rs2.Replayed)
	require.Equal(t, 30, rs2.AlreadyDurable)
}

// Scenario C — optimistic concurrency: two writers race on the same
// expected version; exactly one wins, the stream stays gapless.
func TestScenarioC_OptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	s := newScenarioStore(t, nil)
	evType, err := engine.NewEventType("score.updated")
	require.NoError(t, err)

	for v := int64(0); v < 5; v++ {
		expected := v
		_, err := s.Ingest(ctx, "user-1", "acme", evType, map[string]any{"score": float64(v)}, nil, &expected)
		require.NoError(t, err)
	}

	five := int64(5)
	_, err1 := s.Ingest(ctx, "user-1", "acme", evType, map[string]any{"score": 100.0}, nil, &five)
	_, err2 := s.Ingest(ctx, "user-1", "acme", evType, map[string]any{"score": 200.0}, nil, &five)

	successes := 0
	conflicts := 0
	for _, err := range []error{err1, err2} {
		switch {
		case err == nil:
			successes++
		default:
			var vce *engine.VersionConflictError
			require.ErrorAs(t, err, &vce)
			conflicts++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, conflicts)

	events, err := s.Query(ctx, "acme", st.QueryParams{EntityID: "user-1"})
	require.NoError(t, err)
	for i, e := range events {
		require.Equal(t, int64(i+1), e.Version)
	}
}

// Scenario D — time travel: reconstructing as-of a midpoint timestamp
// folds only the events up to that point.
func TestScenarioD_TimeTravel(t *testing.T) {
	ctx := context.Background()
	s := newScenarioStore(t, nil)
	evType, err := engine.NewEventType("score.updated")
	require.NoError(t, err)

	var timestamps []time.Time
	for i := 0; i < 10; i++ {
		e, err := s.Ingest(ctx, "user-1", "acme", evType, map[string]any{"score": float64(i)}, nil, nil)
		require.NoError(t, err)
		timestamps = append(timestamps, e.Timestamp)
		time.Sleep(time.Millisecond)
	}

	_, version, err := s.ReconstructState(ctx, "user-1", timestamps[4])
	require.NoError(t, err)
	require.Equal(t, int64(5), version)

	_, version, err = s.ReconstructState(ctx, "user-1", time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(10), version)
}

// Scenario E — snapshot optimization: with automatic snapshots every 10
// events, reconstruction after 110 ingests still reaches version 110. The
// test checks the resulting version only; it does not count how many
// events were folded.
func TestScenarioE_SnapshotOptimization(t *testing.T) {
	ctx := context.Background()
	s := newScenarioStore(t, func(c *config.Config) {
		c.Snapshots.EventThreshold = 10
		c.Snapshots.AutoSnapshot = true
	})
	evType, err := engine.NewEventType("score.updated")
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, err := s.Ingest(ctx, "heavy-entity", "acme", evType, map[string]any{"score": float64(i)}, nil, nil)
		require.NoError(t, err)
	}

	for i := 0; i < 10; i++ {
		_, err := s.Ingest(ctx, "heavy-entity", "acme", evType, map[string]any{"score": float64(100 + i)}, nil, nil)
		require.NoError(t, err)
	}

	_, version, err := s.ReconstructState(ctx, "heavy-entity", time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(110), version)
}

func TestQueryIsolatesEntitiesWithinOneTenant(t *testing.T) {
	ctx := context.Background()
	s := newScenarioStore(t, nil)
	evType, err := engine.NewEventType("score.updated")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.Ingest(ctx, fmt.Sprintf("user-%d", i), "acme", evType, map[string]any{"score": float64(i)}, nil, nil)
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		events, err := s.Query(ctx, "acme", st.QueryParams{EntityID: engine.EntityId(fmt.Sprintf("user-%d", i))})
		require.NoError(t, err)
		require.Len(t, events, 1)
	}
}
