// Package memrepo is an in-memory engine.Repository, generalizing a
// map-of-slices append-only store keyed by string id into the engine's
// partition- and tenant-indexed stream model. Suitable for tests,
// prototypes, and single-process local runs: state is lost on restart.
package memrepo

import (
	"context"
	"sort"
	"sync"

	engine "github.com/eventengine/eventengine"
)

// Repository is a sync.RWMutex-guarded in-memory engine.Repository. The
// lock is coarse — one mutex for the whole repository — which is
// acceptable at the scale an in-memory backend targets.
type Repository struct {
	mu             sync.RWMutex
	streams        map[engine.EntityId]*engine.Stream
	partitionCount uint32
}

// New returns an empty Repository. partitionCount must match the value the
// store.Store façade uses to derive PartitionKey, so streams created here
// land in the same partition a repository restart would recompute.
func New(partitionCount uint32) *Repository {
	return &Repository{
		streams:        make(map[engine.EntityId]*engine.Stream),
		partitionCount: partitionCount,
	}
}

// GetOrCreate returns the existing stream for streamID, or creates and
// stores an empty one at version 0.
func (r *Repository) GetOrCreate(ctx context.Context, streamID engine.EntityId, tenantID engine.TenantId) (*engine.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.streams[streamID]; ok {
		return s, nil
	}
	s := engine.NewStream(streamID, tenantID, r.partitionCount)
	r.streams[streamID] = s
	return s, nil
}

// AppendToStream re-validates the expected version against the durable
// stream, appends the event, and returns the assigned version. stream is
// used only to read ExpectedVersion; the durable copy held by the
// repository is the one actually mutated, so two callers holding distinct
// *Stream values for the same id still serialize correctly.
func (r *Repository) AppendToStream(ctx context.Context, stream *engine.Stream, event engine.Event) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	durable, ok := r.streams[stream.StreamID]
	if !ok {
		durable = engine.NewStream(stream.StreamID, stream.TenantID, r.partitionCount)
		r.streams[stream.StreamID] = durable
	}
	durable.ExpectedVersion = stream.ExpectedVersion
	version, err := durable.Append(event)
	if err != nil {
		return 0, err
	}
	*stream = *durable
	return version, nil
}

// LoadStream returns the durable stream for streamID, verifying
// gaplessness before returning.
func (r *Repository) LoadStream(ctx context.Context, streamID engine.EntityId) (*engine.Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.streams[streamID]
	if !ok {
		return nil, &engine.EntityNotFoundError{StreamID: string(streamID)}
	}
	if !s.IsGapless() {
		return nil, &engine.StorageError{Op: "LoadStream", Err: &engine.ValidationError{Field: "version", Reason: "gap detected in stream " + string(streamID)}}
	}
	cp := *s
	cp.Events = append([]engine.Event(nil), s.Events...)
	return &cp, nil
}

// GetStreamsByPartition returns every stream assigned to pk.
func (r *Repository) GetStreamsByPartition(ctx context.Context, pk engine.PartitionKey) ([]*engine.Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*engine.Stream
	for _, s := range r.streams {
		if s.PartitionKey == pk {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out, nil
}

// GetStreamsByTenant returns every stream owned by tenantID.
func (r *Repository) GetStreamsByTenant(ctx context.Context, tenantID engine.TenantId) ([]*engine.Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*engine.Stream
	for _, s := range r.streams {
		if s.TenantID == tenantID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out, nil
}

// CountStreams returns the total number of streams held.
func (r *Repository) CountStreams(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.streams)), nil
}

// PartitionStats aggregates stream and event counts per partition.
func (r *Repository) PartitionStats(ctx context.Context) (map[engine.PartitionKey]engine.PartitionStat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[engine.PartitionKey]engine.PartitionStat)
	for _, s := range r.streams {
		stat := out[s.PartitionKey]
		stat.StreamCount++
		stat.EventCount += s.CurrentVersion
		out[s.PartitionKey] = stat
	}
	return out, nil
}

// VerifyGapless returns the ids of any stream whose version sequence is
// not exactly 1..N.
func (r *Repository) VerifyGapless(ctx context.Context) ([]engine.EntityId, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bad := make([]engine.EntityId, 0)
	for id, s := range r.streams {
		if !s.IsGapless() {
			bad = append(bad, id)
		}
	}
	sort.Slice(bad, func(i, j int) bool { return bad[i] < bad[j] })
	return bad, nil
}

// Close is a no-op: the repository holds no resources beyond process memory.
func (r *Repository) Close() error { return nil }

var _ engine.Repository = (*Repository)(nil)
