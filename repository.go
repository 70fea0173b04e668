package engine

import "context"

// Repository is the single durable-ordering authority for streams. It
// generalizes a single-aggregate EventStore interface into the engine's
// entity/partition/tenant-indexed stream model. Concrete realizations —
// repository/memrepo,
// repository/lsmrepo, repository/pgrepo — must satisfy this contract
// identically: two concurrent GetOrCreate callers for the same stream id
// observe one stream, and a successful AppendToStream durably proves
// gaplessness before returning.
type Repository interface {
	// GetOrCreate atomically returns the stream for streamID, creating an
	// empty one (version 0) if none exists yet.
	GetOrCreate(ctx context.Context, streamID EntityId, tenantID TenantId) (*Stream, error)

	// AppendToStream appends event to stream under a per-stream exclusive
	// lock: it re-reads the current durable version, fails with
	// *VersionConflictError if stream.ExpectedVersion disagrees, then
	// persists the event and the stream's updated metadata as a single
	// atomic unit. Returns the assigned version.
	AppendToStream(ctx context.Context, stream *Stream, event Event) (int64, error)

	// LoadStream hydrates a stream's events in version order and verifies
	// gaplessness before returning. Returns *EntityNotFoundError if no
	// stream exists for streamID.
	LoadStream(ctx context.Context, streamID EntityId) (*Stream, error)

	// GetStreamsByPartition returns every stream assigned to pk.
	GetStreamsByPartition(ctx context.Context, pk PartitionKey) ([]*Stream, error)

	// GetStreamsByTenant returns every stream owned by tenantID.
	GetStreamsByTenant(ctx context.Context, tenantID TenantId) ([]*Stream, error)

	// CountStreams returns the total number of streams in the repository.
	CountStreams(ctx context.Context) (int64, error)

	// PartitionStats returns, per partition, the number of streams and
	// events assigned to it — used by operators to gauge shard skew.
	PartitionStats(ctx context.Context) (map[PartitionKey]PartitionStat, error)

	// VerifyGapless re-checks the gaplessness invariant for every stream
	// (or, for large repositories, a bounded sample) and returns the ids
	// of any stream that fails it. An empty, non-nil slice means the
	// repository is healthy.
	VerifyGapless(ctx context.Context) ([]EntityId, error)

	// Close releases any resources (file handles, connection pools) held
	// by the repository.
	Close() error
}

// PartitionStat summarizes one partition's occupancy.
type PartitionStat struct {
	StreamCount int64
	EventCount  int64
}
