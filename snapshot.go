package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SnapshotType distinguishes how a Snapshot came to exist.
type SnapshotType string

const (
	SnapshotManual    SnapshotType = "manual"
	SnapshotAutomatic SnapshotType = "automatic"
	SnapshotOnDemand  SnapshotType = "on_demand"
)

// Snapshot is a per-entity materialized state checkpoint, generalizing a
// single-snapshot-per-stream model into a bounded, retained history per
// entity. State is opaque to the engine: the fold that produced it is
// supplied by the consumer (a projection), never by the storage engine
// itself.
type Snapshot struct {
	ID          uuid.UUID
	EntityID    EntityId
	State       []byte
	AsOf        time.Time
	EventCount  int64
	CreatedAt   time.Time
	Type        SnapshotType
	SizeBytes   int64
}

// SnapshotStore is the storage-side contract for the snapshot layer.
// The store package's Store façade drives admission
// policy and folding; SnapshotStore only persists and retrieves opaque
// checkpoints. The concrete implementation lives in package snapshot.
type SnapshotStore interface {
	// Save persists a new snapshot for entityID and enforces
	// MaxPerEntity retention (oldest pruned first).
	Save(ctx context.Context, entityID EntityId, state []byte, asOf time.Time, eventCount int64, typ SnapshotType) (Snapshot, error)

	// Latest returns the most recent snapshot for entityID with
	// AsOf <= asOf (or the latest overall if asOf is the zero Time).
	// Found is false if no qualifying snapshot exists.
	Latest(ctx context.Context, entityID EntityId, asOf time.Time) (snap Snapshot, found bool, err error)

	// Close releases any resources held by the store.
	Close() error
}
