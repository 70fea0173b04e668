package engine

import (
	"time"
)

// Stream is the per-entity ordered sequence of events — the engine's
// concurrency unit. It generalizes a version-minting, pending-event-buffering
// aggregate helper from a user-embedded pattern into a storage-owned
// primitive: the Repository (see repository.go), not application code, is
// the only writer of a Stream's durable fields.
type Stream struct {
	StreamID        EntityId
	PartitionKey    PartitionKey
	TenantID        TenantId
	CurrentVersion  int64
	Watermark       int64
	Events          []Event
	ExpectedVersion *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewStream returns an empty stream at version 0, watermark 0, with its
// partition key derived once from streamID.
func NewStream(streamID EntityId, tenantID TenantId, partitionCount uint32) *Stream {
	now := time.Now().UTC()
	return &Stream{
		StreamID:     streamID,
		PartitionKey: PartitionFromEntity(streamID, partitionCount),
		TenantID:     tenantID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ExpectVersion sets the optimistic-concurrency guard for the next Append.
func (s *Stream) ExpectVersion(v int64) {
	s.ExpectedVersion = &v
}

// Append assigns the event the next version (current+1), validates it
// against the stream's identity invariants, and advances current version
// and watermark together — the engine never tolerates a gap between them.
//
// Returns *VersionConflictError if ExpectedVersion is set and disagrees
// with CurrentVersion, and *ValidationError if the event's EntityID does
// not match the stream or its TenantID disagrees with one already seen on
// this stream.
func (s *Stream) Append(e Event) (int64, error) {
	if s.ExpectedVersion != nil && *s.ExpectedVersion != s.CurrentVersion {
		return 0, &VersionConflictError{
			StreamID:        string(s.StreamID),
			ExpectedVersion: *s.ExpectedVersion,
			ActualVersion:   s.CurrentVersion,
		}
	}
	if e.EntityID != s.StreamID {
		return 0, &ValidationError{Field: "entity_id", Reason: "does not match stream id"}
	}
	if s.TenantID != "" && e.TenantID != s.TenantID {
		return 0, &ValidationError{Field: "tenant_id", Reason: "disagrees with stream's existing tenant"}
	}

	e.Version = s.CurrentVersion + 1
	s.Events = append(s.Events, e)
	s.CurrentVersion = e.Version
	s.Watermark = s.CurrentVersion
	s.UpdatedAt = e.Timestamp
	if s.TenantID == "" {
		s.TenantID = e.TenantID
	}
	s.ExpectedVersion = nil
	return e.Version, nil
}

// IsGapless reports whether the in-memory event slice forms exactly the
// sequence 1..N with no holes. Every stream returned by a Repository must
// satisfy this.
func (s *Stream) IsGapless() bool {
	for i, e := range s.Events {
		if e.Version != int64(i+1) {
			return false
		}
	}
	return s.Watermark == s.CurrentVersion && s.CurrentVersion == int64(len(s.Events))
}

// Reconstruct rehydrates a Stream from durable fields without revalidating
// monotonicity. Used only on recovery, by a Repository, after gaplessness
// has already been verified by the caller.
func Reconstruct(streamID EntityId, tenantID TenantId, partitionKey PartitionKey, events []Event, createdAt, updatedAt time.Time) *Stream {
	s := &Stream{
		StreamID:     streamID,
		TenantID:     tenantID,
		PartitionKey: partitionKey,
		Events:       events,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
	if n := len(events); n > 0 {
		s.CurrentVersion = events[n-1].Version
		s.Watermark = s.CurrentVersion
	}
	return s
}
