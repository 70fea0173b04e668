package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable record of one fact in a tenant's log. Once
// published, an Event is never mutated or deleted; retention is governed
// only by purge policy, and every purge is itself audited.
//
// Version is 1-based and assigned by the owning Stream at append time —
// never by the caller.
type Event struct {
	ID        uuid.UUID
	Type      EventType
	EntityID  EntityId
	TenantID  TenantId
	Payload   any
	Timestamp time.Time
	Metadata  Metadata
	Version   int64
}

// NewEvent constructs an unpersisted Event. Version is left at 0; it is
// assigned by Stream.Append. Timestamp defaults to now.
func NewEvent(eventType EventType, entityID EntityId, tenantID TenantId, payload any, md Metadata) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		EntityID:  entityID,
		TenantID:  tenantID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Metadata:  md,
	}
}

// NewEventFromStrings constructs an Event from loose string inputs,
// validating event type and entity id and falling back to a "default"
// tenant when none is given: a convenience for migration and tooling
// callers, never for the hot ingest path (Store.Ingest always requires an
// already-validated TenantId).
func NewEventFromStrings(eventType, entityID, tenantID string, payload any, md Metadata) (Event, error) {
	et, err := NewEventType(eventType)
	if err != nil {
		return Event{}, err
	}
	eid, err := NewEntityId(entityID)
	if err != nil {
		return Event{}, err
	}
	if tenantID == "" {
		tenantID = "default"
	}
	tid, err := NewTenantId(tenantID)
	if err != nil {
		return Event{}, err
	}
	return NewEvent(et, eid, tid, payload, md), nil
}

// Validate checks the identifier invariants required before an event is
// admitted to a stream. It does not check version, which is assigned by
// the stream itself.
func (e Event) Validate() error {
	if e.ID == uuid.Nil {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "event_type", Reason: "must not be empty"}
	}
	if e.EntityID == "" {
		return &ValidationError{Field: "entity_id", Reason: "must not be empty"}
	}
	if e.TenantID == "" {
		return &ValidationError{Field: "tenant_id", Reason: "must not be empty"}
	}
	return nil
}

func (e Event) String() string {
	return fmt.Sprintf("Event{id=%s type=%s entity=%s tenant=%s version=%d}", e.ID, e.Type, e.EntityID, e.TenantID, e.Version)
}
