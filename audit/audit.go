// Package audit implements the engine's audit trail: a log
// structurally parallel to the primary event log, built on the same wal and
// columnar primitives, but not required to be gapless — every administrative
// and data-plane action is recorded, whether or not it succeeded.
package audit

import (
	"time"

	"github.com/google/uuid"

	engine "github.com/eventengine/eventengine"
)

// Action is a closed set of the operations the engine audits.
type Action string

const (
	ActionIngest           Action = "ingest"
	ActionQuery            Action = "query"
	ActionTenantCreate     Action = "tenant_create"
	ActionTenantDeactivate Action = "tenant_deactivate"
	ActionTenantActivate   Action = "tenant_activate"
	ActionSnapshotCreate   Action = "snapshot_create"
	ActionCompaction       Action = "compaction"
	ActionAdmin            Action = "admin"
	ActionRecovery         Action = "recovery"
)

// ActorKind distinguishes who (or what) performed an action.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorAPIKey ActorKind = "api_key"
	ActorSystem ActorKind = "system"
)

// Actor names the responsible party for an audited action.
type Actor struct {
	Kind ActorKind
	ID   string
}

// System returns the Actor used for background-scheduled actions (the
// compaction and snapshot cron jobs) which have no human or API-key caller.
func System() Actor { return Actor{Kind: ActorSystem, ID: "engine"} }

// Outcome classifies how an audited action concluded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Event is one audit record. Unlike the primary log, Event carries no
// stream version: audit entries are not replayed into aggregate state, only
// appended and queried.
type Event struct {
	ID           uuid.UUID
	TenantID     engine.TenantId
	Timestamp    time.Time
	Action       Action
	Actor        Actor
	Outcome      Outcome
	ResourceType string
	ResourceID   string
	IPAddress    string
	UserAgent    string
	RequestID    string
	Error        string
	Metadata     engine.Metadata
}

// New constructs an unpersisted audit Event with a fresh id and the current
// timestamp.
func New(tenantID engine.TenantId, action Action, actor Actor, outcome Outcome) Event {
	return Event{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Action:    action,
		Actor:     actor,
		Outcome:   outcome,
	}
}

// Reconstruct rebuilds an audit Event from durable fields, preserving id
// exactly rather than minting a fresh one: replay, re-export, and
// cross-region restore must not change an audit event's identity.
func Reconstruct(id uuid.UUID, tenantID engine.TenantId, ts time.Time, action Action, actor Actor, outcome Outcome, resourceType, resourceID, ip, userAgent, requestID, errMsg string, md engine.Metadata) Event {
	return Event{
		ID:           id,
		TenantID:     tenantID,
		Timestamp:    ts,
		Action:       action,
		Actor:        actor,
		Outcome:      outcome,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    ip,
		UserAgent:    userAgent,
		RequestID:    requestID,
		Error:        errMsg,
		Metadata:     md,
	}
}
