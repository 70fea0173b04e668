package audit

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/eventengine/eventengine/columnar"
	"github.com/eventengine/eventengine/wal"
)

// record is the on-disk shape audit events are (de)serialized to/from —
// kept separate from Event so json field names are stable independent of
// the exported struct's field order.
type record struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Timestamp    string          `json:"timestamp"`
	Action       string          `json:"action"`
	ActorKind    string          `json:"actor_kind"`
	ActorID      string          `json:"actor_id"`
	Outcome      string          `json:"outcome"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	IPAddress    string          `json:"ip_address,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	Error        string          `json:"error,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

func toRecord(e Event) (record, error) {
	var md json.RawMessage
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return record{}, fmt.Errorf("audit: marshal metadata: %w", err)
		}
		md = b
	}
	return record{
		ID:           e.ID.String(),
		TenantID:     string(e.TenantID),
		Timestamp:    e.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"),
		Action:       string(e.Action),
		ActorKind:    string(e.Actor.Kind),
		ActorID:      e.Actor.ID,
		Outcome:      string(e.Outcome),
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		RequestID:    e.RequestID,
		Error:        e.Error,
		Metadata:     md,
	}, nil
}

// Log is the audit trail's own WAL-plus-columnar pair, living under a
// directory separate from the primary log but sharing its exact durability
// and batching mechanics.
type Log struct {
	wal      *wal.Log
	columnar *columnar.Store
	logger   *zap.SugaredLogger
}

// Options configures a Log.
type Options struct {
	Dir         string
	BatchSize   int
	MaxFileSize int64
	SyncOnWrite bool
	Logger      *zap.SugaredLogger
}

// Open opens (or creates) the audit WAL and columnar directories under
// opt.Dir/wal and opt.Dir/columnar.
func Open(opt Options) (*Log, error) {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop().Sugar()
	}
	w, err := wal.Open(wal.Options{
		Dir:         filepath.Join(opt.Dir, "wal"),
		MaxFileSize: opt.MaxFileSize,
		SyncOnWrite: opt.SyncOnWrite,
		Logger:      opt.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: open wal: %w", err)
	}
	c, err := columnar.New(columnar.Options{
		Dir:       filepath.Join(opt.Dir, "columnar"),
		BatchSize: opt.BatchSize,
		Logger:    opt.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: open columnar: %w", err)
	}
	return &Log{wal: w, columnar: c, logger: opt.Logger}, nil
}

// Append durably records e: WAL-append first (the durability boundary),
// then enqueue into the columnar batch for long-term storage.
func (l *Log) Append(e Event) error {
	rec, err := toRecord(e)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	seq, err := l.wal.Append(payload)
	if err != nil {
		return fmt.Errorf("audit: wal append: %w", err)
	}
	return l.columnar.Append(columnar.Record{
		EventID:   rec.ID,
		EventType: rec.Action,
		EntityID:  rec.TenantID,
		Payload:   payload,
		Timestamp: e.Timestamp.UnixMicro(),
		Version:   seq,
	})
}

// RecordSilently appends e and swallows any error after logging it: an
// audit-trail failure must never mask or fail the primary operation it
// describes.
func (l *Log) RecordSilently(e Event) {
	if err := l.Append(e); err != nil {
		l.logger.Errorw("audit: failed to record event", "action", e.Action, "tenant", e.TenantID, "error", err)
	}
}

// Flush forces the columnar batch to disk.
func (l *Log) Flush() error {
	return l.columnar.Flush()
}

// LoadAll returns every flushed audit event across the columnar store, in
// file order. Events still sitting in the active batch are not visible
// until Flush is called — callers that need a complete view should Flush
// first.
func (l *Log) LoadAll() ([]Event, error) {
	recs, err := l.columnar.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("audit: load all: %w", err)
	}
	out := make([]Event, 0, len(recs))
	for _, r := range recs {
		e, err := fromColumnarRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func fromColumnarRecord(r columnar.Record) (Event, error) {
	var rr record
	if err := json.Unmarshal(r.Payload, &rr); err != nil {
		return Event{}, fmt.Errorf("audit: corrupt record: %w", err)
	}
	return recordToEvent(rr)
}

func recordToEvent(rr record) (Event, error) {
	id, err := parseUUID(rr.ID)
	if err != nil {
		return Event{}, err
	}
	ts, err := parseTime(rr.Timestamp)
	if err != nil {
		return Event{}, err
	}
	var md map[string]any
	if len(rr.Metadata) > 0 {
		if err := json.Unmarshal(rr.Metadata, &md); err != nil {
			return Event{}, fmt.Errorf("audit: corrupt metadata: %w", err)
		}
	}
	return Reconstruct(
		id,
		stringTenant(rr.TenantID),
		ts,
		Action(rr.Action),
		Actor{Kind: ActorKind(rr.ActorKind), ID: rr.ActorID},
		Outcome(rr.Outcome),
		rr.ResourceType, rr.ResourceID, rr.IPAddress, rr.UserAgent, rr.RequestID, rr.Error,
		metadataOf(md),
	), nil
}

// Close releases the WAL and columnar store's resources, flushing any
// pending columnar batch first.
func (l *Log) Close() error {
	if err := l.columnar.Flush(); err != nil {
		return err
	}
	return l.wal.Close()
}
