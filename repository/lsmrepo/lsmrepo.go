// Package lsmrepo is a durable, embedded-LSM-backed engine.Repository,
// using github.com/dgraph-io/badger/v4 the way the corpus's storage-engine
// examples use an embedded key-value store: four key prefixes play the
// role of separate column families — streams/ for stream metadata,
// events/ for the ordered per-stream event log, and the pidx/ and tidx/
// secondary indexes for partition- and tenant-scoped scans.
package lsmrepo

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	engine "github.com/eventengine/eventengine"
)

const (
	prefixStream = "streams/"
	prefixEvent  = "events/"
	prefixPIdx   = "pidx/"
	prefixTIdx   = "tidx/"
)

// Repository is a badger-backed engine.Repository. Every AppendToStream
// call commits the version check, the new event, and the updated stream
// metadata in a single badger.Txn, giving it the same all-or-nothing
// durability the WAL provides at a coarser grain.
type Repository struct {
	db             *badger.DB
	partitionCount uint32
}

// Options configures Open.
type Options struct {
	Dir            string
	PartitionCount uint32
	InMemory       bool // for tests: badger.DefaultOptions(\"\").WithInMemory(true)
}

// Open opens (or creates) the badger database at opt.Dir.
func Open(opt Options) (*Repository, error) {
	bopt := badger.DefaultOptions(opt.Dir)
	if opt.InMemory {
		bopt = badger.DefaultOptions("").WithInMemory(true)
	}
	bopt = bopt.WithLogger(nil)
	db, err := badger.Open(bopt)
	if err != nil {
		return nil, fmt.Errorf("lsmrepo: open %s: %w", opt.Dir, err)
	}
	return &Repository{db: db, partitionCount: opt.PartitionCount}, nil
}

type streamMeta struct {
	StreamID       string    `json:"stream_id"`
	TenantID       string    `json:"tenant_id"`
	PartitionKey   uint64    `json:"partition_key"`
	CurrentVersion int64     `json:"current_version"`
	Watermark      int64     `json:"watermark"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type eventRecord struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	EntityID  string          `json:"entity_id"`
	TenantID  string          `json:"tenant_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Version   int64           `json:"version"`
}

func streamKey(id engine.EntityId) []byte { return []byte(prefixStream + string(id)) }

func eventKey(id engine.EntityId, version int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", prefixEvent, string(id), version))
}

func eventPrefix(id engine.EntityId) []byte {
	return []byte(fmt.Sprintf("%s%s/", prefixEvent, string(id)))
}

func pIdxKey(pk engine.PartitionKey, id engine.EntityId) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(pk))
	return append(append([]byte(prefixPIdx), buf[:]...), []byte("/"+string(id))...)
}

func pIdxPrefix(pk engine.PartitionKey) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(pk))
	return append([]byte(prefixPIdx), buf[:]...)
}

func tIdxKey(tenantID engine.TenantId, id engine.EntityId) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", prefixTIdx, string(tenantID), string(id)))
}

func tIdxPrefix(tenantID engine.TenantId) []byte {
	return []byte(fmt.Sprintf("%s%s/", prefixTIdx, string(tenantID)))
}

func toMeta(s *engine.Stream) streamMeta {
	return streamMeta{
		StreamID:       string(s.StreamID),
		TenantID:       string(s.TenantID),
		PartitionKey:   uint64(s.PartitionKey),
		CurrentVersion: s.CurrentVersion,
		Watermark:      s.Watermark,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func eventToRecord(e engine.Event) (eventRecord, error) {
	var md json.RawMessage
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return eventRecord{}, fmt.Errorf("lsmrepo: marshal metadata: %w", err)
		}
		md = b
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return eventRecord{}, fmt.Errorf("lsmrepo: marshal payload: %w", err)
	}
	return eventRecord{
		ID: e.ID, Type: string(e.Type), EntityID: string(e.EntityID), TenantID: string(e.TenantID),
		Payload: payload, Timestamp: e.Timestamp, Metadata: md, Version: e.Version,
	}, nil
}

func recordToEvent(r eventRecord) engine.Event {
	var payload any
	_ = json.Unmarshal(r.Payload, &payload)
	var md engine.Metadata
	if len(r.Metadata) > 0 {
		var m map[string]any
		if json.Unmarshal(r.Metadata, &m) == nil {
			md = m
		}
	}
	return engine.Event{
		ID: r.ID, Type: engine.EventType(r.Type), EntityID: engine.EntityId(r.EntityID), TenantID: engine.TenantId(r.TenantID),
		Payload: payload, Timestamp: r.Timestamp, Metadata: md, Version: r.Version,
	}
}

// GetOrCreate atomically fetches or creates the stream's metadata row.
func (r *Repository) GetOrCreate(ctx context.Context, streamID engine.EntityId, tenantID engine.TenantId) (*engine.Stream, error) {
	var out *engine.Stream
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(streamKey(streamID))
		if err == nil {
			var m streamMeta
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
				return err
			}
			out = metaToStream(m)
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		s := engine.NewStream(streamID, tenantID, r.partitionCount)
		if err := putMeta(txn, s); err != nil {
			return err
		}
		if err := txn.Set(pIdxKey(s.PartitionKey, streamID), nil); err != nil {
			return err
		}
		if err := txn.Set(tIdxKey(tenantID, streamID), nil); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, &engine.StorageError{Op: "GetOrCreate", Err: err}
	}
	return out, nil
}

func metaToStream(m streamMeta) *engine.Stream {
	return &engine.Stream{
		StreamID:       engine.EntityId(m.StreamID),
		TenantID:       engine.TenantId(m.TenantID),
		PartitionKey:   engine.PartitionKey(m.PartitionKey),
		CurrentVersion: m.CurrentVersion,
		Watermark:      m.Watermark,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func putMeta(txn *badger.Txn, s *engine.Stream) error {
	b, err := json.Marshal(toMeta(s))
	if err != nil {
		return err
	}
	return txn.Set(streamKey(s.StreamID), b)
}

// AppendToStream commits the version check, the new event row, and the
// updated stream metadata as one badger transaction.
func (r *Repository) AppendToStream(ctx context.Context, stream *engine.Stream, event engine.Event) (int64, error) {
	var version int64
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(streamKey(stream.StreamID))
		var m streamMeta
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
				return err
			}
		case err == badger.ErrKeyNotFound:
			m = toMeta(engine.NewStream(stream.StreamID, stream.TenantID, r.partitionCount))
		default:
			return err
		}

		durable := metaToStream(m)
		durable.ExpectedVersion = stream.ExpectedVersion
		v, err := durable.Append(event)
		if err != nil {
			return err
		}
		version = v

		rec, err := eventToRecord(event)
		if err != nil {
			return err
		}
		rec.Version = v
		eb, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(eventKey(stream.StreamID, v), eb); err != nil {
			return err
		}
		if err := putMeta(txn, durable); err != nil {
			return err
		}
		if err := txn.Set(pIdxKey(durable.PartitionKey, stream.StreamID), nil); err != nil {
			return err
		}
		if err := txn.Set(tIdxKey(durable.TenantID, stream.StreamID), nil); err != nil {
			return err
		}
		*stream = *durable
		return nil
	})
	if err != nil {
		if isConflictKind(err) {
			return 0, &engine.ConcurrencyError{Op: "AppendToStream", Err: err}
		}
		if _, ok := err.(*engine.VersionConflictError); ok {
			return 0, err
		}
		return 0, &engine.StorageError{Op: "AppendToStream", Err: err}
	}
	return version, nil
}

func isConflictKind(err error) bool {
	return err == badger.ErrConflict
}

// LoadStream reconstructs the stream's full event history in version order
// and verifies gaplessness.
func (r *Repository) LoadStream(ctx context.Context, streamID engine.EntityId) (*engine.Stream, error) {
	var meta streamMeta
	var events []engine.Event
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(streamKey(streamID))
		if err == badger.ErrKeyNotFound {
			return engine.ErrEntityNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
			return err
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := eventPrefix(streamID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec eventRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			events = append(events, recordToEvent(rec))
		}
		return nil
	})
	if err != nil {
		if err == engine.ErrEntityNotFound {
			return nil, &engine.EntityNotFoundError{StreamID: string(streamID)}
		}
		return nil, &engine.StorageError{Op: "LoadStream", Err: err}
	}

	s := engine.Reconstruct(streamID, engine.TenantId(meta.TenantID), engine.PartitionKey(meta.PartitionKey), events, meta.CreatedAt, meta.UpdatedAt)
	if !s.IsGapless() {
		return nil, &engine.StorageError{Op: "LoadStream", Err: fmt.Errorf("gap detected in stream %s", streamID)}
	}
	return s, nil
}

func scanIDs(txn *badger.Txn, prefix []byte) ([]engine.EntityId, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	var out []engine.EntityId
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		rest := bytes.TrimPrefix(key, prefix)
		out = append(out, engine.EntityId(rest))
	}
	return out, nil
}

// GetStreamsByPartition returns every stream assigned to pk.
func (r *Repository) GetStreamsByPartition(ctx context.Context, pk engine.PartitionKey) ([]*engine.Stream, error) {
	var ids []engine.EntityId
	err := r.db.View(func(txn *badger.Txn) error {
		out, err := scanIDs(txn, pIdxPrefix(pk))
		if err != nil {
			return err
		}
		ids = out
		return nil
	})
	if err != nil {
		return nil, &engine.StorageError{Op: "GetStreamsByPartition", Err: err}
	}
	return r.loadMetasOnly(ids)
}

// GetStreamsByTenant returns every stream owned by tenantID.
func (r *Repository) GetStreamsByTenant(ctx context.Context, tenantID engine.TenantId) ([]*engine.Stream, error) {
	var ids []engine.EntityId
	err := r.db.View(func(txn *badger.Txn) error {
		out, err := scanIDs(txn, tIdxPrefix(tenantID))
		if err != nil {
			return err
		}
		ids = out
		return nil
	})
	if err != nil {
		return nil, &engine.StorageError{Op: "GetStreamsByTenant", Err: err}
	}
	return r.loadMetasOnly(ids)
}

// loadMetasOnly returns stream metadata (no events) for each id, trimming
// the trailing "/<id>" index suffix shape back down to a bare id lookup.
func (r *Repository) loadMetasOnly(ids []engine.EntityId) ([]*engine.Stream, error) {
	out := make([]*engine.Stream, 0, len(ids))
	err := r.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			trimmed := engine.EntityId(bytes.TrimPrefix([]byte(id), []byte("/")))
			item, err := txn.Get(streamKey(trimmed))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var m streamMeta
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
				return err
			}
			out = append(out, metaToStream(m))
		}
		return nil
	})
	if err != nil {
		return nil, &engine.StorageError{Op: "loadMetasOnly", Err: err}
	}
	return out, nil
}

// CountStreams returns the number of stream metadata rows.
func (r *Repository) CountStreams(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixStream)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, &engine.StorageError{Op: "CountStreams", Err: err}
	}
	return n, nil
}

// PartitionStats aggregates stream and event counts per partition by
// scanning the stream metadata rows.
func (r *Repository) PartitionStats(ctx context.Context) (map[engine.PartitionKey]engine.PartitionStat, error) {
	out := make(map[engine.PartitionKey]engine.PartitionStat)
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixStream)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m streamMeta
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
				return err
			}
			pk := engine.PartitionKey(m.PartitionKey)
			stat := out[pk]
			stat.StreamCount++
			stat.EventCount += m.CurrentVersion
			out[pk] = stat
		}
		return nil
	})
	if err != nil {
		return nil, &engine.StorageError{Op: "PartitionStats", Err: err}
	}
	return out, nil
}

// VerifyGapless re-derives each stream's event count from the event/ key
// range and compares it against the stream's recorded current version.
func (r *Repository) VerifyGapless(ctx context.Context) ([]engine.EntityId, error) {
	bad := make([]engine.EntityId, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixStream)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m streamMeta
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
				return err
			}
			eit := txn.NewIterator(badger.DefaultIteratorOptions)
			count := int64(0)
			maxVersion := int64(0)
			ep := eventPrefix(engine.EntityId(m.StreamID))
			for eit.Seek(ep); eit.ValidForPrefix(ep); eit.Next() {
				count++
				var rec eventRecord
				if err := eit.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err == nil {
					if rec.Version > maxVersion {
						maxVersion = rec.Version
					}
				}
			}
			eit.Close()
			if count != m.CurrentVersion || maxVersion != m.CurrentVersion {
				bad = append(bad, engine.EntityId(m.StreamID))
			}
		}
		return nil
	})
	if err != nil {
		return nil, &engine.StorageError{Op: "VerifyGapless", Err: err}
	}
	return bad, nil
}

// Close closes the underlying badger database.
func (r *Repository) Close() error {
	return r.db.Close()
}

var _ engine.Repository = (*Repository)(nil)
