// Package pgrepo is a PostgreSQL-backed engine.Repository on a pgx/v5
// pool: a SELECT-then-insert-under-one-transaction shape over the
// engine's full stream metadata plus event log, hardened with SELECT ... FOR UPDATE so two
// concurrent appenders to the same stream serialize at the database rather
// than racing the application-level version check.
//
// Expected schema (created by the operator's migration tooling, not by
// this package):
//
//	CREATE TABLE event_streams (
//	  stream_id       text PRIMARY KEY,
//	  tenant_id       text NOT NULL,
//	  partition_key   bigint NOT NULL,
//	  current_version bigint NOT NULL DEFAULT 0,
//	  watermark       bigint NOT NULL DEFAULT 0,
//	  created_at      timestamptz NOT NULL,
//	  updated_at      timestamptz NOT NULL
//	);
//	CREATE TABLE events (
//	  stream_id  text NOT NULL REFERENCES event_streams(stream_id),
//	  version    bigint NOT NULL,
//	  event_id   text NOT NULL,
//	  event_type text NOT NULL,
//	  tenant_id  text NOT NULL,
//	  payload    jsonb NOT NULL,
//	  metadata   jsonb,
//	  ts         timestamptz NOT NULL,
//	  PRIMARY KEY (stream_id, version)
//	);
package pgrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	engine "github.com/eventengine/eventengine"
)

func parseUUID(s string) (uuid.UUID, error) { return uuid.Parse(s) }

// Repository is a pgx-pool-backed engine.Repository.
type Repository struct {
	pool           *pgxpool.Pool
	partitionCount uint32
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool, partitionCount uint32) *Repository {
	return &Repository{pool: pool, partitionCount: partitionCount}
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01" // serialization_failure, deadlock_detected
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// withRetry retries fn on serialization failures with an exponential
// backoff using cenkalti/backoff/v4.
func withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isSerializationFailure(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, policy)
}

// GetOrCreate fetches the stream row, inserting a fresh one if absent.
func (r *Repository) GetOrCreate(ctx context.Context, streamID engine.EntityId, tenantID engine.TenantId) (*engine.Stream, error) {
	var out *engine.Stream
	err := withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("pgrepo: begin: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		s, err := loadMetaForUpdate(ctx, tx, streamID)
		if err == nil {
			out = s
			return tx.Commit(ctx)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		s = engine.NewStream(streamID, tenantID, r.partitionCount)
		if _, err := tx.Exec(ctx, `
			INSERT INTO event_streams (stream_id, tenant_id, partition_key, current_version, watermark, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, string(streamID), string(tenantID), uint64(s.PartitionKey), s.CurrentVersion, s.Watermark, s.CreatedAt, s.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				s, err = loadMetaForUpdate(ctx, tx, streamID)
				if err != nil {
					return err
				}
				out = s
				return tx.Commit(ctx)
			}
			return fmt.Errorf("pgrepo: insert stream: %w", err)
		}
		out = s
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, &engine.StorageError{Op: "GetOrCreate", Err: err}
	}
	return out, nil
}

func loadMetaForUpdate(ctx context.Context, tx pgx.Tx, streamID engine.EntityId) (*engine.Stream, error) {
	var tenantID string
	var pk uint64
	var cur, wm int64
	var createdAt, updatedAt time.Time
	err := tx.QueryRow(ctx, `
		SELECT tenant_id, partition_key, current_version, watermark, created_at, updated_at
		FROM event_streams WHERE stream_id = $1 FOR UPDATE
	`, string(streamID)).Scan(&tenantID, &pk, &cur, &wm, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	return &engine.Stream{
		StreamID: streamID, TenantID: engine.TenantId(tenantID), PartitionKey: engine.PartitionKey(pk),
		CurrentVersion: cur, Watermark: wm, CreatedAt: createdAt, UpdatedAt: updatedAt,
	}, nil
}

// AppendToStream locks the stream row with SELECT ... FOR UPDATE, checks
// the expected version, inserts the event, and updates stream metadata — all
// inside one transaction.
func (r *Repository) AppendToStream(ctx context.Context, stream *engine.Stream, event engine.Event) (int64, error) {
	var version int64
	err := withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("pgrepo: begin: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		durable, err := loadMetaForUpdate(ctx, tx, stream.StreamID)
		if errors.Is(err, pgx.ErrNoRows) {
			durable = engine.NewStream(stream.StreamID, stream.TenantID, r.partitionCount)
		} else if err != nil {
			return fmt.Errorf("pgrepo: load for update: %w", err)
		}

		durable.ExpectedVersion = stream.ExpectedVersion
		v, appendErr := durable.Append(event)
		if appendErr != nil {
			return appendErr
		}

		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("pgrepo: marshal payload: %w", err)
		}
		var meta []byte
		if event.Metadata != nil {
			meta, err = json.Marshal(event.Metadata)
			if err != nil {
				return fmt.Errorf("pgrepo: marshal metadata: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO events (stream_id, version, event_id, event_type, tenant_id, payload, metadata, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, string(stream.StreamID), v, event.ID.String(), string(event.Type), string(event.TenantID), payload, meta, event.Timestamp); err != nil {
			if isUniqueViolation(err) {
				return &engine.VersionConflictError{StreamID: string(stream.StreamID), ExpectedVersion: v - 1, ActualVersion: v}
			}
			return fmt.Errorf("pgrepo: insert event: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE event_streams SET current_version=$2, watermark=$3, updated_at=$4, tenant_id=$5
			WHERE stream_id=$1
		`, string(stream.StreamID), durable.CurrentVersion, durable.Watermark, durable.UpdatedAt, string(durable.TenantID)); err != nil {
			return fmt.Errorf("pgrepo: update stream: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("pgrepo: commit: %w", err)
		}
		*stream = *durable
		version = v
		return nil
	})
	if err != nil {
		var vce *engine.VersionConflictError
		if errors.As(err, &vce) {
			return 0, err
		}
		if isSerializationFailure(err) {
			return 0, &engine.ConcurrencyError{Op: "AppendToStream", Err: err}
		}
		return 0, &engine.StorageError{Op: "AppendToStream", Err: err}
	}
	return version, nil
}

// LoadStream reads the stream's metadata and its full event history in
// version order, verifying gaplessness.
func (r *Repository) LoadStream(ctx context.Context, streamID engine.EntityId) (*engine.Stream, error) {
	var tenantID string
	var pk uint64
	var createdAt, updatedAt time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, partition_key, created_at, updated_at FROM event_streams WHERE stream_id = $1
	`, string(streamID)).Scan(&tenantID, &pk, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &engine.EntityNotFoundError{StreamID: string(streamID)}
	}
	if err != nil {
		return nil, &engine.StorageError{Op: "LoadStream", Err: err}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT version, event_id, event_type, tenant_id, payload, metadata, ts
		FROM events WHERE stream_id = $1 ORDER BY version ASC
	`, string(streamID))
	if err != nil {
		return nil, &engine.StorageError{Op: "LoadStream", Err: err}
	}
	defer rows.Close()

	var events []engine.Event
	for rows.Next() {
		var version int64
		var eventID, eventType, rowTenant string
		var payload, meta []byte
		var ts time.Time
		if err := rows.Scan(&version, &eventID, &eventType, &rowTenant, &payload, &meta, &ts); err != nil {
			return nil, &engine.StorageError{Op: "LoadStream", Err: err}
		}
		var payloadVal any
		_ = json.Unmarshal(payload, &payloadVal)
		var md engine.Metadata
		if len(meta) > 0 {
			var m map[string]any
			if json.Unmarshal(meta, &m) == nil {
				md = m
			}
		}
		id, _ := parseUUID(eventID)
		events = append(events, engine.Event{
			ID: id, Type: engine.EventType(eventType), EntityID: streamID, TenantID: engine.TenantId(rowTenant),
			Payload: payloadVal, Timestamp: ts, Metadata: md, Version: version,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &engine.StorageError{Op: "LoadStream", Err: err}
	}

	s := engine.Reconstruct(streamID, engine.TenantId(tenantID), engine.PartitionKey(pk), events, createdAt, updatedAt)
	if !s.IsGapless() {
		return nil, &engine.StorageError{Op: "LoadStream", Err: fmt.Errorf("gap detected in stream %s", streamID)}
	}
	return s, nil
}

// GetStreamsByPartition returns every stream assigned to pk.
func (r *Repository) GetStreamsByPartition(ctx context.Context, pk engine.PartitionKey) ([]*engine.Stream, error) {
	return r.queryStreams(ctx, `SELECT stream_id, tenant_id, partition_key, current_version, watermark, created_at, updated_at FROM event_streams WHERE partition_key = $1 ORDER BY stream_id`, uint64(pk))
}

// GetStreamsByTenant returns every stream owned by tenantID.
func (r *Repository) GetStreamsByTenant(ctx context.Context, tenantID engine.TenantId) ([]*engine.Stream, error) {
	return r.queryStreams(ctx, `SELECT stream_id, tenant_id, partition_key, current_version, watermark, created_at, updated_at FROM event_streams WHERE tenant_id = $1 ORDER BY stream_id`, string(tenantID))
}

func (r *Repository) queryStreams(ctx context.Context, query string, arg any) ([]*engine.Stream, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, &engine.StorageError{Op: "queryStreams", Err: err}
	}
	defer rows.Close()

	var out []*engine.Stream
	for rows.Next() {
		var id, tenantID string
		var pk uint64
		var cur, wm int64
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&id, &tenantID, &pk, &cur, &wm, &createdAt, &updatedAt); err != nil {
			return nil, &engine.StorageError{Op: "queryStreams", Err: err}
		}
		out = append(out, &engine.Stream{
			StreamID: engine.EntityId(id), TenantID: engine.TenantId(tenantID), PartitionKey: engine.PartitionKey(pk),
			CurrentVersion: cur, Watermark: wm, CreatedAt: createdAt, UpdatedAt: updatedAt,
		})
	}
	return out, rows.Err()
}

// CountStreams returns the total row count of event_streams.
func (r *Repository) CountStreams(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM event_streams`).Scan(&n); err != nil {
		return 0, &engine.StorageError{Op: "CountStreams", Err: err}
	}
	return n, nil
}

// PartitionStats aggregates stream and event counts grouped by partition.
func (r *Repository) PartitionStats(ctx context.Context) (map[engine.PartitionKey]engine.PartitionStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT partition_key, COUNT(*), COALESCE(SUM(current_version), 0)
		FROM event_streams GROUP BY partition_key
	`)
	if err != nil {
		return nil, &engine.StorageError{Op: "PartitionStats", Err: err}
	}
	defer rows.Close()

	out := make(map[engine.PartitionKey]engine.PartitionStat)
	for rows.Next() {
		var pk uint64
		var stat engine.PartitionStat
		if err := rows.Scan(&pk, &stat.StreamCount, &stat.EventCount); err != nil {
			return nil, &engine.StorageError{Op: "PartitionStats", Err: err}
		}
		out[engine.PartitionKey(pk)] = stat
	}
	return out, rows.Err()
}

// VerifyGapless compares each stream's recorded current_version against
// its actual max(version) and row count in the events table.
func (r *Repository) VerifyGapless(ctx context.Context) ([]engine.EntityId, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.stream_id
		FROM event_streams s
		LEFT JOIN (
			SELECT stream_id, COUNT(*) AS cnt, COALESCE(MAX(version), 0) AS max_version
			FROM events GROUP BY stream_id
		) e ON e.stream_id = s.stream_id
		WHERE s.current_version <> COALESCE(e.cnt, 0) OR s.current_version <> COALESCE(e.max_version, 0)
	`)
	if err != nil {
		return nil, &engine.StorageError{Op: "VerifyGapless", Err: err}
	}
	defer rows.Close()

	bad := make([]engine.EntityId, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &engine.StorageError{Op: "VerifyGapless", Err: err}
		}
		bad = append(bad, engine.EntityId(id))
	}
	return bad, rows.Err()
}

// Close closes the underlying connection pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

var _ engine.Repository = (*Repository)(nil)
