// Package store implements Store, the orchestration façade that is
// the system's entry point: it wires the WAL, columnar store, repository,
// snapshot store, tenant registry, and audit log together into the single
// Ingest/Query/ReconstructState surface callers use. It lives outside the
// root engine package because it depends on tenant and audit, which
// themselves depend on engine, keeping it separate avoids an import cycle
// while the domain model in engine stays free of orchestration concerns.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	engine "github.com/eventengine/eventengine"
	"github.com/eventengine/eventengine/audit"
	"github.com/eventengine/eventengine/columnar"
	"github.com/eventengine/eventengine/compaction"
	"github.com/eventengine/eventengine/config"
	"github.com/eventengine/eventengine/metrics"
	"github.com/eventengine/eventengine/snapshot"
	"github.com/eventengine/eventengine/tenant"
	"github.com/eventengine/eventengine/wal"
)

// Reducer folds one event onto a prior opaque state, producing the next
// state. Supplied by the application; the engine never interprets Payload
// itself.
type Reducer func(priorState []byte, event engine.Event) ([]byte, error)

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the zap logger used for every component.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics supplies a pre-built metrics.Registry (for example one also
// wired into an HTTP /metrics handler).
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Store) { s.metrics = m }
}

// WithMetadataExtractor sets a function that builds Metadata from context,
// merged under any explicit Metadata passed to Ingest.
func WithMetadataExtractor(ex engine.MetadataExtractor) Option {
	return func(s *Store) { s.extractor = ex }
}

// WithReducer registers the fold function ReconstructState and the
// automatic-snapshot admission path use to apply events to opaque state.
func WithReducer(r Reducer) Option {
	return func(s *Store) { s.reducer = r }
}

// WithCodecs supplies the registry Store.Recover consults to decode a
// replayed event's payload into its concrete Go type instead of a plain
// map[string]any. Without this option every recovered payload decodes
// generically.
func WithCodecs(c *engine.CodecRegistry) Option {
	return func(s *Store) { s.codecs = c }
}

// Store is the engine's orchestration façade.
type Store struct {
	cfg       config.Config
	repo      engine.Repository
	wal       *wal.Log
	cols      *columnar.Store
	snaps     *snapshot.Store
	tenants   *tenant.Registry
	auditLog  *audit.Log
	metrics   *metrics.Registry
	logger    *zap.SugaredLogger
	compactor *compaction.Compactor
	extractor engine.MetadataExtractor
	reducer   Reducer
	codecs    *engine.CodecRegistry

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New opens every storage component cfg names and returns a ready Store.
// repo is supplied by the caller already constructed (memrepo, lsmrepo, or
// pgrepo), since its construction needs backend-specific options this
// package has no business knowing about.
func New(cfg config.Config, repo engine.Repository, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		cfg:     cfg,
		repo:    repo,
		tenants: tenant.NewRegistry(),
		logger:  zap.NewNop().Sugar(),
		metrics: metrics.New(),
		codecs:  engine.NewCodecRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	w, err := wal.Open(wal.Options{
		Dir: cfg.WALDir, MaxFileSize: cfg.WAL.MaxFileSize,
		SyncOnWrite: cfg.WAL.SyncOnWrite, MaxWALFiles: cfg.WAL.MaxWALFiles, Logger: s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open wal: %w", err)
	}
	s.wal = w

	cols, err := columnar.New(columnar.Options{Dir: cfg.StorageDir, BatchSize: cfg.Columnar.BatchSize, Logger: s.logger})
	if err != nil {
		return nil, fmt.Errorf("store: open columnar: %w", err)
	}
	s.cols = cols

	snaps, err := snapshot.New(snapshot.Options{
		Dir: cfg.SnapshotDir, EventThreshold: cfg.Snapshots.EventThreshold,
		TimeThreshold: cfg.TimeThreshold(), MaxSnapshotsPerEntity: cfg.Snapshots.MaxSnapshotsPerEntity,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open snapshot store: %w", err)
	}
	s.snaps = snaps

	al, err := audit.Open(audit.Options{
		Dir: cfg.AuditDir, BatchSize: cfg.Columnar.BatchSize,
		MaxFileSize: cfg.WAL.MaxFileSize, SyncOnWrite: cfg.WAL.SyncOnWrite, Logger: s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open audit log: %w", err)
	}
	s.auditLog = al

	s.compactor = compaction.New(compaction.Options{
		Dir: cfg.StorageDir, MinFilesToCompact: cfg.Compaction.MinFilesToCompact,
		SmallFileThreshold: cfg.Compaction.SmallFileThreshold, TargetFileSize: cfg.Compaction.TargetFileSize,
		MaxFileSize: cfg.Compaction.MaxFileSize, Logger: s.logger,
	})

	return s, nil
}

// Tenants returns the tenant registry, so callers (eventctl, an admin API)
// can create and inspect tenants directly.
func (s *Store) Tenants() *tenant.Registry { return s.tenants }

type walPayload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	EntityID  string          `json:"entity_id"`
	TenantID  string          `json:"tenant_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Version   int64           `json:"version"`
}

func toWALPayload(e engine.Event) ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("store: marshal event payload: %w", err)
	}
	var md json.RawMessage
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("store: marshal event metadata: %w", err)
		}
		md = b
	}
	wp := walPayload{
		ID: e.ID.String(), Type: string(e.Type), EntityID: string(e.EntityID), TenantID: string(e.TenantID),
		Payload: payload, Timestamp: e.Timestamp, Metadata: md, Version: e.Version,
	}
	return json.Marshal(wp)
}

// Ingest validates, admits, and durably appends one event to entityID's
// stream, following this model's pipeline: tenant admit → validate →
// GetOrCreate → WAL append → repository append → usage recording →
// columnar enqueue → snapshot admission check → audit.
func (s *Store) Ingest(ctx context.Context, entityID engine.EntityId, tenantID engine.TenantId, eventType engine.EventType, payload any, md engine.Metadata, expectedVersion *int64) (engine.Event, error) {
	now := time.Now().UTC()
	if s.extractor != nil {
		md = s.extractor(ctx).Merge(md)
	}
	reqID, _ := md.RequestID()

	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		s.auditFailure(tenantID, audit.ActionIngest, reqID, err)
		return engine.Event{}, err
	}
	if err := t.AdmitIngest(now); err != nil {
		s.metrics.QuotaRejections.WithLabelValues(string(tenantID), quotaNameOf(err)).Inc()
		s.auditFailure(tenantID, audit.ActionIngest, reqID, err)
		return engine.Event{}, err
	}

	event := engine.NewEvent(eventType, entityID, tenantID, payload, md)
	if err := event.Validate(); err != nil {
		s.auditFailure(tenantID, audit.ActionIngest, reqID, err)
		return engine.Event{}, err
	}

	stream, err := s.repo.GetOrCreate(ctx, entityID, tenantID)
	if err != nil {
		s.auditFailure(tenantID, audit.ActionIngest, reqID, err)
		return engine.Event{}, err
	}
	if expectedVersion != nil {
		stream.ExpectVersion(*expectedVersion)
		if *expectedVersion != stream.CurrentVersion {
			conflict := &engine.VersionConflictError{
				StreamID: string(entityID), ExpectedVersion: *expectedVersion, ActualVersion: stream.CurrentVersion,
			}
			s.auditFailure(tenantID, audit.ActionIngest, reqID, conflict)
			return engine.Event{}, conflict
		}
	}

	timer := nowTimer()

	// The version repo.AppendToStream will assign if nothing beats this
	// call to the stream's lock. Carrying it into the WAL record lets
	// durability happen before the repository mutation, per this model's
	// ingest pipeline: repo.AppendToStream remains the sole authority and
	// re-checks the guard under its own lock, so a genuine race still
	// surfaces *VersionConflictError from that call, not a false success.
	event.Version = stream.CurrentVersion + 1

	walBytes, err := toWALPayload(event)
	if err != nil {
		serErr := &engine.SerializationError{EventType: string(eventType), Err: err}
		s.auditFailure(tenantID, audit.ActionIngest, reqID, serErr)
		return engine.Event{}, serErr
	}
	fsyncStart := time.Now()
	if _, err := s.wal.Append(walBytes); err != nil {
		s.auditFailure(tenantID, audit.ActionIngest, reqID, err)
		return engine.Event{}, &engine.StorageError{Op: "wal.Append", Err: err}
	}
	s.metrics.WALFsyncLatency.Observe(time.Since(fsyncStart).Seconds())

	version, err := s.repo.AppendToStream(ctx, stream, event)
	if err != nil {
		s.auditFailure(tenantID, audit.ActionIngest, reqID, err)
		return engine.Event{}, err
	}
	event.Version = version

	t.RecordIngest(now, int64(len(walBytes)))

	if err := s.cols.Append(toColumnarRecord(event)); err != nil {
		s.logger.Errorw("store: columnar enqueue failed", "entity", entityID, "error", err)
	}

	if s.cfg.Snapshots.AutoSnapshot && s.reducer != nil {
		s.maybeSnapshot(ctx, stream)
	}

	s.metrics.IngestLatency.Observe(timer())
	s.metrics.IngestTotal.WithLabelValues("success").Inc()
	successEv := audit.New(tenantID, audit.ActionIngest, audit.System(), audit.OutcomeSuccess)
	successEv.RequestID = reqID
	s.auditLog.RecordSilently(successEv)
	return event, nil
}

func nowTimer() func() float64 {
	start := time.Now()
	return func() float64 { return time.Since(start).Seconds() }
}

func quotaNameOf(err error) string {
	var qe *engine.QuotaExceededError
	if ok := asQuotaError(err, &qe); ok {
		return qe.Quota
	}
	return "unknown"
}

func asQuotaError(err error, target **engine.QuotaExceededError) bool {
	qe, ok := err.(*engine.QuotaExceededError)
	if ok {
		*target = qe
	}
	return ok
}

func (s *Store) auditFailure(tenantID engine.TenantId, action audit.Action, reqID string, err error) {
	ev := audit.New(tenantID, action, audit.System(), audit.OutcomeFailure)
	ev.RequestID = reqID
	ev.Error = err.Error()
	s.auditLog.RecordSilently(ev)
	s.metrics.IngestTotal.WithLabelValues("failure").Inc()
}

func toColumnarRecord(e engine.Event) columnar.Record {
	payload, _ := json.Marshal(e.Payload)
	var md json.RawMessage
	if e.Metadata != nil {
		md, _ = json.Marshal(e.Metadata)
	}
	return columnar.Record{
		EventID: e.ID.String(), EventType: string(e.Type), EntityID: string(e.EntityID),
		Payload: payload, Timestamp: e.Timestamp.UnixMicro(), Metadata: md, Version: uint64(e.Version),
	}
}

// maybeSnapshot checks the admission policy and, if due, folds the
// stream's events since the last snapshot (or from the beginning) and
// persists the resulting state.
func (s *Store) maybeSnapshot(ctx context.Context, stream *engine.Stream) {
	latest, found, err := s.snaps.Latest(ctx, stream.StreamID, time.Time{})
	if err != nil {
		s.logger.Warnw("store: snapshot lookup failed", "entity", stream.StreamID, "error", err)
		return
	}
	now := time.Now().UTC()
	if !s.snaps.ShouldSnapshot(latest, found, stream.CurrentVersion, now) {
		return
	}

	// Durable backends hand back a stream holding only the event just
	// appended, so the fold reads the full stream from the repository.
	full, err := s.repo.LoadStream(ctx, stream.StreamID)
	if err != nil {
		s.logger.Warnw("store: snapshot stream load failed", "entity", stream.StreamID, "error", err)
		return
	}

	state := latest.State
	fromVersion := latest.EventCount
	for _, e := range full.Events {
		if e.Version <= fromVersion {
			continue
		}
		next, err := s.reducer(state, e)
		if err != nil {
			s.logger.Warnw("store: reducer failed during snapshot fold", "entity", stream.StreamID, "error", err)
			return
		}
		state = next
	}

	if _, err := s.snaps.Save(ctx, stream.StreamID, state, now, full.CurrentVersion, engine.SnapshotAutomatic); err != nil {
		s.logger.Warnw("store: snapshot save failed", "entity", stream.StreamID, "error", err)
		return
	}
	s.metrics.SnapshotsTaken.WithLabelValues(string(engine.SnapshotAutomatic)).Inc()
}

// QueryParams filters a Query call. Zero values mean "no filter" for that
// dimension.
type QueryParams struct {
	EntityID  engine.EntityId
	EventType engine.EventType
	Since     time.Time
	Until     time.Time
	AsOf      time.Time
	Limit     int
	// RequestID, if set, is mirrored onto the audit.Event recorded for
	// this query so the two can be correlated later.
	RequestID string
}

// Query returns events for one entity matching params, admission-gated by
// the owning tenant's queries-per-hour quota.
func (s *Store) Query(ctx context.Context, tenantID engine.TenantId, params QueryParams) ([]engine.Event, error) {
	timer := nowTimer()
	defer func() { s.metrics.QueryLatency.Observe(timer()) }()

	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := t.AdmitQuery(now); err != nil {
		s.metrics.QuotaRejections.WithLabelValues(string(tenantID), quotaNameOf(err)).Inc()
		return nil, err
	}

	stream, err := s.repo.LoadStream(ctx, params.EntityID)
	if err != nil {
		return nil, err
	}
	if stream.TenantID != tenantID {
		return nil, &engine.EntityNotFoundError{StreamID: string(params.EntityID)}
	}

	out := make([]engine.Event, 0, len(stream.Events))
	for _, e := range stream.Events {
		if params.EventType != "" && e.Type != params.EventType {
			continue
		}
		if !params.Since.IsZero() && e.Timestamp.Before(params.Since) {
			continue
		}
		if !params.Until.IsZero() && e.Timestamp.After(params.Until) {
			continue
		}
		if !params.AsOf.IsZero() && e.Timestamp.After(params.AsOf) {
			continue
		}
		out = append(out, e)
		if params.Limit > 0 && len(out) >= params.Limit {
			break
		}
	}

	t.RecordQuery(now)
	queryEv := audit.New(tenantID, audit.ActionQuery, audit.System(), audit.OutcomeSuccess)
	queryEv.RequestID = params.RequestID
	s.auditLog.RecordSilently(queryEv)
	return out, nil
}

// ReconstructState folds entityID's events (starting from the closest
// qualifying snapshot, if any) up to asOf and returns the resulting state.
// A zero asOf means "up to the latest event".
func (s *Store) ReconstructState(ctx context.Context, entityID engine.EntityId, asOf time.Time) ([]byte, int64, error) {
	if s.reducer == nil {
		return nil, 0, fmt.Errorf("store: ReconstructState requires WithReducer")
	}
	stream, err := s.repo.LoadStream(ctx, entityID)
	if err != nil {
		return nil, 0, err
	}

	latest, found, err := s.snaps.Latest(ctx, entityID, asOf)
	if err != nil {
		return nil, 0, err
	}
	state := latest.State
	fromVersion := int64(0)
	if found {
		fromVersion = latest.EventCount
	}

	var version int64 = fromVersion
	for _, e := range stream.Events {
		if e.Version <= fromVersion {
			continue
		}
		if !asOf.IsZero() && e.Timestamp.After(asOf) {
			break
		}
		next, err := s.reducer(state, e)
		if err != nil {
			return nil, 0, fmt.Errorf("store: reducer failed at version %d: %w", e.Version, err)
		}
		state = next
		version = e.Version
	}
	return state, version, nil
}

// RecoverStats summarizes one Recover run.
type RecoverStats struct {
	ScannedRecords int // valid WAL records read back
	DroppedRecords int // records the WAL rejected (checksum/parse failure) or whose payload failed to decode into an event
	Replayed       int // records re-applied to the repository
	AlreadyDurable int // records whose version the repository already held
}

// Recover replays the write-ahead log's tail into the repository,
// following this model's recovery algorithm: WAL.scan → replay into the
// repository → reconcile against what is already durable → resume
// accepting writes. It is idempotent — running it twice against the same
// WAL and repository state replays nothing the second time — because a
// durable repository backend (pgrepo, lsmrepo) already holds every event
// whose version the WAL also names, and a volatile one (memrepo) starts
// empty so every recovered record is replayed exactly once.
//
// Call Recover once after New, before accepting ingest traffic, whenever
// the repository backend cannot itself guarantee it survived the last
// process lifetime intact (memrepo always; a durable backend only after
// an unclean shutdown you want to double-check).
func (s *Store) Recover(ctx context.Context) (RecoverStats, error) {
	records, dropped, err := s.wal.Recover()
	if err != nil {
		return RecoverStats{DroppedRecords: dropped}, fmt.Errorf("store: wal recover: %w", err)
	}
	stats := RecoverStats{ScannedRecords: len(records), DroppedRecords: dropped}

	for _, rec := range records {
		var wp walPayload
		if err := json.Unmarshal(rec.Payload, &wp); err != nil {
			stats.DroppedRecords++
			continue
		}
		id, err := uuid.Parse(wp.ID)
		if err != nil {
			stats.DroppedRecords++
			continue
		}
		entityID, err := engine.NewEntityId(wp.EntityID)
		if err != nil {
			stats.DroppedRecords++
			continue
		}
		tenantID, err := engine.NewTenantId(wp.TenantID)
		if err != nil {
			stats.DroppedRecords++
			continue
		}
		eventType, err := engine.NewEventType(wp.Type)
		if err != nil {
			stats.DroppedRecords++
			continue
		}
		payload, err := s.codecs.Decode(eventType, wp.Payload)
		if err != nil {
			stats.DroppedRecords++
			continue
		}
		var md engine.Metadata
		if len(wp.Metadata) > 0 {
			if err := json.Unmarshal(wp.Metadata, &md); err != nil {
				stats.DroppedRecords++
				continue
			}
		}
		event := engine.Event{
			ID: id, Type: eventType, EntityID: entityID, TenantID: tenantID,
			Payload: payload, Timestamp: wp.Timestamp, Metadata: md, Version: wp.Version,
		}

		stream, err := s.repo.GetOrCreate(ctx, entityID, tenantID)
		if err != nil {
			return stats, fmt.Errorf("store: recover get-or-create %s: %w", entityID, err)
		}
		if stream.CurrentVersion >= event.Version {
			stats.AlreadyDurable++
			continue
		}
		stream.ExpectVersion(event.Version - 1)
		if _, err := s.repo.AppendToStream(ctx, stream, event); err != nil {
			return stats, fmt.Errorf("store: recover append %s: %w", entityID, err)
		}
		if err := s.cols.Append(toColumnarRecord(event)); err != nil {
			s.logger.Errorw("store: columnar enqueue during recovery failed", "entity", entityID, "error", err)
		}
		stats.Replayed++
	}

	ev := audit.New("", audit.ActionRecovery, audit.System(), audit.OutcomeSuccess)
	ev.Error = fmt.Sprintf("scanned=%d replayed=%d already_durable=%d dropped=%d", stats.ScannedRecords, stats.Replayed, stats.AlreadyDurable, stats.DroppedRecords)
	s.auditLog.RecordSilently(ev)
	return stats, nil
}

// RunCompaction runs one compaction pass and audits it, regardless of
// whether the caller or the background scheduler triggered it.
func (s *Store) RunCompaction(ctx context.Context, strategy compaction.Strategy) (compaction.Stats, error) {
	start := time.Now()
	stats, err := s.compactor.Compact(strategy, start)
	s.metrics.CompactionDuration.Observe(time.Since(start).Seconds())
	s.metrics.CompactionFilesMoved.Add(float64(stats.FilesBefore))

	outcome := audit.OutcomeSuccess
	errMsg := ""
	if err != nil {
		outcome = audit.OutcomeFailure
		errMsg = err.Error()
	}
	ev := audit.New("", audit.ActionCompaction, audit.System(), outcome)
	ev.Error = errMsg
	s.auditLog.RecordSilently(ev)
	return stats, err
}

// StartScheduler starts the cron jobs config.Config names: background
// compaction at CompactionInterval if AutoCompact is set. It is idempotent
// and safe to call once after New.
func (s *Store) StartScheduler(ctx context.Context) error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		return nil
	}
	if !s.cfg.Compaction.AutoCompact || s.cfg.CompactionInterval() <= 0 {
		return nil
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.CompactionInterval())
	_, err := c.AddFunc(spec, func() {
		if _, err := s.RunCompaction(ctx, compaction.Strategy(s.cfg.Compaction.Strategy)); err != nil {
			s.logger.Errorw("store: scheduled compaction failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("store: schedule compaction: %w", err)
	}
	c.Start()
	s.cron = c
	return nil
}

// VerifyGapless delegates to the repository's gapless check and sorts the
// result for stable reporting. It records no audit event.
func (s *Store) VerifyGapless(ctx context.Context) ([]engine.EntityId, error) {
	bad, err := s.repo.VerifyGapless(ctx)
	if err == nil {
		sort.Slice(bad, func(i, j int) bool { return bad[i] < bad[j] })
	}
	return bad, err
}

// Close stops the scheduler (if running) and closes every owned component.
func (s *Store) Close() error {
	s.cronMu.Lock()
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.cronMu.Unlock()

	var firstErr error
	for _, closer := range []func() error{s.auditLog.Close, s.snaps.Close, s.wal.Close, s.repo.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
