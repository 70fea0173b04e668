// Package snapshot implements the engine's per-entity state checkpoint
// layer, bounding state-reconstruction cost to the events
// since the last qualifying snapshot. It generalizes a
// single-snapshot-per-stream SaveSnapshot/LoadSnapshot pair
// into a bounded, ordered history per entity.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	engine "github.com/eventengine/eventengine"
)

// Options configures a Store.
type Options struct {
	Dir                 string
	EventThreshold      int64         // admit a snapshot once this many new events have accrued
	TimeThreshold       time.Duration // ...or this much time has passed with >=1 new event
	MaxSnapshotsPerEntity int         // retention: oldest pruned first
}

type record struct {
	ID         uuid.UUID           `json:"id"`
	EntityID   string              `json:"entity_id"`
	State      json.RawMessage     `json:"state"`
	AsOf       time.Time           `json:"as_of"`
	EventCount int64               `json:"event_count"`
	CreatedAt  time.Time           `json:"created_at"`
	Type       engine.SnapshotType `json:"snapshot_type"`
}

// Store persists snapshots as one file per snapshot under
// <dir>/<entity-id>/<unix-nano>-<id>.json, which keeps directory listing
// naturally ordered by creation time per entity.
type Store struct {
	opt Options
	mu  sync.Mutex
}

// New creates the snapshot root directory and returns a Store.
func New(opt Options) (*Store, error) {
	if opt.MaxSnapshotsPerEntity <= 0 {
		opt.MaxSnapshotsPerEntity = 3
	}
	if err := os.MkdirAll(opt.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: mkdir %s: %w", opt.Dir, err)
	}
	return &Store{opt: opt}, nil
}

func entityDir(root string, entityID engine.EntityId) string {
	return filepath.Join(root, sanitize(string(entityID)))
}

// sanitize keeps entity ids that happen to contain path separators from
// escaping the snapshot root.
func sanitize(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
}

// Save persists a new snapshot for entityID and prunes beyond
// MaxSnapshotsPerEntity, oldest first.
func (s *Store) Save(ctx context.Context, entityID engine.EntityId, state []byte, asOf time.Time, eventCount int64, typ engine.SnapshotType) (engine.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := entityDir(s.opt.Dir, entityID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return engine.Snapshot{}, fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}

	id := uuid.New()
	now := time.Now().UTC()
	rec := record{
		ID:         id,
		EntityID:   string(entityID),
		State:      json.RawMessage(state),
		AsOf:       asOf.UTC(),
		EventCount: eventCount,
		CreatedAt:  now,
		Type:       typ,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("snapshot: marshal: %w", err)
	}

	name := fmt.Sprintf("%020d-%s.json", now.UnixNano(), id.String())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return engine.Snapshot{}, fmt.Errorf("snapshot: write %s: %w", path, err)
	}

	if err := s.pruneLocked(dir); err != nil {
		return engine.Snapshot{}, err
	}

	return engine.Snapshot{
		ID:         id,
		EntityID:   entityID,
		State:      state,
		AsOf:       rec.AsOf,
		EventCount: eventCount,
		CreatedAt:  now,
		Type:       typ,
		SizeBytes:  int64(len(state)),
	}, nil
}

func (s *Store) pruneLocked(dir string) error {
	files, err := listSorted(dir)
	if err != nil {
		return err
	}
	maxN := s.opt.MaxSnapshotsPerEntity
	if len(files) <= maxN {
		return nil
	}
	for _, f := range files[:len(files)-maxN] {
		if err := os.Remove(filepath.Join(dir, f)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("snapshot: prune %s: %w", f, err)
		}
	}
	return nil
}

func listSorted(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: readdir %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out) // unix-nano prefix sorts chronologically
	return out, nil
}

// Latest returns the most recent snapshot for entityID with
// AsOf <= asOf (or the overall latest if asOf is the zero Time).
func (s *Store) Latest(ctx context.Context, entityID engine.EntityId, asOf time.Time) (engine.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := entityDir(s.opt.Dir, entityID)
	files, err := listSorted(dir)
	if err != nil {
		return engine.Snapshot{}, false, err
	}

	var best *record
	for i := len(files) - 1; i >= 0; i-- {
		data, err := os.ReadFile(filepath.Join(dir, files[i]))
		if err != nil {
			return engine.Snapshot{}, false, fmt.Errorf("snapshot: read %s: %w", files[i], err)
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return engine.Snapshot{}, false, fmt.Errorf("snapshot: corrupt %s: %w", files[i], err)
		}
		if asOf.IsZero() || !rec.AsOf.After(asOf) {
			best = &rec
			break
		}
	}
	if best == nil {
		return engine.Snapshot{}, false, nil
	}
	return engine.Snapshot{
		ID:         best.ID,
		EntityID:   entityID,
		State:      best.State,
		AsOf:       best.AsOf,
		EventCount: best.EventCount,
		CreatedAt:  best.CreatedAt,
		Type:       best.Type,
		SizeBytes:  int64(len(best.State)),
	}, true, nil
}

// ShouldSnapshot implements the automatic-admission policy: create a
// snapshot when either enough events have accrued since the last one, or
// enough time has passed with at least one new event.
func (s *Store) ShouldSnapshot(latest engine.Snapshot, found bool, currentVersion int64, now time.Time) bool {
	if !found {
		return currentVersion > 0
	}
	newEvents := currentVersion - latest.EventCount
	if newEvents <= 0 {
		return false
	}
	if s.opt.EventThreshold > 0 && newEvents >= s.opt.EventThreshold {
		return true
	}
	if s.opt.TimeThreshold > 0 && now.Sub(latest.AsOf) >= s.opt.TimeThreshold {
		return true
	}
	return false
}

// Close is a no-op; the store keeps no resources beyond the filesystem.
func (s *Store) Close() error { return nil }

var _ engine.SnapshotStore = (*Store)(nil)
