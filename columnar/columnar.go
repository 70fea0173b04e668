// Package columnar implements the engine's long-term batched persistence
// layer: events accumulate in a bounded in-memory batch and
// flush to a self-describing, compressed, column-oriented file once the
// batch threshold is reached.
package columnar

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	"go.uber.org/zap"
)

// Record is the columnar representation of one Event: event_id, event_type,
// entity_id, payload (JSON), timestamp (µs), metadata (JSON|null), version.
type Record struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	EntityID  string          `json:"entity_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"` // microseconds since epoch, UTC
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Version   uint64          `json:"version"`
}

// stats carries per-file row-group statistics so range predicates can
// skip files without decompressing their body.
type stats struct {
	Count       int    `json:"count"`
	MinTS       int64  `json:"min_ts"`
	MaxTS       int64  `json:"max_ts"`
	MinEntityID string `json:"min_entity_id"`
	MaxEntityID string `json:"max_entity_id"`
}

type fileBody struct {
	Columns struct {
		EventID   []string          `json:"event_id"`
		EventType []string          `json:"event_type"`
		EntityID  []string          `json:"entity_id"`
		Payload   []json.RawMessage `json:"payload"`
		Timestamp []int64           `json:"timestamp"`
		Metadata  []json.RawMessage `json:"metadata"`
		Version   []uint64          `json:"version"`
	} `json:"columns"`
}

const extension = "evc" // event-columnar

// Options configures a Store.
type Options struct {
	Dir       string
	BatchSize int // default 1000
	Logger    *zap.SugaredLogger
}

// Store is the batched, flush-on-threshold columnar writer. Its lock is
// coarse (covers the active batch and flush) and is acceptable because
// both operations are already I/O- or copy-bound.
type Store struct {
	opt   Options
	mu    sync.Mutex
	batch []Record
}

// New creates the store's directory if needed and returns a Store with an
// empty active batch.
func New(opt Options) (*Store, error) {
	if opt.BatchSize <= 0 {
		opt.BatchSize = 1000
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(opt.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("columnar: mkdir %s: %w", opt.Dir, err)
	}
	return &Store{opt: opt}, nil
}

// Append pushes rec onto the active batch, auto-flushing once BatchSize
// is reached.
func (s *Store) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = append(s.batch, rec)
	if len(s.batch) >= s.opt.BatchSize {
		return s.flushLocked()
	}
	return nil
}

// Flush writes the active batch (if non-empty) as a new file and clears
// it. Safe to call with an empty batch (a no-op).
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if len(s.batch) == 0 {
		return nil
	}
	name := fmt.Sprintf("events-%s.%s", utcFileStamp(time.Now()), extension)
	path := filepath.Join(s.opt.Dir, name)
	if err := writeFile(path, s.batch); err != nil {
		return err
	}
	s.opt.Logger.Infow("columnar: flushed batch", "file", name, "events", len(s.batch))
	s.batch = nil
	return nil
}

func utcFileStamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s-%09d", t.Format("20060102-150405"), t.Nanosecond())
}

// writeFile serializes records into column arrays, computes stats,
// snappy-compresses the body, and writes a length-prefixed
// [statsLen][stats JSON][compressed body] file. Used by both Store and
// Compactor output, so compacted files share the exact same schema.
func writeFile(path string, records []Record) error {
	var body fileBody
	st := stats{Count: len(records)}
	for i, r := range records {
		body.Columns.EventID = append(body.Columns.EventID, r.EventID)
		body.Columns.EventType = append(body.Columns.EventType, r.EventType)
		body.Columns.EntityID = append(body.Columns.EntityID, r.EntityID)
		body.Columns.Payload = append(body.Columns.Payload, r.Payload)
		body.Columns.Timestamp = append(body.Columns.Timestamp, r.Timestamp)
		body.Columns.Metadata = append(body.Columns.Metadata, r.Metadata)
		body.Columns.Version = append(body.Columns.Version, r.Version)

		if i == 0 || r.Timestamp < st.MinTS {
			st.MinTS = r.Timestamp
		}
		if i == 0 || r.Timestamp > st.MaxTS {
			st.MaxTS = r.Timestamp
		}
		if i == 0 || r.EntityID < st.MinEntityID {
			st.MinEntityID = r.EntityID
		}
		if i == 0 || r.EntityID > st.MaxEntityID {
			st.MaxEntityID = r.EntityID
		}
	}

	statsJSON, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("columnar: marshal stats: %w", err)
	}
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("columnar: marshal body: %w", err)
	}
	compressed := snappy.Encode(nil, bodyJSON)

	var out bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(statsJSON)))
	out.Write(lenBuf[:])
	out.Write(statsJSON)
	out.Write(compressed)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("columnar: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("columnar: rename %s: %w", tmp, err)
	}
	return nil
}

// FileStats returns the row-group statistics for path without
// decompressing its body, letting callers skip files whose range cannot
// match a query predicate.
func FileStats(path string) (count int, minTS, maxTS int64, minEntity, maxEntity string, err error) {
	st, _, err := readStatsAndBody(path, false)
	if err != nil {
		return 0, 0, 0, "", "", err
	}
	return st.Count, st.MinTS, st.MaxTS, st.MinEntityID, st.MaxEntityID, nil
}

func readStatsAndBody(path string, wantBody bool) (stats, []Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return stats{}, nil, fmt.Errorf("columnar: read %s: %w", path, err)
	}
	if len(data) < 4 {
		return stats{}, nil, fmt.Errorf("columnar: %s: truncated header", path)
	}
	statsLen := binary.BigEndian.Uint32(data[:4])
	if uint32(len(data)) < 4+statsLen {
		return stats{}, nil, fmt.Errorf("columnar: %s: truncated stats", path)
	}
	var st stats
	if err := json.Unmarshal(data[4:4+statsLen], &st); err != nil {
		return stats{}, nil, fmt.Errorf("columnar: %s: corrupt stats: %w", path, err)
	}
	if !wantBody {
		return st, nil, nil
	}

	compressed := data[4+statsLen:]
	bodyJSON, err := snappy.Decode(nil, compressed)
	if err != nil {
		return stats{}, nil, fmt.Errorf("columnar: %s: corrupt body: %w", path, err)
	}
	var body fileBody
	if err := json.Unmarshal(bodyJSON, &body); err != nil {
		return stats{}, nil, fmt.Errorf("columnar: %s: corrupt body json: %w", path, err)
	}

	records := make([]Record, st.Count)
	for i := 0; i < st.Count; i++ {
		records[i] = Record{
			EventID:   at(body.Columns.EventID, i),
			EventType: at(body.Columns.EventType, i),
			EntityID:  at(body.Columns.EntityID, i),
			Payload:   atRaw(body.Columns.Payload, i),
			Timestamp: atInt(body.Columns.Timestamp, i),
			Metadata:  atRaw(body.Columns.Metadata, i),
			Version:   atUint(body.Columns.Version, i),
		}
	}
	return st, records, nil
}

func at(a []string, i int) string {
	if i < len(a) {
		return a[i]
	}
	return ""
}
func atRaw(a []json.RawMessage, i int) json.RawMessage {
	if i < len(a) {
		return a[i]
	}
	return nil
}
func atInt(a []int64, i int) int64 {
	if i < len(a) {
		return a[i]
	}
	return 0
}
func atUint(a []uint64, i int) uint64 {
	if i < len(a) {
		return a[i]
	}
	return 0
}

// ReadFile loads every record from one columnar file, in on-disk order.
func ReadFile(path string) ([]Record, error) {
	_, records, err := readStatsAndBody(path, true)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListFiles returns the store's event files in name order. Compactor
// output (events-compacted-<UTC>.<ext>, same schema) is included: it is a
// first-class event file in its own right. Name order is time order within
// each prefix; every events-compacted- file sorts after every
// events-<UTC> file.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("columnar: readdir %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "events-") && strings.HasSuffix(e.Name(), "."+extension) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadAll reads every file in the store's directory in ListFiles order,
// producing events sorted by file then by row within file. A corrupt file
// aborts the load entirely — callers should never see a silently truncated
// result set.
func (s *Store) LoadAll() ([]Record, error) {
	files, err := ListFiles(s.opt.Dir)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, f := range files {
		recs, err := ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("columnar: corrupt file %s: %w", f, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// Extension returns the file extension used for event and compacted files.
func Extension() string { return extension }

// WriteCompactedFile is used by package compaction to write its output
// with the exact schema Store.Flush produces, named with the
// events-compacted-<UTC>.<ext> prefix.
func WriteCompactedFile(dir string, records []Record, at time.Time) (string, error) {
	name := fmt.Sprintf("events-compacted-%s.%s", utcFileStamp(at), extension)
	path := filepath.Join(dir, name)
	if err := writeFile(path, records); err != nil {
		return "", err
	}
	return path, nil
}
