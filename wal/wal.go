// Package wal implements the engine's write-ahead log: the durability
// boundary for ingest. An Append call returns success only after the
// record's bytes are on stable storage.
//
// The on-disk format is newline-delimited JSON records, one segment file
// per rotation, named wal-<16-hex-sequence>.log. The record
// shape is payload-agnostic: callers hand Append a pre-serialized payload
// (package store serializes an engine.Event; package audit serializes
// an audit.Event) so both primary and audit logs share one durability
// mechanism.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// Record is one durable WAL entry. Sequence is monotone and global across
// every stream; Checksum is the CRC32 (IEEE) of the other three fields
// joined as "<sequence>|<RFC3339Nano UTC timestamp>|<payload bytes>", a
// fixed encoding that is deterministic across languages.
type Record struct {
	Sequence     uint64          `json:"sequence"`
	WALTimestamp time.Time       `json:"wal_timestamp"`
	Payload      json.RawMessage `json:"event"`
	Checksum     uint32          `json:"checksum"`
}

func checksum(seq uint64, ts time.Time, payload json.RawMessage) uint32 {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%s", seq, ts.UTC().Format(time.RFC3339Nano), string(payload))
	return crc32.ChecksumIEEE([]byte(b.String()))
}

// Options configures a Log.
type Options struct {
	Dir          string
	MaxFileSize  int64 // rotate the active segment once it reaches this size
	SyncOnWrite  bool  // fsync after every Append
	MaxWALFiles  int   // prune beyond this many segments, oldest first
	Logger       *zap.SugaredLogger
}

// Log is the single-writer append-only segment chain. It serializes all
// writers on the active segment: WAL locking is coarse because the
// operation it guards is already I/O-bound.
type Log struct {
	opt Options

	mu       sync.Mutex
	file     *os.File
	w        *bufio.Writer
	flk      *flock.Flock
	segSeq   uint64 // sequence at which the active segment was opened
	curSize  int64
	nextSeq  uint64
	segments []string // known segment paths, oldest first
}

// Open creates the WAL directory if needed, opens (or creates) the active
// segment, and readies the log for Append. It does not scan for recovery;
// call Recover explicitly during startup recovery flow.
func Open(opt Options) (*Log, error) {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(opt.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir %s: %w", opt.Dir, err)
	}
	l := &Log{opt: opt}
	segs, err := l.listSegments()
	if err != nil {
		return nil, err
	}
	l.segments = segs
	if len(segs) == 0 {
		if err := l.openSegment(0); err != nil {
			return nil, err
		}
	} else {
		last := segs[len(segs)-1]
		seq, err := sequenceFromName(last)
		if err != nil {
			return nil, err
		}
		if err := l.reopenSegment(last, seq); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Log) segmentName(seq uint64) string {
	return filepath.Join(l.opt.Dir, fmt.Sprintf("wal-%016x.log", seq))
}

func sequenceFromName(path string) (uint64, error) {
	base := filepath.Base(path)
	base = strings.TrimPrefix(base, "wal-")
	base = strings.TrimSuffix(base, ".log")
	seq, err := strconv.ParseUint(base, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("wal: malformed segment name %s: %w", path, err)
	}
	return seq, nil
}

func (l *Log) listSegments() ([]string, error) {
	entries, err := os.ReadDir(l.opt.Dir)
	if err != nil {
		return nil, fmt.Errorf("wal: readdir %s: %w", l.opt.Dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "wal-") && strings.HasSuffix(e.Name(), ".log") {
			out = append(out, filepath.Join(l.opt.Dir, e.Name()))
		}
	}
	sort.Strings(out) // hex-padded names sort in sequence order
	return out, nil
}

func (l *Log) openSegment(seq uint64) error {
	path := l.segmentName(seq)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open segment %s: %w", path, err)
	}
	return l.attachSegment(f, path, seq, 0)
}

func (l *Log) reopenSegment(path string, seq uint64) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: reopen segment %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("wal: stat segment %s: %w", path, err)
	}
	return l.attachSegment(f, path, seq, info.Size())
}

func (l *Log) attachSegment(f *os.File, path string, seq uint64, size int64) error {
	flk := flock.New(path + ".lock")
	locked, err := flk.TryLock()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("wal: flock %s: %w", path, err)
	}
	if !locked {
		_ = f.Close()
		return fmt.Errorf("wal: segment %s is locked by another process", path)
	}
	l.file = f
	l.w = bufio.NewWriter(f)
	l.flk = flk
	l.segSeq = seq
	l.curSize = size
	return nil
}

// Append serializes a Record around payload, appends it to the active
// segment, and flushes+fsyncs when SyncOnWrite is set (the default for
// production use; tests may disable it to simulate a pre-crash window).
// It returns the globally-monotone sequence assigned to the record.
func (l *Log) Append(payload json.RawMessage) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSeq++
	seq := l.nextSeq
	ts := time.Now().UTC()
	rec := Record{
		Sequence:     seq,
		WALTimestamp: ts,
		Payload:      payload,
		Checksum:     checksum(seq, ts, payload),
	}

	line, err := json.Marshal(rec)
	if err != nil {
		l.nextSeq--
		return 0, fmt.Errorf("wal: marshal record: %w", err)
	}
	line = append(line, '\n')

	n, err := l.w.Write(line)
	if err != nil {
		l.nextSeq--
		return 0, &walStorageError{op: "append", err: err}
	}
	l.curSize += int64(n)

	if l.opt.SyncOnWrite {
		if err := l.w.Flush(); err != nil {
			return 0, &walStorageError{op: "flush", err: err}
		}
		if err := l.file.Sync(); err != nil {
			return 0, &walStorageError{op: "fsync", err: err}
		}
	}

	if l.opt.MaxFileSize > 0 && l.curSize >= l.opt.MaxFileSize {
		if err := l.rotateLocked(); err != nil {
			return seq, err
		}
	}
	return seq, nil
}

// rotateLocked closes the current segment and opens a new one named by
// the current sequence counter. Caller must hold l.mu.
func (l *Log) rotateLocked() error {
	if err := l.w.Flush(); err != nil {
		return &walStorageError{op: "rotate-flush", err: err}
	}
	if err := l.file.Sync(); err != nil {
		return &walStorageError{op: "rotate-fsync", err: err}
	}
	_ = l.flk.Unlock()
	if err := l.file.Close(); err != nil {
		return &walStorageError{op: "rotate-close", err: err}
	}
	// The active segment is already listed when Open reopened it or an
	// earlier rotation opened it; only a segment that Open or Truncate
	// created fresh is still missing from the list.
	if n := len(l.segments); n == 0 || l.segments[n-1] != l.segmentName(l.segSeq) {
		l.segments = append(l.segments, l.segmentName(l.segSeq))
	}

	if err := l.openSegment(l.nextSeq); err != nil {
		return err
	}
	l.segments = append(l.segments, l.segmentName(l.nextSeq))
	return l.pruneLocked()
}

// Rotate forces a segment rotation regardless of current size.
func (l *Log) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

func (l *Log) pruneLocked() error {
	if l.opt.MaxWALFiles <= 0 || len(l.segments) <= l.opt.MaxWALFiles {
		return nil
	}
	excess := len(l.segments) - l.opt.MaxWALFiles
	for i := 0; i < excess; i++ {
		path := l.segments[i]
		if path == l.segmentName(l.segSeq) {
			continue // never prune the active segment
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return &walStorageError{op: "prune", err: err}
		}
		_ = os.Remove(path + ".lock")
	}
	l.segments = l.segments[excess:]
	return nil
}

// RecoveredRecord pairs a successfully-validated Record with its raw
// payload for the caller to unmarshal into its own domain type.
type RecoveredRecord struct {
	Sequence     uint64
	WALTimestamp time.Time
	Payload      json.RawMessage
}

// Recover scans every segment in filename (= sequence) order, drops
// records whose checksum disagrees or whose JSON fails to parse (counting
// them), and returns the valid records in order. It also resets the
// in-memory sequence counter to the maximum observed sequence, so the
// next Append continues the global ordering.
//
// A bad record is dropped and counted wherever it sits: a torn write at
// the end of the last segment and a corrupt record in the middle of a
// segment are treated alike, and the valid records after it are still
// returned. Recover returns an error only when a segment cannot be opened
// or scanned.
func (l *Log) Recover() ([]RecoveredRecord, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	segs, err := l.listSegments()
	if err != nil {
		return nil, 0, err
	}

	var out []RecoveredRecord
	var dropped int
	var maxSeq uint64

	for _, path := range segs {
		recs, drops, err := scanSegment(path)
		if err != nil {
			return nil, dropped, err
		}
		dropped += drops
		for _, r := range recs {
			out = append(out, r)
			if r.Sequence > maxSeq {
				maxSeq = r.Sequence
			}
		}
	}

	l.nextSeq = maxSeq
	return out, dropped, nil
}

func scanSegment(path string) ([]RecoveredRecord, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("wal: open segment %s for recovery: %w", path, err)
	}
	defer f.Close()

	var out []RecoveredRecord
	var dropped int

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			dropped++
			continue
		}
		if checksum(rec.Sequence, rec.WALTimestamp, rec.Payload) != rec.Checksum {
			dropped++
			continue
		}
		out = append(out, RecoveredRecord{
			Sequence:     rec.Sequence,
			WALTimestamp: rec.WALTimestamp,
			Payload:      rec.Payload,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, dropped, fmt.Errorf("wal: scan segment %s: %w", path, err)
	}
	return out, dropped, nil
}

// Truncate removes every segment and resets the sequence counter to 0.
// Called after a durable checkpoint of the columnar store.
func (l *Log) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Flush(); err == nil {
		_ = l.file.Sync()
	}
	_ = l.flk.Unlock()
	_ = l.file.Close()

	segs, err := l.listSegments()
	if err != nil {
		return err
	}
	for _, path := range segs {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return &walStorageError{op: "truncate", err: err}
		}
		_ = os.Remove(path + ".lock")
	}
	l.segments = nil
	l.nextSeq = 0
	return l.openSegment(0)
}

// Close flushes and closes the active segment and releases its lock.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	_ = l.flk.Unlock()
	return l.file.Close()
}

type walStorageError struct {
	op  string
	err error
}

func (e *walStorageError) Error() string { return fmt.Sprintf("wal: %s: %v", e.op, e.err) }
func (e *walStorageError) Unwrap() error { return e.err }
