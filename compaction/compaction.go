// Package compaction merges small or old columnar files into larger ones
// without altering their contents. Selection strategies are a closed set:
// size-based, time-based, and full.
//
// Compact reads only the events belonging to the selected files — never
// the whole store — avoiding the memory blowup a naive full-store scan
// would cause once a tenant's columnar footprint grows past a single
// process's comfortable working set.
package compaction

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eventengine/eventengine/columnar"
)

// Strategy selects which files are eligible for compaction.
type Strategy string

const (
	StrategySize Strategy = "size"
	StrategyTime Strategy = "time"
	StrategyFull Strategy = "full"
)

// Options configures a Compactor.
type Options struct {
	Dir               string
	MinFilesToCompact int           // size strategy: minimum qualifying files to act
	SmallFileThreshold int64        // size strategy: files below this many bytes qualify
	AgeThreshold      time.Duration // time strategy: files older than this qualify
	TargetFileSize    int64         // output files aim for this size...
	MaxFileSize       int64         // ...and never exceed this size
	Logger            *zap.SugaredLogger
}

// Stats summarizes one Compact run.
type Stats struct {
	FilesBefore  int
	FilesAfter   int
	BytesBefore  int64
	BytesAfter   int64
	EventsMoved  int
	Duration     time.Duration
}

// Compactor runs compaction under a single mutex of its own, so two Compact
// runs never overlap. It does not take columnar.Store's lock: a flush can
// add a file to the directory during a run, and a file written after
// selection is left as it is. Ingest is unaffected because it appends to
// columnar.Store's in-memory batch under that store's own lock.
type Compactor struct {
	opt Options
	mu  sync.Mutex
}

// New returns a Compactor for opt, substituting a no-op logger when
// opt.Logger is nil. It does not validate opt.
func New(opt Options) *Compactor {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop().Sugar()
	}
	return &Compactor{opt: opt}
}

type fileInfo struct {
	path    string
	size    int64
	modTime time.Time
}

func (c *Compactor) listFileInfo() ([]fileInfo, error) {
	paths, err := columnar.ListFiles(c.opt.Dir)
	if err != nil {
		return nil, err
	}
	out := make([]fileInfo, 0, len(paths))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("compaction: stat %s: %w", p, err)
		}
		out = append(out, fileInfo{path: p, size: st.Size(), modTime: st.ModTime()})
	}
	return out, nil
}

// Select returns the files strategy picks from the store's directory,
// without reading any of their contents.
func (c *Compactor) Select(strategy Strategy, now time.Time) ([]string, error) {
	files, err := c.listFileInfo()
	if err != nil {
		return nil, err
	}

	switch strategy {
	case StrategyFull:
		out := make([]string, len(files))
		for i, f := range files {
			out[i] = f.path
		}
		return out, nil

	case StrategySize:
		var small []fileInfo
		for _, f := range files {
			if f.size < c.opt.SmallFileThreshold {
				small = append(small, f)
			}
		}
		if len(small) < c.opt.MinFilesToCompact {
			return nil, nil
		}
		out := make([]string, len(small))
		for i, f := range small {
			out[i] = f.path
		}
		return out, nil

	case StrategyTime:
		var old []string
		cutoff := now.Add(-c.opt.AgeThreshold)
		for _, f := range files {
			if f.modTime.Before(cutoff) {
				old = append(old, f.path)
			}
		}
		return old, nil

	default:
		return nil, fmt.Errorf("compaction: unknown strategy %q", strategy)
	}
}

// Compact selects files per strategy, reads only their events into
// memory, stable-sorts by timestamp, writes new files up to
// TargetFileSize (never exceeding MaxFileSize), and atomically deletes
// the originals under the compaction mutex. It is idempotent: re-running
// on the same set of inputs yields an equivalent set of outputs, and it
// never loses or duplicates an event.
func (c *Compactor) Compact(strategy Strategy, now time.Time) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	selected, err := c.Select(strategy, now)
	if err != nil {
		return Stats{}, err
	}
	if len(selected) == 0 {
		return Stats{Duration: time.Since(start)}, nil
	}

	var bytesBefore int64
	var allRecords []columnar.Record
	for _, path := range selected {
		st, err := os.Stat(path)
		if err != nil {
			return Stats{}, fmt.Errorf("compaction: stat %s: %w", path, err)
		}
		bytesBefore += st.Size()

		recs, err := columnar.ReadFile(path)
		if err != nil {
			return Stats{}, fmt.Errorf("compaction: read selected file %s: %w", path, err)
		}
		allRecords = append(allRecords, recs...)
	}

	sort.SliceStable(allRecords, func(i, j int) bool {
		return allRecords[i].Timestamp < allRecords[j].Timestamp
	})

	outputs, err := c.writeOutputs(allRecords, now)
	if err != nil {
		return Stats{}, err
	}

	var bytesAfter int64
	for _, path := range outputs {
		st, err := os.Stat(path)
		if err != nil {
			return Stats{}, fmt.Errorf("compaction: stat output %s: %w", path, err)
		}
		bytesAfter += st.Size()
	}

	// Hand-off: outputs are durable before originals are removed.
	for _, path := range selected {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return Stats{}, fmt.Errorf("compaction: remove original %s: %w", path, err)
		}
	}

	stats := Stats{
		FilesBefore: len(selected),
		FilesAfter:  len(outputs),
		BytesBefore: bytesBefore,
		BytesAfter:  bytesAfter,
		EventsMoved: len(allRecords),
		Duration:    time.Since(start),
	}
	c.opt.Logger.Infow("compaction: run complete",
		"strategy", strategy, "files_before", stats.FilesBefore, "files_after", stats.FilesAfter,
		"events_moved", stats.EventsMoved, "duration", stats.Duration)
	return stats, nil
}

func (c *Compactor) writeOutputs(records []columnar.Record, now time.Time) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	target := c.opt.TargetFileSize
	if target <= 0 {
		target = c.opt.MaxFileSize
	}

	var outputs []string
	var chunk []columnar.Record
	approxSize := func(r columnar.Record) int64 {
		return int64(len(r.Payload)) + int64(len(r.Metadata)) + 96
	}
	var chunkSize int64

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		// Offset each output by its index in nanoseconds so file names stay
		// distinct and no output overwrites an earlier one.
		path, err := columnar.WriteCompactedFile(c.opt.Dir, chunk, now.Add(time.Duration(len(outputs))))
		if err != nil {
			return err
		}
		outputs = append(outputs, path)
		chunk = nil
		chunkSize = 0
		return nil
	}

	for _, r := range records {
		sz := approxSize(r)
		if chunkSize+sz > target && len(chunk) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		chunk = append(chunk, r)
		chunkSize += sz
		if c.opt.MaxFileSize > 0 && chunkSize >= c.opt.MaxFileSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return outputs, nil
}
