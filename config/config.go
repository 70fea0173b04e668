// Package config loads store.Store's operational settings from YAML,
// using gopkg.in/yaml.v3: a plain struct with `yaml` tags. Load starts
// from Default's values and unmarshals the file over them, so a field the
// file omits keeps its default.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WALConfig configures the write-ahead log.
type WALConfig struct {
	MaxFileSize int64 `yaml:"max_file_size"`
	SyncOnWrite bool  `yaml:"sync_on_write"`
	MaxWALFiles int   `yaml:"max_wal_files"`
}

// ColumnarConfig configures the long-term columnar store.
type ColumnarConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// CompactionConfig configures the background compactor.
type CompactionConfig struct {
	MinFilesToCompact  int    `yaml:"min_files_to_compact"`
	SmallFileThreshold int64  `yaml:"small_file_threshold"`
	TargetFileSize     int64  `yaml:"target_file_size"`
	MaxFileSize        int64  `yaml:"max_file_size"`
	Strategy           string `yaml:"strategy"` // "size" | "time" | "full"
	AutoCompact        bool   `yaml:"auto_compact"`
	IntervalSeconds    int    `yaml:"interval_seconds"`
}

// SnapshotsConfig configures automatic snapshot admission and retention.
type SnapshotsConfig struct {
	EventThreshold        int64 `yaml:"event_threshold"`
	TimeThresholdSeconds  int64 `yaml:"time_threshold_seconds"`
	MaxSnapshotsPerEntity int   `yaml:"max_snapshots_per_entity"`
	AutoSnapshot          bool  `yaml:"auto_snapshot"`
}

// Config is the complete set of knobs a running store.Store is
// constructed from.
type Config struct {
	StorageDir     string           `yaml:"storage_dir"`
	WALDir         string           `yaml:"wal_dir"`
	AuditDir       string           `yaml:"audit_dir"`
	SnapshotDir    string           `yaml:"snapshot_dir"`
	PartitionCount uint32           `yaml:"partition_count"`
	WAL            WALConfig        `yaml:"wal"`
	Columnar       ColumnarConfig   `yaml:"columnar"`
	Compaction     CompactionConfig `yaml:"compaction"`
	Snapshots      SnapshotsConfig  `yaml:"snapshots"`
}

// TimeThreshold returns Snapshots.TimeThresholdSeconds as a time.Duration.
func (c Config) TimeThreshold() time.Duration {
	return time.Duration(c.Snapshots.TimeThresholdSeconds) * time.Second
}

// CompactionInterval returns Compaction.IntervalSeconds as a time.Duration.
func (c Config) CompactionInterval() time.Duration {
	return time.Duration(c.Compaction.IntervalSeconds) * time.Second
}

// Default returns a Config with every knob set to conservative
// production-sane values, rooted at dir.
func Default(dir string) Config {
	return Config{
		StorageDir:     dir,
		WALDir:         dir + "/wal",
		AuditDir:       dir + "/audit",
		SnapshotDir:    dir + "/snapshots",
		PartitionCount: 16,
		WAL: WALConfig{
			MaxFileSize: 64 << 20,
			SyncOnWrite: true,
			MaxWALFiles: 8,
		},
		Columnar: ColumnarConfig{
			BatchSize: 1000,
		},
		Compaction: CompactionConfig{
			MinFilesToCompact:  4,
			SmallFileThreshold: 8 << 20,
			TargetFileSize:     64 << 20,
			MaxFileSize:        128 << 20,
			Strategy:           "size",
			AutoCompact:        true,
			IntervalSeconds:    300,
		},
		Snapshots: SnapshotsConfig{
			EventThreshold:        100,
			TimeThresholdSeconds:  3600,
			MaxSnapshotsPerEntity: 3,
			AutoSnapshot:          true,
		},
	}
}

// Load reads and parses a YAML config file at path, filling any field the
// file omits with Default's values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default(".")
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants this package's callers depend on, notably
// that PartitionCount is a power of two (the P that
// engine.PartitionFromEntity takes in its hash mod P bucket assignment).
func (c Config) Validate() error {
	if c.PartitionCount == 0 || c.PartitionCount&(c.PartitionCount-1) != 0 {
		return fmt.Errorf("config: partition_count must be a power of two, got %d", c.PartitionCount)
	}
	if c.Compaction.Strategy != "size" && c.Compaction.Strategy != "time" && c.Compaction.Strategy != "full" {
		return fmt.Errorf("config: compaction.strategy must be one of size|time|full, got %q", c.Compaction.Strategy)
	}
	return nil
}

// Generate marshals cfg back to YAML, for `eventctl config generate`.
func Generate(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Save writes cfg as YAML to path.
func Save(path string, cfg Config) error {
	data, err := Generate(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
