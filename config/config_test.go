package config_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventengine/eventengine/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default(t.TempDir())
	require.NoError(t, cfg.Validate())
}

func TestRejectsNonPowerOfTwoPartitionCount(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.PartitionCount = 17
	require.Error(t, cfg.Validate())
}

func TestRejectsUnknownCompactionStrategy(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Compaction.Strategy = "bogus"
	require.Error(t, cfg.Validate())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := config.Default(dir)
	cfg.Snapshots.EventThreshold = 250

	require.NoError(t, config.Save(path, cfg))
	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(250), loaded.Snapshots.EventThreshold)
	require.Equal(t, cfg.PartitionCount, loaded.PartitionCount)
}
