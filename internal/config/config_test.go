package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWithoutInitializeUsesDefaults(t *testing.T) {
	v = nil
	cfg := Load()
	require.Equal(t, 256, cfg.CompilationCacheSize)
	require.True(t, cfg.StrictFloatEquality)
	require.Equal(t, float64(0), cfg.FloatEpsilon())
}

func TestInitializeReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rulesengine.yaml")
	content := "engine:\n  memory-pressure-threshold-bytes: 1048576\nrete:\n  strict-float-equality: false\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	require.NoError(t, Initialize(path))
	cfg := Load()
	require.Equal(t, int64(1048576), cfg.MemoryPressureThreshold)
	require.False(t, cfg.StrictFloatEquality)
	require.InDelta(t, 1e-9, cfg.FloatEpsilon(), 1e-15)
}

func TestInitializeMissingFileReturnsError(t *testing.T) {
	require.Error(t, Initialize(filepath.Join(t.TempDir(), "missing.yaml")))
}
