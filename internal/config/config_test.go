package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ValidateRequiresPaths(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg.InputPath = "in.telemetry"
	cfg.OutputPath = "out.apxtlm"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_OverridesDefaults(t *testing.T) {
	t.Setenv("APXTLM_INPUT_PATH", "s3://bucket/key.telemetry")
	t.Setenv("APXTLM_UTC_OFFSET_SECONDS", "-18000")
	t.Setenv("APXTLM_INCLUDE_JSO", "true")
	t.Setenv("APXTLM_RESUME", "1")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "s3://bucket/key.telemetry", cfg.InputPath)
	assert.Equal(t, int32(-18000), cfg.UTCOffsetSeconds)
	assert.True(t, cfg.IncludeJSO)
	assert.True(t, cfg.Resume)
}

func TestLoadFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "input_path: in.telemetry\noutput_path: out.apxtlm\nutc_offset_seconds: 3600\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "in.telemetry", cfg.InputPath)
	assert.Equal(t, "out.apxtlm", cfg.OutputPath)
	assert.Equal(t, int32(3600), cfg.UTCOffsetSeconds)
}

func TestLoadFromFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"input_path":"in.telemetry","output_path":"out.apxtlm"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "in.telemetry", cfg.InputPath)
}

func TestLoadFromFile_RejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestCatalogAndCheckpointPaths_AreUnderDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/apxtlm-data"
	assert.Equal(t, "/tmp/apxtlm-data/catalog.db", cfg.CatalogPath())
	assert.Equal(t, "/tmp/apxtlm-data/checkpoint.bin", cfg.CheckpointPath())
}

func TestEnsureDataDir_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "nested", "data")

	require.NoError(t, cfg.EnsureDataDir())
	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
