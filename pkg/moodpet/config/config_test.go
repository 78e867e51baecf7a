package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/moodpet/pkg/moodpet/config"
)

// TestString verifies string extraction with defaults.
func TestString(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal string
		want       string
	}{
		{"key exists", map[string]any{"export_dir": "out"}, "export_dir", "exports", "out"},
		{"key missing", map[string]any{"other": "value"}, "export_dir", "exports", "exports"},
		{"empty string", map[string]any{"export_dir": ""}, "export_dir", "exports", ""},
		{"wrong type", map[string]any{"export_dir": 123}, "export_dir", "exports", "exports"},
		{"nil map", nil, "export_dir", "exports", "exports"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.Equal(t, tt.want, cfg.String(tt.key, tt.defaultVal))
		})
	}
}

// TestDuration verifies duration extraction with various input types.
func TestDuration(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want time.Duration
	}{
		{"string duration", map[string]any{"dedup_window": "5m"}, 5 * time.Minute},
		{"int seconds", map[string]any{"dedup_window": 30}, 30 * time.Second},
		{"float seconds", map[string]any{"dedup_window": 1.5}, 1500 * time.Millisecond},
		{"invalid string", map[string]any{"dedup_window": "soon"}, time.Minute},
		{"missing", map[string]any{}, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.Equal(t, tt.want, cfg.Duration("dedup_window", time.Minute))
		})
	}
}

// TestInt verifies integer extraction.
func TestInt(t *testing.T) {
	cfg := config.New(map[string]any{
		"partitions": 4,
		"from_json":  float64(16),
		"fraction":   2.5,
		"from_env":   "32",
		"not_a_num":  "many",
	})

	assert.Equal(t, 4, cfg.Int("partitions", 8))
	assert.Equal(t, 16, cfg.Int("from_json", 8))
	assert.Equal(t, 8, cfg.Int("fraction", 8))
	assert.Equal(t, 32, cfg.Int("from_env", 8))
	assert.Equal(t, 8, cfg.Int("not_a_num", 8))
	assert.Equal(t, 8, cfg.Int("missing", 8))
}

// TestMerge verifies overlay semantics.
func TestMerge(t *testing.T) {
	base := config.New(map[string]any{
		"export_dir":  "exports",
		"notify_hour": 20,
	})
	over := config.New(map[string]any{
		"notify_hour": "9",
	})

	merged := base.Merge(over)
	assert.Equal(t, "exports", merged.String("export_dir", ""))
	assert.Equal(t, 9, merged.Int("notify_hour", 0))

	// Inputs are untouched
	assert.Equal(t, 20, base.Int("notify_hour", 0))
}

// TestFromEnv verifies environment overrides reach Settings.
func TestFromEnv(t *testing.T) {
	t.Setenv("MOODPET_IDENT_KEY", "env-secret")
	t.Setenv("MOODPET_DEDUP_WINDOW", "15m")
	t.Setenv("MOODPET_BUS_PARTITIONS", "4")
	t.Setenv("MOODPET_EMPTY", "")

	cfg := config.FromEnv()
	assert.False(t, cfg.Has("empty"))

	file := config.New(map[string]any{"ident_key": "file-secret", "export_dir": "out"})
	settings := config.SettingsFrom(file.Merge(cfg))

	assert.Equal(t, "env-secret", settings.IdentKey)
	assert.Equal(t, 15*time.Minute, settings.DedupWindow)
	assert.Equal(t, 4, settings.BusPartitions)
	assert.Equal(t, "out", settings.ExportDir)
}

// TestFromYAML verifies YAML parsing end to end.
func TestFromYAML(t *testing.T) {
	yamlData := []byte(`
database_path: /var/lib/moodpet/moodpet.db
dedup_window: 15m
bus_partitions: 16
notify_hour: 9
`)

	cfg, err := config.FromYAML(yamlData)
	require.NoError(t, err)

	settings := config.SettingsFrom(cfg)
	assert.Equal(t, "/var/lib/moodpet/moodpet.db", settings.DatabasePath)
	assert.Equal(t, 15*time.Minute, settings.DedupWindow)
	assert.Equal(t, 16, settings.BusPartitions)
	assert.Equal(t, 9, settings.NotifyHour)

	// Unspecified keys keep their defaults
	assert.Equal(t, config.DefaultSettings.ExportDir, settings.ExportDir)
	assert.Equal(t, config.DefaultSettings.BusBufferSize, settings.BusBufferSize)
}

// TestFromYAMLInvalid verifies malformed YAML is rejected.
func TestFromYAMLInvalid(t *testing.T) {
	_, err := config.FromYAML([]byte("{{not yaml"))
	assert.Error(t, err)
}

// TestFromFile verifies file loading with format detection.
func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("export_dir: /tmp/exports\n"), 0o644))

	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/exports", cfg.String("export_dir", ""))

	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"bus_partitions": 2}`), 0o644))

	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Int("bus_partitions", 8))

	_, err = config.FromFile(filepath.Join(dir, "config.toml"))
	assert.Error(t, err)

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

// TestDefaultSettings verifies the worker defaults.
func TestDefaultSettings(t *testing.T) {
	s := config.DefaultSettings
	assert.Equal(t, 10*time.Minute, s.DedupWindow)
	assert.Equal(t, 8, s.BusPartitions)
	assert.Equal(t, 256, s.BusBufferSize)
	assert.Equal(t, 20, s.NotifyHour)
}
