// Package config provides configuration loading for the moodpet worker.
//
// Config wraps a map[string]any (typically parsed from YAML or JSON) and
// provides typed accessor methods that handle missing keys and type
// mismatches gracefully by returning default values. Settings collects the
// worker's tunables with their defaults applied.
package config

import (
	"strconv"
	"time"
)

// Config wraps a map[string]any for type-safe value extraction.
// All accessor methods return default values if the key is missing
// or the value cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (c Config) String(key, defaultVal string) string {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if s, ok := v.(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int, int64, float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal if missing or not
// convertible. Strings are parsed so environment overrides work.
func (c Config) Bool(key string, defaultVal bool) bool {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not convertible.
//
// Accepts:
//   - int: used directly
//   - int64: converted to int
//   - float64: converted to int (only if no fractional part)
//   - string: parsed, so environment overrides work
func (c Config) Int(key string, defaultVal int) int {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// Merge returns a Config with over's keys layered on top of c. Neither
// input is modified.
func (c Config) Merge(over Config) Config {
	m := make(map[string]any, len(c.data)+len(over.data))
	for k, v := range c.data {
		m[k] = v
	}
	for k, v := range over.data {
		m[k] = v
	}
	return New(m)
}

// Has returns true if the key exists in the config.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw returns the underlying map.
// The returned map should not be modified.
func (c Config) Raw() map[string]any {
	return c.data
}

// Settings holds the worker's tunables with defaults applied.
type Settings struct {
	// DatabasePath is the SQLite file for records, dedup entries, and
	// user settings. ":memory:" is valid for tests.
	DatabasePath string

	// DeadLetterPath is the SQLite file for the dead letter queue.
	DeadLetterPath string

	// ExportDir is where CSV artifacts are written.
	ExportDir string

	// DedupWindow is the sliding window during which a repeated transport
	// message ID is suppressed. A product constant, kept configurable:
	// bus redelivery can outlive this window, and deliveries beyond it
	// are processed independently (a documented gap, not a bug).
	DedupWindow time.Duration

	// IdentKey is the secret key for pseudonymous ID derivation.
	IdentKey string

	// BusPartitions is the per-subscription partition count.
	BusPartitions int

	// BusBufferSize is the per-partition channel buffer.
	BusBufferSize int

	// PingInterval is how often the scheduler checks for users due a
	// mood prompt.
	PingInterval time.Duration

	// NotifyHour is the default hour of day, in each user's own timezone,
	// for daily mood prompts.
	NotifyHour int
}

// DefaultSettings are the worker defaults.
var DefaultSettings = Settings{
	DatabasePath:   "moodpet.db",
	DeadLetterPath: "deadletter.db",
	ExportDir:      "exports",
	DedupWindow:    10 * time.Minute,
	BusPartitions:  8,
	BusBufferSize:  256,
	PingInterval:   1 * time.Minute,
	NotifyHour:     20,
}

// SettingsFrom extracts Settings from a Config, applying defaults for
// anything missing.
func SettingsFrom(cfg Config) Settings {
	s := DefaultSettings
	s.DatabasePath = cfg.String("database_path", s.DatabasePath)
	s.DeadLetterPath = cfg.String("dead_letter_path", s.DeadLetterPath)
	s.ExportDir = cfg.String("export_dir", s.ExportDir)
	s.DedupWindow = cfg.Duration("dedup_window", s.DedupWindow)
	s.IdentKey = cfg.String("ident_key", s.IdentKey)
	s.BusPartitions = cfg.Int("bus_partitions", s.BusPartitions)
	s.BusBufferSize = cfg.Int("bus_buffer_size", s.BusBufferSize)
	s.PingInterval = cfg.Duration("ping_interval", s.PingInterval)
	s.NotifyHour = cfg.Int("notify_hour", s.NotifyHour)
	return s
}
