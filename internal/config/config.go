// Package config loads the searchview process configuration.
//
// Configuration is layered in order of increasing precedence:
//  1. Hardcoded defaults (NewConfig)
//  2. User config (~/.config/searchview/config.yaml)
//  3. An explicit file passed to Load
//  4. Environment variables (SEARCHVIEW_*)
//
// The result is validated before it is returned. Per-view settings seed new
// views only; an existing view keeps the properties stored in its view.yaml.
package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/searchview/internal/logging"
	"github.com/Aman-CERP/searchview/internal/segment"
	"github.com/Aman-CERP/searchview/internal/store"
	"github.com/Aman-CERP/searchview/internal/syncworker"
	"github.com/Aman-CERP/searchview/internal/view"
	"github.com/Aman-CERP/searchview/internal/watcher"
)

// FileName is the user config file name.
const FileName = "config.yaml"

// Config is the process configuration.
type Config struct {
	Version       int                 `yaml:"version" json:"version"`
	Paths         PathsConfig         `yaml:"paths" json:"paths"`
	Store         StoreConfig         `yaml:"store" json:"store"`
	Sync          SyncConfig          `yaml:"sync" json:"sync"`
	Consolidation ConsolidationConfig `yaml:"consolidation" json:"consolidation"`
	Query         QueryConfig         `yaml:"query" json:"query"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Watch         WatchConfig         `yaml:"watch" json:"watch"`
}

// PathsConfig locates view directories.
type PathsConfig struct {
	// DataDir holds one subdirectory per view.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// StoreConfig selects the persisted segment directory.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "bolt".
	Backend string `yaml:"backend" json:"backend"`
}

// SyncConfig drives the shared sync worker.
type SyncConfig struct {
	Interval            time.Duration `yaml:"interval" json:"interval"`
	CleanupIntervalStep int           `yaml:"cleanup_interval_step" json:"cleanup_interval_step"`
	LockWait            time.Duration `yaml:"lock_wait" json:"lock_wait"`
	// MaxFailures opens the worker's per-task breaker. Zero disables it.
	MaxFailures  int           `yaml:"max_failures" json:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// ConsolidationConfig is the merge policy applied to persisted stores.
type ConsolidationConfig struct {
	Type             string  `yaml:"type" json:"type"`
	SegmentThreshold int     `yaml:"segment_threshold" json:"segment_threshold"`
	Threshold        float64 `yaml:"threshold" json:"threshold"`
}

// QueryConfig tunes snapshot reads.
type QueryConfig struct {
	MatchCacheSize int `yaml:"match_cache_size" json:"match_cache_size"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// WatchConfig configures the view.yaml watcher used by serve.
type WatchConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Debounce     time.Duration `yaml:"debounce" json:"debounce"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	ForcePolling bool          `yaml:"force_polling" json:"force_polling"`
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	props := view.DefaultProperties()
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: DefaultDataDir(),
		},
		Store: StoreConfig{
			Backend: props.Backend,
		},
		Sync: SyncConfig{
			Interval:            props.SyncInterval,
			CleanupIntervalStep: props.CleanupIntervalStep,
			LockWait:            props.LockWait,
			MaxFailures:         5,
			ResetTimeout:        30 * time.Second,
		},
		Consolidation: ConsolidationConfig{
			Type:             string(props.Consolidation.Type),
			SegmentThreshold: props.Consolidation.SegmentThreshold,
			Threshold:        props.Consolidation.Threshold,
		},
		Query: QueryConfig{
			MatchCacheSize: props.MatchCacheSize,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
			Stderr:    true,
		},
		Watch: WatchConfig{
			Enabled:      true,
			Debounce:     200 * time.Millisecond,
			PollInterval: 2 * time.Second,
		},
	}
}

// DefaultDataDir returns ~/.searchview/views.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".searchview", "views")
	}
	return filepath.Join(home, ".searchview", "views")
}

// GetUserConfigPath returns the user configuration file.
// It follows the XDG Base Directory layout:
//   - $XDG_CONFIG_HOME/searchview/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/searchview/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "searchview", FileName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "searchview", FileName)
	}
	return filepath.Join(home, ".config", "searchview", FileName)
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the configuration. path names an explicit config file and may
// be empty.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config from %s: %w", userPath, err)
		}
	}

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.Paths.DataDir = expandHome(cfg.Paths.DataDir)
	cfg.Logging.File = expandHome(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML merges the non-zero values of a YAML file into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)

	// Booleans can't be told apart from "unset" after decoding into a
	// struct, so look them up in the raw document.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err == nil {
		if v, ok := rawBool(raw, "logging", "stderr"); ok {
			c.Logging.Stderr = v
		}
		if v, ok := rawBool(raw, "watch", "enabled"); ok {
			c.Watch.Enabled = v
		}
		if v, ok := rawBool(raw, "watch", "force_polling"); ok {
			c.Watch.ForcePolling = v
		}
	}
	return nil
}

func rawBool(raw map[string]any, section, key string) (bool, bool) {
	m, ok := raw[section].(map[string]any)
	if !ok {
		return false, false
	}
	v, ok := m[key].(bool)
	return v, ok
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}
	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}

	if other.Sync.Interval != 0 {
		c.Sync.Interval = other.Sync.Interval
	}
	if other.Sync.CleanupIntervalStep != 0 {
		c.Sync.CleanupIntervalStep = other.Sync.CleanupIntervalStep
	}
	if other.Sync.LockWait != 0 {
		c.Sync.LockWait = other.Sync.LockWait
	}
	if other.Sync.MaxFailures != 0 {
		c.Sync.MaxFailures = other.Sync.MaxFailures
	}
	if other.Sync.ResetTimeout != 0 {
		c.Sync.ResetTimeout = other.Sync.ResetTimeout
	}

	if other.Consolidation.Type != "" {
		c.Consolidation.Type = other.Consolidation.Type
	}
	if other.Consolidation.SegmentThreshold != 0 {
		c.Consolidation.SegmentThreshold = other.Consolidation.SegmentThreshold
	}
	if other.Consolidation.Threshold != 0 {
		c.Consolidation.Threshold = other.Consolidation.Threshold
	}

	if other.Query.MatchCacheSize != 0 {
		c.Query.MatchCacheSize = other.Query.MatchCacheSize
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
	if other.Logging.Stderr {
		c.Logging.Stderr = true
	}

	if other.Watch.Enabled {
		c.Watch.Enabled = true
	}
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if other.Watch.PollInterval != 0 {
		c.Watch.PollInterval = other.Watch.PollInterval
	}
	if other.Watch.ForcePolling {
		c.Watch.ForcePolling = true
	}
}

// applyEnvOverrides applies SEARCHVIEW_* environment variables. Malformed
// values are ignored and the previous value kept.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SEARCHVIEW_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("SEARCHVIEW_BACKEND"); v != "" {
		c.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("SEARCHVIEW_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sync.Interval = d
		}
	}
	if v := os.Getenv("SEARCHVIEW_CLEANUP_INTERVAL_STEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.CleanupIntervalStep = n
		}
	}
	if v := os.Getenv("SEARCHVIEW_LOCK_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sync.LockWait = d
		}
	}
	if v := os.Getenv("SEARCHVIEW_CONSOLIDATION"); v != "" {
		c.Consolidation.Type = strings.ToLower(v)
	}
	if v := os.Getenv("SEARCHVIEW_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SEARCHVIEW_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("SEARCHVIEW_WATCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Watch.Enabled = b
		}
	}
	if v := os.Getenv("SEARCHVIEW_FORCE_POLLING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Watch.ForcePolling = b
		}
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir must not be empty")
	}
	if err := store.ValidateBackend(c.Store.Backend); err != nil {
		return fmt.Errorf("store.backend: %w", err)
	}
	if c.Sync.MaxFailures < 0 {
		return fmt.Errorf("sync.max_failures must be non-negative, got %d", c.Sync.MaxFailures)
	}
	if c.Sync.ResetTimeout < 0 {
		return fmt.Errorf("sync.reset_timeout must be non-negative, got %s", c.Sync.ResetTimeout)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxFiles < 0 {
		return fmt.Errorf("logging.max_size_mb and logging.max_files must be non-negative")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	if c.Watch.Debounce < 0 || c.Watch.PollInterval < 0 {
		return fmt.Errorf("watch.debounce and watch.poll_interval must be non-negative")
	}
	if err := c.ViewProperties().Validate(); err != nil {
		return err
	}
	return nil
}

// ConsolidationPolicy returns the configured merge policy.
func (c *Config) ConsolidationPolicy() segment.Policy {
	return segment.Policy{
		Type:             segment.PolicyType(strings.ToLower(c.Consolidation.Type)),
		SegmentThreshold: c.Consolidation.SegmentThreshold,
		Threshold:        c.Consolidation.Threshold,
	}
}

// ViewProperties returns the properties used to create a new view.
func (c *Config) ViewProperties() view.Properties {
	return view.Properties{
		Backend:             c.Store.Backend,
		SyncInterval:        c.Sync.Interval,
		CleanupIntervalStep: c.Sync.CleanupIntervalStep,
		LockWait:            c.Sync.LockWait,
		Consolidation:       c.ConsolidationPolicy(),
		MatchCacheSize:      c.Query.MatchCacheSize,
	}
}

// WorkerConfig implements syncworker.ConfigSource for a worker shared by
// every view in the data directory. Views schedule their own tasks from
// their properties; this sets the worker's idle cycle and the defaults for
// tasks that carry no configuration.
func (c *Config) WorkerConfig() syncworker.Config {
	return syncworker.Config{
		Interval:            c.Sync.Interval,
		CleanupIntervalStep: c.Sync.CleanupIntervalStep,
		LockWait:            c.Sync.LockWait,
	}
}

// LoggingConfig returns the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:         c.Logging.Level,
		FilePath:      c.Logging.File,
		MaxSizeMB:     c.Logging.MaxSizeMB,
		MaxFiles:      c.Logging.MaxFiles,
		WriteToStderr: c.Logging.Stderr,
	}
}

// WatcherOptions returns the view.yaml watcher options.
func (c *Config) WatcherOptions() watcher.Options {
	return watcher.Options{
		FileName:       view.PropertiesFileName,
		DebounceWindow: c.Watch.Debounce,
		PollInterval:   c.Watch.PollInterval,
		ForcePolling:   c.Watch.ForcePolling,
	}
}

// WriteYAML writes the configuration to a YAML file, creating its directory.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MissingKeys lists the settings, as "section.key", that the YAML file at
// path does not spell out. Writing back a loaded config adds them with
// their defaults.
func MissingKeys(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var present map[string]any
	if err := yaml.Unmarshal(data, &present); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	defaultsYAML, err := yaml.Marshal(NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var defaults map[string]any
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		return nil, fmt.Errorf("failed to parse defaults: %w", err)
	}

	var missing []string
	for _, section := range slices.Sorted(maps.Keys(defaults)) {
		keys, isSection := defaults[section].(map[string]any)
		if !isSection {
			if _, ok := present[section]; !ok {
				missing = append(missing, section)
			}
			continue
		}
		have, _ := present[section].(map[string]any)
		for _, key := range slices.Sorted(maps.Keys(keys)) {
			if _, ok := have[key]; !ok {
				missing = append(missing, section+"."+key)
			}
		}
	}
	return missing, nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
