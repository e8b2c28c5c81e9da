package view

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	sverrors "github.com/Aman-CERP/searchview/internal/errors"
	"github.com/Aman-CERP/searchview/internal/segment"
	"github.com/Aman-CERP/searchview/internal/store"
	"github.com/Aman-CERP/searchview/internal/syncworker"
)

// PropertiesFileName is the view configuration document inside a view directory.
const PropertiesFileName = "view.yaml"

// Properties is the persisted configuration of a view.
type Properties struct {
	ID        uint64 `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	StorePath string `yaml:"store_path" json:"store_path"`
	Backend   string `yaml:"backend" json:"backend"`

	// Collections are the tracked collection ids, kept sorted.
	Collections []uint64 `yaml:"collections" json:"collections"`

	// SyncInterval between scheduled sync cycles; 0 syncs only on Commit.
	SyncInterval time.Duration `yaml:"sync_interval" json:"sync_interval"`
	// CleanupIntervalStep runs consolidation and cleanup every N sync cycles.
	CleanupIntervalStep int `yaml:"cleanup_interval_step" json:"cleanup_interval_step"`
	// LockWait bounds how long the sync worker waits for a busy store.
	LockWait time.Duration `yaml:"lock_wait" json:"lock_wait"`

	Consolidation segment.Policy `yaml:"consolidation" json:"consolidation"`

	// MatchCacheSize bounds the per-snapshot match cache.
	MatchCacheSize int `yaml:"match_cache_size" json:"match_cache_size"`
}

// DefaultProperties returns the properties of a new view.
func DefaultProperties() Properties {
	return Properties{
		Backend:             string(store.BackendSQLite),
		SyncInterval:        time.Second,
		CleanupIntervalStep: 10,
		LockWait:            50 * time.Millisecond,
		Consolidation:       segment.DefaultPolicy(),
		MatchCacheSize:      segment.DefaultMatchCacheSize,
	}
}

// Validate checks the properties.
func (p Properties) Validate() error {
	if p.SyncInterval < 0 {
		return sverrors.ConfigError(fmt.Sprintf("sync_interval must be >= 0, got %s", p.SyncInterval), nil)
	}
	if p.CleanupIntervalStep < 0 {
		return sverrors.ConfigError(fmt.Sprintf("cleanup_interval_step must be >= 0, got %d", p.CleanupIntervalStep), nil)
	}
	if p.LockWait < 0 {
		return sverrors.ConfigError(fmt.Sprintf("lock_wait must be >= 0, got %s", p.LockWait), nil)
	}
	if p.MatchCacheSize < 0 {
		return sverrors.ConfigError(fmt.Sprintf("match_cache_size must be >= 0, got %d", p.MatchCacheSize), nil)
	}
	if err := store.ValidateBackend(p.Backend); err != nil {
		return sverrors.ConfigError(err.Error(), err)
	}
	if err := p.Consolidation.Validate(); err != nil {
		return sverrors.ConfigError(err.Error(), err)
	}
	return nil
}

// WorkerConfig projects the sync parameters onto the worker configuration.
func (p Properties) WorkerConfig() syncworker.Config {
	return syncworker.Config{
		Interval:            p.SyncInterval,
		CleanupIntervalStep: p.CleanupIntervalStep,
		LockWait:            p.LockWait,
	}
}

// tuningUnset reports whether every store and sync parameter is zero.
func (p Properties) tuningUnset() bool {
	return p.Backend == "" && p.SyncInterval == 0 && p.CleanupIntervalStep == 0 &&
		p.LockWait == 0 && p.Consolidation == (segment.Policy{}) && p.MatchCacheSize == 0
}

func (p Properties) clone() Properties {
	p.Collections = slices.Clone(p.Collections)
	return p
}

func (p Properties) tracks(cid uint64) bool {
	_, found := slices.BinarySearch(p.Collections, cid)
	return found
}

// LoadProperties reads view.yaml from dir.
func LoadProperties(dir string) (Properties, error) {
	path := filepath.Join(dir, PropertiesFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Properties{}, sverrors.New(sverrors.ErrCodeConfigNotFound,
				fmt.Sprintf("view properties not found at %s", path), err)
		}
		return Properties{}, sverrors.IOError(fmt.Sprintf("read %s", path), err)
	}

	p := DefaultProperties()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Properties{}, sverrors.ConfigError(fmt.Sprintf("parse %s", path), err)
	}
	slices.Sort(p.Collections)
	p.Collections = slices.Compact(p.Collections)
	return p, nil
}

// saveProperties writes view.yaml through a temp file and rename so readers
// never observe a partial document.
func saveProperties(dir string, p Properties) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return sverrors.InternalError("marshal view properties", err)
	}

	tmp, err := os.CreateTemp(dir, ".view-*.yaml")
	if err != nil {
		return sverrors.IOError("create temp properties file", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return sverrors.IOError("write properties", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return sverrors.IOError("sync properties", err)
	}
	if err := tmp.Close(); err != nil {
		return sverrors.IOError("close properties", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, PropertiesFileName)); err != nil {
		return sverrors.IOError("replace properties", err)
	}
	return nil
}
