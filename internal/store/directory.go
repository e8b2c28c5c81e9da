package store

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/searchview/internal/segment"
)

// Backend names a segment directory implementation.
type Backend string

const (
	// BackendSQLite stores segments in a SQLite database in WAL mode (default).
	BackendSQLite Backend = "sqlite"

	// BackendBolt stores segments in a bbolt file, one bucket per segment.
	// bbolt holds an exclusive file lock, so only one process can open it.
	BackendBolt Backend = "bolt"
)

// Verify interface implementations at compile time
var (
	_ segment.Directory = (*SQLiteDirectory)(nil)
	_ segment.Directory = (*BoltDirectory)(nil)
	_ segment.Directory = (*MemoryDirectory)(nil)
)

// NewDirectory opens the segment directory for basePath using backend.
// The extension is added based on the backend type (.db for SQLite, .bolt
// for bbolt). An empty basePath returns a MemoryDirectory.
func NewDirectory(basePath string, backend string) (segment.Directory, error) {
	if basePath == "" {
		return NewMemoryDirectory(), nil
	}
	switch Backend(backend) {
	case BackendSQLite, "":
		return NewSQLiteDirectory(basePath + ".db")
	case BackendBolt:
		return NewBoltDirectory(basePath + ".bolt")
	default:
		return nil, fmt.Errorf("unknown store backend: %s (valid options: sqlite, bolt)", backend)
	}
}

// ValidateBackend reports an error for unknown backend names.
func ValidateBackend(backend string) error {
	switch Backend(backend) {
	case BackendSQLite, BackendBolt, "":
		return nil
	default:
		return fmt.Errorf("unknown store backend: %s (valid options: sqlite, bolt)", backend)
	}
}

// DetectBackend detects which backend an existing store uses based on file
// existence. Returns an empty string if no store exists.
func DetectBackend(basePath string) Backend {
	if fileExists(basePath + ".db") {
		return BackendSQLite
	}
	if fileExists(basePath + ".bolt") {
		return BackendBolt
	}
	return ""
}

// DirectoryPath returns the file backing basePath for backend.
func DirectoryPath(basePath string, backend string) string {
	if Backend(backend) == BackendBolt {
		return basePath + ".bolt"
	}
	return basePath + ".db"
}

// RemoveFiles deletes every file a directory at basePath may have created.
func RemoveFiles(basePath string) error {
	for _, p := range []string{basePath + ".db", basePath + ".db-wal", basePath + ".db-shm", basePath + ".bolt"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// fileExists checks if a file exists at the given path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
