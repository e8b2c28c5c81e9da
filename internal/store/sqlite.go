package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/searchview/internal/segment"
)

var errDirectoryClosed = errors.New("directory is closed")

// SQLiteDirectory persists segments in a SQLite database.
// WAL mode allows readers in other processes (stats, search tooling) while a
// view is writing.
type SQLiteDirectory struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// validateSQLiteIntegrity checks if a segment database is valid before opening.
// Returns nil if valid or absent, error describing corruption if not.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='segments'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("table 'segments' missing")
	}

	return nil
}

// NewSQLiteDirectory opens (or creates) the segment database at path.
// A database failing its integrity check is removed and recreated empty;
// the view then starts from an empty persisted store.
func NewSQLiteDirectory(path string) (*SQLiteDirectory, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("segment_db_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("segment database corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("segment_db_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, documents must be reinserted"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite, so set them again
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	d := &SQLiteDirectory{db: db, path: path}
	if err := d.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

func (d *SQLiteDirectory) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS segments (
		id         INTEGER PRIMARY KEY,
		doc_count  INTEGER NOT NULL,
		tomb_count INTEGER NOT NULL
	);

	-- ids are stored as int64 bit patterns of the uint64 keys
	CREATE TABLE IF NOT EXISTS documents (
		segment_id    INTEGER NOT NULL REFERENCES segments(id) ON DELETE CASCADE,
		collection_id INTEGER NOT NULL,
		document_id   INTEGER NOT NULL,
		body          BLOB NOT NULL,
		PRIMARY KEY (segment_id, collection_id, document_id)
	);

	CREATE TABLE IF NOT EXISTS tombstones (
		segment_id    INTEGER NOT NULL REFERENCES segments(id) ON DELETE CASCADE,
		collection_id INTEGER NOT NULL,
		document_id   INTEGER NOT NULL,
		PRIMARY KEY (segment_id, collection_id, document_id)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := d.db.Exec(schema)
	return err
}

// Path returns the database path.
func (d *SQLiteDirectory) Path() string { return d.path }

// Load reads every segment, ordered by id.
func (d *SQLiteDirectory) Load(ctx context.Context) ([]*segment.Segment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errDirectoryClosed
	}

	type pending struct {
		docs  []*segment.Document
		tombs []segment.Key
	}
	var ids []uint64
	byID := make(map[uint64]*pending)

	rows, err := d.db.QueryContext(ctx, `SELECT id FROM segments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		ids = append(ids, uint64(id))
		byID[uint64(id)] = &pending{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = d.db.QueryContext(ctx,
		`SELECT segment_id, collection_id, document_id, body FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	for rows.Next() {
		var sid, cid, did int64
		var body []byte
		if err := rows.Scan(&sid, &cid, &did, &body); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		p := byID[uint64(sid)]
		if p == nil {
			continue
		}
		doc, err := decodeFields(segment.Key{Collection: uint64(cid), Document: uint64(did)}, body)
		if err != nil {
			rows.Close()
			return nil, err
		}
		p.docs = append(p.docs, doc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = d.db.QueryContext(ctx,
		`SELECT segment_id, collection_id, document_id FROM tombstones`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tombstones: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sid, cid, did int64
		if err := rows.Scan(&sid, &cid, &did); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone: %w", err)
		}
		if p := byID[uint64(sid)]; p != nil {
			p.tombs = append(p.tombs, segment.Key{Collection: uint64(cid), Document: uint64(did)})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	segs := make([]*segment.Segment, 0, len(ids))
	for _, id := range ids {
		p := byID[id]
		segs = append(segs, segment.NewSegment(id, p.docs, p.tombs))
	}
	return segs, nil
}

// Save persists seg in one transaction.
func (d *SQLiteDirectory) Save(seg *segment.Segment) error {
	return d.Replace(nil, []*segment.Segment{seg})
}

// Replace deletes the removed segments and inserts the added ones in one
// transaction.
func (d *SQLiteDirectory) Replace(removed []uint64, added []*segment.Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDirectoryClosed
	}

	ctx := context.Background()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(removed) > 0 {
		placeholders := make([]string, len(removed))
		args := make([]any, len(removed))
		for i, id := range removed {
			placeholders[i] = "?"
			args[i] = int64(id)
		}
		inClause := strings.Join(placeholders, ",")
		// child rows first so this works even without foreign key enforcement
		for _, table := range []string{"documents", "tombstones"} {
			q := fmt.Sprintf("DELETE FROM %s WHERE segment_id IN (%s)", table, inClause)
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("failed to delete from %s: %w", table, err)
			}
		}
		q := fmt.Sprintf("DELETE FROM segments WHERE id IN (%s)", inClause)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("failed to delete segments: %w", err)
		}
	}

	if len(added) > 0 {
		if err := insertSegments(ctx, tx, added); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertSegments(ctx context.Context, tx *sql.Tx, segs []*segment.Segment) error {
	segStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO segments(id, doc_count, tomb_count) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare segment statement: %w", err)
	}
	defer segStmt.Close()

	docStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents(segment_id, collection_id, document_id, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare document statement: %w", err)
	}
	defer docStmt.Close()

	tombStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tombstones(segment_id, collection_id, document_id) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare tombstone statement: %w", err)
	}
	defer tombStmt.Close()

	for _, seg := range segs {
		sid := int64(seg.ID())
		tombs := seg.Tombstones()
		if _, err := segStmt.ExecContext(ctx, sid, seg.Len(), len(tombs)); err != nil {
			return fmt.Errorf("failed to insert segment %d: %w", seg.ID(), err)
		}
		for _, doc := range seg.Documents() {
			body, err := encodeFields(doc)
			if err != nil {
				return err
			}
			if _, err := docStmt.ExecContext(ctx, sid,
				int64(doc.Key.Collection), int64(doc.Key.Document), body); err != nil {
				return fmt.Errorf("failed to insert document %s: %w", doc.Key, err)
			}
		}
		for _, k := range tombs {
			if _, err := tombStmt.ExecContext(ctx, sid,
				int64(k.Collection), int64(k.Document)); err != nil {
				return fmt.Errorf("failed to insert tombstone %s: %w", k, err)
			}
		}
	}
	return nil
}

// Cleanup checkpoints the WAL into the main database file.
func (d *SQLiteDirectory) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDirectoryClosed
	}
	if _, err := d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint: %w", err)
	}
	return nil
}

// Close closes the database. Closing twice is a no-op.
func (d *SQLiteDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}
