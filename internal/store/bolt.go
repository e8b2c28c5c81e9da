package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	sverrors "github.com/Aman-CERP/searchview/internal/errors"
	"github.com/Aman-CERP/searchview/internal/segment"
)

var (
	segmentPrefix  = []byte("seg/")
	docsBucket     = []byte("docs")
	tombsBucket    = []byte("tombs")
	boltLockWait   = time.Second
	boltFileMode   = os.FileMode(0600)
	errMissingDocs = errors.New("segment bucket has no docs bucket")
)

// BoltDirectory persists segments in a bbolt database: one top-level bucket
// per segment named "seg/<zero-padded id>" holding "docs" and "tombs"
// sub-buckets keyed by the 16-byte big-endian document key.
type BoltDirectory struct {
	mu     sync.Mutex
	db     *bolt.DB
	path   string
	closed bool
}

// NewBoltDirectory opens (or creates) the bbolt file at path.
// A file held open by another process yields a retryable ErrStoreLocked.
func NewBoltDirectory(path string) (*BoltDirectory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}

	db, err := bolt.Open(path, boltFileMode, &bolt.Options{Timeout: boltLockWait})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, sverrors.New(sverrors.ErrCodeStoreLocked,
				fmt.Sprintf("segment file %s is locked by another process", path), err).
				WithSuggestion("Stop the other searchview process using this view")
		}
		return nil, sverrors.New(sverrors.ErrCodeStoreCorrupt,
			fmt.Sprintf("cannot open segment file %s", path), err)
	}
	return &BoltDirectory{db: db, path: path}, nil
}

// Path returns the database path.
func (d *BoltDirectory) Path() string { return d.path }

func segmentBucketName(id uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", segmentPrefix, id)
}

func parseSegmentBucketName(name []byte) (uint64, bool) {
	if !bytes.HasPrefix(name, segmentPrefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(string(name[len(segmentPrefix):]), 10, 64)
	return id, err == nil
}

// Load reads every segment. Bucket names sort by id, so iteration order is
// already oldest first.
func (d *BoltDirectory) Load(ctx context.Context) ([]*segment.Segment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errDirectoryClosed
	}

	var segs []*segment.Segment
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, ok := parseSegmentBucketName(name)
			if !ok {
				return nil
			}
			seg, err := readSegment(id, b)
			if err != nil {
				return err
			}
			segs = append(segs, seg)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load segments: %w", err)
	}
	return segs, nil
}

func readSegment(id uint64, b *bolt.Bucket) (*segment.Segment, error) {
	docsB := b.Bucket(docsBucket)
	if docsB == nil {
		return nil, fmt.Errorf("segment %d: %w", id, errMissingDocs)
	}

	var docs []*segment.Document
	err := docsB.ForEach(func(k, v []byte) error {
		key, err := decodeKey(k)
		if err != nil {
			return err
		}
		doc, err := decodeFields(key, v)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("segment %d: %w", id, err)
	}

	var tombs []segment.Key
	if tombsB := b.Bucket(tombsBucket); tombsB != nil {
		err = tombsB.ForEach(func(k, _ []byte) error {
			key, err := decodeKey(k)
			if err != nil {
				return err
			}
			tombs = append(tombs, key)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", id, err)
		}
	}
	return segment.NewSegment(id, docs, tombs), nil
}

// Save persists seg.
func (d *BoltDirectory) Save(seg *segment.Segment) error {
	return d.Replace(nil, []*segment.Segment{seg})
}

// Replace drops the removed segments and writes the added ones in one
// bbolt transaction.
func (d *BoltDirectory) Replace(removed []uint64, added []*segment.Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDirectoryClosed
	}

	return d.db.Update(func(tx *bolt.Tx) error {
		for _, id := range removed {
			err := tx.DeleteBucket(segmentBucketName(id))
			if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return fmt.Errorf("failed to delete segment %d: %w", id, err)
			}
		}
		for _, seg := range added {
			if err := writeSegment(tx, seg); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeSegment(tx *bolt.Tx, seg *segment.Segment) error {
	b, err := tx.CreateBucket(segmentBucketName(seg.ID()))
	if err != nil {
		return fmt.Errorf("failed to create segment %d: %w", seg.ID(), err)
	}
	docsB, err := b.CreateBucket(docsBucket)
	if err != nil {
		return err
	}
	tombsB, err := b.CreateBucket(tombsBucket)
	if err != nil {
		return err
	}
	for _, doc := range seg.Documents() {
		body, err := encodeFields(doc)
		if err != nil {
			return err
		}
		if err := docsB.Put(encodeKey(doc.Key), body); err != nil {
			return fmt.Errorf("failed to put document %s: %w", doc.Key, err)
		}
	}
	for _, k := range seg.Tombstones() {
		if err := tombsB.Put(encodeKey(k), []byte{}); err != nil {
			return fmt.Errorf("failed to put tombstone %s: %w", k, err)
		}
	}
	return nil
}

// Cleanup fsyncs the database file. bbolt reuses freed pages internally and
// never shrinks the file.
func (d *BoltDirectory) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDirectoryClosed
	}
	return d.db.Sync()
}

// Close closes the database. Closing twice is a no-op.
func (d *BoltDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}
