package segment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sverrors "github.com/Aman-CERP/searchview/internal/errors"
)

func openStore(t *testing.T, dir Directory, opts ...Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), "test", dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CommitCreatesSegment(t *testing.T) {
	// Given: a store with retained and pending operations
	dir := newFakeDirectory()
	s := openStore(t, dir)
	require.NoError(t, s.Writer().Insert(doc(1, 1, "a")))
	require.NoError(t, s.Writer().Append("tx", doc(1, 2, "b")))

	// When: committing
	seg, err := s.Commit()

	// Then: only the retained operation is in the new segment
	require.NoError(t, err)
	require.NotNil(t, seg)
	assert.Equal(t, []Key{key(1, 1)}, seg.Keys())
	assert.Equal(t, 1, s.SegmentCount())
	assert.Equal(t, 1, dir.saves)

	// And: committing with nothing retained yields no segment
	seg, err = s.Commit()
	require.NoError(t, err)
	assert.Nil(t, seg)
	assert.Equal(t, 1, s.SegmentCount())
}

func TestStore_CommitFailureKeepsOperations(t *testing.T) {
	// Given: a directory that fails the next save
	dir := newFakeDirectory()
	s := openStore(t, dir)
	require.NoError(t, s.Writer().Insert(doc(1, 1, "a")))
	dir.failNext = true

	// When: committing
	_, err := s.Commit()

	// Then: an I/O error is reported and the operations survive
	require.Error(t, err)
	assert.Equal(t, sverrors.ErrCodeStoreIO, sverrors.GetCode(err))
	retained, _ := s.Writer().Buffered()
	assert.Equal(t, 1, retained)

	// And: the next commit succeeds
	seg, err := s.Commit()
	require.NoError(t, err)
	require.NotNil(t, seg)
}

func TestStore_ReopenReturnsSameReaderWhenUnchanged(t *testing.T) {
	s := openStore(t, nil)
	r1, err := s.OpenReader()
	require.NoError(t, err)

	r2, err := s.Reopen(r1)
	require.NoError(t, err)
	assert.Same(t, r1, r2)

	require.NoError(t, s.Writer().Insert(doc(1, 1, "a")))
	_, err = s.Commit()
	require.NoError(t, err)

	r3, err := s.Reopen(r1)
	require.NoError(t, err)
	assert.NotSame(t, r1, r3)
	assert.Equal(t, 1, r3.DocCount())
	assert.Equal(t, 0, r1.DocCount())
}

func TestStore_AppendReassignsID(t *testing.T) {
	// Given: a store holding one segment
	s := openStore(t, nil)
	require.NoError(t, s.Writer().Insert(doc(1, 1, "a")))
	_, err := s.Commit()
	require.NoError(t, err)

	// When: appending a foreign segment with a colliding id
	foreign := NewSegment(1, []*Document{doc(1, 1, "b")}, nil)
	require.NoError(t, s.Append(foreign))

	// Then: it ranks newer than the existing segment
	r, err := s.OpenReader()
	require.NoError(t, err)
	d, ok := r.Document(key(1, 1))
	require.True(t, ok)
	assert.Equal(t, "b", d.Fields[0].Value)
	assert.Equal(t, 2, s.SegmentCount())

	// And: empty segments are ignored
	require.NoError(t, s.Append(NewSegment(5, nil, nil)))
	require.NoError(t, s.Append(nil))
	assert.Equal(t, 2, s.SegmentCount())
}

func TestStore_OpenLoadsPersistedSegments(t *testing.T) {
	dir := newFakeDirectory(
		NewSegment(3, []*Document{doc(1, 1, "a")}, nil),
		NewSegment(8, []*Document{doc(1, 2, "b")}, nil),
	)
	s := openStore(t, dir)

	assert.Equal(t, 2, s.SegmentCount())
	require.NoError(t, s.Writer().Insert(doc(1, 3, "c")))
	seg, err := s.Commit()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), seg.ID())
}

func TestStore_OpenPropagatesLoadError(t *testing.T) {
	dir := newFakeDirectory()
	dir.failNext = true
	_, err := Open(context.Background(), "broken", dir)
	assert.ErrorIs(t, err, errInjected)
}

func TestStore_RemoveWhere(t *testing.T) {
	// Given: committed and buffered entries of two collections
	dir := newFakeDirectory()
	s := openStore(t, dir)
	require.NoError(t, s.Writer().Insert(doc(1, 1, "a")))
	require.NoError(t, s.Writer().Insert(doc(2, 1, "b")))
	_, err := s.Commit()
	require.NoError(t, err)
	require.NoError(t, s.Writer().Insert(doc(1, 2, "c")))
	_, err = s.Commit()
	require.NoError(t, err)
	require.NoError(t, s.Writer().Append("tx", doc(1, 3, "d")))

	// When: removing collection 1
	n, err := s.RemoveWhere(InCollection(1))

	// Then: both segments were affected and the one left empty is gone
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, s.SegmentCount())
	assert.Equal(t, 1, dir.count())

	r, err := s.OpenReader()
	require.NoError(t, err)
	assert.Equal(t, []Key{key(2, 1)}, r.Keys())

	// And: the buffered operation was purged as well
	_, pending := s.Writer().Buffered()
	assert.Equal(t, 0, pending)
}

func TestStore_ResetKeepsBufferedOperations(t *testing.T) {
	s := openStore(t, nil)
	require.NoError(t, s.Writer().Insert(doc(1, 1, "a")))
	_, err := s.Commit()
	require.NoError(t, err)
	require.NoError(t, s.Writer().Append("tx", doc(1, 2, "b")))

	require.NoError(t, s.Reset())

	assert.Equal(t, 0, s.SegmentCount())
	_, pending := s.Writer().Buffered()
	assert.Equal(t, 1, pending)
}

func TestStore_ConsolidateCount(t *testing.T) {
	// Given: a persisted-like store with five segments
	dir := newFakeDirectory()
	s := openStore(t, dir)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, s.Writer().Insert(doc(1, i, "x")))
		_, err := s.Commit()
		require.NoError(t, err)
	}
	require.NoError(t, s.Writer().Delete(key(1, 1)))
	_, err := s.Commit()
	require.NoError(t, err)

	// When: consolidating with a threshold of 3
	removed, err := s.Consolidate(Policy{Type: PolicyCount, SegmentThreshold: 3})

	// Then: everything is merged into one segment without tombstones
	require.NoError(t, err)
	assert.Equal(t, 5, removed)
	assert.Equal(t, 1, s.SegmentCount())
	assert.Equal(t, 1, dir.count())

	r, err := s.OpenReader()
	require.NoError(t, err)
	assert.Equal(t, 4, r.DocCount())
}

func TestStore_CleanupDelegatesToDirectory(t *testing.T) {
	dir := newFakeDirectory()
	s := openStore(t, dir)
	require.NoError(t, s.Cleanup())
	assert.Equal(t, 1, dir.cleanups)

	mem := openStore(t, nil)
	assert.NoError(t, mem.Cleanup())
}

func TestStore_ClosedStoreIsUnavailable(t *testing.T) {
	dir := newFakeDirectory()
	s, err := Open(context.Background(), "closing", dir)
	require.NoError(t, err)
	assert.True(t, s.Valid())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, dir.closed)
	assert.False(t, s.Valid())

	_, err = s.Commit()
	assert.ErrorIs(t, err, sverrors.ErrStoreUnavailable)
	_, err = s.OpenReader()
	assert.ErrorIs(t, err, sverrors.ErrStoreUnavailable)
	_, err = s.Consolidate(DefaultPolicy())
	assert.ErrorIs(t, err, sverrors.ErrStoreUnavailable)
	assert.ErrorIs(t, s.Writer().Insert(doc(1, 1, "a")), sverrors.ErrStoreUnavailable)
}
