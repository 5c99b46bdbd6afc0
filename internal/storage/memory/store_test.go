package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/madara-crawler/internal/store"
)

func TestStoreInsertGetUpdateDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	id, err := s.Insert(ctx, store.Sources, store.Fields{"name": "Alpha", "url": "https://a.test/", "active": true})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	row, err := s.GetOne(ctx, store.Sources, store.Match{"url": "https://a.test/"})
	require.NoError(t, err)
	assert.Equal(t, "Alpha", row.String("name"))
	assert.True(t, row.Bool("active"))

	n, err := s.Update(ctx, store.Sources, store.Fields{"active": false}, store.Match{"id": id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := s.Count(ctx, store.Sources, store.Match{"active": false})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	n, err = s.Delete(ctx, store.Sources, store.Match{"id": id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetOne(ctx, store.Sources, store.Match{"id": id})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStoreUniqueConstraint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	_, err := s.Insert(ctx, store.Sources, store.Fields{"name": "A", "url": "https://a.test/"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, store.Sources, store.Fields{"name": "B", "url": "https://a.test/"})
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestStorePartialUniqueOnlyAppliesToPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	item := store.Fields{"kind": "collection", "native_id": "solo", "source_id": int64(1), "status": "pending"}
	id, err := s.Insert(ctx, store.Queue, item)
	require.NoError(t, err)

	_, err = s.Insert(ctx, store.Queue, item)
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.Update(ctx, store.Queue, store.Fields{"status": "completed"}, store.Match{"id": id})
	require.NoError(t, err)

	_, err = s.Insert(ctx, store.Queue, item)
	require.NoError(t, err)
}

func TestStoreGetManyOrdersAndWindows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range []int{3, 5, 5, 1} {
		_, err := s.Insert(ctx, store.Queue, store.Fields{
			"kind":       "collection",
			"native_id":  string(rune('a' + i)),
			"source_id":  int64(1),
			"status":     "pending",
			"priority":   p,
			"created_at": base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	rows, err := s.GetMany(ctx, store.Queue, store.Query{
		Match: store.Match{"status": "pending"},
		Order: []store.Order{{Column: "priority", Desc: true}, {Column: "created_at"}},
		Limit: 3,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "b", rows[0].String("native_id"))
	assert.Equal(t, "c", rows[1].String("native_id"))
	assert.Equal(t, "a", rows[2].String("native_id"))

	rows, err = s.GetMany(ctx, store.Queue, store.Query{Offset: 3})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "d", rows[0].String("native_id"))
}

func TestStoreNilMatchesNull(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	_, err := s.Insert(ctx, store.Collections, store.Fields{"source_id": int64(1), "native_id": "x", "external_ref": nil})
	require.NoError(t, err)
	_, err = s.Insert(ctx, store.Collections, store.Fields{"source_id": int64(1), "native_id": "y", "external_ref": "ref-1"})
	require.NoError(t, err)

	n, err := s.Count(ctx, store.Collections, store.Match{"external_ref": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStoreRejectsBadColumns(t *testing.T) {
	t.Parallel()

	_, err := NewStore().Insert(context.Background(), store.Sources, store.Fields{"name; DROP": "x"})
	require.Error(t, err)
}
