package docstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/omarhaddadin/mizan-pos/pkg/errors"
	"github.com/omarhaddadin/mizan-pos/pkg/migrate"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.db")
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	require.NoError(t, migrate.Up(context.Background(), sqlDB))
	store, err := NewWithDB(conn, 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type testBody struct {
	Name string `json:"name"`
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	doc := Document{ID: "p-1", Type: "product", Barcode: "6291001"}
	doc, err := doc.WithBody(testBody{Name: "soda"})
	require.NoError(t, err)

	rev, err := store.Put(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	got, err := store.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Rev)
	assert.Equal(t, "6291001", got.Barcode)

	var body testBody
	require.NoError(t, got.DecodeBody(&body))
	assert.Equal(t, "soda", body.Name)
}

func TestStaleRevisionConflicts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, Document{ID: "p-1", Type: "product"})
	require.NoError(t, err)

	// A second write carrying rev 0 lost the race.
	_, err = store.Put(ctx, Document{ID: "p-1", Type: "product"})
	assert.True(t, errors.Is(err, errors.CodeConflict))

	current, err := store.Get(ctx, "p-1")
	require.NoError(t, err)
	rev, err := store.Put(ctx, current)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)
}

func TestRemoveTombstones(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, Document{ID: "o-1", Type: "order"})
	require.NoError(t, err)
	doc, err := store.Get(ctx, "o-1")
	require.NoError(t, err)
	require.NoError(t, store.Remove(ctx, doc))

	_, err = store.Get(ctx, "o-1")
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	docs, err := store.Find(ctx, Selector{Type: "order"})
	require.NoError(t, err)
	assert.Empty(t, docs)

	// The tombstone still travels the feed so replication can see it.
	sub, err := store.Changes(ctx, ChangeOptions{Since: 0})
	require.NoError(t, err)
	defer sub.Cancel()
	var sawDeletion bool
	for ev := range sub.C() {
		if ev.ID == "o-1" && ev.Deleted {
			sawDeletion = true
		}
	}
	assert.True(t, sawDeletion)
}

func TestRemoveMissingDocument(t *testing.T) {
	store := newStore(t)
	err := store.Remove(context.Background(), Document{ID: "ghost", Type: "order"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestFindSelectors(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	yesterday := time.Now().Add(-24 * time.Hour)

	put := func(doc Document) {
		t.Helper()
		_, err := store.Put(ctx, doc)
		require.NoError(t, err)
	}
	put(Document{ID: "p-1", Type: "product", Barcode: "100", CreatedAt: yesterday})
	put(Document{ID: "p-2", Type: "product", SKUCode: "sku-2"})
	put(Document{ID: "r-1", Type: "deletion_request", Status: "pending"})

	byType, err := store.Find(ctx, Selector{Type: "product"})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	byBarcode, err := store.Find(ctx, Selector{Barcode: "100"})
	require.NoError(t, err)
	require.Len(t, byBarcode, 1)
	assert.Equal(t, "p-1", byBarcode[0].ID)

	byStatus, err := store.Find(ctx, Selector{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "r-1", byStatus[0].ID)

	old, err := store.Find(ctx, Selector{Type: "product", CreatedBefore: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "p-1", old[0].ID)
}

func TestChangesReplayThenLive(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, Document{ID: "a", Type: "product"})
	require.NoError(t, err)
	_, err = store.Put(ctx, Document{ID: "b", Type: "product"})
	require.NoError(t, err)

	sub, err := store.Changes(ctx, ChangeOptions{Since: 0, Live: true})
	require.NoError(t, err)
	defer sub.Cancel()

	first := recv(t, sub)
	second := recv(t, sub)
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, "b", second.ID)
	assert.Less(t, first.Seq, second.Seq)

	_, err = store.Put(ctx, Document{ID: "c", Type: "product"})
	require.NoError(t, err)
	assert.Equal(t, "c", recv(t, sub).ID)

	// Double cancel is a safe no-op.
	sub.Cancel()
	sub.Cancel()
}

func TestCreateThenListenHasNoGap(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	since := store.CurrentSeq()
	_, err := store.Put(ctx, Document{ID: "req-1", Type: "deletion_request", Status: "pending"})
	require.NoError(t, err)

	// Subscribing after the write still observes it via replay.
	sub, err := store.Changes(ctx, ChangeOptions{Since: since, Live: true})
	require.NoError(t, err)
	defer sub.Cancel()
	assert.Equal(t, "req-1", recv(t, sub).ID)
}

func TestChangesFilter(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, Document{ID: "p-1", Type: "product"})
	require.NoError(t, err)
	_, err = store.Put(ctx, Document{ID: "o-1", Type: "order"})
	require.NoError(t, err)

	sub, err := store.Changes(ctx, ChangeOptions{
		Since:  0,
		Filter: func(ev ChangeEvent) bool { return ev.Doc.Type == "order" },
	})
	require.NoError(t, err)
	defer sub.Cancel()

	var ids []string
	for ev := range sub.C() {
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []string{"o-1"}, ids)
}

func TestCompactPrunesOldTombstones(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, Document{ID: "o-1", Type: "order"})
	require.NoError(t, err)
	doc, err := store.Get(ctx, "o-1")
	require.NoError(t, err)
	require.NoError(t, store.Remove(ctx, doc))

	require.NoError(t, store.Compact(ctx, time.Now().Add(time.Hour)))

	sub, err := store.Changes(ctx, ChangeOptions{Since: 0})
	require.NoError(t, err)
	defer sub.Cancel()
	for ev := range sub.C() {
		assert.NotEqual(t, "o-1", ev.ID, "compaction should drop the tombstone row")
	}
}

func TestCompactCutoffExactWithinSecond(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 10, 0, 5, 0, time.UTC)

	// A tombstone half a second newer than the cutoff must survive a
	// sweep; timestamp ordering has to hold below one second.
	_, err := store.Put(ctx, Document{ID: "o-new", Type: "order", CreatedAt: base.Add(500 * time.Millisecond)})
	require.NoError(t, err)
	_, err = store.Put(ctx, Document{ID: "o-old", Type: "order", CreatedAt: base.Add(-500 * time.Millisecond)})
	require.NoError(t, err)
	for _, id := range []string{"o-new", "o-old"} {
		doc, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NoError(t, store.Remove(ctx, doc))
	}

	require.NoError(t, store.Compact(ctx, base))

	sub, err := store.Changes(ctx, ChangeOptions{Since: 0})
	require.NoError(t, err)
	defer sub.Cancel()
	seen := map[string]bool{}
	for ev := range sub.C() {
		seen[ev.ID] = true
	}
	assert.True(t, seen["o-new"], "tombstone newer than the cutoff must survive")
	assert.False(t, seen["o-old"], "tombstone older than the cutoff must be pruned")
}

func TestInfoCounts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, Document{ID: "p-1", Type: "product"})
	require.NoError(t, err)
	_, err = store.Put(ctx, Document{ID: "p-2", Type: "product"})
	require.NoError(t, err)

	info, err := store.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.DocCount)
	assert.Equal(t, store.CurrentSeq(), info.UpdateSeq)
}

func recv(t *testing.T, sub *Subscription) ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed unexpectedly")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return ChangeEvent{}
	}
}
