package replication

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
	"github.com/omarhaddadin/mizan-pos/pkg/migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *docstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.db")
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	require.NoError(t, migrate.Up(context.Background(), sqlDB))
	store, err := docstore.NewWithDB(conn, 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fakeRemote is an in-memory replication peer. Its change feed is the
// list of seeded changes, addressed by integer sequence strings.
type fakeRemote struct {
	mu      sync.Mutex
	docs    map[string]docstore.Document
	pushes  [][]docstore.Document
	changes []PullChange
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: map[string]docstore.Document{}}
}

func (f *fakeRemote) seedChange(doc docstore.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	f.changes = append(f.changes, PullChange{
		Seq: strconv.Itoa(len(f.changes) + 1),
		ID:  doc.ID,
		Doc: doc,
	})
}

func (f *fakeRemote) Info(context.Context) (RemoteInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return RemoteInfo{DocCount: int64(len(f.docs)), UpdateSeq: strconv.Itoa(len(f.changes))}, nil
}

func (f *fakeRemote) Get(_ context.Context, id string) (docstore.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return docstore.Document{}, errors.New(errors.CodeNotFound, "remote document not found")
	}
	return doc, nil
}

func (f *fakeRemote) Push(_ context.Context, docs []docstore.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]docstore.Document, len(docs))
	copy(batch, docs)
	f.pushes = append(f.pushes, batch)
	for _, doc := range batch {
		f.docs[doc.ID] = doc
	}
	return nil
}

func (f *fakeRemote) Pull(_ context.Context, since string, limit int) (PullResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := 0
	if since != "" {
		start, _ = strconv.Atoi(since)
	}
	if start > len(f.changes) {
		start = len(f.changes)
	}
	end := start + limit
	if limit <= 0 || end > len(f.changes) {
		end = len(f.changes)
	}
	page := PullResult{LastSeq: since}
	if start < end {
		page.Changes = append(page.Changes, f.changes[start:end]...)
		page.LastSeq = f.changes[end-1].Seq
	}
	page.Pending = int64(len(f.changes) - end)
	return page, nil
}

func (f *fakeRemote) pushedIDs() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := map[string]bool{}
	for _, batch := range f.pushes {
		for _, doc := range batch {
			ids[doc.ID] = true
		}
	}
	return ids
}

func newTestManager(t *testing.T, store *docstore.Store, remote Remote, gate *Gate) *Manager {
	t.Helper()
	mgr, err := New(Params{
		Store:     store,
		Remote:    remote,
		Gate:      gate,
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		BatchSize: 10,
	})
	require.NoError(t, err)
	return mgr
}

func putDoc(t *testing.T, store *docstore.Store, id string, typ documents.Type) {
	t.Helper()
	_, err := store.Put(context.Background(), docstore.Document{
		ID:        id,
		Type:      string(typ),
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestCyclePushesLocalWritesAndPullsRemote(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	remote := newFakeRemote()
	mgr := newTestManager(t, store, remote, NewGate())

	putDoc(t, store, "order-1", documents.TypeOrder)
	putDoc(t, store, "category-1", documents.TypeCategory)

	productDoc := docstore.Document{
		ID:        "product-1",
		Type:      string(documents.TypeProduct),
		CreatedAt: time.Now().UTC(),
		Barcode:   "6291001234567",
	}
	remote.seedChange(productDoc)

	require.NoError(t, mgr.cycle(ctx))

	pushed := remote.pushedIDs()
	assert.True(t, pushed["order-1"], "orders are pushed")
	assert.False(t, pushed["category-1"], "reference data is not pushed")

	local, err := store.Get(ctx, "product-1")
	require.NoError(t, err)
	assert.Equal(t, "6291001234567", local.Barcode)

	status := mgr.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.InDelta(t, 100.0, status.Progress, 0.001)
}

func TestGatePausesBothDirections(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	remote := newFakeRemote()
	gate := NewGate()
	mgr := newTestManager(t, store, remote, gate)

	putDoc(t, store, "order-1", documents.TypeOrder)
	remote.seedChange(docstore.Document{
		ID:        "product-1",
		Type:      string(documents.TypeProduct),
		CreatedAt: time.Now().UTC(),
	})

	gate.SetScanning(true)

	done, err := mgr.push(ctx)
	require.NoError(t, err)
	assert.False(t, done, "push must stop while scanning")
	assert.Empty(t, remote.pushedIDs(), "no documents leave during a scan burst")

	info, err := remote.Info(ctx)
	require.NoError(t, err)
	done, err = mgr.pull(ctx, info)
	require.NoError(t, err)
	assert.False(t, done)
	_, err = store.Get(ctx, "product-1")
	assert.True(t, errors.Is(err, errors.CodeNotFound), "no documents arrive during a scan burst")

	// Lowering the gate resumes from the held checkpoint.
	gate.SetScanning(false)
	require.NoError(t, mgr.cycle(ctx))
	assert.True(t, remote.pushedIDs()["order-1"])
	_, err = store.Get(ctx, "product-1")
	require.NoError(t, err)
}

func TestLocalOnlyTombstoneIsNotPushed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	remote := newFakeRemote()
	mgr := newTestManager(t, store, remote, NewGate())

	putDoc(t, store, "order-old", documents.TypeOrder)
	doc, err := store.Get(ctx, "order-old")
	require.NoError(t, err)
	doc.LocalOnly = true
	require.NoError(t, store.Remove(ctx, doc))

	require.NoError(t, mgr.cycle(ctx))
	assert.False(t, remote.pushedIDs()["order-old"], "sweep tombstones must stay local")

	// The checkpoint still advances past the suppressed tombstone, so it
	// is considered exactly once.
	mgr.mu.Lock()
	seq := mgr.pushSeq
	mgr.mu.Unlock()
	assert.Equal(t, store.CurrentSeq(), seq)
}

func TestRemoteDeletionAppliesLocally(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	remote := newFakeRemote()
	mgr := newTestManager(t, store, remote, NewGate())

	putDoc(t, store, "product-1", documents.TypeProduct)
	local, err := store.Get(ctx, "product-1")
	require.NoError(t, err)

	remote.mu.Lock()
	remote.changes = append(remote.changes, PullChange{
		Seq:     "1",
		ID:      "product-1",
		Deleted: true,
		Doc:     docstore.Document{ID: "product-1", Type: local.Type, CreatedAt: local.CreatedAt},
	})
	remote.mu.Unlock()

	require.NoError(t, mgr.cycle(ctx))
	_, err = store.Get(ctx, "product-1")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestRunLocalOnlyModeWaitsForCancel(t *testing.T) {
	store := newTestStore(t)
	mgr, err := New(Params{
		Store:  store,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	assert.Equal(t, StateLocalOnly, mgr.Status().State)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- mgr.Run(ctx) }()
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("local-only Run did not exit on cancel")
	}
}
