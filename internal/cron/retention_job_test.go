package cron

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
	"github.com/omarhaddadin/mizan-pos/pkg/migrate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *docstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.db")
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("unwrapping sql db: %v", err)
	}
	if err := migrate.Up(context.Background(), sqlDB); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	store, err := docstore.NewWithDB(conn, 0, nil)
	if err != nil {
		t.Fatalf("building store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func cronTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

// confirmingRemote confirms exactly the ids it was given.
type confirmingRemote struct {
	known map[string]bool
}

func (r *confirmingRemote) Get(_ context.Context, id string) (docstore.Document, error) {
	if r.known[id] {
		return docstore.Document{ID: id}, nil
	}
	return docstore.Document{}, errors.New(errors.CodeNotFound, "remote document not found")
}

func seedDoc(t *testing.T, store *docstore.Store, id string, typ documents.Type, createdAt time.Time) {
	t.Helper()
	_, err := store.Put(context.Background(), docstore.Document{
		ID:        id,
		Type:      string(typ),
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("seeding %s: %v", id, err)
	}
}

func TestRetentionSweepDeletesOnlyRemoteConfirmedDocs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()
	old := now.Add(-48 * time.Hour)

	seedDoc(t, store, "order-confirmed", documents.TypeOrder, old)
	seedDoc(t, store, "order-unconfirmed", documents.TypeOrder, old)
	seedDoc(t, store, "order-today", documents.TypeOrder, now)
	seedDoc(t, store, "product-old", documents.TypeProduct, old)

	job, err := NewRetentionJob(RetentionJobParams{
		Store:  store,
		Remote: &confirmingRemote{known: map[string]bool{"order-confirmed": true, "product-old": true}},
		Logger: cronTestLogger(),
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("building job: %v", err)
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := store.Get(ctx, "order-confirmed"); !errors.Is(err, errors.CodeNotFound) {
		t.Fatalf("confirmed old order should be swept, got %v", err)
	}
	if _, err := store.Get(ctx, "order-unconfirmed"); err != nil {
		t.Fatalf("unconfirmed order must stay: %v", err)
	}
	if _, err := store.Get(ctx, "order-today"); err != nil {
		t.Fatalf("today's order must stay: %v", err)
	}
	if _, err := store.Get(ctx, "product-old"); err != nil {
		t.Fatalf("master data must never be swept: %v", err)
	}
}

func TestRetentionSweepTombstonesStayLocal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()
	seedDoc(t, store, "order-1", documents.TypeOrder, now.Add(-48*time.Hour))

	job, err := NewRetentionJob(RetentionJobParams{
		Store:  store,
		Remote: &confirmingRemote{known: map[string]bool{"order-1": true}},
		Logger: cronTestLogger(),
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("building job: %v", err)
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	sub, err := store.Changes(ctx, docstore.ChangeOptions{Since: 0})
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	defer sub.Cancel()

	sawTombstone := false
	for ev := range sub.C() {
		if ev.ID == "order-1" && ev.Deleted {
			sawTombstone = true
			if !ev.Doc.LocalOnly {
				t.Fatal("sweep tombstone must be flagged local-only")
			}
		}
	}
	if !sawTombstone {
		t.Fatal("expected a tombstone event for the swept order")
	}
}

func TestRetentionSweepNoopWithoutRemote(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()
	seedDoc(t, store, "order-1", documents.TypeOrder, now.Add(-48*time.Hour))

	job, err := NewRetentionJob(RetentionJobParams{
		Store:  store,
		Logger: cronTestLogger(),
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("building job: %v", err)
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := store.Get(ctx, "order-1"); err != nil {
		t.Fatalf("local-only terminal must not sweep: %v", err)
	}
}

func TestCompactionPrunesOldTombstones(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	seedDoc(t, store, "order-1", documents.TypeOrder, now.Add(-30*24*time.Hour))
	doc, err := store.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := store.Remove(ctx, doc); err != nil {
		t.Fatalf("remove: %v", err)
	}

	job, err := NewCompactionJob(CompactionJobParams{
		Store:  store,
		Logger: cronTestLogger(),
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("building job: %v", err)
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	sub, err := store.Changes(ctx, docstore.ChangeOptions{Since: 0})
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	defer sub.Cancel()
	for ev := range sub.C() {
		if ev.ID == "order-1" {
			t.Fatal("compaction should have pruned the tombstone row")
		}
	}
}
