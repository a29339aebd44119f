package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	pkgerrors "github.com/omarhaddadin/mizan-pos/pkg/errors"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps the local embedded document database: revision-checked
// writes, selector queries, a read-through cache, and an in-process
// change feed every committed write is published to exactly once.
type Store struct {
	conn  *gorm.DB
	logg  *logger.Logger
	cache *docCache
	feed  *feed

	// writeMu serializes sequence assignment with event publication so
	// subscribers observe commits in sequence order.
	writeMu chMutex
	seq     int64
}

// chMutex is a channel-based mutex so writers can honor context
// cancellation while waiting.
type chMutex chan struct{}

func (m chMutex) lock()   { m <- struct{}{} }
func (m chMutex) unlock() { <-m }

// Options configure the store.
type Options struct {
	Path          string
	CacheCapacity int
	Logger        *logger.Logger
}

// New opens (or creates) the SQLite-backed document store.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)
	conn, err := gorm.Open(sqlite.Open(opts.Path), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening document database: %w", err)
	}

	store, err := NewWithDB(conn, opts.CacheCapacity, opts.Logger)
	if err != nil {
		return nil, err
	}
	if opts.Logger != nil {
		opts.Logger.Info(ctx, "document store opened")
	}
	return store, nil
}

// NewWithDB builds a store over an existing GORM connection.
func NewWithDB(conn *gorm.DB, cacheCapacity int, logg *logger.Logger) (*Store, error) {
	if conn == nil {
		return nil, fmt.Errorf("db connection required")
	}
	store := &Store{
		conn:    conn,
		logg:    logg,
		cache:   newDocCache(cacheCapacity),
		feed:    newFeed(),
		writeMu: make(chMutex, 1),
	}
	if err := store.loadSeq(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) loadSeq() error {
	var max struct{ Seq int64 }
	err := s.conn.Model(&row{}).Select("COALESCE(MAX(seq), 0) AS seq").Scan(&max).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("loading sequence watermark: %w", err)
	}
	s.seq = max.Seq
	return nil
}

// DB exposes the underlying connection for migrations.
func (s *Store) DB() *gorm.DB { return s.conn }

// CurrentSeq returns the latest committed sequence number.
func (s *Store) CurrentSeq() int64 {
	s.writeMu.lock()
	defer s.writeMu.unlock()
	return s.seq
}

// CacheLen reports the number of cached documents.
func (s *Store) CacheLen() int { return s.cache.len() }

// Get returns the document with the given id, reading through the cache.
// Tombstoned documents report NotFound.
func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	if doc, ok := s.cache.get(id); ok {
		return doc, nil
	}
	var r row
	err := s.conn.WithContext(ctx).Where("id = ? AND deleted = ?", id, false).Take(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Document{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("document %s not found", id))
		}
		return Document{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading document")
	}
	doc := r.toDocument()
	s.cache.set(doc)
	return doc, nil
}

// Put writes the document. A new document must carry Rev 0; an update
// must carry the revision it read, or the write fails with a conflict.
// Returns the committed revision.
func (s *Store) Put(ctx context.Context, doc Document) (int64, error) {
	if doc.ID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "document id is required")
	}
	if doc.Type == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "document type is required")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	return s.commit(ctx, doc, false)
}

// Remove tombstones the document. The revision check applies as in Put.
// The tombstone keeps the envelope columns so replication filters can
// still classify the deletion.
func (s *Store) Remove(ctx context.Context, doc Document) error {
	doc.Deleted = true
	_, err := s.commit(ctx, doc, true)
	return err
}

func (s *Store) commit(ctx context.Context, doc Document, tombstone bool) (int64, error) {
	s.writeMu.lock()
	defer s.writeMu.unlock()

	var existing row
	err := s.conn.WithContext(ctx).Where("id = ?", doc.ID).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if tombstone {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("document %s not found", doc.ID))
		}
		if doc.Rev != 0 {
			return 0, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("document %s does not exist at rev %d", doc.ID, doc.Rev))
		}
		doc.Rev = 1
	case err != nil:
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading current revision")
	default:
		if doc.Rev != existing.Rev {
			return 0, pkgerrors.New(pkgerrors.CodeConflict,
				fmt.Sprintf("document %s is at rev %d, write carried rev %d", doc.ID, existing.Rev, doc.Rev))
		}
		doc.Rev = existing.Rev + 1
	}

	seq := s.seq + 1
	r, convErr := rowFromDocument(doc, seq)
	if convErr != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, convErr, "encoding document")
	}
	if err := s.conn.WithContext(ctx).Save(&r).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "writing document")
	}
	s.seq = seq

	ev := ChangeEvent{Seq: seq, ID: doc.ID, Doc: doc, Deleted: doc.Deleted}
	if doc.Deleted {
		s.cache.delete(doc.ID)
	} else {
		s.cache.set(doc)
	}
	s.feed.publish(ev)
	return doc.Rev, nil
}

// Find returns non-deleted documents matching the selector.
func (s *Store) Find(ctx context.Context, sel Selector) ([]Document, error) {
	q := s.conn.WithContext(ctx).Model(&row{}).Where("deleted = ?", false)
	if sel.Type != "" {
		q = q.Where("document_type = ?", sel.Type)
	}
	if len(sel.Types) > 0 {
		q = q.Where("document_type IN ?", sel.Types)
	}
	if sel.Status != "" {
		q = q.Where("status = ?", sel.Status)
	}
	if sel.Barcode != "" {
		q = q.Where("barcode = ?", sel.Barcode)
	}
	if sel.SKUCode != "" {
		q = q.Where("sku_code = ?", sel.SKUCode)
	}
	if sel.OtherBarcode != "" {
		q = q.Where("other_barcodes LIKE ?", `%"`+sel.OtherBarcode+`"%`)
	}
	if !sel.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", sel.CreatedBefore.UTC().Format(createdAtLayout))
	}
	if !sel.CreatedAfter.IsZero() {
		q = q.Where("created_at > ?", sel.CreatedAfter.UTC().Format(createdAtLayout))
	}
	if sel.Limit > 0 {
		q = q.Limit(sel.Limit)
	}

	var rows []row
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "querying documents")
	}
	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.toDocument())
	}
	return docs, nil
}

// Changes subscribes to the change feed. Committed events with a
// sequence greater than opts.Since are replayed first, in order, with no
// gap before live delivery begins.
func (s *Store) Changes(ctx context.Context, opts ChangeOptions) (*Subscription, error) {
	sub := &Subscription{
		feed:   s.feed,
		filter: opts.Filter,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan ChangeEvent, 16),
	}

	// Replay happens under the write lock so no commit can slip between
	// the replay snapshot and the live attach.
	s.writeMu.lock()
	var rows []row
	err := s.conn.WithContext(ctx).Where("seq > ?", opts.Since).Order("seq ASC").Find(&rows).Error
	if err != nil {
		s.writeMu.unlock()
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replaying change feed")
	}
	for _, r := range rows {
		doc := r.toDocument()
		sub.enqueue(ChangeEvent{Seq: r.Seq, ID: r.ID, Doc: doc, Deleted: r.Deleted})
	}
	if opts.Live {
		s.feed.attach(sub)
	} else {
		sub.markDraining()
	}
	s.writeMu.unlock()

	go sub.pump()
	return sub, nil
}

// Info reports document counts used by sync progress and diagnostics.
func (s *Store) Info(ctx context.Context) (DBInfo, error) {
	var count int64
	if err := s.conn.WithContext(ctx).Model(&row{}).Where("deleted = ?", false).Count(&count).Error; err != nil {
		return DBInfo{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "counting documents")
	}
	return DBInfo{DocCount: count, UpdateSeq: s.CurrentSeq(), CacheSize: s.cache.len()}, nil
}

// DBInfo summarizes the local database.
type DBInfo struct {
	DocCount  int64
	UpdateSeq int64
	CacheSize int
}

// Compact reclaims space from tombstones older than the cutoff and
// vacuums the file. The cache is cleared afterwards so stale bodies
// cannot outlive compaction.
func (s *Store) Compact(ctx context.Context, cutoff time.Time) error {
	err := s.conn.WithContext(ctx).
		Where("deleted = ? AND created_at < ?", true, cutoff.UTC().Format(createdAtLayout)).
		Delete(&row{}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pruning tombstones")
	}
	if err := s.conn.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "vacuuming database")
	}
	s.cache.clear()
	return nil
}

// Close shuts down the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
