package replication

import (
	"testing"
	"time"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/stretchr/testify/assert"
)

func TestAllowPush(t *testing.T) {
	assert.True(t, allowPush(docstore.Document{ID: "o1", Type: string(documents.TypeOrder)}))
	assert.True(t, allowPush(docstore.Document{ID: "p1", Type: string(documents.TypeProduct)}))

	for typ := range localOnlyPushTypes {
		assert.False(t, allowPush(docstore.Document{ID: "d", Type: string(typ)}),
			"reference type %s must never be pushed", typ)
	}

	sweepTombstone := docstore.Document{
		ID:        "old-order",
		Type:      string(documents.TypeOrder),
		Deleted:   true,
		LocalOnly: true,
	}
	assert.False(t, allowPush(sweepTombstone), "retention tombstones stay local")

	userDeletion := docstore.Document{ID: "o2", Type: string(documents.TypeOrder), Deleted: true}
	assert.True(t, allowPush(userDeletion), "ordinary deletions do propagate")
}

func TestAllowPullNeverPullTypes(t *testing.T) {
	now := time.Now()
	for typ := range neverPullTypes {
		doc := docstore.Document{ID: "d", Type: string(typ), CreatedAt: now}
		assert.False(t, allowPull(doc, now), "transactional type %s must never be pulled", typ)
	}
	assert.True(t, allowPull(docstore.Document{ID: "p", Type: string(documents.TypeProduct), CreatedAt: now}, now))
}

func TestAllowPullCurrentDayBound(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local)

	for typ := range currentDayOnlyTypes {
		today := docstore.Document{ID: "d", Type: string(typ), CreatedAt: now.Add(-2 * time.Hour)}
		yesterday := docstore.Document{ID: "d", Type: string(typ), CreatedAt: now.Add(-24 * time.Hour)}
		assert.True(t, allowPull(today, now), "same-day %s should be pulled", typ)
		assert.False(t, allowPull(yesterday, now), "prior-day %s must be skipped", typ)
	}

	// Master data has no day bound.
	old := docstore.Document{ID: "p", Type: string(documents.TypeProduct), CreatedAt: now.AddDate(-1, 0, 0)}
	assert.True(t, allowPull(old, now))
}
