package replication

import (
	"time"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
)

// localOnlyPushTypes are reference data maintained in the back office.
// The terminal reads them but is never their writer of record, so it
// never pushes them back.
var localOnlyPushTypes = map[documents.Type]struct{}{
	documents.TypeCategory:         {},
	documents.TypeLocation:         {},
	documents.TypeUser:             {},
	documents.TypeRole:             {},
	documents.TypeSupplier:         {},
	documents.TypeSupplierCategory: {},
	documents.TypeShift:            {},
	documents.TypePOSSettings:      {},
}

// neverPullTypes are transactional records the terminal alone writes.
// Accepting a remote copy would let another writer clobber the terminal's
// record of its own sales.
var neverPullTypes = map[documents.Type]struct{}{
	documents.TypeOrder:              {},
	documents.TypeLog:                {},
	documents.TypeVoucher:            {},
	documents.TypeInvoice:            {},
	documents.TypeSupplier:           {},
	documents.TypeProductStock:       {},
	documents.TypeSupplierCategory:   {},
	documents.TypeItemMovementReport: {},
}

// currentDayOnlyTypes are short-lived workflow documents. Pulling ones
// from past days would only grow the working set with requests nobody
// can act on anymore.
var currentDayOnlyTypes = map[documents.Type]struct{}{
	documents.TypeContainer:          {},
	documents.TypeOffer:              {},
	documents.TypeDeletionRequest:    {},
	documents.TypeBulkDeletion:       {},
	documents.TypeDiscountRequest:    {},
	documents.TypePriceChangeRequest: {},
	documents.TypeReturnRequest:      {},
}

// allowPush decides whether a locally committed document leaves the
// terminal. Tombstones written by the retention sweep carry the
// local_only flag and must not propagate the deletion.
func allowPush(doc docstore.Document) bool {
	if doc.LocalOnly {
		return false
	}
	if _, local := localOnlyPushTypes[documents.Type(doc.Type)]; local {
		return false
	}
	return true
}

// allowPull decides whether a remote change is applied locally. now
// supplies the terminal's clock so the calendar-day bound follows the
// terminal's timezone.
func allowPull(doc docstore.Document, now time.Time) bool {
	typ := documents.Type(doc.Type)
	if _, never := neverPullTypes[typ]; never {
		return false
	}
	if _, bounded := currentDayOnlyTypes[typ]; bounded {
		return sameCalendarDay(doc.CreatedAt, now)
	}
	return true
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}
