package checkout

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/omarhaddadin/mizan-pos/internal/cart"
	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
	"github.com/omarhaddadin/mizan-pos/pkg/migrate"
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

type recordingStock struct {
	mu        sync.Mutex
	decreases map[string]decimal.Decimal
	fail      bool
}

func newRecordingStock() *recordingStock {
	return &recordingStock{decreases: map[string]decimal.Decimal{}}
}

func (r *recordingStock) Decrease(_ context.Context, productID string, qty decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New(errors.CodeConflict, "stock busy")
	}
	r.decreases[productID] = r.decreases[productID].Add(qty)
	return nil
}

type recordingPrinter struct {
	mu       sync.Mutex
	receipts []Receipt
}

func (r *recordingPrinter) Print(_ context.Context, receipt Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, receipt)
	return nil
}

type fixture struct {
	store   *docstore.Store
	book    *cart.OrderBook
	stock   *recordingStock
	printer *recordingPrinter
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newTestStore(t)
	book := cart.NewOrderBook(cart.Params{})
	stock := newRecordingStock()
	printer := &recordingPrinter{}
	svc, err := NewService(Params{
		Store:   store,
		Cart:    book,
		Stock:   stock,
		Logger:  logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard}),
		Printer: printer,
	})
	if err != nil {
		t.Fatalf("building service: %v", err)
	}
	return &fixture{store: store, book: book, stock: stock, printer: printer, svc: svc}
}

func (f *fixture) addProduct(t *testing.T, id string, price int64, qty int64) string {
	t.Helper()
	orderID := f.book.EnsureActiveOrder()
	product := documents.Product{Name: id, Price: decimal.NewFromInt(price)}
	if err := f.book.AddProduct(id, product, qty); err != nil {
		t.Fatalf("adding %s: %v", id, err)
	}
	return orderID
}

func (f *fixture) fetchOrder(t *testing.T, id string) documents.Order {
	t.Helper()
	doc, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("fetching order %s: %v", id, err)
	}
	var order documents.Order
	if err := doc.DecodeBody(&order); err != nil {
		t.Fatalf("decoding order: %v", err)
	}
	return order
}

func TestCashSale(t *testing.T) {
	f := newFixture(t)
	orderID := f.addProduct(t, "p-1", 2, 3)

	result, err := f.svc.Complete(context.Background(), orderID,
		Tender{Method: documents.PaymentMethodCash, AmountPaid: decimal.NewFromInt(10)},
		Session{UserID: "u-1", TerminalID: "t-1", ShiftID: "s-1"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !result.Change.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("change = %s, want 4", result.Change)
	}

	order := f.fetchOrder(t, result.OrderID)
	if !order.Total.Equal(decimal.NewFromInt(6)) || !order.AmountPaid.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("order totals = %+v", order)
	}
	if order.UserID != "u-1" || order.TerminalID != "t-1" || order.ShiftID != "s-1" {
		t.Fatalf("session fields = %+v", order)
	}

	// The cart order is gone, the stock moved, a log exists, a receipt printed.
	if _, err := f.book.Snapshot(orderID); !errors.Is(err, errors.CodeNotFound) {
		t.Fatalf("cart order should be removed, got %v", err)
	}
	if got := f.stock.decreases["p-1"]; !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("stock decrement = %s, want 3", got)
	}
	logs, err := f.store.Find(context.Background(), docstore.Selector{Type: string(documents.TypeLog)})
	if err != nil || len(logs) != 1 {
		t.Fatalf("log documents = %d (%v)", len(logs), err)
	}
	if len(f.printer.receipts) != 1 || !f.printer.receipts[0].Total.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("receipts = %+v", f.printer.receipts)
	}
}

func TestEmptyOrderRejected(t *testing.T) {
	f := newFixture(t)
	orderID := f.book.EnsureActiveOrder()

	_, err := f.svc.Complete(context.Background(), orderID,
		Tender{Method: documents.PaymentMethodCard}, Session{})
	if !errors.Is(err, errors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestPendingDiscountBlocksCheckout(t *testing.T) {
	f := newFixture(t)
	orderID := f.addProduct(t, "p-1", 20, 1)
	if _, err := f.book.ProposeDiscount(orderID, "req-1", documents.DiscountTypePercentage, decimal.NewFromInt(25)); err != nil {
		t.Fatalf("propose: %v", err)
	}

	_, err := f.svc.Complete(context.Background(), orderID,
		Tender{Method: documents.PaymentMethodCard}, Session{})
	if !errors.Is(err, errors.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT while discount pending, got %v", err)
	}

	if err := f.book.ConfirmDiscount(orderID, "req-1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	result, err := f.svc.Complete(context.Background(), orderID,
		Tender{Method: documents.PaymentMethodCard}, Session{})
	if err != nil {
		t.Fatalf("complete after approval: %v", err)
	}
	order := f.fetchOrder(t, result.OrderID)
	if !order.Total.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("discounted total = %s, want 15", order.Total)
	}
	if !order.Discount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("discount = %s, want 5", order.Discount)
	}
}

func TestInsufficientCashRejected(t *testing.T) {
	f := newFixture(t)
	orderID := f.addProduct(t, "p-1", 10, 1)

	_, err := f.svc.Complete(context.Background(), orderID,
		Tender{Method: documents.PaymentMethodCash, AmountPaid: decimal.NewFromInt(9)}, Session{})
	if !errors.Is(err, errors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestSplitTender(t *testing.T) {
	f := newFixture(t)
	orderID := f.addProduct(t, "p-1", 10, 1)

	result, err := f.svc.Complete(context.Background(), orderID, Tender{
		Method:     documents.PaymentMethodDouble,
		CardAmount: decimal.NewFromInt(6),
		AmountPaid: decimal.NewFromInt(5),
	}, Session{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !result.Change.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("change = %s, want 1", result.Change)
	}

	order := f.fetchOrder(t, result.OrderID)
	if !order.CardAmount.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("card amount = %s", order.CardAmount)
	}
	if !order.CashAmount.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("cash portion = %s, want the remainder 4", order.CashAmount)
	}
	if !order.AmountPaid.Equal(decimal.NewFromInt(11)) {
		t.Fatalf("amount paid = %s, want card plus cash received", order.AmountPaid)
	}
}

func TestOrderIDConflictRegeneratesOnce(t *testing.T) {
	f := newFixture(t)
	orderID := f.addProduct(t, "p-1", 5, 1)

	// Occupy the cart's order id so the first Put conflicts.
	taken := docstore.Document{ID: orderID, Type: string(documents.TypeOrder)}
	if _, err := f.store.Put(context.Background(), taken); err != nil {
		t.Fatalf("seeding conflicting doc: %v", err)
	}

	result, err := f.svc.Complete(context.Background(), orderID,
		Tender{Method: documents.PaymentMethodCard}, Session{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.OrderID == orderID {
		t.Fatal("conflicting order id must be regenerated")
	}
	order := f.fetchOrder(t, result.OrderID)
	if !order.Total.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("total = %s", order.Total)
	}
}

func TestStockFailureDoesNotBlockSale(t *testing.T) {
	f := newFixture(t)
	orderID := f.addProduct(t, "p-1", 5, 1)
	f.stock.fail = true

	result, err := f.svc.Complete(context.Background(), orderID,
		Tender{Method: documents.PaymentMethodCard}, Session{})
	if err != nil {
		t.Fatalf("sale must complete despite stock failure, got %v", err)
	}
	f.fetchOrder(t, result.OrderID)
}
