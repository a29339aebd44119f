package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/omarhaddadin/mizan-pos/internal/cart"
	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
	"github.com/shopspring/decimal"
)

// Cart is the slice of the order book the engine mutates when requests
// resolve.
type Cart interface {
	ItemQuantity(orderID string, key cart.Key) (decimal.Decimal, error)
	RemoveItem(orderID string, key cart.Key) error
	AdjustQuantity(orderID string, key cart.Key, delta decimal.Decimal) error
	SetPrice(orderID string, key cart.Key, price decimal.Decimal) error
	ClearOrder(orderID string) error
	Totals(orderID string) (cart.Totals, error)
	ProposeDiscount(orderID, requestID string, typ documents.DiscountType, value decimal.Decimal) (cart.Discount, error)
	ConfirmDiscount(orderID, requestID string) error
	RejectDiscount(orderID, requestID string) error
}

// StockRestorer puts returned quantities back on the shelf when a
// return request is approved.
type StockRestorer interface {
	Increase(ctx context.Context, productID string, qty decimal.Decimal) error
}

// Outcome is the terminal state of an approval request.
type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeAbandoned Outcome = "abandoned"
)

// Resolution is reported once per request when it reaches a terminal
// state. Abandoned means the change feed closed before a decision
// arrived; the request is not retried.
type Resolution struct {
	RequestID string
	Kind      documents.Type
	OrderID   string
	Outcome   Outcome
	Err       error
}

// Params configures the engine.
type Params struct {
	Store  *docstore.Store
	Cart   Cart
	Stock  StockRestorer
	Logger *logger.Logger
	Notify func(Resolution)

	// RequireForZeroingDecrement routes decrements that empty a line
	// through approval instead of removing the line directly.
	RequireForZeroingDecrement bool
	Now                        func() time.Time
}

func (p Params) validate() error {
	if p.Store == nil {
		return fmt.Errorf("store is required")
	}
	if p.Cart == nil {
		return fmt.Errorf("cart is required")
	}
	if p.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// Engine creates approval-request documents, watches the change feed
// for their resolution, and applies the approved mutation to the order
// book exactly once.
type Engine struct {
	store    *docstore.Store
	cart     Cart
	stock    StockRestorer
	logg     *logger.Logger
	notify   func(Resolution)
	validate *validator.Validate
	markers  *markerSet
	now      func() time.Time

	requireForZeroing bool

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// NewEngine builds the engine.
func NewEngine(p Params) (*Engine, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Notify == nil {
		p.Notify = func(Resolution) {}
	}
	return &Engine{
		store:             p.Store,
		cart:              p.Cart,
		stock:             p.Stock,
		logg:              p.Logger,
		notify:            p.Notify,
		validate:          validator.New(),
		markers:           newMarkerSet(),
		now:               p.Now,
		requireForZeroing: p.RequireForZeroingDecrement,
		stop:              make(chan struct{}),
	}, nil
}

// Close stops every in-flight watcher. Pending requests resolve as
// abandoned.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

// PendingRequests lists every approval-request document still awaiting
// a decision.
func (e *Engine) PendingRequests(ctx context.Context) ([]docstore.Document, error) {
	types := make([]string, 0)
	for _, typ := range documents.ApprovalRequestTypes() {
		types = append(types, string(typ))
	}
	return e.store.Find(ctx, docstore.Selector{
		Types:  types,
		Status: string(documents.StatusPending),
	})
}

// RequestDeletion asks for a line removal or decrement. A relative
// decrement that empties the line is applied directly, skipping
// approval, unless the engine is configured otherwise. The returned id
// is empty when the change was applied directly.
func (e *Engine) RequestDeletion(ctx context.Context, key cart.Key, req documents.DeletionRequest) (string, error) {
	if req.Timestamp.IsZero() {
		req.Timestamp = e.now()
	}
	if req.ItemKey == "" {
		req.ItemKey = key.String()
	}
	if err := e.validate.Struct(req); err != nil {
		return "", errors.Wrap(errors.CodeValidation, err, "invalid deletion request")
	}

	if req.QuantityChange.IsNegative() && !e.requireForZeroing {
		current, err := e.cart.ItemQuantity(req.OrderID, key)
		if err != nil {
			return "", err
		}
		if current.Add(req.QuantityChange).LessThanOrEqual(decimal.Zero) {
			return "", e.cart.RemoveItem(req.OrderID, key)
		}
	}

	markerKey := fmt.Sprintf("deletion|%s|%s", req.OrderID, key.String())
	requestID := uuid.NewString()
	if !e.markers.acquire(markerKey, requestID) {
		return "", errors.New(errors.CodeDuplicateRequest, "a deletion request for this item is already pending")
	}

	quantityChange := req.QuantityChange
	return requestID, e.submit(ctx, requestID, markerKey, documents.TypeDeletionRequest, req.OrderID, req, resolver{
		onApproved: func(ctx context.Context) error {
			if quantityChange.IsZero() {
				return e.cart.RemoveItem(req.OrderID, key)
			}
			return e.cart.AdjustQuantity(req.OrderID, key, quantityChange)
		},
	})
}

// RequestBulkDeletion asks for the order's full line set to be cleared.
func (e *Engine) RequestBulkDeletion(ctx context.Context, req documents.BulkDeletionRequest) (string, error) {
	if req.Timestamp.IsZero() {
		req.Timestamp = e.now()
	}
	if err := e.validate.Struct(req); err != nil {
		return "", errors.Wrap(errors.CodeValidation, err, "invalid bulk deletion request")
	}

	markerKey := "bulk|" + req.OrderID
	requestID := uuid.NewString()
	if !e.markers.acquire(markerKey, requestID) {
		return "", errors.New(errors.CodeDuplicateRequest, "a bulk deletion request for this order is already pending")
	}

	return requestID, e.submit(ctx, requestID, markerKey, documents.TypeBulkDeletion, req.OrderID, req, resolver{
		onApproved: func(ctx context.Context) error {
			return e.cart.ClearOrder(req.OrderID)
		},
	})
}

// RequestDiscount applies the discount optimistically and asks for
// authorization. Rejection, and abandonment on feed failure, roll the
// discount back so checkout never stays blocked on a dead request.
func (e *Engine) RequestDiscount(ctx context.Context, req documents.DiscountRequest) (string, error) {
	if req.Timestamp.IsZero() {
		req.Timestamp = e.now()
	}
	if err := e.validate.Struct(req); err != nil {
		return "", errors.Wrap(errors.CodeValidation, err, "invalid discount request")
	}
	if !req.DiscountType.IsValid() {
		return "", errors.New(errors.CodeValidation, "unknown discount type")
	}

	markerKey := "discount|" + req.OrderID
	requestID := uuid.NewString()
	if !e.markers.acquire(markerKey, requestID) {
		return "", errors.New(errors.CodeDuplicateRequest, "a discount request for this order is already pending")
	}

	totals, err := e.cart.Totals(req.OrderID)
	if err != nil {
		e.markers.resolve(markerKey, requestID)
		return "", err
	}
	disc, err := e.cart.ProposeDiscount(req.OrderID, requestID, req.DiscountType, req.DiscountValue)
	if err != nil {
		e.markers.resolve(markerKey, requestID)
		return "", err
	}
	req.OriginalTotal = totals.Total
	req.CalculatedDiscount = disc.Amount

	rollback := func(ctx context.Context) error {
		return e.cart.RejectDiscount(req.OrderID, requestID)
	}
	err = e.submit(ctx, requestID, markerKey, documents.TypeDiscountRequest, req.OrderID, req, resolver{
		onApproved: func(ctx context.Context) error {
			return e.cart.ConfirmDiscount(req.OrderID, requestID)
		},
		onRejected:  rollback,
		onAbandoned: rollback,
	})
	if err != nil {
		_ = e.cart.RejectDiscount(req.OrderID, requestID)
		return "", err
	}
	return requestID, nil
}

// RequestPriceChange asks for a line's unit price to be overridden.
func (e *Engine) RequestPriceChange(ctx context.Context, key cart.Key, req documents.PriceChangeRequest) (string, error) {
	if req.Timestamp.IsZero() {
		req.Timestamp = e.now()
	}
	if req.ItemKey == "" {
		req.ItemKey = key.String()
	}
	if err := e.validate.Struct(req); err != nil {
		return "", errors.Wrap(errors.CodeValidation, err, "invalid price change request")
	}
	if req.NewPrice.IsNegative() {
		return "", errors.New(errors.CodeValidation, "price must not be negative")
	}

	markerKey := fmt.Sprintf("price|%s|%s", req.OrderID, key.String())
	requestID := uuid.NewString()
	if !e.markers.acquire(markerKey, requestID) {
		return "", errors.New(errors.CodeDuplicateRequest, "a price change request for this item is already pending")
	}

	newPrice := req.NewPrice
	return requestID, e.submit(ctx, requestID, markerKey, documents.TypePriceChangeRequest, req.OrderID, req, resolver{
		onApproved: func(ctx context.Context) error {
			return e.cart.SetPrice(req.OrderID, key, newPrice)
		},
	})
}

// RequestReturn asks for a provisional return order to be honored.
// Approval restores the returned stock; rejection deletes the
// provisional return order.
func (e *Engine) RequestReturn(ctx context.Context, req documents.ReturnRequest) (string, error) {
	if req.Timestamp.IsZero() {
		req.Timestamp = e.now()
	}
	if err := e.validate.Struct(req); err != nil {
		return "", errors.Wrap(errors.CodeValidation, err, "invalid return request")
	}
	if e.stock == nil {
		return "", errors.New(errors.CodeInternal, "return requests need a stock restorer")
	}

	markerKey := "return|" + req.ReturnOrderID
	requestID := uuid.NewString()
	if !e.markers.acquire(markerKey, requestID) {
		return "", errors.New(errors.CodeDuplicateRequest, "a return request for this order is already pending")
	}

	items := req.Items
	returnOrderID := req.ReturnOrderID
	return requestID, e.submit(ctx, requestID, markerKey, documents.TypeReturnRequest, req.OrderID, req, resolver{
		onApproved: func(ctx context.Context) error {
			for _, line := range items {
				if err := e.stock.Increase(ctx, line.ProductID, line.Quantity); err != nil {
					return err
				}
			}
			return nil
		},
		onRejected: func(ctx context.Context) error {
			doc, err := e.store.Get(ctx, returnOrderID)
			if errors.Is(err, errors.CodeNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			return e.store.Remove(ctx, doc)
		},
	})
}

// submit persists the pending request document and starts watching for
// its resolution. The change-feed subscription replays from the
// sequence before the write, so a decision landing between write and
// watch is never missed.
func (e *Engine) submit(ctx context.Context, requestID, markerKey string, kind documents.Type, orderID string, payload any, r resolver) error {
	doc := docstore.Document{
		ID:        requestID,
		Type:      string(kind),
		CreatedAt: e.now(),
		Status:    string(documents.StatusPending),
	}
	doc, err := doc.WithBody(payload)
	if err != nil {
		e.markers.resolve(markerKey, requestID)
		return errors.Wrap(errors.CodeValidation, err, "encoding request payload")
	}

	since := e.store.CurrentSeq()
	if _, err := e.store.Put(ctx, doc); err != nil {
		e.markers.resolve(markerKey, requestID)
		return err
	}

	r.requestID = requestID
	r.markerKey = markerKey
	r.kind = kind
	r.orderID = orderID
	if err := e.watch(r, since); err != nil {
		e.markers.resolve(markerKey, requestID)
		return err
	}

	logCtx := e.logg.WithOrderID(e.logg.WithDocumentID(ctx, requestID), orderID)
	e.logg.Info(logCtx, "approval request created: "+string(kind))
	return nil
}
