// Package checkout turns a cart snapshot into an order of record. The
// sale is the priority operation on the terminal: stock updates and
// printing are best effort around it, only the order write itself can
// fail a checkout.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/omarhaddadin/mizan-pos/internal/cart"
	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
)

// moneyPlaces is the fixed-point precision for persisted amounts.
const moneyPlaces = 4

// Cart is the slice of the order book checkout consumes.
type Cart interface {
	Snapshot(orderID string) (cart.Snapshot, error)
	HasPendingDiscount(orderID string) bool
	RemoveOrder(orderID string)
}

// StockDecrementer removes sold quantities from showroom stock.
type StockDecrementer interface {
	Decrease(ctx context.Context, productID string, qty decimal.Decimal) error
}

// Printer receives the rendered receipt. The service supplies final
// totals and line items only; formatting belongs to the sink.
type Printer interface {
	Print(ctx context.Context, receipt Receipt) error
}

// Receipt is the structured payload handed to the printing sink.
type Receipt struct {
	OrderID       string
	Lines         []documents.OrderLine
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	PaymentMethod documents.PaymentMethod
	AmountPaid    decimal.Decimal
	Change        decimal.Decimal
	CreatedAt     time.Time
}

// Tender describes how the customer settles the order. For cash,
// AmountPaid is the cash received. For double (card+cash), CardAmount
// is the card portion and AmountPaid the cash received on top.
type Tender struct {
	Method     documents.PaymentMethod
	AmountPaid decimal.Decimal
	CardAmount decimal.Decimal
}

// Session identifies who completed the sale and where.
type Session struct {
	UserID     string
	TerminalID string
	ShiftID    string
}

// Result reports the completed checkout.
type Result struct {
	OrderID string
	Change  decimal.Decimal
	Totals  cart.Totals
}

// Params configure the service.
type Params struct {
	Store   *docstore.Store
	Cart    Cart
	Stock   StockDecrementer
	Logger  *logger.Logger
	Printer Printer
	Now     func() time.Time
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

// Service completes sales.
type Service struct {
	store   *docstore.Store
	cart    Cart
	stock   StockDecrementer
	logg    *logger.Logger
	printer Printer
	now     func() time.Time
}

// NewService builds the checkout service.
func NewService(p Params) (*Service, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Service{
		store:   p.Store,
		cart:    p.Cart,
		stock:   p.Stock,
		logg:    p.Logger,
		printer: p.Printer,
		now:     p.Now,
	}, nil
}

// Complete settles the order and writes it as the document of record.
func (s *Service) Complete(ctx context.Context, orderID string, tender Tender, session Session) (Result, error) {
	snap, err := s.cart.Snapshot(orderID)
	if err != nil {
		return Result{}, err
	}
	if len(snap.Items) == 0 {
		return Result{}, errors.New(errors.CodeValidation, "order has no items")
	}
	if s.cart.HasPendingDiscount(orderID) {
		return Result{}, errors.New(errors.CodeStateConflict, "a discount request is awaiting approval")
	}

	paid, change, cashPortion, err := settle(tender, snap.Totals.Total)
	if err != nil {
		return Result{}, err
	}

	// Stock first, as the sale flow has always done it. A failed
	// decrement is logged and the sale proceeds: the sale matters more
	// than perfectly synchronous stock accuracy.
	if s.stock != nil {
		for _, line := range snap.Items {
			if err := s.stock.Decrease(ctx, line.ProductID, line.Quantity); err != nil {
				s.logg.Error(s.logg.WithFields(ctx, map[string]any{
					"order_id":   orderID,
					"product_id": line.ProductID,
				}), "stock decrement failed, completing sale anyway", err)
			}
		}
	}

	now := s.now()
	order := documents.Order{
		Items:         orderLines(snap.Items),
		Type:          snap.Type,
		Subtotal:      money(snap.Totals.Subtotal),
		Tax:           money(snap.Totals.Tax),
		Discount:      money(snap.Totals.Discount),
		Total:         money(snap.Totals.Total),
		PaymentMethod: tender.Method,
		AmountPaid:    money(paid),
		Change:        money(change),
		UserID:        session.UserID,
		TerminalID:    session.TerminalID,
		ShiftID:       session.ShiftID,
	}
	if tender.Method == documents.PaymentMethodDouble {
		order.CardAmount = money(tender.CardAmount)
		order.CashAmount = money(cashPortion)
	}

	finalID, err := s.saveOrder(ctx, orderID, now, order)
	if err != nil {
		return Result{}, err
	}

	s.cart.RemoveOrder(orderID)
	s.writeLog(ctx, finalID, order, session, now)
	s.print(ctx, finalID, order, now)

	return Result{OrderID: finalID, Change: money(change), Totals: snap.Totals}, nil
}

// settle validates the tender against the total and returns the amount
// paid, the change due, and the cash portion of a split payment.
func settle(tender Tender, total decimal.Decimal) (paid, change, cashPortion decimal.Decimal, err error) {
	zero := decimal.Zero
	switch tender.Method {
	case documents.PaymentMethodCash:
		if tender.AmountPaid.LessThan(total) {
			return zero, zero, zero, errors.New(errors.CodeValidation, "cash received is less than the total")
		}
		return tender.AmountPaid, tender.AmountPaid.Sub(total), zero, nil
	case documents.PaymentMethodCard:
		return total, zero, zero, nil
	case documents.PaymentMethodDouble:
		if tender.CardAmount.LessThanOrEqual(zero) || tender.CardAmount.GreaterThanOrEqual(total) {
			return zero, zero, zero, errors.New(errors.CodeValidation, "card portion must be between zero and the total")
		}
		cashDue := total.Sub(tender.CardAmount)
		if tender.AmountPaid.LessThan(cashDue) {
			return zero, zero, zero, errors.New(errors.CodeValidation, "cash received does not cover the remainder")
		}
		return tender.CardAmount.Add(tender.AmountPaid), tender.AmountPaid.Sub(cashDue), cashDue, nil
	default:
		return zero, zero, zero, errors.New(errors.CodeValidation, "unknown payment method")
	}
}

// saveOrder writes the order document. A revision conflict on the cart
// order id regenerates a fresh identifier and retries once.
func (s *Service) saveOrder(ctx context.Context, orderID string, now time.Time, order documents.Order) (string, error) {
	doc := docstore.Document{
		ID:        orderID,
		Type:      string(documents.TypeOrder),
		CreatedAt: now,
	}
	doc, err := doc.WithBody(order)
	if err != nil {
		return "", errors.Wrap(errors.CodeInternal, err, "encoding order")
	}
	_, err = s.store.Put(ctx, doc)
	if err == nil {
		return doc.ID, nil
	}
	if !errors.Is(err, errors.CodeConflict) {
		return "", err
	}

	doc.ID = uuid.NewString()
	doc.Rev = 0
	if _, err := s.store.Put(ctx, doc); err != nil {
		return "", err
	}
	return doc.ID, nil
}

func (s *Service) writeLog(ctx context.Context, orderID string, order documents.Order, session Session, now time.Time) {
	entry := documents.LogEntry{
		Statement:     fmt.Sprintf("order %s completed, total %s, paid by %s", orderID, order.Total, order.PaymentMethod),
		UserID:        session.UserID,
		TerminalID:    session.TerminalID,
		RealworldDate: now,
	}
	doc := docstore.Document{
		ID:        uuid.NewString(),
		Type:      string(documents.TypeLog),
		CreatedAt: now,
	}
	doc, err := doc.WithBody(entry)
	if err != nil {
		s.logg.Error(ctx, "encoding order log entry", err)
		return
	}
	if _, err := s.store.Put(ctx, doc); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "order_id", orderID), "writing order log entry", err)
	}
}

func (s *Service) print(ctx context.Context, orderID string, order documents.Order, now time.Time) {
	if s.printer == nil {
		return
	}
	receipt := Receipt{
		OrderID:       orderID,
		Lines:         order.Items,
		Subtotal:      order.Subtotal,
		Tax:           order.Tax,
		Discount:      order.Discount,
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
		AmountPaid:    order.AmountPaid,
		Change:        order.Change,
		CreatedAt:     now,
	}
	if err := s.printer.Print(ctx, receipt); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "order_id", orderID), "receipt print failed", err)
	}
}

func orderLines(items []cart.Item) []documents.OrderLine {
	lines := make([]documents.OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, documents.OrderLine{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Quantity:       item.Quantity.Round(moneyPlaces),
			Price:          money(item.Price),
			OriginalPrice:  money(item.OriginalPrice),
			IsOfferApplied: item.IsOfferApplied,
			OfferGroupID:   item.OfferGroupID,
			IsScalableItem: item.IsScalableItem,
			AddedAt:        item.AddedAt,
		})
	}
	return lines
}

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}
