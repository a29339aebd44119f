package cart

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
	"github.com/shopspring/decimal"
)

// MaxLineQuantity caps any single line's quantity.
const MaxLineQuantity = 9999

// Params configures an OrderBook.
type Params struct {
	Now func() time.Time
}

// OrderBook holds every open order on the terminal and a working copy
// of the active order's lines. Every mutation keeps the stored order
// and the working copy identical, so switching orders or resolving an
// approval against a parked order never observes a stale cart.
type OrderBook struct {
	mu  sync.Mutex
	now func() time.Time

	orders    map[string]*orderState
	currentID string
	cart      []Item
}

type orderState struct {
	ID        string
	Type      documents.OrderType
	Items     []Item
	Discount  Discount
	CreatedAt time.Time
}

// NewOrderBook builds an empty book.
func NewOrderBook(p Params) *OrderBook {
	if p.Now == nil {
		p.Now = time.Now
	}
	return &OrderBook{
		now:    p.Now,
		orders: map[string]*orderState{},
	}
}

// EnsureActiveOrder returns the current order id, creating a fresh sale
// order when none is active.
func (b *OrderBook) EnsureActiveOrder() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ensureActiveLocked()
}

func (b *OrderBook) ensureActiveLocked() string {
	if b.currentID != "" {
		return b.currentID
	}
	id := uuid.NewString()
	b.orders[id] = &orderState{
		ID:        id,
		Type:      documents.OrderTypeSale,
		CreatedAt: b.now(),
	}
	b.currentID = id
	b.cart = nil
	return id
}

// CurrentOrderID returns the active order id, or empty when none.
func (b *OrderBook) CurrentOrderID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentID
}

// OrderIDs lists every open order.
func (b *OrderBook) OrderIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.orders))
	for id := range b.orders {
		ids = append(ids, id)
	}
	return ids
}

// Items returns a copy of the active order's lines.
func (b *OrderBook) Items() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copyItems(b.cart)
}

// SwitchOrder flushes the working cart into its order, then loads the
// target order's lines as the new working cart. An unknown target id
// opens a fresh order under that id.
func (b *OrderBook) SwitchOrder(orderID string) error {
	if orderID == "" {
		return errors.New(errors.CodeValidation, "order id is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.syncCurrentLocked()
	state, ok := b.orders[orderID]
	if !ok {
		state = &orderState{
			ID:        orderID,
			Type:      documents.OrderTypeSale,
			CreatedAt: b.now(),
		}
		b.orders[orderID] = state
	}
	b.currentID = orderID
	b.cart = copyItems(state.Items)
	return nil
}

// syncCurrentLocked mirrors the working cart into the stored order.
func (b *OrderBook) syncCurrentLocked() {
	if b.currentID == "" {
		return
	}
	if state, ok := b.orders[b.currentID]; ok {
		state.Items = copyItems(b.cart)
	}
}

// reloadCurrentLocked refreshes the working cart from the stored order
// after an order-scoped mutation touched it directly.
func (b *OrderBook) reloadCurrentLocked(orderID string) {
	if orderID != b.currentID {
		return
	}
	if state, ok := b.orders[orderID]; ok {
		b.cart = copyItems(state.Items)
	}
}

// AddProduct adds quantity units of the product to the active order.
// Weighed products always open a new unlocked line; offered products
// re-split the product's full quantity across offer tiers; plain
// products merge into an existing regular line when one exists.
func (b *OrderBook) AddProduct(productID string, product documents.Product, quantity int64) error {
	if productID == "" {
		return errors.New(errors.CodeValidation, "product id is required")
	}
	if quantity <= 0 {
		return errors.New(errors.CodeValidation, "quantity must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureActiveLocked()

	switch {
	case product.IsScalableItem:
		// A still-unlocked line for the same product keeps tracking the
		// scale; adding again must not open a second live line.
		if b.findUnlockedScaleLineLocked(productID) < 0 {
			line := newItemFromProduct(productID, product, decimal.Zero, b.now())
			b.cart = append(b.cart, line)
		}
	case product.HasOffer && len(product.Offers) > 0:
		total := b.productQuantityLocked(productID) + quantity
		if total > MaxLineQuantity {
			return errQuantityLimit()
		}
		b.resplitProductLocked(productID, product, total)
	default:
		if idx := b.findRegularLineLocked(productID); idx >= 0 {
			next := b.cart[idx].Quantity.Add(decimal.NewFromInt(quantity))
			if next.GreaterThan(decimal.NewFromInt(MaxLineQuantity)) {
				return errQuantityLimit()
			}
			b.cart[idx].Quantity = next
		} else {
			line := newItemFromProduct(productID, product, decimal.NewFromInt(quantity), b.now())
			b.cart = append(b.cart, line)
		}
	}

	b.syncCurrentLocked()
	return nil
}

// IncrementQuantity raises a line's quantity by delta units. Offered
// products re-split across tiers instead of mutating the single line.
func (b *OrderBook) IncrementQuantity(key Key, product documents.Product, delta int64) error {
	if delta <= 0 {
		return errors.New(errors.CodeValidation, "delta must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.findByKeyLocked(key)
	if idx < 0 {
		return errors.New(errors.CodeNotFound, "cart item not found")
	}
	item := b.cart[idx]
	if item.IsScalableItem {
		return errors.New(errors.CodeStateConflict, "weighed lines change through the scale")
	}

	if item.HasOffer && len(item.Offers) > 0 {
		total := b.productQuantityLocked(item.ProductID) + delta
		if total > MaxLineQuantity {
			return errQuantityLimit()
		}
		b.resplitProductLocked(item.ProductID, product, total)
	} else {
		next := item.Quantity.Add(decimal.NewFromInt(delta))
		if next.GreaterThan(decimal.NewFromInt(MaxLineQuantity)) {
			return errQuantityLimit()
		}
		b.cart[idx].Quantity = next
	}

	b.syncCurrentLocked()
	return nil
}

// SetQuantity replaces a line's quantity. For offered products the new
// value is treated as the product's total quantity and re-split.
func (b *OrderBook) SetQuantity(key Key, product documents.Product, quantity int64) error {
	if quantity <= 0 || quantity > MaxLineQuantity {
		return errors.New(errors.CodeValidation, "quantity out of range")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.findByKeyLocked(key)
	if idx < 0 {
		return errors.New(errors.CodeNotFound, "cart item not found")
	}
	item := b.cart[idx]
	if item.IsScalableItem {
		return errors.New(errors.CodeStateConflict, "weighed lines change through the scale")
	}

	if item.HasOffer && len(item.Offers) > 0 {
		b.resplitProductLocked(item.ProductID, product, quantity)
	} else {
		b.cart[idx].Quantity = decimal.NewFromInt(quantity)
	}

	b.syncCurrentLocked()
	return nil
}

// ApplyWeight routes a scale reading to the newest unlocked weighed
// line and reports whether any line tracked it.
func (b *OrderBook) ApplyWeight(weight decimal.Decimal) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := -1
	for i, item := range b.cart {
		if item.IsScalableItem && !item.WeightLocked {
			target = i
		}
	}
	if target < 0 {
		return false
	}
	if weight.IsNegative() {
		weight = decimal.Zero
	}
	b.cart[target].Quantity = weight
	b.syncCurrentLocked()
	return true
}

// LockWeights freezes every unlocked weighed line at its current
// reading. Called when the operator commits the weight by scanning the
// next product or starting checkout.
func (b *OrderBook) LockWeights() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.cart {
		if b.cart[i].IsScalableItem {
			b.cart[i].WeightLocked = true
		}
	}
	b.syncCurrentLocked()
}

// ItemQuantity reports the current quantity of one line on the given
// order.
func (b *OrderBook) ItemQuantity(orderID string, key Key) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.orderLocked(orderID)
	if err != nil {
		return decimal.Zero, err
	}
	idx := findByKey(state.Items, key)
	if idx < 0 {
		return decimal.Zero, errors.New(errors.CodeNotFound, "cart item not found")
	}
	return state.Items[idx].Quantity, nil
}

// RemoveItem deletes one line from the given order. Used directly for
// lines that need no approval and by approval resolution for the rest.
func (b *OrderBook) RemoveItem(orderID string, key Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.orderLocked(orderID)
	if err != nil {
		return err
	}
	idx := findByKey(state.Items, key)
	if idx < 0 {
		return errors.New(errors.CodeNotFound, "cart item not found")
	}
	state.Items = append(state.Items[:idx], state.Items[idx+1:]...)
	b.reloadCurrentLocked(orderID)
	return nil
}

// AdjustQuantity applies a signed quantity change to one line of the
// given order. The line is removed when the result drops to zero.
func (b *OrderBook) AdjustQuantity(orderID string, key Key, delta decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.orderLocked(orderID)
	if err != nil {
		return err
	}
	idx := findByKey(state.Items, key)
	if idx < 0 {
		return errors.New(errors.CodeNotFound, "cart item not found")
	}
	next := state.Items[idx].Quantity.Add(delta)
	if next.GreaterThan(decimal.NewFromInt(MaxLineQuantity)) {
		return errQuantityLimit()
	}
	if next.IsPositive() {
		state.Items[idx].Quantity = next
	} else {
		state.Items = append(state.Items[:idx], state.Items[idx+1:]...)
	}
	b.reloadCurrentLocked(orderID)
	return nil
}

// SetPrice overrides one line's unit price on the given order.
func (b *OrderBook) SetPrice(orderID string, key Key, price decimal.Decimal) error {
	if price.IsNegative() {
		return errors.New(errors.CodeValidation, "price must not be negative")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.orderLocked(orderID)
	if err != nil {
		return err
	}
	idx := findByKey(state.Items, key)
	if idx < 0 {
		return errors.New(errors.CodeNotFound, "cart item not found")
	}
	state.Items[idx].Price = price
	state.Items[idx].OriginalPrice = price
	state.Items[idx].IsOfferApplied = false
	state.Items[idx].OfferDetails = nil
	b.reloadCurrentLocked(orderID)
	return nil
}

// ClearOrder removes every line from the given order. The discount
// ledger survives so a pending discount request still resolves.
func (b *OrderBook) ClearOrder(orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.orderLocked(orderID)
	if err != nil {
		return err
	}
	state.Items = nil
	b.reloadCurrentLocked(orderID)
	return nil
}

// ProposeDiscount applies a discount optimistically and returns the
// ledger entry. Only one discount may be in flight per order.
func (b *OrderBook) ProposeDiscount(orderID, requestID string, typ documents.DiscountType, value decimal.Decimal) (Discount, error) {
	if !typ.IsValid() {
		return Discount{}, errors.New(errors.CodeValidation, "unknown discount type")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.orderLocked(orderID)
	if err != nil {
		return Discount{}, err
	}
	if state.Discount.Active() {
		return Discount{}, errors.New(errors.CodeDuplicateRequest, "a discount is already applied to this order")
	}

	subtotal := ComputeTotals(state.Items, Discount{}).Subtotal
	state.Discount = Discount{
		State:     DiscountStateProposed,
		Type:      typ,
		Value:     value,
		Amount:    CalculateDiscountAmount(typ, value, subtotal),
		RequestID: requestID,
	}
	return state.Discount, nil
}

// ConfirmDiscount marks the proposed discount approved.
func (b *OrderBook) ConfirmDiscount(orderID, requestID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.orderLocked(orderID)
	if err != nil {
		return err
	}
	if state.Discount.State != DiscountStateProposed || state.Discount.RequestID != requestID {
		return errors.New(errors.CodeStateConflict, "no matching proposed discount")
	}
	state.Discount.State = DiscountStateConfirmed
	return nil
}

// RejectDiscount rolls the proposed discount back to nothing.
func (b *OrderBook) RejectDiscount(orderID, requestID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.orderLocked(orderID)
	if err != nil {
		return err
	}
	if state.Discount.RequestID != requestID {
		return errors.New(errors.CodeStateConflict, "no matching discount request")
	}
	state.Discount = Discount{}
	return nil
}

// Totals computes the monetary summary for the given order.
func (b *OrderBook) Totals(orderID string) (Totals, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.orderLocked(orderID)
	if err != nil {
		return Totals{}, err
	}
	return ComputeTotals(state.Items, state.Discount), nil
}

// Snapshot is the frozen view of an order handed to checkout.
type Snapshot struct {
	OrderID   string
	Type      documents.OrderType
	Items     []Item
	Discount  Discount
	Totals    Totals
	CreatedAt time.Time
}

// Snapshot copies the order's lines, discount, and totals.
func (b *OrderBook) Snapshot(orderID string) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.orderLocked(orderID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		OrderID:   state.ID,
		Type:      state.Type,
		Items:     copyItems(state.Items),
		Discount:  state.Discount,
		Totals:    ComputeTotals(state.Items, state.Discount),
		CreatedAt: state.CreatedAt,
	}, nil
}

// RemoveOrder drops a settled (or abandoned) order from the book.
func (b *OrderBook) RemoveOrder(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.orders, orderID)
	if orderID == b.currentID {
		b.currentID = ""
		b.cart = nil
	}
}

// HasPendingDiscount reports whether a discount request is still in
// flight for the order. Checkout blocks on this.
func (b *OrderBook) HasPendingDiscount(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.orders[orderID]
	return ok && state.Discount.State == DiscountStateProposed
}

func (b *OrderBook) orderLocked(orderID string) (*orderState, error) {
	// Keep the stored order current before reading or mutating it.
	if orderID == b.currentID {
		b.syncCurrentLocked()
	}
	state, ok := b.orders[orderID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "order not found")
	}
	return state, nil
}

func (b *OrderBook) productQuantityLocked(productID string) int64 {
	var total int64
	for _, item := range b.cart {
		if item.ProductID == productID && !item.IsScalableItem {
			total += item.Quantity.IntPart()
		}
	}
	return total
}

// resplitProductLocked replaces every unit line of the product with a
// fresh offer split covering the given total quantity.
func (b *OrderBook) resplitProductLocked(productID string, product documents.Product, total int64) {
	kept := b.cart[:0]
	for _, item := range b.cart {
		if item.ProductID == productID && !item.IsScalableItem {
			continue
		}
		kept = append(kept, item)
	}
	b.cart = kept

	base := newItemFromProduct(productID, product, decimal.Zero, b.now())
	lines := SplitWithOffers(base, product.Offers, total, b.now())
	for i := range lines {
		if lines[i].IsOfferApplied {
			lines[i].OfferGroupID = uuid.NewString()
		}
	}
	b.cart = append(b.cart, lines...)
}

func errQuantityLimit() error {
	return errors.New(errors.CodeValidation,
		fmt.Sprintf("line quantity cannot exceed %d", MaxLineQuantity))
}

func (b *OrderBook) findUnlockedScaleLineLocked(productID string) int {
	for i, item := range b.cart {
		if item.ProductID == productID && item.IsScalableItem && !item.WeightLocked {
			return i
		}
	}
	return -1
}

func (b *OrderBook) findRegularLineLocked(productID string) int {
	for i, item := range b.cart {
		if item.ProductID == productID && !item.IsScalableItem && !item.IsOfferApplied {
			return i
		}
	}
	return -1
}

func (b *OrderBook) findByKeyLocked(key Key) int {
	return findByKey(b.cart, key)
}

func findByKey(items []Item, key Key) int {
	for i, item := range items {
		if item.Key() == key {
			return i
		}
	}
	return -1
}

func copyItems(items []Item) []Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
