package documents

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestMeta is shared by every approval-request document.
type RequestMeta struct {
	RequestedBy string    `json:"requestedBy" validate:"required"`
	Timestamp   time.Time `json:"timestamp"`
	OrderID     string    `json:"orderId" validate:"required"`

	ApprovedBy     string     `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	ApprovalMethod string     `json:"approval_method,omitempty"`
}

// DeletionRequest asks a manager to remove one cart line, or, when
// QuantityChange is negative, to decrement it by that amount.
type DeletionRequest struct {
	RequestMeta
	ProductID string `json:"product_id" validate:"required"`
	// QuantityChange zero means full line removal.
	QuantityChange decimal.Decimal `json:"quantityChange"`
	ItemTimestamp  time.Time       `json:"item_timestamp"`
	ItemKey        string          `json:"item_key,omitempty"`
}

// BulkDeletionRequest asks a manager to clear every line on an order.
type BulkDeletionRequest struct {
	RequestMeta
	Products []string `json:"products" validate:"required,min=1"`
}

// DiscountType selects how a discount value is interpreted.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// IsValid reports whether the value matches the discount type enum.
func (d DiscountType) IsValid() bool {
	return d == DiscountTypePercentage || d == DiscountTypeFixed
}

// DiscountRequest asks a manager to authorize an order-level discount.
// The calculated amount is applied optimistically at request time and
// rolled back if the request is rejected.
type DiscountRequest struct {
	RequestMeta
	DiscountType       DiscountType    `json:"discountType" validate:"required"`
	DiscountValue      decimal.Decimal `json:"discountValue"`
	OriginalTotal      decimal.Decimal `json:"originalTotal"`
	CalculatedDiscount decimal.Decimal `json:"calculatedDiscount"`
	Reason             string          `json:"reason,omitempty"`
}

// PriceChangeRequest asks a manager to override one line's unit price.
type PriceChangeRequest struct {
	RequestMeta
	ProductID string          `json:"product_id" validate:"required"`
	ItemKey   string          `json:"itemKey" validate:"required"`
	OldPrice  decimal.Decimal `json:"oldPrice"`
	NewPrice  decimal.Decimal `json:"newPrice"`
}

// ReturnLine is one returned product inside a return request.
type ReturnLine struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// ReturnRequest represents a completed return order awaiting manager
// authorization. Approval restores stock and removes the request;
// rejection deletes the provisional return order instead.
type ReturnRequest struct {
	RequestMeta
	OriginalOrderID string          `json:"original_order_id,omitempty"`
	ReturnOrderID   string          `json:"return_order_id" validate:"required"`
	Items           []ReturnLine    `json:"items" validate:"required,min=1,dive"`
	RefundTotal     decimal.Decimal `json:"refund_total"`
}
