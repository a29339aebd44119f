package documents

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType separates sales from returns inside the order document type.
type OrderType string

const (
	OrderTypeSale   OrderType = "sale"
	OrderTypeReturn OrderType = "return"
)

// PaymentMethod is the tender used to settle an order.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodDouble PaymentMethod = "double"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCash, PaymentMethodCard, PaymentMethodDouble,
}

// IsValid reports whether the value matches the payment method enum.
func (m PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// OrderLine is the serialized form of a cart line inside a completed
// order document. Monetary fields are fixed at 4 decimal places.
type OrderLine struct {
	ProductID      string          `json:"product_id"`
	Name           string          `json:"name"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	OriginalPrice  decimal.Decimal `json:"original_price"`
	IsOfferApplied bool            `json:"is_offer_applied,omitempty"`
	OfferGroupID   string          `json:"offer_group_id,omitempty"`
	IsScalableItem bool            `json:"is_scalable_item,omitempty"`
	AddedAt        time.Time       `json:"added_at"`
}

// Order is the completed-sale (or return) document of record. The
// client is the sole writer for these; the pull filter never accepts
// them from the remote.
type Order struct {
	Items         []OrderLine     `json:"items"`
	Type          OrderType       `json:"type"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Change        decimal.Decimal `json:"change"`
	CardAmount    decimal.Decimal `json:"card_amount,omitempty"`
	CashAmount    decimal.Decimal `json:"cash_amount,omitempty"`
	UserID        string          `json:"user_id"`
	TerminalID    string          `json:"terminal_id"`
	ShiftID       string          `json:"shift_id,omitempty"`
}

// LogEntry is the audit trail document written alongside each order.
type LogEntry struct {
	Statement     string    `json:"statement"`
	UserID        string    `json:"user_id"`
	TerminalID    string    `json:"terminal_id"`
	RealworldDate time.Time `json:"realworld_date"`
}

// User is the operator document; the NFC tag is the physical credential
// an authorizer presents to approve pending requests.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	NFCTag   string `json:"nfc_tag,omitempty"`
}
