package cart

import (
	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/shopspring/decimal"
)

// DiscountState tracks an order-level discount through its approval
// lifecycle. A proposed discount already reduces the displayed total;
// rejection rolls it back, approval confirms it.
type DiscountState string

const (
	DiscountStateNone      DiscountState = ""
	DiscountStateProposed  DiscountState = "proposed"
	DiscountStateConfirmed DiscountState = "confirmed"
)

// Discount is the order-level discount ledger entry.
type Discount struct {
	State     DiscountState
	Type      documents.DiscountType
	Value     decimal.Decimal
	Amount    decimal.Decimal // calculated against the subtotal at request time
	RequestID string
}

// Active reports whether the discount currently reduces the total.
func (d Discount) Active() bool {
	return d.State == DiscountStateProposed || d.State == DiscountStateConfirmed
}

// Totals is the monetary summary of an order. All amounts are fixed to
// 4 decimal places so repeated computation over the same lines is
// byte-stable.
type Totals struct {
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal
	ItemCount int64
}

// moneyPlaces is the fixed-point precision for all persisted amounts.
const moneyPlaces = 4

// ComputeTotals folds the lines into a Totals. Weighed lines count as a
// single item regardless of their fractional quantity; unit lines count
// their quantity. Tax accrues only on taxable lines and is reported
// separately; the charged total is the subtotal less the discount.
func ComputeTotals(items []Item, discount Discount) Totals {
	subtotal := decimal.Zero
	tax := decimal.Zero
	var count int64
	for _, item := range items {
		line := item.LineTotal()
		subtotal = subtotal.Add(line)
		if item.TaxType == documents.TaxTypeTaxable && !item.TaxPercentage.IsZero() {
			tax = tax.Add(line.Mul(item.TaxPercentage).Div(decimal.NewFromInt(100)))
		}
		if item.IsScalableItem {
			count++
		} else {
			count += item.Quantity.IntPart()
		}
	}

	discountAmount := decimal.Zero
	if discount.Active() {
		discountAmount = discount.Amount
	}

	subtotal = subtotal.Round(moneyPlaces)
	tax = tax.Round(moneyPlaces)
	discountAmount = discountAmount.Round(moneyPlaces)

	total := subtotal.Sub(discountAmount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Totals{
		Subtotal:  subtotal,
		Tax:       tax,
		Discount:  discountAmount,
		Total:     total.Round(moneyPlaces),
		ItemCount: count,
	}
}

// CalculateDiscountAmount resolves a discount request's value against a
// subtotal: percentage discounts scale, fixed discounts cap at the
// subtotal itself.
func CalculateDiscountAmount(typ documents.DiscountType, value, subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch typ {
	case documents.DiscountTypePercentage:
		amount = subtotal.Mul(value).Div(decimal.NewFromInt(100))
	default:
		amount = value
	}
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(moneyPlaces)
}
