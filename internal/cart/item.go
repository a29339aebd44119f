package cart

import (
	"fmt"
	"time"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/shopspring/decimal"
)

// Item is one line of the active order. Multiple lines may reference the
// same product (offer splits, weighed lines, regular lines); the Key
// disambiguates them.
type Item struct {
	ProductID      string
	Name           string
	Quantity       decimal.Decimal
	Price          decimal.Decimal // unit price
	OriginalPrice  decimal.Decimal
	IsOfferApplied bool
	OfferGroupID   string
	OfferDetails   *OfferDetails
	HasOffer       bool
	Offers         []documents.Offer
	IsScalableItem bool
	WeightLocked   bool
	TaxType        documents.TaxType
	TaxPercentage  decimal.Decimal
	AddedAt        time.Time
}

// OfferDetails records the applied offer for receipt rendering.
type OfferDetails struct {
	Name          string
	TotalPrice    decimal.Decimal
	OriginalPrice decimal.Decimal
	Savings       decimal.Decimal
}

// Key is the item identity: (product, offer group or added-at). Every
// lookup, update, and removal goes through it.
type Key struct {
	ProductID     string
	Discriminator string
}

// Key returns the identity key for the line.
func (i Item) Key() Key {
	disc := i.OfferGroupID
	if disc == "" {
		disc = i.AddedAt.UTC().Format(time.RFC3339Nano)
	}
	return Key{ProductID: i.ProductID, Discriminator: disc}
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s", k.ProductID, k.Discriminator)
}

// LineTotal is the line's contribution to the subtotal.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(i.Quantity)
}

// newItemFromProduct builds a regular line for the product.
func newItemFromProduct(productID string, p documents.Product, quantity decimal.Decimal, addedAt time.Time) Item {
	return Item{
		ProductID:      productID,
		Name:           p.Name,
		Quantity:       quantity,
		Price:          p.UnitPrice(),
		OriginalPrice:  p.UnitPrice(),
		HasOffer:       p.HasOffer,
		Offers:         p.Offers,
		IsScalableItem: p.IsScalableItem,
		TaxType:        p.TaxType,
		TaxPercentage:  p.TaxPercentage,
		AddedAt:        addedAt,
	}
}
