package documents

import "github.com/shopspring/decimal"

// ProductKind distinguishes plain products from container products that
// decrement a parent's stock when sold.
type ProductKind string

const (
	ProductKindPlain     ProductKind = ""
	ProductKindContainer ProductKind = "container"
)

// Offer is one tiered quantity offer on a product: buy Quantity units
// for Price total.
type Offer struct {
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Name     string          `json:"name,omitempty"`
}

// TaxType marks whether a product's lines accrue tax.
type TaxType string

const (
	TaxTypeTaxable TaxType = "taxable"
	TaxTypeExempt  TaxType = "exempt"
)

// Product is the master-data document resolved on every scan. The core
// treats it as immutable except for the stock counters, which are
// mutated through revision-checked writes on sale and return.
type Product struct {
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	KiloPrice      decimal.Decimal `json:"kilo_price,omitempty"`
	IsScalableItem bool            `json:"is_scalable_item,omitempty"`
	HasOffer       bool            `json:"has_offer,omitempty"`
	Offers         []Offer         `json:"offers,omitempty"`
	CategoryID     string          `json:"category_id,omitempty"`
	TaxType        TaxType         `json:"tax_type,omitempty"`
	TaxPercentage  decimal.Decimal `json:"tax_percentage,omitempty"`

	ShowroomStock decimal.Decimal `json:"showroom_stock"`

	// Container products forward a multiplied stock decrement to their
	// parent; linked ("other") products forward it to a main product.
	Kind            ProductKind `json:"type,omitempty"`
	ParentProductID string      `json:"parent_product_id,omitempty"`
	ContainerQty    int64       `json:"container_qty,omitempty"`
	IsOtherProduct  bool        `json:"is_other_product,omitempty"`
	MainProductID   string      `json:"main_product_id,omitempty"`
}

// UnitPrice returns the price a cart line starts from: the kilo price
// for weighed items when present, the unit price otherwise.
func (p Product) UnitPrice() decimal.Decimal {
	if p.IsScalableItem && !p.KiloPrice.IsZero() {
		return p.KiloPrice
	}
	return p.Price
}
