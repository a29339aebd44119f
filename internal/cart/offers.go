package cart

import (
	"sort"
	"time"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/shopspring/decimal"
)

// SplitWithOffers decomposes a target quantity into offer-priced lines
// plus a regular remainder line. Offers are consumed greedily, largest
// threshold first: each applicable offer is applied floor(remaining /
// offer.quantity) times, then the next smaller offer is tried on the
// remainder. Whatever no offer covers becomes a regular line at the
// base unit price.
//
// Each produced line gets a synthetic added-at of base+index so identity
// keys stay unique and display order stays stable. The sum of produced
// quantities always equals the requested quantity.
func SplitWithOffers(base Item, offers []documents.Offer, quantity int64, baseTime time.Time) []Item {
	sorted := make([]documents.Offer, len(offers))
	copy(sorted, offers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Quantity > sorted[j].Quantity
	})

	var out []Item
	remaining := quantity
	for remaining > 0 {
		offer, ok := largestApplicable(sorted, remaining)
		if !ok {
			line := base
			line.Quantity = decimal.NewFromInt(remaining)
			line.Price = base.OriginalPrice
			line.IsOfferApplied = false
			line.OfferDetails = nil
			line.AddedAt = baseTime.Add(time.Duration(len(out)) * time.Millisecond)
			out = append(out, line)
			break
		}

		offerQty := decimal.NewFromInt(offer.Quantity)
		unitPrice := offer.Price.Div(offerQty)
		savings := base.OriginalPrice.Mul(offerQty).Sub(offer.Price)
		sets := remaining / offer.Quantity
		for i := int64(0); i < sets; i++ {
			line := base
			line.Quantity = offerQty
			line.Price = unitPrice
			line.IsOfferApplied = true
			line.OfferDetails = &OfferDetails{
				Name:          offer.Name,
				TotalPrice:    offer.Price,
				OriginalPrice: base.OriginalPrice,
				Savings:       savings,
			}
			line.AddedAt = baseTime.Add(time.Duration(len(out)) * time.Millisecond)
			out = append(out, line)
		}
		remaining %= offer.Quantity
	}
	return out
}

func largestApplicable(sortedDesc []documents.Offer, remaining int64) (documents.Offer, bool) {
	for _, offer := range sortedDesc {
		if offer.Quantity > 0 && remaining >= offer.Quantity {
			return offer, true
		}
	}
	return documents.Offer{}, false
}
