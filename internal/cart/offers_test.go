package cart

import (
	"testing"
	"time"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/shopspring/decimal"
)

func dec(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSplitWithOffersGreedyRemainder(t *testing.T) {
	base := Item{
		ProductID:     "p1",
		Name:          "soda",
		Price:         dec("1.80"),
		OriginalPrice: dec("1.80"),
	}
	offers := []documents.Offer{{Quantity: 2, Price: dec("3.00"), Name: "2 for 3"}}

	lines := SplitWithOffers(base, offers, 5, time.Unix(1000, 0))
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i := 0; i < 2; i++ {
		if !lines[i].IsOfferApplied {
			t.Fatalf("line %d should be an offer line", i)
		}
		if !lines[i].Quantity.Equal(dec("2")) {
			t.Fatalf("line %d quantity = %s", i, lines[i].Quantity)
		}
		if !lines[i].Price.Equal(dec("1.5")) {
			t.Fatalf("line %d unit price = %s", i, lines[i].Price)
		}
		if !lines[i].OfferDetails.Savings.Equal(dec("0.60")) {
			t.Fatalf("line %d savings = %s", i, lines[i].OfferDetails.Savings)
		}
	}
	last := lines[2]
	if last.IsOfferApplied || last.OfferDetails != nil {
		t.Fatal("remainder line must be regular")
	}
	if !last.Quantity.Equal(dec("1")) || !last.Price.Equal(dec("1.80")) {
		t.Fatalf("remainder = %s @ %s", last.Quantity, last.Price)
	}
}

func TestSplitWithOffersQuantityConserved(t *testing.T) {
	base := Item{ProductID: "p1", Price: dec("2.00"), OriginalPrice: dec("2.00")}
	offers := []documents.Offer{
		{Quantity: 5, Price: dec("8.00")},
		{Quantity: 2, Price: dec("3.50")},
	}
	for qty := int64(1); qty <= 23; qty++ {
		lines := SplitWithOffers(base, offers, qty, time.Unix(2000, 0))
		sum := decimal.Zero
		for _, line := range lines {
			sum = sum.Add(line.Quantity)
		}
		if !sum.Equal(decimal.NewFromInt(qty)) {
			t.Fatalf("qty %d: line quantities sum to %s", qty, sum)
		}
	}
}

func TestSplitWithOffersPrefersLargerTier(t *testing.T) {
	base := Item{ProductID: "p1", Price: dec("2.00"), OriginalPrice: dec("2.00")}
	offers := []documents.Offer{
		{Quantity: 2, Price: dec("3.50")},
		{Quantity: 5, Price: dec("8.00")},
	}
	lines := SplitWithOffers(base, offers, 7, time.Unix(3000, 0))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !lines[0].Quantity.Equal(dec("5")) {
		t.Fatalf("first line should use the 5-pack tier, got qty %s", lines[0].Quantity)
	}
	if !lines[1].Quantity.Equal(dec("2")) {
		t.Fatalf("second line should use the 2-pack tier, got qty %s", lines[1].Quantity)
	}
}

func TestSplitWithOffersUniqueKeys(t *testing.T) {
	base := Item{ProductID: "p1", Price: dec("1.00"), OriginalPrice: dec("1.00")}
	offers := []documents.Offer{{Quantity: 3, Price: dec("2.50")}}
	lines := SplitWithOffers(base, offers, 10, time.Unix(4000, 0))

	seen := map[Key]bool{}
	for _, line := range lines {
		key := line.Key()
		if seen[key] {
			t.Fatalf("duplicate key %s", key)
		}
		seen[key] = true
	}
}

func TestSplitWithOffersNoApplicableOffer(t *testing.T) {
	base := Item{ProductID: "p1", Price: dec("4.00"), OriginalPrice: dec("4.00")}
	offers := []documents.Offer{{Quantity: 6, Price: dec("20.00")}}
	lines := SplitWithOffers(base, offers, 4, time.Unix(5000, 0))
	if len(lines) != 1 {
		t.Fatalf("expected single regular line, got %d", len(lines))
	}
	if lines[0].IsOfferApplied {
		t.Fatal("line below every tier must stay regular")
	}
}
