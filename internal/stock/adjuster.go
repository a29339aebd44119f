// Package stock performs the revision-checked stock counter updates
// triggered by sales and returns. Conflicts with the replication pull
// path are routine here, so every write runs under a bounded
// retry-with-backoff before it is reported as a failure.
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
)

const (
	maxAttempts = 3
	baseBackoff = 100 * time.Millisecond
	maxBackoff  = time.Second
)

// Params configure the adjuster.
type Params struct {
	Store  *docstore.Store
	Logger *logger.Logger
}

func (p Params) validate() error {
	if p.Store == nil {
		return fmt.Errorf("store is required")
	}
	if p.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// Adjuster moves showroom stock up and down. A sale decrement on a
// container product also decrements its parent by the container
// multiplier, and a linked product forwards the same quantity to its
// main product. Propagated updates are best effort: a missing parent
// never fails the sale that triggered it.
type Adjuster struct {
	store *docstore.Store
	logg  *logger.Logger
}

// NewAdjuster builds the adjuster.
func NewAdjuster(p Params) (*Adjuster, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Adjuster{store: p.Store, logg: p.Logger}, nil
}

// Decrease removes sold quantity from a product's showroom stock.
func (a *Adjuster) Decrease(ctx context.Context, productID string, qty decimal.Decimal) error {
	return a.adjust(ctx, productID, qty.Neg())
}

// Increase puts returned quantity back. Satisfies the approval
// engine's restorer contract.
func (a *Adjuster) Increase(ctx context.Context, productID string, qty decimal.Decimal) error {
	return a.adjust(ctx, productID, qty)
}

func (a *Adjuster) adjust(ctx context.Context, productID string, delta decimal.Decimal) error {
	var product documents.Product
	if err := a.applyDelta(ctx, productID, delta, &product); err != nil {
		return err
	}

	if product.Kind == documents.ProductKindContainer && product.ParentProductID != "" && product.ContainerQty > 0 {
		parentDelta := delta.Mul(decimal.NewFromInt(product.ContainerQty))
		if err := a.applyDelta(ctx, product.ParentProductID, parentDelta, nil); err != nil {
			a.logg.Error(a.logg.WithFields(ctx, map[string]any{
				"product_id": productID,
				"parent_id":  product.ParentProductID,
			}), "parent stock update failed", err)
		}
	}
	if product.IsOtherProduct && product.MainProductID != "" {
		if err := a.applyDelta(ctx, product.MainProductID, delta, nil); err != nil {
			a.logg.Error(a.logg.WithFields(ctx, map[string]any{
				"product_id": productID,
				"main_id":    product.MainProductID,
			}), "main product stock update failed", err)
		}
	}
	return nil
}

// applyDelta is one re-fetch-and-put cycle wrapped in retry. Only a
// revision conflict is retried; everything else surfaces immediately.
func (a *Adjuster) applyDelta(ctx context.Context, productID string, delta decimal.Decimal, out *documents.Product) error {
	backoff := retry.NewExponential(baseBackoff)
	backoff = retry.WithJitter(baseBackoff, backoff)
	backoff = retry.WithCappedDuration(maxBackoff, backoff)
	backoff = retry.WithMaxRetries(maxAttempts-1, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		doc, err := a.store.Get(ctx, productID)
		if err != nil {
			return err
		}
		var product documents.Product
		if err := doc.DecodeBody(&product); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "decoding product body")
		}
		product.ShowroomStock = product.ShowroomStock.Add(delta)

		updated, err := doc.WithBody(product)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "encoding product body")
		}
		if _, err := a.store.Put(ctx, updated); err != nil {
			if errors.Is(err, errors.CodeConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		if out != nil {
			*out = product
		}
		return nil
	})
}
