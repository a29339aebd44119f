// Package lookup resolves scanned codes, search queries, and physical
// credentials to documents. It is a thin read-side layer over the
// document store; nothing here mutates.
package lookup

import (
	"context"
	"fmt"
	"strings"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
)

const defaultSearchLimit = 50

// Params configure the service.
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

// Service answers product and user lookups.
type Service struct {
	store *docstore.Store
	logg  *logger.Logger
}

// NewService builds the lookup service.
func NewService(p Params) (*Service, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Service{store: p.Store, logg: p.Logger}, nil
}

// Result pairs a product with its document id.
type Result struct {
	ID      string
	Product documents.Product
}

// ProductByID fetches one product document.
func (s *Service) ProductByID(ctx context.Context, id string) (documents.Product, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return documents.Product{}, err
	}
	if doc.Type != string(documents.TypeProduct) {
		return documents.Product{}, errors.New(errors.CodeNotFound, "document is not a product")
	}
	var product documents.Product
	if err := doc.DecodeBody(&product); err != nil {
		return documents.Product{}, errors.Wrap(errors.CodeInternal, err, "decoding product body")
	}
	return product, nil
}

// ProductByCode resolves a normalized scan code, trying the primary
// barcode first, then the SKU, then the secondary barcode list. This is
// the resolver the scan coordinator consumes.
func (s *Service) ProductByCode(ctx context.Context, code string) (string, documents.Product, error) {
	selectors := []docstore.Selector{
		{Type: string(documents.TypeProduct), Barcode: code, Limit: 1},
		{Type: string(documents.TypeProduct), SKUCode: code, Limit: 1},
		{Type: string(documents.TypeProduct), OtherBarcode: code, Limit: 1},
	}
	for _, sel := range selectors {
		docs, err := s.store.Find(ctx, sel)
		if err != nil {
			return "", documents.Product{}, err
		}
		if len(docs) == 0 {
			continue
		}
		var product documents.Product
		if err := docs[0].DecodeBody(&product); err != nil {
			return "", documents.Product{}, errors.Wrap(errors.CodeInternal, err, "decoding product body")
		}
		return docs[0].ID, product, nil
	}
	return "", documents.Product{}, errors.New(errors.CodeNotFound, "no product matches code")
}

// Search matches products by name substring (case-insensitive) or by
// barcode substring. Bodies are scanned in memory; the catalog on a
// terminal is small enough that this stays instant.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	docs, err := s.store.Find(ctx, docstore.Selector{Type: string(documents.TypeProduct)})
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var out []Result
	for _, doc := range docs {
		var product documents.Product
		if err := doc.DecodeBody(&product); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "doc_id", doc.ID), "skipping undecodable product")
			continue
		}
		if !matchesProduct(doc, product, needle) {
			continue
		}
		out = append(out, Result{ID: doc.ID, Product: product})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func matchesProduct(doc docstore.Document, product documents.Product, needle string) bool {
	if strings.Contains(strings.ToLower(product.Name), needle) {
		return true
	}
	if strings.Contains(doc.Barcode, needle) {
		return true
	}
	for _, code := range doc.OtherBarcodes {
		if strings.Contains(code, needle) {
			return true
		}
	}
	return false
}

// UserByNFC resolves an operator from a physical credential token.
func (s *Service) UserByNFC(ctx context.Context, tag string) (string, documents.User, error) {
	if tag == "" {
		return "", documents.User{}, errors.New(errors.CodeValidation, "nfc tag is required")
	}
	docs, err := s.store.Find(ctx, docstore.Selector{Type: string(documents.TypeUser)})
	if err != nil {
		return "", documents.User{}, err
	}
	for _, doc := range docs {
		var user documents.User
		if err := doc.DecodeBody(&user); err != nil {
			continue
		}
		if user.NFCTag == tag {
			return doc.ID, user, nil
		}
	}
	return "", documents.User{}, errors.New(errors.CodeUnauthorized, "no user matches credential")
}
