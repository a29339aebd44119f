package docstore

import (
	"encoding/json"
	"time"
)

// Document is the envelope every persisted record travels in. The body is
// the kind-specific payload; the envelope columns exist so selectors and
// replication filters never have to decode the body.
type Document struct {
	ID            string          `json:"_id"`
	Rev           int64           `json:"_rev"`
	Type          string          `json:"document_type"`
	CreatedAt     time.Time       `json:"created_at"`
	Status        string          `json:"status,omitempty"`
	Barcode       string          `json:"barcode,omitempty"`
	SKUCode       string          `json:"sku_code,omitempty"`
	OtherBarcodes []string        `json:"other_barcodes,omitempty"`
	LocalOnly     bool            `json:"local_only,omitempty"`
	Deleted       bool            `json:"_deleted,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
}

// DecodeBody unmarshals the kind-specific payload into out.
func (d Document) DecodeBody(out any) error {
	if len(d.Body) == 0 {
		return nil
	}
	return json.Unmarshal(d.Body, out)
}

// WithBody returns a copy of the document carrying the encoded payload.
func (d Document) WithBody(payload any) (Document, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Document{}, err
	}
	d.Body = raw
	return d, nil
}

// ChangeEvent is one observation on the change feed.
type ChangeEvent struct {
	Seq     int64
	ID      string
	Doc     Document
	Deleted bool
}

// Selector narrows a Find call. Zero-valued fields are ignored.
type Selector struct {
	Type          string
	Types         []string
	Status        string
	Barcode       string
	SKUCode       string
	OtherBarcode  string
	CreatedBefore time.Time
	CreatedAfter  time.Time
	Limit         int
}
