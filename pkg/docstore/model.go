package docstore

import (
	"encoding/json"
	"time"
)

// createdAtLayout is RFC 3339 UTC with fixed-width nanoseconds. The
// created_at column is compared lexicographically in range queries and
// compaction, which is only chronological when every value has the same
// width.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// row is the GORM mapping for the documents table.
type row struct {
	ID            string `gorm:"primaryKey;column:id"`
	Rev           int64  `gorm:"column:rev"`
	Seq           int64  `gorm:"column:seq;index:idx_documents_seq"`
	Type          string `gorm:"column:document_type"`
	CreatedAt     string `gorm:"column:created_at"`
	Status        string `gorm:"column:status"`
	Barcode       string `gorm:"column:barcode"`
	SKUCode       string `gorm:"column:sku_code"`
	OtherBarcodes string `gorm:"column:other_barcodes"`
	LocalOnly     bool   `gorm:"column:local_only"`
	Deleted       bool   `gorm:"column:deleted"`
	Body          []byte `gorm:"column:body"`
}

func (row) TableName() string { return "documents" }

func rowFromDocument(doc Document, seq int64) (row, error) {
	others, err := json.Marshal(doc.OtherBarcodes)
	if err != nil {
		return row{}, err
	}
	return row{
		ID:            doc.ID,
		Rev:           doc.Rev,
		Seq:           seq,
		Type:          doc.Type,
		CreatedAt:     doc.CreatedAt.UTC().Format(createdAtLayout),
		Status:        doc.Status,
		Barcode:       doc.Barcode,
		SKUCode:       doc.SKUCode,
		OtherBarcodes: string(others),
		LocalOnly:     doc.LocalOnly,
		Deleted:       doc.Deleted,
		Body:          doc.Body,
	}, nil
}

func (r row) toDocument() Document {
	var others []string
	if r.OtherBarcodes != "" {
		_ = json.Unmarshal([]byte(r.OtherBarcodes), &others)
	}
	createdAt, _ := time.Parse(createdAtLayout, r.CreatedAt)
	return Document{
		ID:            r.ID,
		Rev:           r.Rev,
		Type:          r.Type,
		CreatedAt:     createdAt,
		Status:        r.Status,
		Barcode:       r.Barcode,
		SKUCode:       r.SKUCode,
		OtherBarcodes: others,
		LocalOnly:     r.LocalOnly,
		Deleted:       r.Deleted,
		Body:          r.Body,
	}
}
