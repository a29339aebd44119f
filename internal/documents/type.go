package documents

import "fmt"

// Type discriminates every persisted document. Consumers must treat
// unknown values as opaque; replication in particular carries documents
// of types this build has never seen.
type Type string

const (
	TypeProduct            Type = "product"
	TypeOrder              Type = "order"
	TypeVoucher            Type = "voucher"
	TypeInvoice            Type = "invoice"
	TypeLog                Type = "log"
	TypeContainer          Type = "container"
	TypeOffer              Type = "offer"
	TypeDeletionRequest    Type = "deletion_request"
	TypeBulkDeletion       Type = "bulk_deletion_request"
	TypeDiscountRequest    Type = "discount_request"
	TypePriceChangeRequest Type = "price_change_request"
	TypeReturnRequest      Type = "return_request"
	TypeShift              Type = "shift"
	TypeTerminal           Type = "terminal"
	TypeUser               Type = "user"
	TypeRole               Type = "role"
	TypeCategory           Type = "category"
	TypeLocation           Type = "location"
	TypeSupplier           Type = "supplier"
	TypeSupplierCategory   Type = "supplier_category"
	TypePOSSettings        Type = "pos_settings"
	TypeProductStock       Type = "product_stock"
	TypeItemMovementReport Type = "item_movement_report"
	TypeTab                Type = "tab"
)

var validTypes = []Type{
	TypeProduct, TypeOrder, TypeVoucher, TypeInvoice, TypeLog,
	TypeContainer, TypeOffer,
	TypeDeletionRequest, TypeBulkDeletion, TypeDiscountRequest,
	TypePriceChangeRequest, TypeReturnRequest,
	TypeShift, TypeTerminal, TypeUser, TypeRole, TypeCategory,
	TypeLocation, TypeSupplier, TypeSupplierCategory, TypePOSSettings,
	TypeProductStock, TypeItemMovementReport, TypeTab,
}

// IsValid reports whether the value matches a known document type.
func (t Type) IsValid() bool {
	for _, candidate := range validTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseType converts the raw string to a Type.
func ParseType(value string) (Type, error) {
	for _, candidate := range validTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid document type %q", value)
}

// ApprovalRequestTypes enumerates the four manager-approval request kinds
// plus bulk deletion; the replication pull filter bounds these to the
// current calendar day.
func ApprovalRequestTypes() []Type {
	return []Type{
		TypeDeletionRequest, TypeBulkDeletion, TypeDiscountRequest,
		TypePriceChangeRequest, TypeReturnRequest,
	}
}
