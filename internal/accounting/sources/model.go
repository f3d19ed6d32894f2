// Package sources enumerates the documents that post to the ledger.
package sources

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind identifies a posting source document type.
type Kind string

const (
	KindSalesOrder         Kind = "SALES_ORDER"
	KindSalesReturn        Kind = "SALES_RETURN"
	KindReceipt            Kind = "RECEIPT"
	KindBulkReceipt        Kind = "BULK_RECEIPT"
	KindStockAdjustment    Kind = "STOCK_ADJUSTMENT"
	KindProductAdjustment  Kind = "PRODUCT_ADJUSTMENT"
	KindCustomerSale       Kind = "CUSTOMER_SALE"
	KindCustomerSaleReturn Kind = "CUSTOMER_SALE_RETURN"
	KindVendorBalance      Kind = "VENDOR_BALANCE"
)

// Kinds lists every known kind in registry order.
func Kinds() []Kind {
	return []Kind{
		KindSalesOrder,
		KindSalesReturn,
		KindReceipt,
		KindBulkReceipt,
		KindStockAdjustment,
		KindProductAdjustment,
		KindCustomerSale,
		KindCustomerSaleReturn,
		KindVendorBalance,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Ref points at one source document.
type Ref struct {
	Kind       Kind  `json:"kind"`
	DocumentID int64 `json:"document_id"`
}

// NewRef builds a Ref.
func NewRef(kind Kind, id int64) Ref {
	return Ref{Kind: kind, DocumentID: id}
}

// Key is the deterministic linkage id stored on bookings, movements and partner entries.
func (r Ref) Key() uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(r.String()))
}

// IsZero reports an unset ref.
func (r Ref) IsZero() bool {
	return r.Kind == "" && r.DocumentID == 0
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.DocumentID)
}

// Source is a row of transaction_sources.
type Source struct {
	ID   int64  `db:"id" json:"id"`
	Code Kind   `db:"code" json:"code"`
	Name string `db:"name" json:"name"`
}
