package posting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
)

// The types below are read-only snapshots handed to the Builder. Services assemble them from
// stored documents; the Builder never reaches back into storage for document data.

// Line is one priced product line. Amounts, when set, are the amounts recorded on the
// stored line and take precedence over the product's current discount, commission and cost.
type Line struct {
	LineID  int64
	Product products.Product
	Qty     decimal.Decimal
	Price   decimal.Decimal
	Amounts *LineAmounts
}

// SaleOrder is a salesperson order.
type SaleOrder struct {
	ID                  int64
	Reference           string
	Date                time.Time
	Salesperson         ledger.PartnerRef
	ReceivableAccountID int64
	Rate                decimal.Decimal
	Lines               []Line
}

// SaleReturn returns quantities of a sale order at the order's prices.
type SaleReturn struct {
	ID                  int64
	Reference           string
	Date                time.Time
	Order               sources.Ref
	Salesperson         ledger.PartnerRef
	ReceivableAccountID int64
	Rate                decimal.Decimal
	Lines               []Line
}

// PaymentMethod says how a customer order is settled.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentAR   PaymentMethod = "ar"
)

// Valid reports whether the method is known.
func (m PaymentMethod) Valid() bool { return m == PaymentCash || m == PaymentAR }

// CustomerSale is a customer order settled by cash or on account.
type CustomerSale struct {
	ID                  int64
	Reference           string
	Date                time.Time
	Customer            ledger.PartnerRef
	Method              PaymentMethod
	SettlementAccountID int64
	Rate                decimal.Decimal
	Lines               []Line
}

// CustomerSaleReturn returns quantities of a customer order.
type CustomerSaleReturn struct {
	ID                  int64
	Reference           string
	Date                time.Time
	Order               sources.Ref
	Customer            ledger.PartnerRef
	Method              PaymentMethod
	SettlementAccountID int64
	Rate                decimal.Decimal
	Lines               []Line
}

// AdjustmentLine removes Qty units of a product from stock. Amount, when set, is the
// recorded write-off and takes precedence over the product's current cost.
type AdjustmentLine struct {
	LineID  int64
	Product products.Product
	Qty     decimal.Decimal
	Amount  *decimal.Decimal
}

// Adjustment is a stock decrease written off to each product's adjustment account. Source
// selects between stock and product adjustments.
type Adjustment struct {
	Source    sources.Ref
	Reference string
	Date      time.Time
	Rate      decimal.Decimal
	Lines     []AdjustmentLine
}

// Payment settles part of one receipt. Bulk payments produce one Payment per receipt.
type Payment struct {
	Source              sources.Ref
	Reference           string
	Date                time.Time
	Receipt             sources.Ref
	Partner             ledger.PartnerRef
	ReceivableAccountID int64
	Splits              []ar.Split
}

// VendorOpening is the opening payable balance of a vendor.
type VendorOpening struct {
	VendorID         int64
	Reference        string
	Date             time.Time
	PayableAccountID int64
	Amount           decimal.Decimal
}
