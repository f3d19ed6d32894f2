package posting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/bookings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
)

// ReceiptMode says how a plan touches a receivable receipt.
type ReceiptMode string

const (
	// ReceiptIssue creates or re-derives the receipt owned by the document; Amount is the due.
	ReceiptIssue ReceiptMode = "issue"
	// ReceiptAdjust changes the due of another document's receipt by the signed Amount.
	ReceiptAdjust ReceiptMode = "adjust"
	// ReceiptPay adds the signed Amount to the paid total of another document's receipt.
	ReceiptPay ReceiptMode = "pay"
)

// ReceiptEffect describes one receipt change.
type ReceiptEffect struct {
	Mode                ReceiptMode
	Target              sources.Ref
	Partner             ledger.PartnerRef
	ReceivableAccountID int64
	Reference           string
	Date                time.Time
	Amount              decimal.Decimal
}

// Plan is everything one document posts, built entirely in memory.
type Plan struct {
	Source    sources.Ref
	Reference string
	Date      time.Time
	Amount    decimal.Decimal
	Booking   *bookings.Draft
	Stock     []inventory.Delta
	Movements []inventory.Movement
	Entries   []ledger.Entry
	Receipt   *ReceiptEffect
}

// Totals returns the booking's debit and credit sums.
func (p Plan) Totals() (decimal.Decimal, decimal.Decimal) {
	if p.Booking == nil {
		return decimal.Zero, decimal.Zero
	}
	return p.Booking.Totals()
}

// StockChange returns the per-product change needed to go from prev to next.
func StockChange(prev, next Plan) []inventory.Delta {
	return inventory.MergeDeltas(inventory.Negate(prev.Stock), next.Stock)
}
