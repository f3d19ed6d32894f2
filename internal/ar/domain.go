package ar

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
)

// Status enumerates receipt payment states.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

// Receipt tracks what one document's partner owes. Remaining is always Due minus Paid.
type Receipt struct {
	ID                  int64              `db:"id" json:"id"`
	SourceKind          sources.Kind       `db:"source_kind" json:"source_kind"`
	DocumentID          int64              `db:"document_id" json:"document_id"`
	SourceKey           uuid.UUID          `db:"source_key" json:"source_key"`
	PartnerType         ledger.PartnerType `db:"partner_type" json:"partner_type"`
	PartnerID           int64              `db:"partner_id" json:"partner_id"`
	ReceivableAccountID int64              `db:"receivable_account_id" json:"receivable_account_id"`
	Reference           string             `db:"reference" json:"reference"`
	ReceiptDate         time.Time          `db:"receipt_date" json:"receipt_date"`
	Due                 decimal.Decimal    `db:"due_amount" json:"due_amount"`
	Paid                decimal.Decimal    `db:"paid_amount" json:"paid_amount"`
	Remaining           decimal.Decimal    `db:"remaining_amount" json:"remaining_amount"`
	Status              Status             `db:"payment_status" json:"payment_status"`
	CreatedAt           time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updated_at"`
}

// Source returns the document ref that issued the receipt.
func (r Receipt) Source() sources.Ref { return sources.NewRef(r.SourceKind, r.DocumentID) }

// Partner returns the owing partner.
func (r Receipt) Partner() ledger.PartnerRef {
	return ledger.PartnerRef{Type: r.PartnerType, ID: r.PartnerID}
}

// Recompute derives Remaining and Status from Due and Paid.
func (r *Receipt) Recompute() {
	r.Due = r.Due.Round(2)
	r.Paid = r.Paid.Round(2)
	r.Remaining = r.Due.Sub(r.Paid)
	if r.Remaining.LessThanOrEqual(decimal.Zero) {
		r.Status = StatusPaid
	} else {
		r.Status = StatusPending
	}
}

// Conserved reports due == paid + remaining and paid <= due.
func (r Receipt) Conserved() bool {
	return r.Due.Equal(r.Paid.Add(r.Remaining)) && !r.Paid.GreaterThan(r.Due)
}

// Payment records money received against one receipt. PaymentAccountID is the first split's
// account; Splits holds every account the payment drew on.
type Payment struct {
	ID               int64           `db:"id" json:"id"`
	ReceiptID        int64           `db:"receipt_id" json:"receipt_id"`
	BulkPaymentID    *int64          `db:"bulk_payment_id" json:"bulk_payment_id,omitempty"`
	PaymentAccountID int64           `db:"payment_account_id" json:"payment_account_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Splits           []Split         `db:"splits" json:"splits"`
	PaidOn           time.Time       `db:"paid_on" json:"paid_on"`
	Note             string          `db:"note" json:"note"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// BulkStatus enumerates bulk payment states.
type BulkStatus string

const (
	BulkDraft     BulkStatus = "draft"
	BulkConfirmed BulkStatus = "confirmed"
	BulkPartial   BulkStatus = "partial"
)

// BulkPayment spreads one amount over a partner's open receipts.
type BulkPayment struct {
	ID             int64              `db:"id" json:"id"`
	PartnerType    ledger.PartnerType `db:"partner_type" json:"partner_type"`
	PartnerID      int64              `db:"partner_id" json:"partner_id"`
	Amount         decimal.Decimal    `db:"amount" json:"amount"`
	Applied        decimal.Decimal    `db:"applied_amount" json:"applied_amount"`
	PaidOn         time.Time          `db:"paid_on" json:"paid_on"`
	IdempotencyKey string             `db:"idempotency_key" json:"idempotency_key"`
	Status         BulkStatus         `db:"status" json:"status"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
	Methods        []Method           `db:"-" json:"methods"`
}

// Partner returns the paying partner.
func (b BulkPayment) Partner() ledger.PartnerRef {
	return ledger.PartnerRef{Type: b.PartnerType, ID: b.PartnerID}
}

// Method is one payment account and the amount it contributes.
type Method struct {
	AccountID int64           `db:"account_id" json:"account_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
}

// Split is the part of one receipt's allocation drawn from one method.
type Split struct {
	AccountID int64           `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// Allocation is the amount applied to one receipt.
type Allocation struct {
	ReceiptID int64           `json:"receipt_id"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Splits    []Split         `json:"splits"`
}

// SortOldestFirst orders receipts by receipt date then id.
func SortOldestFirst(receipts []Receipt) {
	sort.SliceStable(receipts, func(i, j int) bool {
		if !receipts[i].ReceiptDate.Equal(receipts[j].ReceiptDate) {
			return receipts[i].ReceiptDate.Before(receipts[j].ReceiptDate)
		}
		return receipts[i].ID < receipts[j].ID
	})
}

// Allocate spreads total over receipts oldest first, drawing on methods in listed order.
// It returns the allocations and the amount that could not be applied.
func Allocate(receipts []Receipt, total decimal.Decimal, methods []Method) ([]Allocation, decimal.Decimal) {
	ordered := append([]Receipt(nil), receipts...)
	SortOldestFirst(ordered)
	capacity := make([]decimal.Decimal, len(methods))
	for i, m := range methods {
		capacity[i] = m.Amount
	}
	left := total
	var out []Allocation
	for _, receipt := range ordered {
		if !left.IsPositive() {
			break
		}
		if !receipt.Remaining.IsPositive() {
			continue
		}
		apply := decimal.Min(left, receipt.Remaining)
		alloc := Allocation{ReceiptID: receipt.ID, Reference: receipt.Reference}
		need := apply
		for i := range methods {
			if !need.IsPositive() {
				break
			}
			if !capacity[i].IsPositive() {
				continue
			}
			take := decimal.Min(need, capacity[i])
			capacity[i] = capacity[i].Sub(take)
			need = need.Sub(take)
			alloc.Splits = append(alloc.Splits, Split{AccountID: methods[i].AccountID, Amount: take})
		}
		alloc.Amount = apply.Sub(need)
		if !alloc.Amount.IsPositive() {
			break
		}
		left = left.Sub(alloc.Amount)
		out = append(out, alloc)
	}
	return out, left
}
