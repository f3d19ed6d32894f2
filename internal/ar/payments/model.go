// Package payments settles receipts, one at a time or by spreading a bulk amount over a
// partner's open receipts oldest first.
package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
)

// PayRequest pays one receipt from one account.
type PayRequest struct {
	PaymentAccountID int64           `json:"payment_account_id" validate:"required,gt=0"`
	Amount           decimal.Decimal `json:"amount"`
	PaidOn           time.Time       `json:"paid_on" validate:"required"`
	Note             string          `json:"note" validate:"max=255"`
}

// MethodInput is one payment account of a bulk payment.
type MethodInput struct {
	AccountID int64           `json:"account_id" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"amount"`
}

// CreateBulkRequest registers a draft bulk payment.
type CreateBulkRequest struct {
	PartnerType ledger.PartnerType `json:"partner_type" validate:"required,oneof=salesperson customer"`
	PartnerID   int64              `json:"partner_id" validate:"required,gt=0"`
	Amount      decimal.Decimal    `json:"amount"`
	PaidOn      time.Time          `json:"paid_on" validate:"required"`
	Methods     []MethodInput      `json:"methods" validate:"required,min=1,dive"`
	// Confirm allocates the payment right after it is stored.
	Confirm bool `json:"confirm"`
}

// ReceiptView is a receipt with the payments made against it.
type ReceiptView struct {
	ar.Receipt
	Payments []ar.Payment `json:"payments"`
}

// BulkView is a bulk payment with what it applied.
type BulkView struct {
	ar.BulkPayment
	Payments []ar.Payment `json:"payments"`
}

// Outcome reports a bulk confirmation. Unused is the amount no receipt could absorb.
type Outcome struct {
	Bulk        ar.BulkPayment  `json:"bulk_payment"`
	Allocations []ar.Allocation `json:"allocations"`
	Unused      decimal.Decimal `json:"unused"`
}
