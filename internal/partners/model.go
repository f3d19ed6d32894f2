// Package partners manages salespersons, customers and vendors, the parties the ledger keeps
// per-partner histories for.
package partners

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ============================================================================
// SALESPERSON
// ============================================================================

// Salesperson sells on account; their orders are receivable against them.
type Salesperson struct {
	ID                  int64     `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	ReceivableAccountID int64     `db:"receivable_account_id" json:"receivable_account_id"`
	IsActive            bool      `db:"is_active" json:"is_active"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// Ref returns the partner ref.
func (s Salesperson) Ref() ledger.PartnerRef {
	return ledger.PartnerRef{Type: ledger.PartnerSalesperson, ID: s.ID}
}

type CreateSalespersonRequest struct {
	Name                string `json:"name" validate:"required,max=128"`
	ReceivableAccountID int64  `json:"receivable_account_id" validate:"required,gt=0"`
}

// ============================================================================
// CUSTOMER
// ============================================================================

// Customer buys directly, paying cash or on account. CashAccountID is zero when the customer
// only buys on account.
type Customer struct {
	ID                  int64     `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	Phone               string    `db:"phone" json:"phone"`
	ReceivableAccountID int64     `db:"receivable_account_id" json:"receivable_account_id"`
	CashAccountID       int64     `db:"cash_account_id" json:"cash_account_id"`
	IsActive            bool      `db:"is_active" json:"is_active"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// Ref returns the partner ref.
func (c Customer) Ref() ledger.PartnerRef {
	return ledger.PartnerRef{Type: ledger.PartnerCustomer, ID: c.ID}
}

// SettlementAccount picks the account an order settled by method is booked against.
func (c Customer) SettlementAccount(method posting.PaymentMethod) (int64, error) {
	switch method {
	case posting.PaymentCash:
		if c.CashAccountID == 0 {
			return 0, shared.Configuration("customer %s has no cash account", c.Name)
		}
		return c.CashAccountID, nil
	case posting.PaymentAR:
		if c.ReceivableAccountID == 0 {
			return 0, shared.Configuration("customer %s has no receivable account", c.Name)
		}
		return c.ReceivableAccountID, nil
	}
	return 0, shared.Validation("unknown payment method %q", method)
}

type CreateCustomerRequest struct {
	Name                string `json:"name" validate:"required,max=128"`
	Phone               string `json:"phone" validate:"omitempty,max=32"`
	ReceivableAccountID int64  `json:"receivable_account_id" validate:"required,gt=0"`
	CashAccountID       int64  `json:"cash_account_id" validate:"gte=0"`
}

// ============================================================================
// VENDOR
// ============================================================================

// Vendor supplies goods. A positive opening balance is posted at creation and re-posted on update.
type Vendor struct {
	ID               int64           `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	PayableAccountID int64           `db:"payable_account_id" json:"payable_account_id"`
	OpeningBalance   decimal.Decimal `db:"opening_balance" json:"opening_balance"`
	OpeningDate      *time.Time      `db:"opening_date" json:"opening_date,omitempty"`
	IsActive         bool            `db:"is_active" json:"is_active"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// Ref returns the partner ref.
func (v Vendor) Ref() ledger.PartnerRef {
	return ledger.PartnerRef{Type: ledger.PartnerVendor, ID: v.ID}
}

type CreateVendorRequest struct {
	Name             string          `json:"name" validate:"required,max=128"`
	PayableAccountID int64           `json:"payable_account_id" validate:"required,gt=0"`
	OpeningBalance   decimal.Decimal `json:"opening_balance"`
	OpeningDate      *time.Time      `json:"opening_date,omitempty"`
}

type UpdateVendorRequest struct {
	Name             string          `json:"name" validate:"required,max=128"`
	PayableAccountID int64           `json:"payable_account_id" validate:"required,gt=0"`
	OpeningBalance   decimal.Decimal `json:"opening_balance"`
	OpeningDate      *time.Time      `json:"opening_date,omitempty"`
}

// ============================================================================
// STATEMENT
// ============================================================================

// Statement is a partner's ledger history with what is still owed.
type Statement struct {
	Partner      ledger.PartnerRef `json:"partner"`
	Entries      []ledger.Entry    `json:"entries"`
	OpenReceipts []ar.Receipt      `json:"open_receipts"`
	// Balance is out minus in over all entries.
	Balance decimal.Decimal `json:"balance"`
	// Outstanding is the sum of open receipts' remaining amounts.
	Outstanding decimal.Decimal `json:"outstanding"`
}

// ListFilter narrows partner listings.
type ListFilter struct {
	Search string
	Limit  uint64
}
