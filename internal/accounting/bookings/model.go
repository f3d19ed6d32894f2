// Package bookings stores balanced ledger bookings and their lines.
package bookings

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
)

// Booking is one posting event. Its lines always balance.
type Booking struct {
	ID          int64           `db:"id" json:"id"`
	SourceID    int64           `db:"transaction_source_id" json:"transaction_source_id"`
	SourceKind  sources.Kind    `db:"source_kind" json:"source_kind"`
	DocumentID  int64           `db:"document_id" json:"document_id"`
	SourceKey   uuid.UUID       `db:"source_key" json:"source_key"`
	Reference   string          `db:"reference" json:"reference"`
	Date        time.Time       `db:"booking_date" json:"date"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	PartnerType string          `db:"partner_type" json:"partner_type,omitempty"`
	PartnerID   int64           `db:"partner_id" json:"partner_id,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	Lines       []Line          `db:"-" json:"lines,omitempty"`
}

// Line holds exactly one nonzero side.
type Line struct {
	ID          int64           `db:"id" json:"id"`
	BookingID   int64           `db:"booking_id" json:"booking_id"`
	AccountID   int64           `db:"account_id" json:"account_id"`
	ProductID   *int64          `db:"product_id" json:"product_id,omitempty"`
	Debit       decimal.Decimal `db:"debit" json:"debit"`
	Credit      decimal.Decimal `db:"credit" json:"credit"`
	Date        time.Time       `db:"line_date" json:"date"`
	Description string          `db:"description" json:"description"`
	SourceKey   uuid.UUID       `db:"source_key" json:"source_key"`
}

// Filter narrows booking listings.
type Filter struct {
	Kind       sources.Kind
	DocumentID int64
	From       *time.Time
	To         *time.Time
	Limit      uint64
}

// Imbalance reports a booking whose totals disagree.
type Imbalance struct {
	BookingID int64           `db:"booking_id" json:"booking_id"`
	Reference string          `db:"reference" json:"reference"`
	Debit     decimal.Decimal `db:"debit" json:"debit"`
	Credit    decimal.Decimal `db:"credit" json:"credit"`
}

// MalformedLine reports a line with both or neither side set.
type MalformedLine struct {
	LineID    int64           `db:"line_id" json:"line_id"`
	BookingID int64           `db:"booking_id" json:"booking_id"`
	Debit     decimal.Decimal `db:"debit" json:"debit"`
	Credit    decimal.Decimal `db:"credit" json:"credit"`
}
