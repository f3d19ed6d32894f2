// Package ledger keeps the per-partner transaction history used for statements and commission
// payouts.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
)

// PartnerType distinguishes partner tables.
type PartnerType string

const (
	PartnerSalesperson PartnerType = "salesperson"
	PartnerCustomer    PartnerType = "customer"
	PartnerVendor      PartnerType = "vendor"
)

// Valid reports a known partner type.
func (t PartnerType) Valid() bool {
	switch t {
	case PartnerSalesperson, PartnerCustomer, PartnerVendor:
		return true
	}
	return false
}

// PartnerRef identifies a partner.
type PartnerRef struct {
	Type PartnerType `json:"type"`
	ID   int64       `json:"id"`
}

// IsZero reports an unset partner.
func (p PartnerRef) IsZero() bool { return p.Type == "" || p.ID == 0 }

func (p PartnerRef) String() string { return fmt.Sprintf("%s:%d", p.Type, p.ID) }

// Direction of an entry from the business's point of view: out means the partner owes more.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Entry is one signed row of a partner's history.
type Entry struct {
	ID          int64           `db:"id" json:"id"`
	PartnerType PartnerType     `db:"partner_type" json:"partner_type"`
	PartnerID   int64           `db:"partner_id" json:"partner_id"`
	SourceKind  sources.Kind    `db:"source_kind" json:"source_kind"`
	DocumentID  int64           `db:"document_id" json:"document_id"`
	SourceKey   uuid.UUID       `db:"source_key" json:"source_key"`
	ProductID   *int64          `db:"product_id" json:"product_id,omitempty"`
	EntryDate   time.Time       `db:"entry_date" json:"entry_date"`
	Direction   Direction       `db:"direction" json:"direction"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Description string          `db:"description" json:"description"`
}

// Partner returns the entry's partner ref.
func (e Entry) Partner() PartnerRef { return PartnerRef{Type: e.PartnerType, ID: e.PartnerID} }

// Balance sums entries as out minus in.
func Balance(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Direction == DirectionOut {
			total = total.Add(e.Amount)
		} else {
			total = total.Sub(e.Amount)
		}
	}
	return total
}
