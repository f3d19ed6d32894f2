package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
)

// Direction of a stock movement.
type Direction string

const (
	// DirectionIn increases stock.
	DirectionIn Direction = "IN"
	// DirectionOut decreases stock.
	DirectionOut Direction = "OUT"
)

// Movement is one append-only row of the stock movement log. Qty is always positive.
type Movement struct {
	ID          int64           `db:"id" json:"id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	Direction   Direction       `db:"direction" json:"direction"`
	Qty         decimal.Decimal `db:"qty" json:"qty"`
	SourceKind  sources.Kind    `db:"source_kind" json:"source_kind"`
	DocumentID  int64           `db:"document_id" json:"document_id"`
	SourceKey   uuid.UUID       `db:"source_key" json:"source_key"`
	PartnerType string          `db:"partner_type" json:"partner_type,omitempty"`
	PartnerID   int64           `db:"partner_id" json:"partner_id,omitempty"`
	MovedAt     time.Time       `db:"moved_at" json:"moved_at"`
	Note        string          `db:"note" json:"note"`
}

// Signed returns Qty with the sign of the direction.
func (m Movement) Signed() decimal.Decimal {
	if m.Direction == DirectionOut {
		return m.Qty.Neg()
	}
	return m.Qty
}

// Delta is a signed change of one product's stock level.
type Delta struct {
	ProductID   int64
	ProductName string
	Qty         decimal.Decimal
}

// Level is the stock on hand for one product.
type Level struct {
	ProductID int64           `db:"product_id" json:"product_id"`
	Qty       decimal.Decimal `db:"qty" json:"qty"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	ProductID int64
	Source    *sources.Ref
	From      *time.Time
	To        *time.Time
	Limit     uint64
}

// MergeDeltas folds deltas per product, keeps first-seen order and drops zero results.
func MergeDeltas(deltas ...[]Delta) []Delta {
	index := make(map[int64]int)
	var out []Delta
	for _, group := range deltas {
		for _, d := range group {
			if i, ok := index[d.ProductID]; ok {
				out[i].Qty = out[i].Qty.Add(d.Qty)
				if out[i].ProductName == "" {
					out[i].ProductName = d.ProductName
				}
				continue
			}
			index[d.ProductID] = len(out)
			out = append(out, d)
		}
	}
	merged := out[:0]
	for _, d := range out {
		if !d.Qty.IsZero() {
			merged = append(merged, d)
		}
	}
	return merged
}

// Negate flips every delta.
func Negate(deltas []Delta) []Delta {
	out := make([]Delta, len(deltas))
	for i, d := range deltas {
		out[i] = Delta{ProductID: d.ProductID, ProductName: d.ProductName, Qty: d.Qty.Neg()}
	}
	return out
}
