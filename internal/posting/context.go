// Package posting turns immutable document snapshots into balanced posting plans.
package posting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/bookings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Context accumulates everything one document posts. Nothing is written until the plan it
// produces is handed to the coordinator.
type Context struct {
	Source    sources.Ref
	SourceID  int64
	Reference string
	Date      time.Time
	Currency  string
	Rate      decimal.Decimal
	Partner   ledger.PartnerRef

	lines     []bookings.LineInput
	stock     []inventory.Delta
	movements []inventory.Movement
	entries   []ledger.Entry
}

// Debit appends a debit line. Zero amounts are skipped.
func (c *Context) Debit(accountID int64, amount decimal.Decimal, productID *int64, description string) {
	amount = shared.Round2(amount)
	if amount.IsZero() {
		return
	}
	c.lines = append(c.lines, bookings.LineInput{AccountID: accountID, ProductID: productID, Debit: amount, Description: description})
}

// Credit appends a credit line. Zero amounts are skipped.
func (c *Context) Credit(accountID int64, amount decimal.Decimal, productID *int64, description string) {
	amount = shared.Round2(amount)
	if amount.IsZero() {
		return
	}
	c.lines = append(c.lines, bookings.LineInput{AccountID: accountID, ProductID: productID, Credit: amount, Description: description})
}

// Move records a stock movement and the matching level delta.
func (c *Context) Move(productID int64, productName string, direction inventory.Direction, qty decimal.Decimal, note string) {
	if !qty.IsPositive() {
		return
	}
	delta := qty
	if direction == inventory.DirectionOut {
		delta = qty.Neg()
	}
	c.stock = append(c.stock, inventory.Delta{ProductID: productID, ProductName: productName, Qty: delta})
	c.movements = append(c.movements, inventory.Movement{
		ProductID:   productID,
		Direction:   direction,
		Qty:         qty,
		SourceKind:  c.Source.Kind,
		DocumentID:  c.Source.DocumentID,
		SourceKey:   c.Source.Key(),
		PartnerType: string(c.Partner.Type),
		PartnerID:   c.Partner.ID,
		MovedAt:     c.Date,
		Note:        note,
	})
}

// Entry records a partner ledger row for the context's partner. Zero amounts are skipped.
func (c *Context) Entry(direction ledger.Direction, amount decimal.Decimal, productID *int64, description string) {
	amount = shared.Round2(amount)
	if amount.IsZero() || c.Partner.IsZero() {
		return
	}
	c.entries = append(c.entries, ledger.Entry{
		PartnerType: c.Partner.Type,
		PartnerID:   c.Partner.ID,
		SourceKind:  c.Source.Kind,
		DocumentID:  c.Source.DocumentID,
		SourceKey:   c.Source.Key(),
		ProductID:   productID,
		EntryDate:   c.Date,
		Direction:   direction,
		Amount:      amount,
		Description: description,
	})
}

// Lines returns the pending booking lines.
func (c *Context) Lines() []bookings.LineInput {
	return append([]bookings.LineInput(nil), c.lines...)
}

// Draft builds the booking draft carrying amount as its header total.
func (c *Context) Draft(amount decimal.Decimal) bookings.Draft {
	return bookings.Draft{
		SourceID:    c.SourceID,
		Source:      c.Source,
		Reference:   c.Reference,
		Date:        c.Date,
		Amount:      shared.Round2(amount),
		PartnerType: string(c.Partner.Type),
		PartnerID:   c.Partner.ID,
		Lines:       c.Lines(),
	}
}

// Plan seals the context into a plan and validates the booking balance.
func (c *Context) Plan(amount decimal.Decimal, receipt *ReceiptEffect) (Plan, error) {
	plan := Plan{
		Source:    c.Source,
		Reference: c.Reference,
		Date:      c.Date,
		Amount:    shared.Round2(amount),
		Stock:     append([]inventory.Delta(nil), c.stock...),
		Movements: append([]inventory.Movement(nil), c.movements...),
		Entries:   append([]ledger.Entry(nil), c.entries...),
		Receipt:   receipt,
	}
	if len(c.lines) > 0 {
		draft := c.Draft(amount)
		if err := draft.Validate(); err != nil {
			return Plan{}, err
		}
		plan.Booking = &draft
	}
	return plan, nil
}
