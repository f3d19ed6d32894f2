package bookings

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// LineInput is a pending booking line.
type LineInput struct {
	AccountID   int64
	ProductID   *int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// Draft is a fully built booking waiting to be written in one statement batch.
type Draft struct {
	SourceID    int64
	Source      sources.Ref
	Reference   string
	Date        time.Time
	Amount      decimal.Decimal
	PartnerType string
	PartnerID   int64
	Lines       []LineInput
}

// Totals sums both sides.
func (d Draft) Totals() (debit, credit decimal.Decimal) {
	for _, line := range d.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// Validate checks shape and balance before anything is written.
func (d Draft) Validate() error {
	if d.Source.IsZero() || !d.Source.Kind.Valid() {
		return errors.New("bookings: source required")
	}
	if d.SourceID == 0 {
		return shared.Configuration("transaction source %s is not configured", d.Source.Kind)
	}
	if d.Date.IsZero() {
		return shared.Validation("booking date required for %s", d.Source)
	}
	if len(d.Lines) < 2 {
		return shared.BalanceIntegrity("booking %s needs at least two lines, got %d", d.Source, len(d.Lines))
	}
	for idx, line := range d.Lines {
		if line.AccountID == 0 {
			return shared.Configuration("booking %s line %d has no account", d.Source, idx+1)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return shared.BalanceIntegrity("booking %s line %d has a negative amount", d.Source, idx+1)
		}
		if line.Debit.IsZero() == line.Credit.IsZero() {
			return shared.BalanceIntegrity("booking %s line %d must carry exactly one of debit or credit", d.Source, idx+1)
		}
	}
	debit, credit := d.Totals()
	if !shared.WithinEpsilon(debit, credit) {
		return shared.BalanceIntegrity("booking %s is unbalanced: debit %s, credit %s",
			d.Source, shared.Amount(debit), shared.Amount(credit)).
			WithDetail("debit", debit.StringFixed(2)).
			WithDetail("credit", credit.StringFixed(2))
	}
	return nil
}
