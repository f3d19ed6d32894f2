package bookings

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func baseDraft() Draft {
	return Draft{
		SourceID:  1,
		Source:    sources.NewRef(sources.KindSalesOrder, 7),
		Reference: "SO-7",
		Date:      time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Lines: []LineInput{
			{AccountID: 1, Debit: dec("50")},
			{AccountID: 2, Credit: dec("50")},
		},
	}
}

func TestDraftValidateAcceptsBalancedLines(t *testing.T) {
	require.NoError(t, baseDraft().Validate())
}

func TestDraftValidateToleratesOneCent(t *testing.T) {
	d := baseDraft()
	d.Lines[1].Credit = dec("49.99")
	require.NoError(t, d.Validate())
}

func TestDraftValidateRejectsImbalance(t *testing.T) {
	d := baseDraft()
	d.Lines[1].Credit = dec("49.98")
	err := d.Validate()
	require.ErrorIs(t, err, shared.ErrBalanceIntegrity)
	require.Contains(t, err.Error(), "debit 50.00, credit 49.98")
}

func TestDraftValidateRejectsBothSides(t *testing.T) {
	d := baseDraft()
	d.Lines[0].Credit = dec("1")
	d.Lines = append(d.Lines, LineInput{AccountID: 3, Credit: dec("-1")})
	require.ErrorIs(t, d.Validate(), shared.ErrBalanceIntegrity)
}

func TestDraftValidateRejectsSingleLine(t *testing.T) {
	d := baseDraft()
	d.Lines = d.Lines[:1]
	require.ErrorIs(t, d.Validate(), shared.ErrBalanceIntegrity)
}

func TestDraftValidateRequiresAccountAndSourceID(t *testing.T) {
	d := baseDraft()
	d.Lines[0].AccountID = 0
	require.ErrorIs(t, d.Validate(), shared.ErrConfiguration)

	d = baseDraft()
	d.SourceID = 0
	require.ErrorIs(t, d.Validate(), shared.ErrConfiguration)
}
