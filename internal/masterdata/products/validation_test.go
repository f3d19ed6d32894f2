package products

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func validInput() CreateInput {
	return CreateInput{
		Code:            "W-1",
		Name:            "Widget",
		SalePrice:       decimal.NewFromInt(5),
		Cost:            decimal.NewFromInt(3),
		CostCurrency:    "IDR",
		AssetAccountID:  1,
		IncomeAccountID: 2,
		COGSAccountID:   3,
	}
}

func TestValidateAcceptsPlainProduct(t *testing.T) {
	require.NoError(t, validate(validInput()))
}

func TestValidateCommissionNeedsAccountAndRate(t *testing.T) {
	in := validInput()
	in.Commissionable = true
	in.CommissionRate = decimal.RequireFromString("0.1")
	require.ErrorIs(t, validate(in), shared.ErrConfiguration)

	in.CommissionAccountID = 9
	require.NoError(t, validate(in))

	in.CommissionRate = decimal.Zero
	require.ErrorIs(t, validate(in), shared.ErrConfiguration)
}

func TestValidateDiscountRateIsPercent(t *testing.T) {
	in := validInput()
	in.QuantityDiscount = true
	in.DiscountAccountID = 8
	in.DiscountRate = decimal.NewFromInt(150)
	require.ErrorIs(t, validate(in), shared.ErrConfiguration)

	in.DiscountRate = decimal.NewFromInt(10)
	require.NoError(t, validate(in))
}

func TestValidateRejectsMissingAccounts(t *testing.T) {
	in := validInput()
	in.COGSAccountID = 0
	require.ErrorIs(t, validate(in), shared.ErrValidation)
}
