package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestBalanceIsOutMinusIn(t *testing.T) {
	entries := []Entry{
		{Direction: DirectionOut, Amount: decimal.NewFromInt(50)},
		{Direction: DirectionOut, Amount: decimal.NewFromInt(-5)},
		{Direction: DirectionIn, Amount: decimal.NewFromInt(20)},
	}
	require.True(t, Balance(entries).Equal(decimal.NewFromInt(25)))
}

func TestPartnerTypeValid(t *testing.T) {
	require.True(t, PartnerCustomer.Valid())
	require.False(t, PartnerType("employee").Valid())
	require.True(t, PartnerRef{}.IsZero())
}
