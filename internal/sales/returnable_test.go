package sales

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestReturnableSubtractsSettledReturns(t *testing.T) {
	settled := []ReturnedQty{
		{ReturnID: 1, OrderLineID: 10, Qty: qty(3)},
		{ReturnID: 2, OrderLineID: 10, Qty: qty(2)},
		{ReturnID: 2, OrderLineID: 11, Qty: qty(9)},
	}
	r := Returnable(qty(10), 10, settled, 0)
	require.True(t, r.PreviouslyReturned.Equal(qty(5)))
	require.True(t, r.Returnable.Equal(qty(5)))

	r = Returnable(qty(10), 10, settled, 2)
	require.True(t, r.PreviouslyReturned.Equal(qty(3)), "the edited return does not count against itself")
	require.True(t, r.Returnable.Equal(qty(7)))
}

func TestReturnableNeverNegative(t *testing.T) {
	r := Returnable(qty(4), 10, []ReturnedQty{{ReturnID: 1, OrderLineID: 10, Qty: qty(6)}}, 0)
	require.True(t, r.Returnable.IsZero())
	require.True(t, r.PreviouslyReturned.Equal(qty(6)))
}

func TestReturnableIsMonotonic(t *testing.T) {
	var settled []ReturnedQty
	prev := Returnable(qty(10), 10, settled, 0).Returnable
	for i, step := range []int64{1, 3, 2, 4} {
		settled = append(settled, ReturnedQty{ReturnID: int64(i + 1), OrderLineID: 10, Qty: qty(step)})
		next := Returnable(qty(10), 10, settled, 0).Returnable
		require.True(t, next.LessThanOrEqual(prev))
		prev = next
	}
	require.True(t, prev.IsZero())
}

func TestCheckCeilingSumsLinesOfOneReturn(t *testing.T) {
	origins := map[int64]origin{10: {LineID: 10, ProductName: "Widget", Qty: qty(10)}}
	settled := []ReturnedQty{{ReturnID: 1, OrderLineID: 10, Qty: qty(4)}}

	require.NoError(t, checkCeiling([]ReturnLine{{OrderLineID: 10, Qty: qty(6)}}, origins, settled, 0))

	err := checkCeiling([]ReturnLine{
		{OrderLineID: 10, Qty: qty(3)},
		{OrderLineID: 10, Qty: qty(4)},
	}, origins, settled, 0)
	require.ErrorIs(t, err, shared.ErrOverReturn)
	de, ok := shared.AsDomainError(err)
	require.True(t, ok)
	require.Equal(t, "7.00", de.Details["requested"])
	require.Contains(t, err.Error(), "Already Returned: 4.00, Available: 6.00, Original: 10.00")
}

func TestCheckCeilingUnknownLine(t *testing.T) {
	err := checkCeiling([]ReturnLine{{OrderLineID: 99, Qty: qty(1)}}, map[int64]origin{}, nil, 0)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
