package ar

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func openReceipt(id int64, day int, due string) Receipt {
	r := Receipt{ID: id, Reference: "SO", ReceiptDate: time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC), Due: d(due)}
	r.Recompute()
	return r
}

func TestRecomputeKeepsConservation(t *testing.T) {
	r := openReceipt(1, 1, "50")
	r.Paid = d("20")
	r.Recompute()
	require.True(t, r.Remaining.Equal(d("30")))
	require.Equal(t, StatusPending, r.Status)
	require.True(t, r.Conserved())

	r.Paid = d("50")
	r.Recompute()
	require.Equal(t, StatusPaid, r.Status)
	require.True(t, r.Remaining.IsZero())
}

func TestAllocateOldestFirstPartialSecond(t *testing.T) {
	receipts := []Receipt{openReceipt(2, 5, "50"), openReceipt(1, 1, "50")}
	allocs, left := Allocate(receipts, d("80"), []Method{{AccountID: 10, Amount: d("80")}})
	require.True(t, left.IsZero())
	require.Len(t, allocs, 2)
	require.Equal(t, int64(1), allocs[0].ReceiptID)
	require.True(t, allocs[0].Amount.Equal(d("50")))
	require.Equal(t, int64(2), allocs[1].ReceiptID)
	require.True(t, allocs[1].Amount.Equal(d("30")))
}

func TestAllocateReportsLeftover(t *testing.T) {
	receipts := []Receipt{openReceipt(1, 1, "50"), openReceipt(2, 2, "50")}
	allocs, left := Allocate(receipts, d("120"), []Method{{AccountID: 10, Amount: d("120")}})
	require.Len(t, allocs, 2)
	require.True(t, left.Equal(d("20")))
}

func TestAllocateConsumesMethodsInOrder(t *testing.T) {
	receipts := []Receipt{openReceipt(1, 1, "50"), openReceipt(2, 2, "50")}
	methods := []Method{{AccountID: 10, Amount: d("30")}, {AccountID: 11, Amount: d("40")}}
	allocs, left := Allocate(receipts, d("70"), methods)
	require.True(t, left.IsZero())
	requireSplits(t, allocs[0].Splits, Split{AccountID: 10, Amount: d("30")}, Split{AccountID: 11, Amount: d("20")})
	requireSplits(t, allocs[1].Splits, Split{AccountID: 11, Amount: d("20")})
}

func TestAllocateSkipsSettledReceipts(t *testing.T) {
	settled := openReceipt(1, 1, "50")
	settled.Paid = d("50")
	settled.Recompute()
	allocs, left := Allocate([]Receipt{settled, openReceipt(2, 2, "10")}, d("10"), []Method{{AccountID: 1, Amount: d("10")}})
	require.True(t, left.IsZero())
	require.Len(t, allocs, 1)
	require.Equal(t, int64(2), allocs[0].ReceiptID)
}

func requireSplits(t *testing.T, got []Split, want ...Split) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].AccountID, got[i].AccountID)
		require.True(t, want[i].Amount.Equal(got[i].Amount), "split %d: want %s got %s", i, want[i].Amount, got[i].Amount)
	}
}
