package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	store := New()
	stock := store.Stock()
	stock.SetQty(1, decimal.NewFromInt(5))

	boom := errors.New("boom")
	err := store.WithinTx(context.Background(), func(ctx context.Context) error {
		require.NoError(t, stock.SetLevel(ctx, 1, decimal.NewFromInt(1)))
		return store.WithinTx(ctx, func(context.Context) error { return boom })
	})
	require.ErrorIs(t, err, boom)
	require.True(t, stock.Qty(1).Equal(decimal.NewFromInt(5)))

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context) error {
		return stock.SetLevel(ctx, 1, decimal.NewFromInt(2))
	}))
	require.True(t, stock.Qty(1).Equal(decimal.NewFromInt(2)))
}

func TestFailOnFiresOnce(t *testing.T) {
	store := New()
	boom := errors.New("boom")
	store.FailOn = map[string]error{"stock.set": boom}
	require.ErrorIs(t, store.Stock().SetLevel(context.Background(), 1, decimal.Zero), boom)
	require.NoError(t, store.Stock().SetLevel(context.Background(), 1, decimal.Zero))
}

func TestRegistryCoversEveryKind(t *testing.T) {
	reg := Registry()
	src, err := reg.Lookup("SALES_ORDER")
	require.NoError(t, err)
	require.Equal(t, int64(1), src.ID)
}
