package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type memoryRepo struct {
	levels    map[int64]decimal.Decimal
	movements []Movement
	nextID    int64
	failSet   bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{levels: make(map[int64]decimal.Decimal)}
}

func (r *memoryRepo) LockLevels(_ context.Context, ids []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		out[id] = r.levels[id]
	}
	return out, nil
}

func (r *memoryRepo) SetLevel(_ context.Context, id int64, qty decimal.Decimal) error {
	if r.failSet {
		return errors.New("write failed")
	}
	r.levels[id] = qty
	return nil
}

func (r *memoryRepo) InsertMovements(_ context.Context, movements []Movement) error {
	for _, m := range movements {
		r.nextID++
		m.ID = r.nextID
		r.movements = append(r.movements, m)
	}
	return nil
}

func (r *memoryRepo) DeleteMovementsBySource(_ context.Context, ref sources.Ref) (int64, error) {
	kept := r.movements[:0]
	var n int64
	for _, m := range r.movements {
		if m.SourceKey == ref.Key() {
			n++
			continue
		}
		kept = append(kept, m)
	}
	r.movements = kept
	return n, nil
}

func (r *memoryRepo) ListMovements(_ context.Context, filter MovementFilter) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

type passTx struct{}

func (passTx) WithinTx(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestApplyDeltasMergesPerProduct(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[1] = qty(10)
	svc := NewService(repo, passTx{}, nil)

	err := svc.ApplyDeltas(context.Background(), []Delta{
		{ProductID: 1, Qty: qty(-4)},
		{ProductID: 2, Qty: qty(3)},
		{ProductID: 1, Qty: qty(1)},
	})
	require.NoError(t, err)
	require.True(t, repo.levels[1].Equal(qty(7)))
	require.True(t, repo.levels[2].Equal(qty(3)))
}

func TestApplyDeltasRejectsNegativeWithoutPartialWrites(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[1] = qty(10)
	repo.levels[2] = qty(1)
	svc := NewService(repo, passTx{}, nil)

	err := svc.ApplyDeltas(context.Background(), []Delta{
		{ProductID: 1, ProductName: "Widget", Qty: qty(-5)},
		{ProductID: 2, ProductName: "Gadget", Qty: qty(-2)},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Contains(t, err.Error(), "Gadget")
	require.True(t, repo.levels[1].Equal(qty(10)))
	require.True(t, repo.levels[2].Equal(qty(1)))
}

func TestApplyDeltasAllowsExactlyZero(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[1] = qty(4)
	svc := NewService(repo, passTx{}, nil)
	require.NoError(t, svc.ApplyDeltas(context.Background(), []Delta{{ProductID: 1, Qty: qty(-4)}}))
	require.True(t, repo.levels[1].IsZero())
}

func TestRecordAndRemoveBySource(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, passTx{}, nil)
	ctx := context.Background()
	order := sources.NewRef(sources.KindSalesOrder, 1)
	other := sources.NewRef(sources.KindSalesOrder, 2)
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, svc.Record(ctx, []Movement{
		{ProductID: 1, Direction: DirectionOut, Qty: qty(2), SourceKind: order.Kind, DocumentID: 1, SourceKey: order.Key(), MovedAt: now},
		{ProductID: 1, Direction: DirectionOut, Qty: qty(1), SourceKind: other.Kind, DocumentID: 2, SourceKey: other.Key(), MovedAt: now},
	}))
	require.NoError(t, svc.RemoveBySource(ctx, order))

	items, err := svc.Movements(ctx, MovementFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, items[0].Signed().Equal(qty(-1)))
}

func TestRecordRejectsNonPositiveQty(t *testing.T) {
	svc := NewService(newMemoryRepo(), passTx{}, nil)
	err := svc.Record(context.Background(), []Movement{{ProductID: 1, Direction: DirectionIn, Qty: decimal.Zero}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMergeDeltasDropsZeroes(t *testing.T) {
	merged := MergeDeltas([]Delta{{ProductID: 1, Qty: qty(2)}}, []Delta{{ProductID: 1, Qty: qty(-2)}, {ProductID: 3, Qty: qty(1)}})
	require.Len(t, merged, 1)
	require.Equal(t, int64(3), merged[0].ProductID)
}
