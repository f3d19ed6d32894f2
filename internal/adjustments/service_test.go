package adjustments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/ledgertest"
)

type memoryRepo struct {
	seq     int64
	stock   map[int64]StockAdjustment
	product map[int64]ProductAdjustment
}

func (r *memoryRepo) Snapshot() func() {
	seq := r.seq
	stock := make(map[int64]StockAdjustment, len(r.stock))
	for k, v := range r.stock {
		stock[k] = v
	}
	product := make(map[int64]ProductAdjustment, len(r.product))
	for k, v := range r.product {
		product[k] = v
	}
	return func() { r.seq, r.stock, r.product = seq, stock, product }
}

func (r *memoryRepo) withLineIDs(adj StockAdjustment) StockAdjustment {
	lines := make([]Line, len(adj.Lines))
	for i, l := range adj.Lines {
		r.seq++
		l.ID, l.AdjustmentID = r.seq, adj.ID
		lines[i] = l
	}
	adj.Lines = lines
	return adj
}

func (r *memoryRepo) CreateStock(_ context.Context, adj StockAdjustment) (StockAdjustment, error) {
	r.seq++
	adj.ID = r.seq
	adj = r.withLineIDs(adj)
	r.stock[adj.ID] = adj
	return adj, nil
}

func (r *memoryRepo) GetStock(_ context.Context, id int64) (StockAdjustment, error) {
	adj, ok := r.stock[id]
	if !ok {
		return StockAdjustment{}, shared.NotFound("stock adjustment", id)
	}
	return adj, nil
}

func (r *memoryRepo) ListStock(context.Context, ListFilter) ([]StockAdjustment, error) {
	var out []StockAdjustment
	for _, adj := range r.stock {
		out = append(out, adj)
	}
	return out, nil
}

func (r *memoryRepo) UpdateStock(_ context.Context, adj StockAdjustment) (StockAdjustment, error) {
	adj = r.withLineIDs(adj)
	r.stock[adj.ID] = adj
	return adj, nil
}

func (r *memoryRepo) DeleteStock(_ context.Context, id int64) error {
	delete(r.stock, id)
	return nil
}

func (r *memoryRepo) CreateProduct(_ context.Context, adj ProductAdjustment) (ProductAdjustment, error) {
	r.seq++
	adj.ID = r.seq
	r.product[adj.ID] = adj
	return adj, nil
}

func (r *memoryRepo) GetProduct(_ context.Context, id int64) (ProductAdjustment, error) {
	adj, ok := r.product[id]
	if !ok {
		return ProductAdjustment{}, shared.NotFound("product adjustment", id)
	}
	return adj, nil
}

func (r *memoryRepo) ListProduct(context.Context, ListFilter) ([]ProductAdjustment, error) {
	var out []ProductAdjustment
	for _, adj := range r.product {
		out = append(out, adj)
	}
	return out, nil
}

func (r *memoryRepo) DeleteProduct(_ context.Context, id int64) error {
	delete(r.product, id)
	return nil
}

func newService(t *testing.T, stock int64) (*Service, *memoryRepo, *ledgertest.Harness) {
	t.Helper()
	h := ledgertest.New(t, stock)
	repo := &memoryRepo{stock: map[int64]StockAdjustment{}, product: map[int64]ProductAdjustment{}}
	h.Store.Track(repo)
	svc := NewService(Deps{
		Repo:                repo,
		Tx:                  h.Store,
		Products:            h.Store.Products(),
		Levels:              h.Inventory,
		Builder:             h.Builder,
		Poster:              h.Coordinator,
		ForeignCostCurrency: "USD",
	})
	return svc, repo, h
}

func widgetLines(qty int64) []LineInput {
	return []LineInput{{ProductID: ledgertest.WidgetID, Qty: decimal.NewFromInt(qty)}}
}

func TestStockAdjustmentWritesOffAtCost(t *testing.T) {
	svc, _, h := newService(t, 10)
	ctx := context.Background()

	adj, err := svc.CreateStock(ctx, CreateStockAdjustmentRequest{Reference: "ADJ-1", AdjustmentDate: ledgertest.Day, Lines: widgetLines(4)})
	require.NoError(t, err)
	require.True(t, adj.Amount.Equal(decimal.NewFromInt(12)))
	require.True(t, h.Stock(ledgertest.WidgetID).Equal(decimal.NewFromInt(6)))

	booked, err := h.Store.Bookings().ListBySource(ctx, sources.NewRef(sources.KindStockAdjustment, adj.ID))
	require.NoError(t, err)
	require.Len(t, booked, 1)
	for _, l := range booked[0].Lines {
		switch l.AccountID {
		case ledgertest.AccAdjustment:
			require.True(t, l.Debit.Equal(decimal.NewFromInt(12)))
		case ledgertest.AccAsset:
			require.True(t, l.Credit.Equal(decimal.NewFromInt(12)))
		default:
			t.Fatalf("unexpected account %d", l.AccountID)
		}
	}
}

func TestStockAdjustmentCannotDriveStockNegative(t *testing.T) {
	svc, repo, h := newService(t, 3)
	_, err := svc.CreateStock(context.Background(), CreateStockAdjustmentRequest{Reference: "ADJ-1", AdjustmentDate: ledgertest.Day, Lines: widgetLines(4)})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Empty(t, repo.stock)
	require.Zero(t, h.Store.Bookings().Count())
	require.True(t, h.Stock(ledgertest.WidgetID).Equal(decimal.NewFromInt(3)))
}

func TestUpdateAndDeleteStockAdjustment(t *testing.T) {
	svc, _, h := newService(t, 10)
	ctx := context.Background()
	adj, err := svc.CreateStock(ctx, CreateStockAdjustmentRequest{Reference: "ADJ-1", AdjustmentDate: ledgertest.Day, Lines: widgetLines(4)})
	require.NoError(t, err)

	adj, err = svc.UpdateStock(ctx, adj.ID, UpdateStockAdjustmentRequest{AdjustmentDate: ledgertest.Day, Lines: widgetLines(9)})
	require.NoError(t, err)
	require.True(t, adj.Amount.Equal(decimal.NewFromInt(27)))
	require.True(t, h.Stock(ledgertest.WidgetID).Equal(decimal.NewFromInt(1)))
	require.Equal(t, 1, h.Store.Bookings().Count())

	_, err = svc.UpdateStock(ctx, adj.ID, UpdateStockAdjustmentRequest{AdjustmentDate: ledgertest.Day, Lines: widgetLines(11)})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.True(t, h.Stock(ledgertest.WidgetID).Equal(decimal.NewFromInt(1)))

	require.NoError(t, svc.DeleteStock(ctx, adj.ID))
	require.True(t, h.Stock(ledgertest.WidgetID).Equal(decimal.NewFromInt(10)))
	require.Zero(t, h.Store.Bookings().Count())
}

func TestProductAdjustmentRejectsIncrease(t *testing.T) {
	svc, _, _ := newService(t, 10)
	for _, qty := range []int64{10, 12} {
		_, err := svc.CreateProduct(context.Background(), CreateProductAdjustmentRequest{
			Reference: "PA-1", ProductID: ledgertest.WidgetID, AdjustmentDate: ledgertest.Day, NewQty: decimal.NewFromInt(qty),
		})
		require.ErrorIs(t, err, shared.ErrValidation)
		require.Contains(t, err.Error(), "Stock increase is not allowed")
	}
}

func TestProductAdjustmentPostsDifference(t *testing.T) {
	svc, _, h := newService(t, 10)
	ctx := context.Background()

	adj, err := svc.CreateProduct(ctx, CreateProductAdjustmentRequest{
		Reference: "PA-1", ProductID: ledgertest.WidgetID, AdjustmentDate: ledgertest.Day, NewQty: decimal.NewFromInt(7),
	})
	require.NoError(t, err)
	require.True(t, adj.PreviousQty.Equal(decimal.NewFromInt(10)))
	require.True(t, adj.Difference.Equal(decimal.NewFromInt(3)))
	require.True(t, adj.Amount.Equal(decimal.NewFromInt(9)))
	require.True(t, h.Stock(ledgertest.WidgetID).Equal(decimal.NewFromInt(7)))

	require.NoError(t, svc.DeleteProduct(ctx, adj.ID))
	require.True(t, h.Stock(ledgertest.WidgetID).Equal(decimal.NewFromInt(10)))
}

type recordingLocker struct {
	keys []string
	held map[string]bool
}

func (l *recordingLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	if l.held[key] {
		return &shared.DomainError{Kind: shared.ErrDocumentLocked, Message: "document is being modified by another request"}
	}
	return fn(ctx)
}

func TestAdjustmentWritesTakeDocumentLock(t *testing.T) {
	svc, _, h := newService(t, 10)
	locker := &recordingLocker{held: map[string]bool{}}
	svc.locker = locker
	ctx := context.Background()

	adj, err := svc.CreateStock(ctx, CreateStockAdjustmentRequest{Reference: "ADJ-1", AdjustmentDate: ledgertest.Day, Lines: widgetLines(2)})
	require.NoError(t, err)
	_, err = svc.UpdateStock(ctx, adj.ID, UpdateStockAdjustmentRequest{AdjustmentDate: ledgertest.Day, Lines: widgetLines(3)})
	require.NoError(t, err)

	stockKey := shared.DocumentLockKey("stock_adjustment", adj.ID)
	locker.held[stockKey] = true
	require.ErrorIs(t, svc.DeleteStock(ctx, adj.ID), shared.ErrDocumentLocked)
	require.True(t, h.Stock(ledgertest.WidgetID).Equal(decimal.NewFromInt(7)))
	require.Equal(t, 1, h.Store.Bookings().Count())

	locker.held[stockKey] = false
	require.NoError(t, svc.DeleteStock(ctx, adj.ID))

	pa, err := svc.CreateProduct(ctx, CreateProductAdjustmentRequest{
		Reference: "PA-1", ProductID: ledgertest.WidgetID, AdjustmentDate: ledgertest.Day, NewQty: decimal.NewFromInt(8),
	})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteProduct(ctx, pa.ID))

	productKey := shared.DocumentLockKey("product_adjustment", pa.ID)
	require.Equal(t, []string{stockKey, stockKey, stockKey, productKey}, locker.keys)
}

func TestDeleteStockAdjustmentReversesRecordedCost(t *testing.T) {
	svc, _, h := newService(t, 10)
	ctx := context.Background()
	adj, err := svc.CreateStock(ctx, CreateStockAdjustmentRequest{Reference: "ADJ-1", AdjustmentDate: ledgertest.Day, Lines: widgetLines(4)})
	require.NoError(t, err)

	widget := ledgertest.Widget()
	widget.Cost = decimal.NewFromInt(8)
	h.Store.Products().Put(widget)

	prev, err := h.Builder.Adjustment(ctx, stockSnapshot(adj, map[int64]products.Product{ledgertest.WidgetID: widget}))
	require.NoError(t, err)
	require.True(t, prev.Amount.Equal(decimal.NewFromInt(12)))

	require.NoError(t, svc.DeleteStock(ctx, adj.ID))
	require.True(t, h.Stock(ledgertest.WidgetID).Equal(decimal.NewFromInt(10)))
	require.Zero(t, h.Store.Bookings().Count())
}

func TestHandlerAdjustments(t *testing.T) {
	svc, _, _ := newService(t, 10)
	router := chi.NewRouter()
	router.Route("/inventory", NewHandler(nil, svc).MountRoutes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inventory/adjustments", strings.NewReader(
		`{"reference":"ADJ-1","adjustment_date":"2025-03-01T00:00:00Z","lines":[{"product_id":100,"qty":"2"}]}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inventory/product-adjustments", strings.NewReader(
		`{"reference":"PA-1","product_id":100,"adjustment_date":"2025-03-01T00:00:00Z","new_qty":"20"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inventory/adjustments", strings.NewReader(
		`{"reference":"ADJ-2","adjustment_date":"2025-03-01T00:00:00Z","lines":[{"product_id":100,"qty":"50"}]}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "Insufficient Stock")
}
