package integration_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/memstore"
)

const (
	accReceivable int64 = 1
	accAsset      int64 = 2
	accIncome     int64 = 3
	accCOGS       int64 = 4
	accCash       int64 = 5
	accAdjustment int64 = 6
)

var day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type auditRecorder struct{ logs []shared.AuditLog }

func (a *auditRecorder) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type metricsRecorder struct {
	posted []string
	failed []string
}

func (m *metricsRecorder) ObservePosting(source, action string) {
	m.posted = append(m.posted, source+":"+action)
}

func (m *metricsRecorder) ObserveFailure(source, kind string) {
	m.failed = append(m.failed, source+":"+kind)
}

type harness struct {
	store   *memstore.Store
	builder *posting.Builder
	coord   *integration.Coordinator
	audit   *auditRecorder
	metrics *metricsRecorder
	product products.Product
}

func newHarness(t *testing.T, stock int64) *harness {
	t.Helper()
	store := memstore.New()
	for _, acc := range []accounts.Account{
		{ID: accReceivable, Name: "Receivable", Currency: "IDR"},
		{ID: accAsset, Name: "Inventory", Currency: "IDR"},
		{ID: accIncome, Name: "Sales", Currency: "IDR"},
		{ID: accCOGS, Name: "COGS", Currency: "IDR"},
		{ID: accCash, Name: "Cash", Currency: "IDR"},
		{ID: accAdjustment, Name: "Stock Adjustment", Currency: "IDR"},
	} {
		store.Accounts().Put(acc)
	}
	product := store.Products().Put(products.Product{
		ID: 10, Name: "Widget", SalePrice: dec("5"), Cost: dec("3"), CostCurrency: "IDR",
		AssetAccountID: accAsset, IncomeAccountID: accIncome, COGSAccountID: accCOGS, AdjustmentAccountID: accAdjustment,
	})
	store.Stock().SetQty(product.ID, decimal.NewFromInt(stock))

	h := &harness{store: store, audit: &auditRecorder{}, metrics: &metricsRecorder{}, product: product}
	h.builder = posting.NewBuilder(store.Accounts(), memstore.Registry(), posting.Options{ForeignCostCurrency: "USD"})
	h.coord = integration.NewCoordinator(integration.Deps{
		Tx:       store,
		Bookings: store.Bookings(),
		Stock:    inventory.NewService(store.Stock(), store, nil),
		Entries:  store.Entries(),
		Receipts: store.Receivables(),
		Audit:    h.audit,
		Metrics:  h.metrics,
	})
	return h
}

var salesperson = ledger.PartnerRef{Type: ledger.PartnerSalesperson, ID: 7}

func (h *harness) order(t *testing.T, qty string) posting.Plan {
	t.Helper()
	plan, err := h.builder.SaleOrder(context.Background(), posting.SaleOrder{
		ID: 1, Reference: "SO-1", Date: day, Salesperson: salesperson, ReceivableAccountID: accReceivable,
		Rate:  dec("1"),
		Lines: []posting.Line{{LineID: 1, Product: h.product, Qty: dec(qty), Price: dec("5")}},
	})
	require.NoError(t, err)
	return plan
}

func (h *harness) saleReturn(t *testing.T, qty string) posting.Plan {
	t.Helper()
	plan, err := h.builder.SaleReturn(context.Background(), posting.SaleReturn{
		ID: 2, Reference: "SR-1", Date: day, Order: sources.NewRef(sources.KindSalesOrder, 1),
		Salesperson: salesperson, ReceivableAccountID: accReceivable,
		Lines: []posting.Line{{LineID: 1, Product: h.product, Qty: dec(qty), Price: dec("5")}},
	})
	require.NoError(t, err)
	return plan
}

func (h *harness) payment(t *testing.T, id int64, amount string) posting.Plan {
	t.Helper()
	plan, err := h.builder.Payment(context.Background(), posting.Payment{
		Source: sources.NewRef(sources.KindReceipt, id), Reference: "PAY", Date: day,
		Receipt: sources.NewRef(sources.KindSalesOrder, 1), Partner: salesperson,
		ReceivableAccountID: accReceivable,
		Splits:              []ar.Split{{AccountID: accCash, Amount: dec(amount)}},
	})
	require.NoError(t, err)
	return plan
}

func (h *harness) receipt(t *testing.T) ar.Receipt {
	t.Helper()
	rc, err := h.store.Receivables().GetReceiptBySource(context.Background(), sources.NewRef(sources.KindSalesOrder, 1))
	require.NoError(t, err)
	return rc
}

func (h *harness) stock() decimal.Decimal { return h.store.Stock().Qty(h.product.ID) }

func TestPostSaleOrder(t *testing.T) {
	h := newHarness(t, 100)
	result, err := h.coord.Post(context.Background(), h.order(t, "10"))
	require.NoError(t, err)
	require.NotNil(t, result.Booking)
	require.Len(t, result.Booking.Lines, 4)
	require.NotNil(t, result.Receipt)
	require.True(t, result.Receipt.Due.Equal(dec("50")))
	require.Equal(t, ar.StatusPending, result.Receipt.Status)

	require.True(t, h.stock().Equal(dec("90")))
	debit, credit := h.store.Bookings().Totals()
	require.True(t, debit.Equal(dec("80")))
	require.True(t, credit.Equal(dec("80")))
	require.Equal(t, []string{"SALES_ORDER:post"}, h.metrics.posted)
	require.Len(t, h.audit.logs, 1)
	require.Equal(t, "ledger.post", h.audit.logs[0].Action)
}

func TestRepostIsIdempotent(t *testing.T) {
	h := newHarness(t, 100)
	plan := h.order(t, "10")
	_, err := h.coord.Post(context.Background(), plan)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := h.coord.Repost(context.Background(), plan, plan)
		require.NoError(t, err)
		debit, credit := h.store.Bookings().Totals()
		require.True(t, debit.Equal(dec("80")))
		require.True(t, credit.Equal(dec("80")))
		require.Equal(t, 1, h.store.Bookings().Count())
		require.True(t, h.stock().Equal(dec("90")))
		require.True(t, h.receipt(t).Due.Equal(dec("50")))
	}
	moves, err := h.store.Stock().ListMovements(context.Background(), inventory.MovementFilter{ProductID: h.product.ID})
	require.NoError(t, err)
	require.Len(t, moves, 1)
}

func TestRepostAppliesQuantityDelta(t *testing.T) {
	h := newHarness(t, 100)
	prev := h.order(t, "10")
	_, err := h.coord.Post(context.Background(), prev)
	require.NoError(t, err)

	result, err := h.coord.Repost(context.Background(), prev, h.order(t, "6"))
	require.NoError(t, err)
	require.True(t, h.stock().Equal(dec("94")))
	require.True(t, result.Receipt.Due.Equal(dec("30")))
	require.True(t, result.Receipt.Remaining.Equal(dec("30")))
}

func TestRepostRejectsDifferentSource(t *testing.T) {
	h := newHarness(t, 100)
	_, err := h.coord.Repost(context.Background(), h.order(t, "1"), h.saleReturn(t, "1"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPostRejectsInsufficientStockWithoutWrites(t *testing.T) {
	h := newHarness(t, 5)
	_, err := h.coord.Post(context.Background(), h.order(t, "10"))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Contains(t, err.Error(), "Widget")

	require.True(t, h.stock().Equal(dec("5")))
	require.Zero(t, h.store.Bookings().Count())
	_, err = h.store.Receivables().GetReceiptBySource(context.Background(), sources.NewRef(sources.KindSalesOrder, 1))
	require.True(t, shared.IsNotFound(err))
	require.Equal(t, []string{"SALES_ORDER:insufficient_stock"}, h.metrics.failed)
}

func TestPostRollsBackWhenLaterWriteFails(t *testing.T) {
	h := newHarness(t, 100)
	boom := errors.New("disk full")
	h.store.FailOn = map[string]error{"entries.insert": boom}

	_, err := h.coord.Post(context.Background(), h.order(t, "10"))
	require.ErrorIs(t, err, boom)
	require.True(t, h.stock().Equal(dec("100")))
	require.Zero(t, h.store.Bookings().Count())
	require.Empty(t, h.audit.logs)
}

func TestUnpostRestoresEverything(t *testing.T) {
	h := newHarness(t, 100)
	plan := h.order(t, "10")
	_, err := h.coord.Post(context.Background(), plan)
	require.NoError(t, err)

	require.NoError(t, h.coord.Unpost(context.Background(), plan))
	require.True(t, h.stock().Equal(dec("100")))
	require.Zero(t, h.store.Bookings().Count())
	entries, err := h.store.Entries().ListByPartner(context.Background(), salesperson)
	require.NoError(t, err)
	require.Empty(t, entries)
	_, err = h.store.Receivables().GetReceiptBySource(context.Background(), sources.NewRef(sources.KindSalesOrder, 1))
	require.True(t, shared.IsNotFound(err))
}

func TestUnpostBlockedWhenReceiptHasPayments(t *testing.T) {
	h := newHarness(t, 100)
	plan := h.order(t, "10")
	_, err := h.coord.Post(context.Background(), plan)
	require.NoError(t, err)
	_, err = h.coord.Post(context.Background(), h.payment(t, 50, "20"))
	require.NoError(t, err)

	err = h.coord.Unpost(context.Background(), plan)
	require.ErrorIs(t, err, shared.ErrImmutableDocument)
	require.True(t, h.stock().Equal(dec("90")))
	require.True(t, h.receipt(t).Paid.Equal(dec("20")))
}

func TestPaymentUpdatesAndReversesReceipt(t *testing.T) {
	h := newHarness(t, 100)
	_, err := h.coord.Post(context.Background(), h.order(t, "10"))
	require.NoError(t, err)

	pay := h.payment(t, 50, "50")
	_, err = h.coord.Post(context.Background(), pay)
	require.NoError(t, err)
	rc := h.receipt(t)
	require.Equal(t, ar.StatusPaid, rc.Status)
	require.True(t, rc.Remaining.IsZero())

	_, err = h.coord.Post(context.Background(), h.payment(t, 51, "0.01"))
	require.ErrorIs(t, err, shared.ErrBalanceIntegrity)

	require.NoError(t, h.coord.Unpost(context.Background(), pay))
	rc = h.receipt(t)
	require.Equal(t, ar.StatusPending, rc.Status)
	require.True(t, rc.Paid.IsZero())
	require.True(t, rc.Conserved())
}

func TestReturnAdjustsOrderReceipt(t *testing.T) {
	h := newHarness(t, 100)
	_, err := h.coord.Post(context.Background(), h.order(t, "10"))
	require.NoError(t, err)

	ret := h.saleReturn(t, "4")
	_, err = h.coord.Post(context.Background(), ret)
	require.NoError(t, err)
	require.True(t, h.stock().Equal(dec("94")))
	require.True(t, h.receipt(t).Due.Equal(dec("30")))

	_, err = h.coord.Repost(context.Background(), ret, h.saleReturn(t, "2"))
	require.NoError(t, err)
	require.True(t, h.stock().Equal(dec("92")))
	require.True(t, h.receipt(t).Due.Equal(dec("40")))

	require.NoError(t, h.coord.Unpost(context.Background(), h.saleReturn(t, "2")))
	require.True(t, h.stock().Equal(dec("90")))
	require.True(t, h.receipt(t).Due.Equal(dec("50")))
}

func TestReturnCannotPushPaidAboveDue(t *testing.T) {
	h := newHarness(t, 100)
	_, err := h.coord.Post(context.Background(), h.order(t, "10"))
	require.NoError(t, err)
	_, err = h.coord.Post(context.Background(), h.payment(t, 50, "40"))
	require.NoError(t, err)

	_, err = h.coord.Post(context.Background(), h.saleReturn(t, "4"))
	require.ErrorIs(t, err, shared.ErrBalanceIntegrity)
	require.True(t, h.stock().Equal(dec("90")))
	rc := h.receipt(t)
	require.True(t, rc.Due.Equal(dec("50")))
	require.True(t, rc.Conserved())
}

func TestStockNeverGoesNegative(t *testing.T) {
	h := newHarness(t, 12)
	ops := []string{"5", "8", "3", "4", "1", "9", "2"}
	level := dec("12")
	for i, qty := range ops {
		plan, err := h.builder.Adjustment(context.Background(), posting.Adjustment{
			Source: sources.NewRef(sources.KindStockAdjustment, int64(100+i)), Reference: "ADJ", Date: day,
			Lines: []posting.AdjustmentLine{{Product: h.product, Qty: dec(qty)}},
		})
		require.NoError(t, err)
		_, err = h.coord.Post(context.Background(), plan)
		if level.LessThan(dec(qty)) {
			require.ErrorIs(t, err, shared.ErrInsufficientStock)
		} else {
			require.NoError(t, err)
			level = level.Sub(dec(qty))
		}
		require.True(t, h.stock().Equal(level), "step %d", i)
		require.False(t, h.stock().IsNegative())
	}
}
