// Package ledgertest wires a posting Builder and Coordinator over memstore for service tests.
package ledgertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	_ "github.com/odyssey-erp/odyssey-ledger/internal/testing/guard"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/memstore"
)

// Seeded account ids. Everything is IDR except AccBankUSD.
const (
	AccReceivable int64 = iota + 1
	AccAsset
	AccIncome
	AccCOGS
	AccCash
	AccAdjustment
	AccCommission
	AccDiscount
	AccPayable
	AccOpening
	AccBankUSD
)

// WidgetID is the seeded plain product: cost 3, price 5.
const WidgetID int64 = 100

// Day is the default document date.
var Day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

// Audit records audit rows.
type Audit struct {
	mu   sync.Mutex
	Logs []shared.AuditLog
}

func (a *Audit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Logs = append(a.Logs, log)
	return nil
}

// Actions lists recorded audit actions in order.
func (a *Audit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.Logs))
	for i, l := range a.Logs {
		out[i] = l.Action
	}
	return out
}

// Metrics records posting and allocation counters as "label:label" strings.
type Metrics struct {
	mu          sync.Mutex
	Posted      []string
	Failed      []string
	Allocations []string
}

func (m *Metrics) ObservePosting(source, action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Posted = append(m.Posted, source+":"+action)
}

func (m *Metrics) ObserveFailure(source, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failed = append(m.Failed, source+":"+kind)
}

func (m *Metrics) ObserveAllocation(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Allocations = append(m.Allocations, outcome)
}

// Harness is a fully wired ledger backed by memstore.
type Harness struct {
	Store       *memstore.Store
	Registry    *sources.Registry
	Builder     *posting.Builder
	Coordinator *integration.Coordinator
	Inventory   *inventory.Service
	Audit       *Audit
	Metrics     *Metrics
}

// New seeds the accounts above and the widget with the given stock.
func New(t testing.TB, widgetStock int64) *Harness {
	t.Helper()
	store := memstore.New()
	for _, acc := range []accounts.Account{
		{ID: AccReceivable, Code: "1100", Name: "Receivable", Currency: "IDR", Type: accounts.AccountTypeAsset},
		{ID: AccAsset, Code: "1300", Name: "Inventory", Currency: "IDR", Type: accounts.AccountTypeAsset},
		{ID: AccIncome, Code: "4100", Name: "Sales", Currency: "IDR", Type: accounts.AccountTypeRevenue},
		{ID: AccCOGS, Code: "5100", Name: "COGS", Currency: "IDR", Type: accounts.AccountTypeExpense},
		{ID: AccCash, Code: "1000", Name: "Cash", Currency: "IDR", Type: accounts.AccountTypeAsset},
		{ID: AccAdjustment, Code: "5200", Name: "Stock Adjustment", Currency: "IDR", Type: accounts.AccountTypeExpense},
		{ID: AccCommission, Code: "5300", Name: "Commission", Currency: "IDR", Type: accounts.AccountTypeExpense},
		{ID: AccDiscount, Code: "5400", Name: "Discount", Currency: "IDR", Type: accounts.AccountTypeExpense},
		{ID: AccPayable, Code: "2100", Name: "Payable", Currency: "IDR", Type: accounts.AccountTypeLiability},
		{ID: AccOpening, Code: "3900", Name: "Opening Balance", Currency: "IDR", Type: accounts.AccountTypeEquity},
		{ID: AccBankUSD, Code: "1010", Name: "Bank USD", Currency: "USD", Type: accounts.AccountTypeAsset},
	} {
		store.Accounts().Put(acc)
	}
	store.Products().Put(Widget())
	store.Stock().SetQty(WidgetID, decimal.NewFromInt(widgetStock))

	registry := memstore.Registry()
	h := &Harness{Store: store, Registry: registry, Audit: &Audit{}, Metrics: &Metrics{}}
	h.Builder = posting.NewBuilder(store.Accounts(), registry, posting.Options{
		ForeignCostCurrency:     "USD",
		OpeningBalanceAccountID: AccOpening,
	})
	h.Inventory = inventory.NewService(store.Stock(), store, nil)
	h.Coordinator = integration.NewCoordinator(integration.Deps{
		Tx:       store,
		Bookings: store.Bookings(),
		Stock:    h.Inventory,
		Entries:  store.Entries(),
		Receipts: store.Receivables(),
		Audit:    h.Audit,
		Metrics:  h.Metrics,
	})
	return h
}

// Widget is the seeded product definition.
func Widget() products.Product {
	return products.Product{
		ID: WidgetID, Code: "WID", Name: "Widget",
		SalePrice: decimal.NewFromInt(5), Cost: decimal.NewFromInt(3), CostCurrency: "IDR",
		AssetAccountID: AccAsset, IncomeAccountID: AccIncome, COGSAccountID: AccCOGS,
		AdjustmentAccountID: AccAdjustment, IsActive: true,
	}
}

// Stock returns the widget's or another product's stock level.
func (h *Harness) Stock(productID int64) decimal.Decimal {
	return h.Store.Stock().Qty(productID)
}

// Dec parses a decimal literal.
func Dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }
