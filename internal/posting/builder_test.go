package posting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/bookings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	accReceivable int64 = iota + 1
	accAsset
	accIncome
	accCOGS
	accCommission
	accDiscount
	accAdjustment
	accCash
	accBankUSD
	accOpening
	accPayable
)

type mapDirectory map[int64]accounts.Account

func (d mapDirectory) Resolve(_ context.Context, id int64) (accounts.Account, error) {
	acc, ok := d[id]
	if !ok {
		return accounts.Account{}, shared.NotFound("account", id)
	}
	return acc, nil
}

func directory() mapDirectory {
	idr := func(id int64, name string) accounts.Account {
		return accounts.Account{ID: id, Name: name, Currency: "IDR", IsActive: true}
	}
	return mapDirectory{
		accReceivable: idr(accReceivable, "Receivable"),
		accAsset:      idr(accAsset, "Inventory"),
		accIncome:     idr(accIncome, "Sales"),
		accCOGS:       idr(accCOGS, "COGS"),
		accCommission: idr(accCommission, "Commission"),
		accDiscount:   idr(accDiscount, "Discount"),
		accAdjustment: idr(accAdjustment, "Stock Adjustment"),
		accCash:       idr(accCash, "Cash"),
		accBankUSD:    {ID: accBankUSD, Name: "Bank USD", Currency: "USD", IsActive: true},
		accOpening:    idr(accOpening, "Opening Balance"),
		accPayable:    idr(accPayable, "Payable"),
	}
}

func registry(t *testing.T) *sources.Registry {
	t.Helper()
	var rows []sources.Source
	for i, kind := range sources.Kinds() {
		rows = append(rows, sources.Source{ID: int64(i + 1), Code: kind, Name: string(kind)})
	}
	reg, err := sources.NewRegistry(rows)
	require.NoError(t, err)
	return reg
}

func newBuilder(t *testing.T, dir mapDirectory) *Builder {
	return NewBuilder(dir, registry(t), Options{ForeignCostCurrency: "USD", OpeningBalanceAccountID: accOpening})
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func widget() products.Product {
	return products.Product{
		ID:                  10,
		Name:                "Widget",
		SalePrice:           dec("5"),
		Cost:                dec("3"),
		CostCurrency:        "IDR",
		AssetAccountID:      accAsset,
		IncomeAccountID:     accIncome,
		COGSAccountID:       accCOGS,
		AdjustmentAccountID: accAdjustment,
	}
}

var day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

var salesperson = ledger.PartnerRef{Type: ledger.PartnerSalesperson, ID: 7}

func lineFor(d *bookings.Draft, accountID int64) bookings.LineInput {
	for _, l := range d.Lines {
		if l.AccountID == accountID {
			return l
		}
	}
	return bookings.LineInput{}
}

func requireBalanced(t *testing.T, plan Plan) {
	t.Helper()
	require.NotNil(t, plan.Booking)
	debit, credit := plan.Totals()
	require.True(t, shared.WithinEpsilon(debit, credit), "debit %s credit %s", debit, credit)
}

func TestSaleOrderPlainLine(t *testing.T) {
	b := newBuilder(t, directory())
	plan, err := b.SaleOrder(context.Background(), SaleOrder{
		ID: 1, Reference: "SO-1", Date: day, Salesperson: salesperson, ReceivableAccountID: accReceivable,
		Rate:  dec("1"),
		Lines: []Line{{LineID: 1, Product: widget(), Qty: dec("10"), Price: dec("5")}},
	})
	require.NoError(t, err)
	requireBalanced(t, plan)

	require.Len(t, plan.Booking.Lines, 4)
	require.True(t, lineFor(plan.Booking, accCOGS).Debit.Equal(dec("30")))
	require.True(t, lineFor(plan.Booking, accAsset).Credit.Equal(dec("30")))
	require.True(t, lineFor(plan.Booking, accReceivable).Debit.Equal(dec("50")))
	require.True(t, lineFor(plan.Booking, accIncome).Credit.Equal(dec("50")))
	require.Equal(t, int64(1), plan.Booking.SourceID)

	require.NotNil(t, plan.Receipt)
	require.Equal(t, ReceiptIssue, plan.Receipt.Mode)
	require.True(t, plan.Receipt.Amount.Equal(dec("50")))
	require.Equal(t, sources.NewRef(sources.KindSalesOrder, 1), plan.Receipt.Target)

	require.Len(t, plan.Stock, 1)
	require.True(t, plan.Stock[0].Qty.Equal(dec("-10")))
	require.Len(t, plan.Movements, 1)
	require.Equal(t, inventory.DirectionOut, plan.Movements[0].Direction)
	require.True(t, ledger.Balance(plan.Entries).Equal(dec("50")))
}

func TestSaleOrderCommissionAndDiscount(t *testing.T) {
	p := widget()
	p.Commissionable = true
	p.CommissionRate = dec("0.05")
	p.CommissionAccountID = accCommission
	p.QuantityDiscount = true
	p.DiscountRate = dec("10")
	p.DiscountAccountID = accDiscount

	b := newBuilder(t, directory())
	plan, err := b.SaleOrder(context.Background(), SaleOrder{
		ID: 2, Reference: "SO-2", Date: day, Salesperson: salesperson, ReceivableAccountID: accReceivable,
		Lines: []Line{{Product: p, Qty: dec("10"), Price: dec("10")}},
	})
	require.NoError(t, err)
	requireBalanced(t, plan)

	require.True(t, lineFor(plan.Booking, accIncome).Credit.Equal(dec("100")))
	require.True(t, lineFor(plan.Booking, accReceivable).Debit.Equal(dec("85.5")))
	require.True(t, lineFor(plan.Booking, accCommission).Debit.Equal(dec("4.5")))
	require.True(t, lineFor(plan.Booking, accDiscount).Debit.Equal(dec("10")))
	require.True(t, plan.Receipt.Amount.Equal(dec("85.5")))
	require.True(t, ledger.Balance(plan.Entries).Equal(dec("85.5")))
}

func TestSaleReturnSwapsRolesAndReducesReceipt(t *testing.T) {
	b := newBuilder(t, directory())
	order := sources.NewRef(sources.KindSalesOrder, 1)
	plan, err := b.SaleReturn(context.Background(), SaleReturn{
		ID: 3, Reference: "SR-1", Date: day, Order: order, Salesperson: salesperson,
		ReceivableAccountID: accReceivable,
		Lines:               []Line{{Product: widget(), Qty: dec("4"), Price: dec("5")}},
	})
	require.NoError(t, err)
	requireBalanced(t, plan)

	require.True(t, lineFor(plan.Booking, accAsset).Debit.Equal(dec("12")))
	require.True(t, lineFor(plan.Booking, accCOGS).Credit.Equal(dec("12")))
	require.True(t, lineFor(plan.Booking, accIncome).Debit.Equal(dec("20")))
	require.True(t, lineFor(plan.Booking, accReceivable).Credit.Equal(dec("20")))

	require.Equal(t, ReceiptAdjust, plan.Receipt.Mode)
	require.Equal(t, order, plan.Receipt.Target)
	require.True(t, plan.Receipt.Amount.Equal(dec("-20")))
	require.True(t, plan.Stock[0].Qty.Equal(dec("4")))
	require.True(t, ledger.Balance(plan.Entries).Equal(dec("-20")))
}

func TestSaleReturnPrefersRecordedAmounts(t *testing.T) {
	b := newBuilder(t, directory())
	p := widget()
	p.CommissionAccountID = accCommission
	order := sources.NewRef(sources.KindSalesOrder, 1)
	doc := SaleReturn{
		ID: 3, Reference: "SR-1", Date: day, Order: order, Salesperson: salesperson,
		ReceivableAccountID: accReceivable,
		Lines: []Line{{Product: p, Qty: dec("4"), Price: dec("5"), Amounts: &LineAmounts{
			Commission: dec("2"), Subtotal: dec("18"), Cost: dec("12"),
		}}},
	}
	plan, err := b.SaleReturn(context.Background(), doc)
	require.NoError(t, err)
	requireBalanced(t, plan)
	require.True(t, lineFor(plan.Booking, accIncome).Debit.Equal(dec("20")))
	require.True(t, lineFor(plan.Booking, accCommission).Credit.Equal(dec("2")))
	require.True(t, lineFor(plan.Booking, accReceivable).Credit.Equal(dec("18")))
	require.True(t, plan.Receipt.Amount.Equal(dec("-18")))

	doc.Lines[0].Amounts = &LineAmounts{Gross: dec("25"), Commission: dec("2"), Subtotal: dec("18"), Cost: dec("12")}
	_, err = b.SaleReturn(context.Background(), doc)
	require.ErrorIs(t, err, shared.ErrBalanceIntegrity)
}

func TestAdjustmentPrefersRecordedAmount(t *testing.T) {
	b := newBuilder(t, directory())
	recorded := dec("7.5")
	plan, err := b.Adjustment(context.Background(), Adjustment{
		Source: sources.NewRef(sources.KindStockAdjustment, 4), Reference: "ADJ-1", Date: day,
		Lines: []AdjustmentLine{{Product: widget(), Qty: dec("2"), Amount: &recorded}},
	})
	require.NoError(t, err)
	requireBalanced(t, plan)
	require.True(t, lineFor(plan.Booking, accAdjustment).Debit.Equal(recorded))
	require.True(t, plan.Amount.Equal(recorded))
}

func TestSaleOrderCurrencyMismatchNamesProduct(t *testing.T) {
	dir := directory()
	usd := dir[accIncome]
	usd.Currency = "USD"
	dir[accIncome] = usd

	_, err := newBuilder(t, dir).SaleOrder(context.Background(), SaleOrder{
		ID: 1, Reference: "SO-1", Date: day, ReceivableAccountID: accReceivable,
		Lines: []Line{{Product: widget(), Qty: dec("1"), Price: dec("5")}},
	})
	require.ErrorIs(t, err, shared.ErrCurrencyMismatch)
	require.Contains(t, err.Error(), "Widget")
	require.Contains(t, err.Error(), "IDR")
	require.Contains(t, err.Error(), "USD")
}

func TestSaleOrderMissingCOGSAccount(t *testing.T) {
	p := widget()
	p.COGSAccountID = 0
	_, err := newBuilder(t, directory()).SaleOrder(context.Background(), SaleOrder{
		ID: 1, Reference: "SO-1", Date: day, ReceivableAccountID: accReceivable,
		Lines: []Line{{Product: p, Qty: dec("1"), Price: dec("5")}},
	})
	require.ErrorIs(t, err, shared.ErrConfiguration)
	require.Contains(t, err.Error(), "COGS")
}

func TestSaleOrderRejectsEmptyAndNonPositiveLines(t *testing.T) {
	b := newBuilder(t, directory())
	_, err := b.SaleOrder(context.Background(), SaleOrder{ID: 1, Date: day, ReceivableAccountID: accReceivable})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = b.SaleOrder(context.Background(), SaleOrder{
		ID: 1, Date: day, ReceivableAccountID: accReceivable,
		Lines: []Line{{Product: widget(), Qty: dec("0"), Price: dec("5")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestForeignCostNeedsRate(t *testing.T) {
	p := widget()
	p.Cost = dec("2")
	p.CostCurrency = "USD"
	b := newBuilder(t, directory())
	doc := SaleOrder{
		ID: 1, Reference: "SO-1", Date: day, ReceivableAccountID: accReceivable,
		Lines: []Line{{Product: p, Qty: dec("1"), Price: dec("50000")}},
	}
	_, err := b.SaleOrder(context.Background(), doc)
	require.ErrorIs(t, err, shared.ErrValidation)

	doc.Rate = dec("15000")
	plan, err := b.SaleOrder(context.Background(), doc)
	require.NoError(t, err)
	require.True(t, lineFor(plan.Booking, accCOGS).Debit.Equal(dec("30000")))
}

func TestBookingsAlwaysBalance(t *testing.T) {
	b := newBuilder(t, directory())
	p := widget()
	p.Commissionable = true
	p.CommissionAccountID = accCommission
	p.QuantityDiscount = true
	p.DiscountAccountID = accDiscount
	for _, qty := range []string{"1", "3", "7.5", "13"} {
		for _, price := range []string{"0.99", "3.33", "17"} {
			for _, rates := range [][2]string{{"0.07", "3"}, {"0.125", "12.5"}, {"0.3333", "33.3333"}} {
				p.CommissionRate = dec(rates[0])
				p.DiscountRate = dec(rates[1])
				plan, err := b.SaleOrder(context.Background(), SaleOrder{
					ID: 1, Reference: "SO", Date: day, ReceivableAccountID: accReceivable,
					Lines: []Line{{Product: p, Qty: dec(qty), Price: dec(price)}, {Product: widget(), Qty: dec(qty), Price: dec(price)}},
				})
				require.NoError(t, err)
				requireBalanced(t, plan)

				ret, err := b.SaleReturn(context.Background(), SaleReturn{
					ID: 1, Reference: "SR", Date: day, Order: sources.NewRef(sources.KindSalesOrder, 1),
					ReceivableAccountID: accReceivable,
					Lines:               []Line{{Product: p, Qty: dec(qty), Price: dec(price)}},
				})
				require.NoError(t, err)
				requireBalanced(t, ret)
			}
		}
	}
}

func TestCustomerSaleCashIssuesNoReceipt(t *testing.T) {
	b := newBuilder(t, directory())
	customer := ledger.PartnerRef{Type: ledger.PartnerCustomer, ID: 3}
	plan, err := b.CustomerSale(context.Background(), CustomerSale{
		ID: 5, Reference: "CS-1", Date: day, Customer: customer, Method: PaymentCash,
		SettlementAccountID: accCash, Rate: dec("1"),
		Lines: []Line{{Product: widget(), Qty: dec("2"), Price: dec("8")}},
	})
	require.NoError(t, err)
	requireBalanced(t, plan)
	require.Nil(t, plan.Receipt)
	require.True(t, lineFor(plan.Booking, accCash).Debit.Equal(dec("16")))
	require.True(t, ledger.Balance(plan.Entries).IsZero())

	plan, err = b.CustomerSale(context.Background(), CustomerSale{
		ID: 6, Reference: "CS-2", Date: day, Customer: customer, Method: PaymentAR,
		SettlementAccountID: accReceivable, Rate: dec("1"),
		Lines: []Line{{Product: widget(), Qty: dec("2"), Price: dec("8")}},
	})
	require.NoError(t, err)
	require.Equal(t, ReceiptIssue, plan.Receipt.Mode)
	require.True(t, plan.Receipt.Amount.Equal(dec("16")))
}

func TestCustomerSaleReturnReversesCOGSAtCost(t *testing.T) {
	b := newBuilder(t, directory())
	plan, err := b.CustomerSaleReturn(context.Background(), CustomerSaleReturn{
		ID: 8, Reference: "CR-1", Date: day, Order: sources.NewRef(sources.KindCustomerSale, 6),
		Customer: ledger.PartnerRef{Type: ledger.PartnerCustomer, ID: 3}, Method: PaymentAR,
		SettlementAccountID: accReceivable, Rate: dec("1"),
		Lines: []Line{{Product: widget(), Qty: dec("1"), Price: dec("8")}},
	})
	require.NoError(t, err)
	requireBalanced(t, plan)
	require.True(t, lineFor(plan.Booking, accCOGS).Credit.Equal(dec("3")))
	require.True(t, lineFor(plan.Booking, accReceivable).Credit.Equal(dec("8")))
	require.True(t, plan.Receipt.Amount.Equal(dec("-8")))
}

func TestAdjustmentPostsCostToAdjustmentAccount(t *testing.T) {
	b := newBuilder(t, directory())
	plan, err := b.Adjustment(context.Background(), Adjustment{
		Source: sources.NewRef(sources.KindStockAdjustment, 4), Reference: "ADJ-1", Date: day,
		Lines: []AdjustmentLine{{Product: widget(), Qty: dec("2")}},
	})
	require.NoError(t, err)
	requireBalanced(t, plan)
	require.True(t, lineFor(plan.Booking, accAdjustment).Debit.Equal(dec("6")))
	require.True(t, plan.Stock[0].Qty.Equal(dec("-2")))
	require.Nil(t, plan.Receipt)

	p := widget()
	p.AdjustmentAccountID = 0
	_, err = b.Adjustment(context.Background(), Adjustment{
		Source: sources.NewRef(sources.KindStockAdjustment, 4), Reference: "ADJ-1", Date: day,
		Lines: []AdjustmentLine{{Product: p, Qty: dec("2")}},
	})
	require.ErrorIs(t, err, shared.ErrConfiguration)
}

func TestAdjustmentRejectsMixedCurrencies(t *testing.T) {
	b := newBuilder(t, directory())
	gadget := widget()
	gadget.ID = 11
	gadget.Name = "Gadget"
	gadget.AssetAccountID = accBankUSD
	gadget.AdjustmentAccountID = accBankUSD

	_, err := b.Adjustment(context.Background(), Adjustment{
		Source: sources.NewRef(sources.KindStockAdjustment, 5), Reference: "ADJ-2", Date: day,
		Lines: []AdjustmentLine{{Product: widget(), Qty: dec("1")}, {Product: gadget, Qty: dec("1")}},
	})
	require.ErrorIs(t, err, shared.ErrCurrencyMismatch)
	require.Contains(t, err.Error(), "Gadget")
}

func TestPaymentChecksEverySplitCurrency(t *testing.T) {
	b := newBuilder(t, directory())
	doc := Payment{
		Source: sources.NewRef(sources.KindReceipt, 9), Reference: "PAY-1", Date: day,
		Receipt: sources.NewRef(sources.KindSalesOrder, 1), Partner: salesperson,
		ReceivableAccountID: accReceivable,
		Splits:              []ar.Split{{AccountID: accCash, Amount: dec("30")}, {AccountID: accBankUSD, Amount: dec("20")}},
	}
	_, err := b.Payment(context.Background(), doc)
	require.True(t, errors.Is(err, shared.ErrCurrencyMismatch))

	doc.Splits = []ar.Split{{AccountID: accCash, Amount: dec("30")}, {AccountID: accCash, Amount: dec("20")}}
	plan, err := b.Payment(context.Background(), doc)
	require.NoError(t, err)
	requireBalanced(t, plan)
	require.Len(t, plan.Booking.Lines, 3)
	require.Equal(t, ReceiptPay, plan.Receipt.Mode)
	require.True(t, plan.Receipt.Amount.Equal(dec("50")))
}

func TestVendorOpening(t *testing.T) {
	b := newBuilder(t, directory())
	plan, err := b.VendorOpening(context.Background(), VendorOpening{
		VendorID: 4, Reference: "V-4", Date: day, PayableAccountID: accPayable, Amount: dec("250"),
	})
	require.NoError(t, err)
	requireBalanced(t, plan)
	require.True(t, lineFor(plan.Booking, accPayable).Debit.Equal(dec("250")))
	require.True(t, lineFor(plan.Booking, accOpening).Credit.Equal(dec("250")))
	require.Len(t, plan.Entries, 1)
	require.Equal(t, ledger.PartnerVendor, plan.Entries[0].PartnerType)

	noOpening := NewBuilder(directory(), registry(t), Options{ForeignCostCurrency: "USD"})
	_, err = noOpening.VendorOpening(context.Background(), VendorOpening{VendorID: 4, Date: day, PayableAccountID: accPayable, Amount: dec("1")})
	require.ErrorIs(t, err, shared.ErrConfiguration)
}

func TestStockChange(t *testing.T) {
	prev := Plan{Stock: []inventory.Delta{{ProductID: 1, Qty: dec("-10")}, {ProductID: 2, Qty: dec("-1")}}}
	next := Plan{Stock: []inventory.Delta{{ProductID: 1, Qty: dec("-6")}, {ProductID: 2, Qty: dec("-1")}}}
	change := StockChange(prev, next)
	require.Len(t, change, 1)
	require.Equal(t, int64(1), change[0].ProductID)
	require.True(t, change[0].Qty.Equal(dec("4")))
}
