package posting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Options tune the Builder.
type Options struct {
	// ForeignCostCurrency marks product costs that are converted by the document rate.
	ForeignCostCurrency string
	// OpeningBalanceAccountID is credited by vendor opening balances.
	OpeningBalanceAccountID int64
}

// Builder produces posting plans. It validates every referenced account against the
// document's expected currency before any line is emitted and performs no writes.
type Builder struct {
	accounts accounts.Directory
	registry *sources.Registry
	opts     Options
}

// NewBuilder constructs a Builder.
func NewBuilder(directory accounts.Directory, registry *sources.Registry, opts Options) *Builder {
	return &Builder{accounts: directory, registry: registry, opts: opts}
}

func (b *Builder) begin(ref sources.Ref, reference string, date time.Time, partner ledger.PartnerRef, rate decimal.Decimal) (*Context, error) {
	if date.IsZero() {
		return nil, shared.Validation("%s date is required", ref.Kind)
	}
	src, err := b.registry.Lookup(ref.Kind)
	if err != nil {
		return nil, err
	}
	return &Context{
		Source:    ref,
		SourceID:  src.ID,
		Reference: reference,
		Date:      date,
		Rate:      rate,
		Partner:   partner,
	}, nil
}

// rate returns the effective conversion rate. A missing rate is only an error when a line
// carries a foreign cost.
func (b *Builder) rate(rate decimal.Decimal, items []products.Product) (decimal.Decimal, error) {
	if rate.IsPositive() {
		return rate, nil
	}
	if rate.IsNegative() {
		return decimal.Zero, shared.Validation("exchange rate must not be negative")
	}
	for _, p := range items {
		if NeedsRate(p, b.opts.ForeignCostCurrency) {
			return decimal.Zero, shared.Validation("exchange rate must be greater than zero for %s costed in %s", p.Name, p.CostCurrency)
		}
	}
	return decimal.NewFromInt(1), nil
}

type accountCheck struct {
	ctx      context.Context
	dir      accounts.Directory
	currency string
}

// settle resolves the account whose currency every other account must share.
func (b *Builder) settle(ctx context.Context, accountID int64, role string) (*accountCheck, error) {
	acc, err := b.resolve(ctx, accountID, role, role)
	if err != nil {
		return nil, err
	}
	return &accountCheck{ctx: ctx, dir: b.accounts, currency: acc.Currency}, nil
}

func (b *Builder) resolve(ctx context.Context, accountID int64, role, subject string) (accounts.Account, error) {
	if accountID == 0 {
		return accounts.Account{}, shared.Configuration("%s has no %s account", subject, role).WithDetail("role", role)
	}
	acc, err := b.accounts.Resolve(ctx, accountID)
	if shared.IsNotFound(err) {
		return accounts.Account{}, shared.Configuration("%s account %d for %s does not exist", role, accountID, subject).
			WithDetail("role", role).WithDetail("account_id", accountID)
	}
	if err != nil {
		return accounts.Account{}, fmt.Errorf("posting: resolve account %d: %w", accountID, err)
	}
	return acc, nil
}

func (c *accountCheck) require(accountID int64, role, subject string) error {
	if accountID == 0 {
		return shared.Configuration("%s has no %s account", subject, role).WithDetail("role", role)
	}
	acc, err := c.dir.Resolve(c.ctx, accountID)
	if shared.IsNotFound(err) {
		return shared.Configuration("%s account %d for %s does not exist", role, accountID, subject).
			WithDetail("role", role).WithDetail("account_id", accountID)
	}
	if err != nil {
		return fmt.Errorf("posting: resolve account %d: %w", accountID, err)
	}
	if acc.Currency != c.currency {
		return shared.CurrencyMismatch(subject, c.currency, acc.Currency).WithDetail("account", acc.Label())
	}
	return nil
}

// product checks the accounts a sale line posts to.
func (c *accountCheck) product(p products.Product, amounts LineAmounts) error {
	if err := c.require(p.AssetAccountID, "asset", p.Name); err != nil {
		return err
	}
	if err := c.require(p.IncomeAccountID, "income", p.Name); err != nil {
		return err
	}
	if err := c.require(p.COGSAccountID, "COGS", p.Name); err != nil {
		return err
	}
	if amounts.Commission.IsPositive() {
		if err := c.require(p.CommissionAccountID, "commission", p.Name); err != nil {
			return err
		}
	}
	if amounts.Discount.IsPositive() {
		if err := c.require(p.DiscountAccountID, "discount", p.Name); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) saleAmounts(line Line, rate decimal.Decimal) (LineAmounts, error) {
	if line.Amounts != nil {
		return recorded(line)
	}
	return SaleLineAmounts(line.Product, line.Qty, line.Price, rate, b.opts.ForeignCostCurrency)
}

func (b *Builder) plainAmounts(line Line, rate decimal.Decimal) (LineAmounts, error) {
	if line.Amounts != nil {
		return recorded(line)
	}
	return PlainLineAmounts(line.Product, line.Qty, line.Price, rate, b.opts.ForeignCostCurrency)
}

// recorded checks a stored line's amounts. Gross must equal subtotal plus discount and
// commission or the booking cannot balance.
func recorded(line Line) (LineAmounts, error) {
	a := *line.Amounts
	if !line.Qty.IsPositive() {
		return LineAmounts{}, shared.Validation("quantity for %s must be greater than zero", line.Product.Name)
	}
	if a.Gross.IsZero() {
		a.Gross = a.Subtotal.Add(a.Discount).Add(a.Commission)
	}
	if !a.Gross.Equal(a.Subtotal.Add(a.Discount).Add(a.Commission)) {
		return LineAmounts{}, shared.BalanceIntegrity("recorded amounts for %s do not add up: gross %s, subtotal %s, discount %s, commission %s",
			line.Product.Name, a.Gross.StringFixed(2), a.Subtotal.StringFixed(2), a.Discount.StringFixed(2), a.Commission.StringFixed(2))
	}
	return a, nil
}

func productsOf(lines []Line) []products.Product {
	out := make([]products.Product, len(lines))
	for i, l := range lines {
		out[i] = l.Product
	}
	return out
}

func productID(p products.Product) *int64 {
	id := p.ID
	return &id
}

// SaleOrder posts a salesperson order: COGS against stock, receivable against income with
// commission and discount added back, stock out, and one receipt for the order total.
func (b *Builder) SaleOrder(ctx context.Context, doc SaleOrder) (Plan, error) {
	ref := sources.NewRef(sources.KindSalesOrder, doc.ID)
	if len(doc.Lines) == 0 {
		return Plan{}, shared.Validation("sale order %s has no lines", doc.Reference)
	}
	rate, err := b.rate(doc.Rate, productsOf(doc.Lines))
	if err != nil {
		return Plan{}, err
	}
	check, err := b.settle(ctx, doc.ReceivableAccountID, "receivable")
	if err != nil {
		return Plan{}, err
	}
	pc, err := b.begin(ref, doc.Reference, doc.Date, doc.Salesperson, rate)
	if err != nil {
		return Plan{}, err
	}
	pc.Currency = check.currency

	total := decimal.Zero
	for _, line := range doc.Lines {
		p := line.Product
		amounts, err := b.saleAmounts(line, rate)
		if err != nil {
			return Plan{}, err
		}
		if err := check.product(p, amounts); err != nil {
			return Plan{}, err
		}
		pid := productID(p)
		pc.Debit(p.COGSAccountID, amounts.Cost, pid, "COGS "+p.Name)
		pc.Credit(p.AssetAccountID, amounts.Cost, pid, "Stock out "+p.Name)
		pc.Debit(doc.ReceivableAccountID, amounts.Subtotal, pid, "Receivable "+p.Name)
		pc.Credit(p.IncomeAccountID, amounts.Gross, pid, "Sale "+p.Name)
		pc.Debit(p.CommissionAccountID, amounts.Commission, pid, "Commission "+p.Name)
		pc.Debit(p.DiscountAccountID, amounts.Discount, pid, "Discount "+p.Name)
		pc.Move(p.ID, p.Name, inventory.DirectionOut, line.Qty, doc.Reference)
		pc.Entry(ledger.DirectionOut, amounts.Gross, pid, "Sale "+p.Name)
		pc.Entry(ledger.DirectionIn, amounts.Commission, pid, "Commission "+p.Name)
		pc.Entry(ledger.DirectionIn, amounts.Discount, pid, "Discount "+p.Name)
		total = total.Add(amounts.Subtotal)
	}
	return pc.Plan(total, &ReceiptEffect{
		Mode:                ReceiptIssue,
		Target:              ref,
		Partner:             doc.Salesperson,
		ReceivableAccountID: doc.ReceivableAccountID,
		Reference:           doc.Reference,
		Date:                doc.Date,
		Amount:              shared.Round2(total),
	})
}

// SaleReturn posts the swapped shape of SaleOrder for the returned quantities and reduces
// the order's receipt by the returned net subtotal.
func (b *Builder) SaleReturn(ctx context.Context, doc SaleReturn) (Plan, error) {
	ref := sources.NewRef(sources.KindSalesReturn, doc.ID)
	if len(doc.Lines) == 0 {
		return Plan{}, shared.Validation("sale return %s has no lines", doc.Reference)
	}
	if doc.Order.IsZero() {
		return Plan{}, shared.Validation("sale return %s has no order", doc.Reference)
	}
	rate, err := b.rate(doc.Rate, productsOf(doc.Lines))
	if err != nil {
		return Plan{}, err
	}
	check, err := b.settle(ctx, doc.ReceivableAccountID, "receivable")
	if err != nil {
		return Plan{}, err
	}
	pc, err := b.begin(ref, doc.Reference, doc.Date, doc.Salesperson, rate)
	if err != nil {
		return Plan{}, err
	}
	pc.Currency = check.currency

	total := decimal.Zero
	for _, line := range doc.Lines {
		p := line.Product
		amounts, err := b.saleAmounts(line, rate)
		if err != nil {
			return Plan{}, err
		}
		if err := check.product(p, amounts); err != nil {
			return Plan{}, err
		}
		pid := productID(p)
		pc.Debit(p.AssetAccountID, amounts.Cost, pid, "Stock return "+p.Name)
		pc.Credit(p.COGSAccountID, amounts.Cost, pid, "COGS reversal "+p.Name)
		pc.Debit(p.IncomeAccountID, amounts.Gross, pid, "Return "+p.Name)
		pc.Credit(doc.ReceivableAccountID, amounts.Subtotal, pid, "Receivable "+p.Name)
		pc.Credit(p.CommissionAccountID, amounts.Commission, pid, "Commission reversal "+p.Name)
		pc.Credit(p.DiscountAccountID, amounts.Discount, pid, "Discount reversal "+p.Name)
		pc.Move(p.ID, p.Name, inventory.DirectionIn, line.Qty, doc.Reference)
		pc.Entry(ledger.DirectionIn, amounts.Gross, pid, "Return "+p.Name)
		pc.Entry(ledger.DirectionOut, amounts.Commission, pid, "Commission reversal "+p.Name)
		pc.Entry(ledger.DirectionOut, amounts.Discount, pid, "Discount reversal "+p.Name)
		total = total.Add(amounts.Subtotal)
	}
	return pc.Plan(total, &ReceiptEffect{
		Mode:                ReceiptAdjust,
		Target:              doc.Order,
		Partner:             doc.Salesperson,
		ReceivableAccountID: doc.ReceivableAccountID,
		Reference:           doc.Reference,
		Date:                doc.Date,
		Amount:              shared.Round2(total).Neg(),
	})
}

// CustomerSale posts a customer order. Orders on account issue a receipt; cash orders are
// settled on the spot.
func (b *Builder) CustomerSale(ctx context.Context, doc CustomerSale) (Plan, error) {
	ref := sources.NewRef(sources.KindCustomerSale, doc.ID)
	if !doc.Method.Valid() {
		return Plan{}, shared.Validation("unknown payment method %q", doc.Method)
	}
	if len(doc.Lines) == 0 {
		return Plan{}, shared.Validation("customer order %s has no lines", doc.Reference)
	}
	rate, err := b.rate(doc.Rate, productsOf(doc.Lines))
	if err != nil {
		return Plan{}, err
	}
	check, err := b.settle(ctx, doc.SettlementAccountID, string(doc.Method))
	if err != nil {
		return Plan{}, err
	}
	pc, err := b.begin(ref, doc.Reference, doc.Date, doc.Customer, rate)
	if err != nil {
		return Plan{}, err
	}
	pc.Currency = check.currency

	total := decimal.Zero
	for _, line := range doc.Lines {
		p := line.Product
		amounts, err := b.plainAmounts(line, rate)
		if err != nil {
			return Plan{}, err
		}
		if err := check.product(p, amounts); err != nil {
			return Plan{}, err
		}
		pid := productID(p)
		pc.Debit(p.COGSAccountID, amounts.Cost, pid, "COGS "+p.Name)
		pc.Credit(p.AssetAccountID, amounts.Cost, pid, "Stock out "+p.Name)
		pc.Debit(doc.SettlementAccountID, amounts.Subtotal, pid, "Sale "+p.Name)
		pc.Credit(p.IncomeAccountID, amounts.Subtotal, pid, "Sale "+p.Name)
		pc.Move(p.ID, p.Name, inventory.DirectionOut, line.Qty, doc.Reference)
		pc.Entry(ledger.DirectionOut, amounts.Subtotal, pid, "Sale "+p.Name)
		if doc.Method == PaymentCash {
			pc.Entry(ledger.DirectionIn, amounts.Subtotal, pid, "Cash "+p.Name)
		}
		total = total.Add(amounts.Subtotal)
	}
	var receipt *ReceiptEffect
	if doc.Method == PaymentAR {
		receipt = &ReceiptEffect{
			Mode:                ReceiptIssue,
			Target:              ref,
			Partner:             doc.Customer,
			ReceivableAccountID: doc.SettlementAccountID,
			Reference:           doc.Reference,
			Date:                doc.Date,
			Amount:              shared.Round2(total),
		}
	}
	return pc.Plan(total, receipt)
}

// CustomerSaleReturn reverses a customer order for the returned quantities, COGS at cost and
// settlement at price.
func (b *Builder) CustomerSaleReturn(ctx context.Context, doc CustomerSaleReturn) (Plan, error) {
	ref := sources.NewRef(sources.KindCustomerSaleReturn, doc.ID)
	if !doc.Method.Valid() {
		return Plan{}, shared.Validation("unknown payment method %q", doc.Method)
	}
	if len(doc.Lines) == 0 {
		return Plan{}, shared.Validation("customer return %s has no lines", doc.Reference)
	}
	if doc.Order.IsZero() {
		return Plan{}, shared.Validation("customer return %s has no order", doc.Reference)
	}
	rate, err := b.rate(doc.Rate, productsOf(doc.Lines))
	if err != nil {
		return Plan{}, err
	}
	check, err := b.settle(ctx, doc.SettlementAccountID, string(doc.Method))
	if err != nil {
		return Plan{}, err
	}
	pc, err := b.begin(ref, doc.Reference, doc.Date, doc.Customer, rate)
	if err != nil {
		return Plan{}, err
	}
	pc.Currency = check.currency

	total := decimal.Zero
	for _, line := range doc.Lines {
		p := line.Product
		amounts, err := b.plainAmounts(line, rate)
		if err != nil {
			return Plan{}, err
		}
		if err := check.product(p, amounts); err != nil {
			return Plan{}, err
		}
		pid := productID(p)
		pc.Debit(p.AssetAccountID, amounts.Cost, pid, "Stock return "+p.Name)
		pc.Credit(p.COGSAccountID, amounts.Cost, pid, "COGS reversal "+p.Name)
		pc.Debit(p.IncomeAccountID, amounts.Subtotal, pid, "Return "+p.Name)
		pc.Credit(doc.SettlementAccountID, amounts.Subtotal, pid, "Refund "+p.Name)
		pc.Move(p.ID, p.Name, inventory.DirectionIn, line.Qty, doc.Reference)
		pc.Entry(ledger.DirectionIn, amounts.Subtotal, pid, "Return "+p.Name)
		if doc.Method == PaymentCash {
			pc.Entry(ledger.DirectionOut, amounts.Subtotal, pid, "Refund "+p.Name)
		}
		total = total.Add(amounts.Subtotal)
	}
	var receipt *ReceiptEffect
	if doc.Method == PaymentAR {
		receipt = &ReceiptEffect{
			Mode:                ReceiptAdjust,
			Target:              doc.Order,
			Partner:             doc.Customer,
			ReceivableAccountID: doc.SettlementAccountID,
			Reference:           doc.Reference,
			Date:                doc.Date,
			Amount:              shared.Round2(total).Neg(),
		}
	}
	return pc.Plan(total, receipt)
}

// Adjustment writes stock off at cost to each product's adjustment account.
func (b *Builder) Adjustment(ctx context.Context, doc Adjustment) (Plan, error) {
	if doc.Source.Kind != sources.KindStockAdjustment && doc.Source.Kind != sources.KindProductAdjustment {
		return Plan{}, shared.Validation("%s is not an adjustment source", doc.Source.Kind)
	}
	if len(doc.Lines) == 0 {
		return Plan{}, shared.Validation("adjustment %s has no lines", doc.Reference)
	}
	items := make([]products.Product, len(doc.Lines))
	for i, l := range doc.Lines {
		items[i] = l.Product
	}
	rate, err := b.rate(doc.Rate, items)
	if err != nil {
		return Plan{}, err
	}
	pc, err := b.begin(doc.Source, doc.Reference, doc.Date, ledger.PartnerRef{}, rate)
	if err != nil {
		return Plan{}, err
	}

	// The first asset account fixes the booking currency for every line.
	check, err := b.settle(ctx, doc.Lines[0].Product.AssetAccountID, "asset")
	if err != nil {
		return Plan{}, err
	}
	pc.Currency = check.currency

	total := decimal.Zero
	for _, line := range doc.Lines {
		p := line.Product
		if !line.Qty.IsPositive() {
			return Plan{}, shared.Validation("adjustment quantity for %s must be greater than zero", p.Name)
		}
		if err := check.require(p.AssetAccountID, "asset", p.Name); err != nil {
			return Plan{}, err
		}
		if err := check.require(p.AdjustmentAccountID, "adjustment", p.Name); err != nil {
			return Plan{}, err
		}
		amount := CostAmount(p, line.Qty, rate, b.opts.ForeignCostCurrency)
		if line.Amount != nil {
			amount = *line.Amount
		}
		pid := productID(p)
		pc.Debit(p.AdjustmentAccountID, amount, pid, "Adjustment "+p.Name)
		pc.Credit(p.AssetAccountID, amount, pid, "Stock out "+p.Name)
		pc.Move(p.ID, p.Name, inventory.DirectionOut, line.Qty, doc.Reference)
		total = total.Add(amount)
	}
	return pc.Plan(total, nil)
}

// Payment posts money received against one receipt: one debit per payment account and one
// credit to the receivable.
func (b *Builder) Payment(ctx context.Context, doc Payment) (Plan, error) {
	if doc.Source.Kind != sources.KindReceipt && doc.Source.Kind != sources.KindBulkReceipt {
		return Plan{}, shared.Validation("%s is not a payment source", doc.Source.Kind)
	}
	if doc.Receipt.IsZero() {
		return Plan{}, shared.Validation("payment %s has no receipt", doc.Reference)
	}
	if len(doc.Splits) == 0 {
		return Plan{}, shared.Validation("payment %s has no payment accounts", doc.Reference)
	}
	check, err := b.settle(ctx, doc.ReceivableAccountID, "receivable")
	if err != nil {
		return Plan{}, err
	}
	pc, err := b.begin(doc.Source, doc.Reference, doc.Date, doc.Partner, decimal.NewFromInt(1))
	if err != nil {
		return Plan{}, err
	}
	pc.Currency = check.currency

	total := decimal.Zero
	for _, split := range doc.Splits {
		if !split.Amount.IsPositive() {
			return Plan{}, shared.Validation("payment amount must be greater than zero")
		}
		if err := check.require(split.AccountID, "payment", fmt.Sprintf("payment account %d", split.AccountID)); err != nil {
			return Plan{}, err
		}
		pc.Debit(split.AccountID, split.Amount, nil, "Payment "+doc.Reference)
		total = total.Add(split.Amount)
	}
	pc.Credit(doc.ReceivableAccountID, total, nil, "Receivable "+doc.Reference)
	pc.Entry(ledger.DirectionIn, total, nil, "Payment "+doc.Reference)
	return pc.Plan(total, &ReceiptEffect{
		Mode:                ReceiptPay,
		Target:              doc.Receipt,
		Partner:             doc.Partner,
		ReceivableAccountID: doc.ReceivableAccountID,
		Reference:           doc.Reference,
		Date:                doc.Date,
		Amount:              shared.Round2(total),
	})
}

// VendorOpening posts a vendor's opening balance against the configured opening account.
func (b *Builder) VendorOpening(ctx context.Context, doc VendorOpening) (Plan, error) {
	ref := sources.NewRef(sources.KindVendorBalance, doc.VendorID)
	if !doc.Amount.IsPositive() {
		return Plan{}, shared.Validation("opening balance must be greater than zero")
	}
	if b.opts.OpeningBalanceAccountID == 0 {
		return Plan{}, shared.Configuration("opening balance account is not configured")
	}
	check, err := b.settle(ctx, doc.PayableAccountID, "payable")
	if err != nil {
		return Plan{}, err
	}
	if err := check.require(b.opts.OpeningBalanceAccountID, "opening balance", "vendor "+doc.Reference); err != nil {
		return Plan{}, err
	}
	vendor := ledger.PartnerRef{Type: ledger.PartnerVendor, ID: doc.VendorID}
	pc, err := b.begin(ref, doc.Reference, doc.Date, vendor, decimal.NewFromInt(1))
	if err != nil {
		return Plan{}, err
	}
	pc.Currency = check.currency
	pc.Debit(doc.PayableAccountID, doc.Amount, nil, "Opening balance "+doc.Reference)
	pc.Credit(b.opts.OpeningBalanceAccountID, doc.Amount, nil, "Opening balance "+doc.Reference)
	pc.Entry(ledger.DirectionOut, doc.Amount, nil, "Opening balance")
	return pc.Plan(doc.Amount, nil)
}
