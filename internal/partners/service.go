package partners

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Poster applies posting plans.
type Poster interface {
	Post(ctx context.Context, plan posting.Plan) (integration.Result, error)
	Repost(ctx context.Context, prev, next posting.Plan) (integration.Result, error)
	Unpost(ctx context.Context, plan posting.Plan) error
}

// EntryReader lists partner ledger rows.
type EntryReader interface {
	ListByPartner(ctx context.Context, partner ledger.PartnerRef) ([]ledger.Entry, error)
}

// ReceiptReader lists receipts.
type ReceiptReader interface {
	ListReceipts(ctx context.Context, filter ar.ReceiptFilter) ([]ar.Receipt, error)
}

// Deps groups the Service's collaborators.
type Deps struct {
	Repo     Repository
	Tx       db.Transactor
	Accounts accounts.Directory
	Builder  *posting.Builder
	Poster   Poster
	Entries  EntryReader
	Receipts ReceiptReader
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service manages partners and their statements.
type Service struct {
	repo     Repository
	tx       db.Transactor
	accounts accounts.Directory
	builder  *posting.Builder
	poster   Poster
	entries  EntryReader
	receipts ReceiptReader
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the service.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		repo:     deps.Repo,
		tx:       deps.Tx,
		accounts: deps.Accounts,
		builder:  deps.Builder,
		poster:   deps.Poster,
		entries:  deps.Entries,
		receipts: deps.Receipts,
		logger:   deps.Logger,
		now:      deps.Now,
	}
}

// ============================================================================
// SALESPERSON OPERATIONS
// ============================================================================

// CreateSalesperson stores a salesperson after checking the receivable account exists.
func (s *Service) CreateSalesperson(ctx context.Context, req CreateSalespersonRequest) (Salesperson, error) {
	if err := httpx.Validate(req); err != nil {
		return Salesperson{}, err
	}
	if _, err := s.account(ctx, req.ReceivableAccountID, "receivable", req.Name); err != nil {
		return Salesperson{}, err
	}
	sp, err := s.repo.CreateSalesperson(ctx, Salesperson{Name: req.Name, ReceivableAccountID: req.ReceivableAccountID})
	if err != nil {
		return Salesperson{}, err
	}
	s.logger.Info("salesperson created", slog.Int64("salesperson_id", sp.ID))
	return sp, nil
}

// Salesperson returns one salesperson.
func (s *Service) Salesperson(ctx context.Context, id int64) (Salesperson, error) {
	return s.repo.GetSalesperson(ctx, id)
}

// ListSalespersons lists salespersons.
func (s *Service) ListSalespersons(ctx context.Context, filter ListFilter) ([]Salesperson, error) {
	return s.repo.ListSalespersons(ctx, filter)
}

// ============================================================================
// CUSTOMER OPERATIONS
// ============================================================================

// CreateCustomer stores a customer. A cash account must share the receivable's currency so
// cash and on-account orders book in one currency.
func (s *Service) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (Customer, error) {
	if err := httpx.Validate(req); err != nil {
		return Customer{}, err
	}
	receivable, err := s.account(ctx, req.ReceivableAccountID, "receivable", req.Name)
	if err != nil {
		return Customer{}, err
	}
	if req.CashAccountID != 0 {
		cash, err := s.account(ctx, req.CashAccountID, "cash", req.Name)
		if err != nil {
			return Customer{}, err
		}
		if cash.Currency != receivable.Currency {
			return Customer{}, shared.CurrencyMismatch("customer "+req.Name+" cash account", receivable.Currency, cash.Currency)
		}
	}
	c, err := s.repo.CreateCustomer(ctx, Customer{
		Name:                req.Name,
		Phone:               req.Phone,
		ReceivableAccountID: req.ReceivableAccountID,
		CashAccountID:       req.CashAccountID,
	})
	if err != nil {
		return Customer{}, err
	}
	s.logger.Info("customer created", slog.Int64("customer_id", c.ID))
	return c, nil
}

// Customer returns one customer.
func (s *Service) Customer(ctx context.Context, id int64) (Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// ListCustomers lists customers.
func (s *Service) ListCustomers(ctx context.Context, filter ListFilter) ([]Customer, error) {
	return s.repo.ListCustomers(ctx, filter)
}

// CustomerBalance is what the customer still owes across open receipts.
func (s *Service) CustomerBalance(ctx context.Context, id int64) (decimal.Decimal, error) {
	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	ref := c.Ref()
	open, err := s.receipts.ListReceipts(ctx, ar.ReceiptFilter{Partner: &ref, OpenOnly: true})
	if err != nil {
		return decimal.Zero, err
	}
	return outstanding(open), nil
}

// ============================================================================
// VENDOR OPERATIONS
// ============================================================================

// CreateVendor stores a vendor and, when it carries an opening balance, posts it against the
// opening balance account in the same transaction.
func (s *Service) CreateVendor(ctx context.Context, req CreateVendorRequest) (Vendor, error) {
	if err := httpx.Validate(req); err != nil {
		return Vendor{}, err
	}
	if req.OpeningBalance.IsNegative() {
		return Vendor{}, shared.Validation("opening balance must not be negative")
	}
	if _, err := s.account(ctx, req.PayableAccountID, "payable", req.Name); err != nil {
		return Vendor{}, err
	}
	vendor := Vendor{Name: req.Name, PayableAccountID: req.PayableAccountID, OpeningBalance: shared.Round2(req.OpeningBalance)}
	if vendor.OpeningBalance.IsPositive() {
		on := s.now().UTC().Truncate(24 * time.Hour)
		if req.OpeningDate != nil {
			on = *req.OpeningDate
		}
		vendor.OpeningDate = &on
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		created, err := s.repo.CreateVendor(ctx, vendor)
		if err != nil {
			return err
		}
		vendor = created
		if !vendor.OpeningBalance.IsPositive() {
			return nil
		}
		plan, err := s.openingPlan(ctx, vendor)
		if err != nil {
			return err
		}
		_, err = s.poster.Post(ctx, plan)
		return err
	})
	if err != nil {
		return Vendor{}, err
	}
	s.logger.Info("vendor created",
		slog.Int64("vendor_id", vendor.ID),
		slog.String("opening_balance", vendor.OpeningBalance.StringFixed(2)))
	return vendor, nil
}

// UpdateVendor changes a vendor and re-posts its opening balance under the same source, so the
// vendor keeps at most one opening booking.
func (s *Service) UpdateVendor(ctx context.Context, id int64, req UpdateVendorRequest) (Vendor, error) {
	if err := httpx.Validate(req); err != nil {
		return Vendor{}, err
	}
	if req.OpeningBalance.IsNegative() {
		return Vendor{}, shared.Validation("opening balance must not be negative")
	}
	if _, err := s.account(ctx, req.PayableAccountID, "payable", req.Name); err != nil {
		return Vendor{}, err
	}
	var vendor Vendor
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		prev, err := s.repo.GetVendor(ctx, id)
		if err != nil {
			return err
		}
		vendor = prev
		vendor.Name = req.Name
		vendor.PayableAccountID = req.PayableAccountID
		vendor.OpeningBalance = shared.Round2(req.OpeningBalance)
		vendor.OpeningDate = nil
		if vendor.OpeningBalance.IsPositive() {
			on := s.now().UTC().Truncate(24 * time.Hour)
			switch {
			case req.OpeningDate != nil:
				on = *req.OpeningDate
			case prev.OpeningDate != nil:
				on = *prev.OpeningDate
			}
			vendor.OpeningDate = &on
		}

		var before, after posting.Plan
		if prev.OpeningBalance.IsPositive() {
			if before, err = s.openingPlan(ctx, prev); err != nil {
				return err
			}
		}
		if vendor.OpeningBalance.IsPositive() {
			if after, err = s.openingPlan(ctx, vendor); err != nil {
				return err
			}
		}
		switch {
		case prev.OpeningBalance.IsPositive() && vendor.OpeningBalance.IsPositive():
			_, err = s.poster.Repost(ctx, before, after)
		case prev.OpeningBalance.IsPositive():
			err = s.poster.Unpost(ctx, before)
		case vendor.OpeningBalance.IsPositive():
			_, err = s.poster.Post(ctx, after)
		}
		if err != nil {
			return err
		}
		vendor, err = s.repo.UpdateVendor(ctx, vendor)
		return err
	})
	if err != nil {
		return Vendor{}, err
	}
	s.logger.Info("vendor updated",
		slog.Int64("vendor_id", vendor.ID),
		slog.String("opening_balance", vendor.OpeningBalance.StringFixed(2)))
	return vendor, nil
}

func (s *Service) openingPlan(ctx context.Context, v Vendor) (posting.Plan, error) {
	return s.builder.VendorOpening(ctx, posting.VendorOpening{
		VendorID:         v.ID,
		Reference:        fmt.Sprintf("OB/%s", v.Name),
		Date:             *v.OpeningDate,
		PayableAccountID: v.PayableAccountID,
		Amount:           v.OpeningBalance,
	})
}

// Vendor returns one vendor.
func (s *Service) Vendor(ctx context.Context, id int64) (Vendor, error) {
	return s.repo.GetVendor(ctx, id)
}

// ListVendors lists vendors.
func (s *Service) ListVendors(ctx context.Context, filter ListFilter) ([]Vendor, error) {
	return s.repo.ListVendors(ctx, filter)
}

// ============================================================================
// STATEMENT
// ============================================================================

// Exists reports a NotFound error when the partner does not exist.
func (s *Service) Exists(ctx context.Context, ref ledger.PartnerRef) error {
	var err error
	switch ref.Type {
	case ledger.PartnerSalesperson:
		_, err = s.repo.GetSalesperson(ctx, ref.ID)
	case ledger.PartnerCustomer:
		_, err = s.repo.GetCustomer(ctx, ref.ID)
	case ledger.PartnerVendor:
		_, err = s.repo.GetVendor(ctx, ref.ID)
	default:
		err = shared.Validation("unknown partner type %q", ref.Type)
	}
	return err
}

// Statement loads a partner's entries and open receipts concurrently.
func (s *Service) Statement(ctx context.Context, ref ledger.PartnerRef) (Statement, error) {
	if err := s.Exists(ctx, ref); err != nil {
		return Statement{}, err
	}
	var (
		entries []ledger.Entry
		open    []ar.Receipt
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.entries.ListByPartner(gctx, ref)
		return err
	})
	g.Go(func() error {
		var err error
		open, err = s.receipts.ListReceipts(gctx, ar.ReceiptFilter{Partner: &ref, OpenOnly: true})
		return err
	})
	if err := g.Wait(); err != nil {
		return Statement{}, fmt.Errorf("partners: statement %s: %w", ref, err)
	}
	return Statement{
		Partner:      ref,
		Entries:      entries,
		OpenReceipts: open,
		Balance:      ledger.Balance(entries),
		Outstanding:  outstanding(open),
	}, nil
}

func outstanding(receipts []ar.Receipt) decimal.Decimal {
	total := decimal.Zero
	for _, rc := range receipts {
		total = total.Add(rc.Remaining)
	}
	return total
}

func (s *Service) account(ctx context.Context, id int64, role, subject string) (accounts.Account, error) {
	acc, err := s.accounts.Resolve(ctx, id)
	if shared.IsNotFound(err) {
		return accounts.Account{}, shared.Configuration("%s account %d for %s does not exist", role, id, subject)
	}
	return acc, err
}
