package partners

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/ledgertest"
)

type memoryRepo struct {
	seq          int64
	salespersons map[int64]Salesperson
	customers    map[int64]Customer
	vendors      map[int64]Vendor
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		salespersons: map[int64]Salesperson{},
		customers:    map[int64]Customer{},
		vendors:      map[int64]Vendor{},
	}
}

func (r *memoryRepo) Snapshot() func() {
	seq := r.seq
	vendors := make(map[int64]Vendor, len(r.vendors))
	for k, v := range r.vendors {
		vendors[k] = v
	}
	return func() {
		r.seq = seq
		r.vendors = vendors
	}
}

func (r *memoryRepo) CreateSalesperson(_ context.Context, sp Salesperson) (Salesperson, error) {
	r.seq++
	sp.ID, sp.IsActive = r.seq, true
	r.salespersons[sp.ID] = sp
	return sp, nil
}

func (r *memoryRepo) GetSalesperson(_ context.Context, id int64) (Salesperson, error) {
	sp, ok := r.salespersons[id]
	if !ok {
		return Salesperson{}, shared.NotFound("salesperson", id)
	}
	return sp, nil
}

func (r *memoryRepo) ListSalespersons(context.Context, ListFilter) ([]Salesperson, error) {
	var out []Salesperson
	for _, sp := range r.salespersons {
		out = append(out, sp)
	}
	return out, nil
}

func (r *memoryRepo) CreateCustomer(_ context.Context, c Customer) (Customer, error) {
	r.seq++
	c.ID, c.IsActive = r.seq, true
	r.customers[c.ID] = c
	return c, nil
}

func (r *memoryRepo) GetCustomer(_ context.Context, id int64) (Customer, error) {
	c, ok := r.customers[id]
	if !ok {
		return Customer{}, shared.NotFound("customer", id)
	}
	return c, nil
}

func (r *memoryRepo) ListCustomers(context.Context, ListFilter) ([]Customer, error) {
	var out []Customer
	for _, c := range r.customers {
		out = append(out, c)
	}
	return out, nil
}

func (r *memoryRepo) CreateVendor(_ context.Context, v Vendor) (Vendor, error) {
	r.seq++
	v.ID, v.IsActive = r.seq, true
	r.vendors[v.ID] = v
	return v, nil
}

func (r *memoryRepo) GetVendor(_ context.Context, id int64) (Vendor, error) {
	v, ok := r.vendors[id]
	if !ok {
		return Vendor{}, shared.NotFound("vendor", id)
	}
	return v, nil
}

func (r *memoryRepo) UpdateVendor(_ context.Context, v Vendor) (Vendor, error) {
	if _, ok := r.vendors[v.ID]; !ok {
		return Vendor{}, shared.NotFound("vendor", v.ID)
	}
	r.vendors[v.ID] = v
	return v, nil
}

func (r *memoryRepo) ListVendors(context.Context, ListFilter) ([]Vendor, error) {
	var out []Vendor
	for _, v := range r.vendors {
		out = append(out, v)
	}
	return out, nil
}

func newService(t *testing.T) (*Service, *memoryRepo, *ledgertest.Harness) {
	t.Helper()
	h := ledgertest.New(t, 0)
	repo := newMemoryRepo()
	h.Store.Track(repo)
	svc := NewService(Deps{
		Repo:     repo,
		Tx:       h.Store,
		Accounts: h.Store.Accounts(),
		Builder:  h.Builder,
		Poster:   h.Coordinator,
		Entries:  h.Store.Entries(),
		Receipts: h.Store.Receivables(),
		Now:      func() time.Time { return ledgertest.Day },
	})
	return svc, repo, h
}

func TestCreateCustomerCashAccountMustShareCurrency(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.CreateCustomer(context.Background(), CreateCustomerRequest{
		Name: "Toko Maju", ReceivableAccountID: ledgertest.AccReceivable, CashAccountID: ledgertest.AccBankUSD,
	})
	require.ErrorIs(t, err, shared.ErrCurrencyMismatch)
	require.Contains(t, err.Error(), "expected IDR, got USD")

	c, err := svc.CreateCustomer(context.Background(), CreateCustomerRequest{
		Name: "Toko Maju", ReceivableAccountID: ledgertest.AccReceivable, CashAccountID: ledgertest.AccCash,
	})
	require.NoError(t, err)
	account, err := c.SettlementAccount(posting.PaymentCash)
	require.NoError(t, err)
	require.Equal(t, ledgertest.AccCash, account)
}

func TestCreateSalespersonUnknownAccount(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.CreateSalesperson(context.Background(), CreateSalespersonRequest{Name: "Budi", ReceivableAccountID: 999})
	require.ErrorIs(t, err, shared.ErrConfiguration)
}

func TestSettlementAccountWithoutCash(t *testing.T) {
	c := Customer{Name: "Walk-in", ReceivableAccountID: ledgertest.AccReceivable}
	_, err := c.SettlementAccount(posting.PaymentCash)
	require.ErrorIs(t, err, shared.ErrConfiguration)
	_, err = c.SettlementAccount("cheque")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateVendorPostsOpeningBalance(t *testing.T) {
	svc, _, h := newService(t)
	ctx := context.Background()

	v, err := svc.CreateVendor(ctx, CreateVendorRequest{
		Name: "PT Sumber", PayableAccountID: ledgertest.AccPayable, OpeningBalance: decimal.NewFromInt(250),
	})
	require.NoError(t, err)
	require.Equal(t, ledgertest.Day, *v.OpeningDate)

	bookings, err := h.Store.Bookings().ListBySource(ctx, sources.NewRef(sources.KindVendorBalance, v.ID))
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	debit, credit := h.Store.Bookings().Totals()
	require.True(t, debit.Equal(decimal.NewFromInt(250)))
	require.True(t, credit.Equal(decimal.NewFromInt(250)))

	st, err := svc.Statement(ctx, v.Ref())
	require.NoError(t, err)
	require.Len(t, st.Entries, 1)
	require.Equal(t, ledger.DirectionOut, st.Entries[0].Direction)
	require.True(t, st.Balance.Equal(decimal.NewFromInt(250)))
}

func TestCreateVendorWithoutOpeningBalancePostsNothing(t *testing.T) {
	svc, _, h := newService(t)
	v, err := svc.CreateVendor(context.Background(), CreateVendorRequest{Name: "PT Nol", PayableAccountID: ledgertest.AccPayable})
	require.NoError(t, err)
	require.Nil(t, v.OpeningDate)
	require.Zero(t, h.Store.Bookings().Count())
}

func TestCreateVendorRollsBackWhenPostingFails(t *testing.T) {
	svc, repo, h := newService(t)
	h.Store.FailOn = map[string]error{"bookings.insert": errors.New("disk full")}

	_, err := svc.CreateVendor(context.Background(), CreateVendorRequest{
		Name: "PT Gagal", PayableAccountID: ledgertest.AccPayable, OpeningBalance: decimal.NewFromInt(10),
	})
	require.Error(t, err)
	require.Empty(t, repo.vendors)
	require.Zero(t, h.Store.Bookings().Count())
}

func TestUpdateVendorRepostsOpeningBalance(t *testing.T) {
	svc, _, h := newService(t)
	ctx := context.Background()
	v, err := svc.CreateVendor(ctx, CreateVendorRequest{
		Name: "PT Sumber", PayableAccountID: ledgertest.AccPayable, OpeningBalance: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	v, err = svc.UpdateVendor(ctx, v.ID, UpdateVendorRequest{
		Name: "PT Sumber Jaya", PayableAccountID: ledgertest.AccPayable, OpeningBalance: decimal.NewFromInt(150),
	})
	require.NoError(t, err)
	require.Equal(t, "PT Sumber Jaya", v.Name)
	require.Equal(t, ledgertest.Day, *v.OpeningDate)

	bookings, err := h.Store.Bookings().ListBySource(ctx, sources.NewRef(sources.KindVendorBalance, v.ID))
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	debit, credit := h.Store.Bookings().Totals()
	require.True(t, debit.Equal(decimal.NewFromInt(150)))
	require.True(t, credit.Equal(decimal.NewFromInt(150)))

	st, err := svc.Statement(ctx, v.Ref())
	require.NoError(t, err)
	require.Len(t, st.Entries, 1)
	require.True(t, st.Balance.Equal(decimal.NewFromInt(150)))
}

func TestUpdateVendorClearsAndPostsOpeningBalance(t *testing.T) {
	svc, repo, h := newService(t)
	ctx := context.Background()
	v, err := svc.CreateVendor(ctx, CreateVendorRequest{
		Name: "PT Sumber", PayableAccountID: ledgertest.AccPayable, OpeningBalance: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	v, err = svc.UpdateVendor(ctx, v.ID, UpdateVendorRequest{Name: "PT Sumber", PayableAccountID: ledgertest.AccPayable})
	require.NoError(t, err)
	require.Nil(t, v.OpeningDate)
	require.Zero(t, h.Store.Bookings().Count())
	st, err := svc.Statement(ctx, v.Ref())
	require.NoError(t, err)
	require.Empty(t, st.Entries)

	_, err = svc.UpdateVendor(ctx, v.ID, UpdateVendorRequest{
		Name: "PT Sumber", PayableAccountID: ledgertest.AccPayable, OpeningBalance: decimal.NewFromInt(40),
	})
	require.NoError(t, err)
	require.Equal(t, 1, h.Store.Bookings().Count())
	require.True(t, repo.vendors[v.ID].OpeningBalance.Equal(decimal.NewFromInt(40)))
}

func TestUpdateVendorRejectsNegativeBalanceAndUnknownVendor(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.UpdateVendor(ctx, 42, UpdateVendorRequest{Name: "PT X", PayableAccountID: ledgertest.AccPayable})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.UpdateVendor(ctx, 42, UpdateVendorRequest{
		Name: "PT X", PayableAccountID: ledgertest.AccPayable, OpeningBalance: decimal.NewFromInt(-1),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCustomerBalanceAndStatement(t *testing.T) {
	svc, _, h := newService(t)
	ctx := context.Background()
	c, err := svc.CreateCustomer(ctx, CreateCustomerRequest{Name: "Toko Jaya", ReceivableAccountID: ledgertest.AccReceivable})
	require.NoError(t, err)

	for i, due := range []string{"50", "30"} {
		rc := ar.Receipt{
			SourceKind: sources.KindCustomerSale, DocumentID: int64(i + 1),
			PartnerType: ledger.PartnerCustomer, PartnerID: c.ID,
			Due: ledgertest.Dec(due), Paid: ledgertest.Dec("10"), ReceiptDate: ledgertest.Day,
		}
		rc.Recompute()
		h.Store.Receivables().PutReceipt(rc)
	}

	balance, err := svc.CustomerBalance(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(60)), balance.String())

	st, err := svc.Statement(ctx, c.Ref())
	require.NoError(t, err)
	require.Len(t, st.OpenReceipts, 2)
	require.True(t, st.Outstanding.Equal(decimal.NewFromInt(60)))
}

func TestStatementUnknownPartner(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Statement(context.Background(), ledger.PartnerRef{Type: ledger.PartnerSalesperson, ID: 42})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestHandlerCreateAndStatement(t *testing.T) {
	svc, _, _ := newService(t)
	router := chi.NewRouter()
	router.Route("/partners", NewHandler(nil, svc).MountRoutes)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/partners/salespersons",
		strings.NewReader(`{"name":"Budi","receivable_account_id":1}`))
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"Budi"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/partners/salespersons/1/statement", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"balance":"0"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/partners/vendors/9/statement", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/partners/customers", strings.NewReader(`{"name":""}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
