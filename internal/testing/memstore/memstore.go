// Package memstore holds in-memory versions of the ledger-side repositories. WithinTx
// snapshots the whole store and restores it when fn fails, so tests can assert atomicity
// without Postgres.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/bookings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/rates"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
)

type state struct {
	seq       int64
	accounts  map[int64]accounts.Account
	products  map[int64]products.Product
	rates     []rates.Rate
	levels    map[int64]decimal.Decimal
	movements []inventory.Movement
	bookings  []bookings.Booking
	entries   []ledger.Entry
	receipts  map[int64]ar.Receipt
	payments  map[int64]ar.Payment
	bulks     map[int64]ar.BulkPayment
}

func (s *state) clone() *state {
	out := &state{
		seq:       s.seq,
		accounts:  make(map[int64]accounts.Account, len(s.accounts)),
		products:  make(map[int64]products.Product, len(s.products)),
		rates:     append([]rates.Rate(nil), s.rates...),
		levels:    make(map[int64]decimal.Decimal, len(s.levels)),
		movements: append([]inventory.Movement(nil), s.movements...),
		bookings:  make([]bookings.Booking, len(s.bookings)),
		entries:   append([]ledger.Entry(nil), s.entries...),
		receipts:  make(map[int64]ar.Receipt, len(s.receipts)),
		payments:  make(map[int64]ar.Payment, len(s.payments)),
		bulks:     make(map[int64]ar.BulkPayment, len(s.bulks)),
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.levels {
		out.levels[k] = v
	}
	for i, b := range s.bookings {
		b.Lines = append([]bookings.Line(nil), b.Lines...)
		out.bookings[i] = b
	}
	for k, v := range s.receipts {
		out.receipts[k] = v
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	for k, v := range s.bulks {
		v.Methods = append([]ar.Method(nil), v.Methods...)
		out.bulks[k] = v
	}
	return out
}

// Store is the shared backing state. Each accessor returns a repository view over it.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
	// FailOn makes the named operation fail once, e.g. "bookings.insert".
	FailOn  map[string]error
	tracked []Snapshotter
}

// Snapshotter is state kept outside the store, such as a test document repository, that
// rolls back together with it.
type Snapshotter interface {
	Snapshot() (restore func())
}

// Track adds t to the state restored when a transaction fails.
func (s *Store) Track(t Snapshotter) {
	s.tracked = append(s.tracked, t)
}

// New returns an empty store.
func New() *Store {
	return &Store{
		state: (&state{}).clone(),
		now:   func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

type txKey struct{}

// WithinTx runs fn against the store and rolls every change back when fn fails. Nested calls
// join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	snapshot := s.state.clone()
	s.mu.Unlock()
	restores := make([]func(), 0, len(s.tracked))
	for _, t := range s.tracked {
		restores = append(restores, t.Snapshot())
	}
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.state = snapshot
		s.mu.Unlock()
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}

func (s *Store) next() int64 {
	s.state.seq++
	return s.state.seq
}

func (s *Store) fail(op string) error {
	if err, ok := s.FailOn[op]; ok {
		delete(s.FailOn, op)
		return err
	}
	return nil
}

// Accounts returns the account repository.
func (s *Store) Accounts() *Accounts { return &Accounts{s: s} }

// Products returns the product repository.
func (s *Store) Products() *Products { return &Products{s: s} }

// Rates returns the exchange rate repository.
func (s *Store) Rates() *Rates { return &Rates{s: s} }

// Stock returns the stock level and movement repository.
func (s *Store) Stock() *Stock { return &Stock{s: s} }

// Bookings returns the booking repository.
func (s *Store) Bookings() *Bookings { return &Bookings{s: s} }

// Entries returns the partner ledger repository.
func (s *Store) Entries() *Entries { return &Entries{s: s} }

// Receivables returns the receipt and payment repository.
func (s *Store) Receivables() *Receivables { return &Receivables{s: s} }
