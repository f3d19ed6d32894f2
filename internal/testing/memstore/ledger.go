package memstore

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/bookings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Stock implements inventory.Repository.
type Stock struct{ s *Store }

var _ inventory.Repository = (*Stock)(nil)

// SetQty seeds a stock level.
func (st *Stock) SetQty(productID int64, qty decimal.Decimal) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	st.s.state.levels[productID] = qty
}

// Qty returns a stock level.
func (st *Stock) Qty(productID int64) decimal.Decimal {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	return st.s.state.levels[productID]
}

func (st *Stock) LockLevels(_ context.Context, ids []int64) (map[int64]decimal.Decimal, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	out := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		out[id] = st.s.state.levels[id]
	}
	return out, nil
}

func (st *Stock) SetLevel(_ context.Context, productID int64, qty decimal.Decimal) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if err := st.s.fail("stock.set"); err != nil {
		return err
	}
	st.s.state.levels[productID] = qty
	return nil
}

func (st *Stock) InsertMovements(_ context.Context, movements []inventory.Movement) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if err := st.s.fail("stock.movements"); err != nil {
		return err
	}
	for _, m := range movements {
		m.ID = st.s.next()
		st.s.state.movements = append(st.s.state.movements, m)
	}
	return nil
}

func (st *Stock) DeleteMovementsBySource(_ context.Context, ref sources.Ref) (int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	key := ref.Key()
	kept := st.s.state.movements[:0:0]
	var n int64
	for _, m := range st.s.state.movements {
		if m.SourceKey == key {
			n++
			continue
		}
		kept = append(kept, m)
	}
	st.s.state.movements = kept
	return n, nil
}

func (st *Stock) ListMovements(_ context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []inventory.Movement
	for _, m := range st.s.state.movements {
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		if filter.Source != nil && m.SourceKey != filter.Source.Key() {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Bookings implements bookings.Repository.
type Bookings struct{ s *Store }

var _ bookings.Repository = (*Bookings)(nil)

func (b *Bookings) Insert(_ context.Context, draft bookings.Draft) (bookings.Booking, error) {
	if err := draft.Validate(); err != nil {
		return bookings.Booking{}, err
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if err := b.s.fail("bookings.insert"); err != nil {
		return bookings.Booking{}, err
	}
	key := draft.Source.Key()
	booking := bookings.Booking{
		ID:          b.s.next(),
		SourceID:    draft.SourceID,
		SourceKind:  draft.Source.Kind,
		DocumentID:  draft.Source.DocumentID,
		SourceKey:   key,
		Reference:   draft.Reference,
		Date:        draft.Date,
		Amount:      shared.Round2(draft.Amount),
		PartnerType: draft.PartnerType,
		PartnerID:   draft.PartnerID,
		CreatedAt:   b.s.now(),
	}
	for _, in := range draft.Lines {
		booking.Lines = append(booking.Lines, bookings.Line{
			ID:          b.s.next(),
			BookingID:   booking.ID,
			AccountID:   in.AccountID,
			ProductID:   in.ProductID,
			Debit:       shared.Round2(in.Debit),
			Credit:      shared.Round2(in.Credit),
			Date:        draft.Date,
			Description: in.Description,
			SourceKey:   key,
		})
	}
	b.s.state.bookings = append(b.s.state.bookings, booking)
	return booking, nil
}

func (b *Bookings) DeleteBySource(_ context.Context, ref sources.Ref) (int64, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	key := ref.Key()
	kept := b.s.state.bookings[:0:0]
	var n int64
	for _, bk := range b.s.state.bookings {
		if bk.SourceKey == key {
			n++
			continue
		}
		kept = append(kept, bk)
	}
	b.s.state.bookings = kept
	return n, nil
}

func (b *Bookings) ListBySource(_ context.Context, ref sources.Ref) ([]bookings.Booking, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	var out []bookings.Booking
	for _, bk := range b.s.state.bookings {
		if bk.SourceKey == ref.Key() {
			out = append(out, bk)
		}
	}
	return out, nil
}

func (b *Bookings) List(_ context.Context, filter bookings.Filter) ([]bookings.Booking, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	var out []bookings.Booking
	for _, bk := range b.s.state.bookings {
		if filter.Kind != "" && bk.SourceKind != filter.Kind {
			continue
		}
		if filter.DocumentID != 0 && bk.DocumentID != filter.DocumentID {
			continue
		}
		bk.Lines = nil
		out = append(out, bk)
	}
	return out, nil
}

func (b *Bookings) Get(_ context.Context, id int64) (bookings.Booking, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	for _, bk := range b.s.state.bookings {
		if bk.ID == id {
			return bk, nil
		}
	}
	return bookings.Booking{}, shared.NotFound("booking", id)
}

func (b *Bookings) Imbalanced(_ context.Context) ([]bookings.Imbalance, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	var out []bookings.Imbalance
	for _, bk := range b.s.state.bookings {
		debit, credit := decimal.Zero, decimal.Zero
		for _, l := range bk.Lines {
			debit = debit.Add(l.Debit)
			credit = credit.Add(l.Credit)
		}
		if !shared.WithinEpsilon(debit, credit) {
			out = append(out, bookings.Imbalance{BookingID: bk.ID, Reference: bk.Reference, Debit: debit, Credit: credit})
		}
	}
	return out, nil
}

func (b *Bookings) MalformedLines(_ context.Context) ([]bookings.MalformedLine, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	var out []bookings.MalformedLine
	for _, bk := range b.s.state.bookings {
		for _, l := range bk.Lines {
			if l.Debit.IsZero() == l.Credit.IsZero() {
				out = append(out, bookings.MalformedLine{LineID: l.ID, BookingID: bk.ID, Debit: l.Debit, Credit: l.Credit})
			}
		}
	}
	return out, nil
}

// Append stores a booking without validation, for integrity checks.
func (b *Bookings) Append(booking bookings.Booking) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	booking.ID = b.s.next()
	b.s.state.bookings = append(b.s.state.bookings, booking)
}

// Totals sums every stored booking line.
func (b *Bookings) Totals() (decimal.Decimal, decimal.Decimal) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	debit, credit := decimal.Zero, decimal.Zero
	for _, bk := range b.s.state.bookings {
		for _, l := range bk.Lines {
			debit = debit.Add(l.Debit)
			credit = credit.Add(l.Credit)
		}
	}
	return debit, credit
}

// Count returns the number of stored bookings.
func (b *Bookings) Count() int {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return len(b.s.state.bookings)
}

// Entries implements ledger.Repository.
type Entries struct{ s *Store }

var _ ledger.Repository = (*Entries)(nil)

func (e *Entries) Insert(_ context.Context, entries []ledger.Entry) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if err := e.s.fail("entries.insert"); err != nil {
		return err
	}
	for _, entry := range entries {
		entry.ID = e.s.next()
		e.s.state.entries = append(e.s.state.entries, entry)
	}
	return nil
}

func (e *Entries) DeleteBySource(_ context.Context, ref sources.Ref) (int64, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	key := ref.Key()
	kept := e.s.state.entries[:0:0]
	var n int64
	for _, entry := range e.s.state.entries {
		if entry.SourceKey == key {
			n++
			continue
		}
		kept = append(kept, entry)
	}
	e.s.state.entries = kept
	return n, nil
}

func (e *Entries) ListByPartner(_ context.Context, partner ledger.PartnerRef) ([]ledger.Entry, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	var out []ledger.Entry
	for _, entry := range e.s.state.entries {
		if entry.Partner() == partner {
			out = append(out, entry)
		}
	}
	return out, nil
}

// Receivables implements ar.Repository.
type Receivables struct{ s *Store }

var _ ar.Repository = (*Receivables)(nil)

func (r *Receivables) CreateReceipt(_ context.Context, rc ar.Receipt) (ar.Receipt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("receipts.create"); err != nil {
		return ar.Receipt{}, err
	}
	for _, existing := range r.s.state.receipts {
		if existing.SourceKind == rc.SourceKind && existing.DocumentID == rc.DocumentID {
			return ar.Receipt{}, shared.Validation("receipt for %s already exists", rc.Source())
		}
	}
	rc.Recompute()
	rc.SourceKey = rc.Source().Key()
	rc.ID = r.s.next()
	rc.CreatedAt = r.s.now()
	rc.UpdatedAt = rc.CreatedAt
	r.s.state.receipts[rc.ID] = rc
	return rc, nil
}

func (r *Receivables) GetReceipt(_ context.Context, id int64) (ar.Receipt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rc, ok := r.s.state.receipts[id]
	if !ok {
		return ar.Receipt{}, shared.NotFound("receipt", id)
	}
	return rc, nil
}

func (r *Receivables) GetReceiptForUpdate(ctx context.Context, id int64) (ar.Receipt, error) {
	return r.GetReceipt(ctx, id)
}

func (r *Receivables) GetReceiptBySource(_ context.Context, ref sources.Ref) (ar.Receipt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rc := range r.s.state.receipts {
		if rc.SourceKind == ref.Kind && rc.DocumentID == ref.DocumentID {
			return rc, nil
		}
	}
	return ar.Receipt{}, shared.NotFound("receipt for", ref.String())
}

func (r *Receivables) UpdateReceipt(_ context.Context, rc ar.Receipt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("receipts.update"); err != nil {
		return err
	}
	if _, ok := r.s.state.receipts[rc.ID]; !ok {
		return shared.NotFound("receipt", rc.ID)
	}
	rc.Recompute()
	rc.UpdatedAt = r.s.now()
	r.s.state.receipts[rc.ID] = rc
	return nil
}

func (r *Receivables) DeleteReceiptBySource(_ context.Context, ref sources.Ref) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, rc := range r.s.state.receipts {
		if rc.SourceKind == ref.Kind && rc.DocumentID == ref.DocumentID {
			delete(r.s.state.receipts, id)
			n++
		}
	}
	return n, nil
}

func (r *Receivables) ListReceipts(_ context.Context, filter ar.ReceiptFilter) ([]ar.Receipt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []ar.Receipt
	for _, rc := range r.s.state.receipts {
		if filter.Partner != nil && rc.Partner() != *filter.Partner {
			continue
		}
		if filter.Status != "" && rc.Status != filter.Status {
			continue
		}
		if filter.OpenOnly && !rc.Remaining.IsPositive() {
			continue
		}
		out = append(out, rc)
	}
	ar.SortOldestFirst(out)
	if filter.Limit > 0 && uint64(len(out)) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *Receivables) UnbalancedReceipts(_ context.Context) ([]ar.Receipt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []ar.Receipt
	for _, rc := range r.s.state.receipts {
		paidStatus := rc.Status == ar.StatusPaid
		if !rc.Conserved() || paidStatus != !rc.Remaining.IsPositive() {
			out = append(out, rc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutReceipt stores a receipt as-is, for audit tests.
func (r *Receivables) PutReceipt(rc ar.Receipt) ar.Receipt {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rc.ID = r.s.next()
	r.s.state.receipts[rc.ID] = rc
	return rc
}

func (r *Receivables) InsertPayment(_ context.Context, p ar.Payment) (ar.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("payments.insert"); err != nil {
		return ar.Payment{}, err
	}
	p.ID = r.s.next()
	p.CreatedAt = r.s.now()
	p.Splits = append([]ar.Split(nil), p.Splits...)
	if p.PaymentAccountID == 0 && len(p.Splits) > 0 {
		p.PaymentAccountID = p.Splits[0].AccountID
	}
	r.s.state.payments[p.ID] = p
	return p, nil
}

func (r *Receivables) GetPayment(_ context.Context, id int64) (ar.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.state.payments[id]
	if !ok {
		return ar.Payment{}, shared.NotFound("payment", id)
	}
	return p, nil
}

func (r *Receivables) DeletePayment(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.state.payments, id)
	return nil
}

func (r *Receivables) listPayments(match func(ar.Payment) bool) []ar.Payment {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []ar.Payment
	for _, p := range r.s.state.payments {
		if match(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Receivables) ListPayments(_ context.Context, receiptID int64) ([]ar.Payment, error) {
	return r.listPayments(func(p ar.Payment) bool { return p.ReceiptID == receiptID }), nil
}

func (r *Receivables) ListPaymentsByBulk(_ context.Context, bulkID int64) ([]ar.Payment, error) {
	return r.listPayments(func(p ar.Payment) bool { return p.BulkPaymentID != nil && *p.BulkPaymentID == bulkID }), nil
}

func (r *Receivables) InsertBulk(_ context.Context, b ar.BulkPayment) (ar.BulkPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b.ID = r.s.next()
	b.CreatedAt = r.s.now()
	b.Methods = append([]ar.Method(nil), b.Methods...)
	r.s.state.bulks[b.ID] = b
	return b, nil
}

func (r *Receivables) GetBulk(_ context.Context, id int64) (ar.BulkPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.state.bulks[id]
	if !ok {
		return ar.BulkPayment{}, shared.NotFound("bulk payment", id)
	}
	return b, nil
}

func (r *Receivables) UpdateBulk(_ context.Context, b ar.BulkPayment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.state.bulks[b.ID]
	if !ok {
		return shared.NotFound("bulk payment", b.ID)
	}
	existing.Applied = b.Applied
	existing.Status = b.Status
	r.s.state.bulks[b.ID] = existing
	return nil
}

func (r *Receivables) DeleteBulk(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.state.bulks, id)
	return nil
}
