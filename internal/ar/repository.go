package ar

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ReceiptFilter narrows receipt listings.
type ReceiptFilter struct {
	Partner  *ledger.PartnerRef
	Status   Status
	OpenOnly bool
	Limit    uint64
}

// Repository persists receipts, payments and bulk payments. Calls join the transaction in ctx.
type Repository interface {
	CreateReceipt(ctx context.Context, receipt Receipt) (Receipt, error)
	GetReceipt(ctx context.Context, id int64) (Receipt, error)
	GetReceiptForUpdate(ctx context.Context, id int64) (Receipt, error)
	GetReceiptBySource(ctx context.Context, ref sources.Ref) (Receipt, error)
	UpdateReceipt(ctx context.Context, receipt Receipt) error
	DeleteReceiptBySource(ctx context.Context, ref sources.Ref) (int64, error)
	ListReceipts(ctx context.Context, filter ReceiptFilter) ([]Receipt, error)
	UnbalancedReceipts(ctx context.Context) ([]Receipt, error)

	InsertPayment(ctx context.Context, payment Payment) (Payment, error)
	GetPayment(ctx context.Context, id int64) (Payment, error)
	DeletePayment(ctx context.Context, id int64) error
	ListPayments(ctx context.Context, receiptID int64) ([]Payment, error)
	ListPaymentsByBulk(ctx context.Context, bulkID int64) ([]Payment, error)

	InsertBulk(ctx context.Context, bulk BulkPayment) (BulkPayment, error)
	GetBulk(ctx context.Context, id int64) (BulkPayment, error)
	UpdateBulk(ctx context.Context, bulk BulkPayment) error
	DeleteBulk(ctx context.Context, id int64) error
}

type repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

var receiptColumns = []string{
	"id", "source_kind", "document_id", "source_key", "partner_type", "partner_id", "receivable_account_id",
	"reference", "receipt_date", "due_amount", "paid_amount", "remaining_amount", "payment_status", "created_at", "updated_at",
}

func (r *repository) CreateReceipt(ctx context.Context, rc Receipt) (Receipt, error) {
	rc.Recompute()
	rc.SourceKey = rc.Source().Key()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO receipts (source_kind, document_id, source_key, partner_type, partner_id, receivable_account_id,
	reference, receipt_date, due_amount, paid_amount, remaining_amount, payment_status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id, created_at, updated_at`,
		rc.SourceKind, rc.DocumentID, rc.SourceKey, rc.PartnerType, rc.PartnerID, rc.ReceivableAccountID,
		rc.Reference, rc.ReceiptDate, rc.Due, rc.Paid, rc.Remaining, rc.Status).
		Scan(&rc.ID, &rc.CreatedAt, &rc.UpdatedAt)
	if err != nil {
		return Receipt{}, fmt.Errorf("ar: create receipt %s: %w", rc.Source(), err)
	}
	return rc, nil
}

func (r *repository) getReceipt(ctx context.Context, where squirrel.Sqlizer, forUpdate bool) (Receipt, error) {
	q := r.builder.Select(receiptColumns...).From("receipts").Where(where)
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return Receipt{}, err
	}
	var rc Receipt
	if err := pgxscan.Get(ctx, db.Conn(ctx, r.pool), &rc, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return Receipt{}, shared.ErrNotFound
		}
		return Receipt{}, fmt.Errorf("ar: get receipt: %w", err)
	}
	return rc, nil
}

func (r *repository) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	rc, err := r.getReceipt(ctx, squirrel.Eq{"id": id}, false)
	if shared.IsNotFound(err) {
		return Receipt{}, shared.NotFound("receipt", id)
	}
	return rc, err
}

func (r *repository) GetReceiptForUpdate(ctx context.Context, id int64) (Receipt, error) {
	rc, err := r.getReceipt(ctx, squirrel.Eq{"id": id}, true)
	if shared.IsNotFound(err) {
		return Receipt{}, shared.NotFound("receipt", id)
	}
	return rc, err
}

func (r *repository) GetReceiptBySource(ctx context.Context, ref sources.Ref) (Receipt, error) {
	rc, err := r.getReceipt(ctx, squirrel.Eq{"source_key": ref.Key()}, true)
	if shared.IsNotFound(err) {
		return Receipt{}, shared.NotFound("receipt for", ref.String())
	}
	return rc, err
}

func (r *repository) UpdateReceipt(ctx context.Context, rc Receipt) error {
	rc.Recompute()
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE receipts SET due_amount=$2, paid_amount=$3, remaining_amount=$4, payment_status=$5,
	partner_type=$6, partner_id=$7, receivable_account_id=$8, receipt_date=$9, updated_at=NOW() WHERE id=$1`,
		rc.ID, rc.Due, rc.Paid, rc.Remaining, rc.Status, rc.PartnerType, rc.PartnerID, rc.ReceivableAccountID, rc.ReceiptDate)
	if err != nil {
		return fmt.Errorf("ar: update receipt %d: %w", rc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("receipt", rc.ID)
	}
	return nil
}

func (r *repository) DeleteReceiptBySource(ctx context.Context, ref sources.Ref) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM receipts WHERE source_key=$1`, ref.Key())
	if err != nil {
		return 0, fmt.Errorf("ar: delete receipt %s: %w", ref, err)
	}
	return tag.RowsAffected(), nil
}

func (r *repository) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]Receipt, error) {
	q := r.builder.Select(receiptColumns...).From("receipts").OrderBy("receipt_date", "id")
	if filter.Partner != nil {
		q = q.Where(squirrel.Eq{"partner_type": filter.Partner.Type, "partner_id": filter.Partner.ID})
	}
	if filter.Status != "" {
		q = q.Where(squirrel.Eq{"payment_status": filter.Status})
	}
	if filter.OpenOnly {
		q = q.Where(squirrel.Gt{"remaining_amount": 0})
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	return r.selectReceipts(ctx, q)
}

func (r *repository) UnbalancedReceipts(ctx context.Context) ([]Receipt, error) {
	q := r.builder.Select(receiptColumns...).From("receipts").
		Where(squirrel.Or{
			squirrel.Expr("due_amount <> paid_amount + remaining_amount"),
			squirrel.Expr("paid_amount > due_amount"),
			squirrel.Expr("(remaining_amount <= 0) <> (payment_status = 'paid')"),
		}).OrderBy("id")
	return r.selectReceipts(ctx, q)
}

func (r *repository) selectReceipts(ctx context.Context, q squirrel.SelectBuilder) ([]Receipt, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	var items []Receipt
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("ar: list receipts: %w", err)
	}
	return items, nil
}

var paymentColumns = []string{"id", "receipt_id", "bulk_payment_id", "payment_account_id", "amount", "splits", "paid_on", "note", "created_at"}

func (r *repository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	if p.PaymentAccountID == 0 && len(p.Splits) > 0 {
		p.PaymentAccountID = p.Splits[0].AccountID
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO receipt_payments (receipt_id, bulk_payment_id, payment_account_id, amount, splits, paid_on, note)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`, p.ReceiptID, p.BulkPaymentID, p.PaymentAccountID, p.Amount, p.Splits, p.PaidOn, p.Note).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Payment{}, fmt.Errorf("ar: insert payment: %w", err)
	}
	return p, nil
}

func (r *repository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	sql, args, err := r.builder.Select(paymentColumns...).From("receipt_payments").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return Payment{}, err
	}
	var p Payment
	if err := pgxscan.Get(ctx, db.Conn(ctx, r.pool), &p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return Payment{}, shared.NotFound("payment", id)
		}
		return Payment{}, fmt.Errorf("ar: get payment %d: %w", id, err)
	}
	return p, nil
}

func (r *repository) DeletePayment(ctx context.Context, id int64) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM receipt_payments WHERE id=$1`, id); err != nil {
		return fmt.Errorf("ar: delete payment %d: %w", id, err)
	}
	return nil
}

func (r *repository) ListPayments(ctx context.Context, receiptID int64) ([]Payment, error) {
	return r.selectPayments(ctx, squirrel.Eq{"receipt_id": receiptID})
}

func (r *repository) ListPaymentsByBulk(ctx context.Context, bulkID int64) ([]Payment, error) {
	return r.selectPayments(ctx, squirrel.Eq{"bulk_payment_id": bulkID})
}

func (r *repository) selectPayments(ctx context.Context, where squirrel.Sqlizer) ([]Payment, error) {
	sql, args, err := r.builder.Select(paymentColumns...).From("receipt_payments").Where(where).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	var items []Payment
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("ar: list payments: %w", err)
	}
	return items, nil
}

func (r *repository) InsertBulk(ctx context.Context, b BulkPayment) (BulkPayment, error) {
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `INSERT INTO bulk_payments (partner_type, partner_id, amount, applied_amount, paid_on, idempotency_key, status)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7) RETURNING id, created_at`,
		b.PartnerType, b.PartnerID, b.Amount, b.Applied, b.PaidOn, b.IdempotencyKey, b.Status).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return BulkPayment{}, fmt.Errorf("ar: insert bulk payment: %w", err)
	}
	batch := &pgx.Batch{}
	for i, m := range b.Methods {
		batch.Queue(`INSERT INTO bulk_payment_methods (bulk_payment_id, position, account_id, amount) VALUES ($1,$2,$3,$4)`, b.ID, i, m.AccountID, m.Amount)
	}
	if err := conn.SendBatch(ctx, batch).Close(); err != nil {
		return BulkPayment{}, fmt.Errorf("ar: insert bulk methods: %w", err)
	}
	return b, nil
}

func (r *repository) GetBulk(ctx context.Context, id int64) (BulkPayment, error) {
	conn := db.Conn(ctx, r.pool)
	var b BulkPayment
	err := pgxscan.Get(ctx, conn, &b, `SELECT id, partner_type, partner_id, amount, applied_amount, paid_on,
	COALESCE(idempotency_key, '') AS idempotency_key, status, created_at FROM bulk_payments WHERE id=$1`, id)
	if err != nil {
		if pgxscan.NotFound(err) {
			return BulkPayment{}, shared.NotFound("bulk payment", id)
		}
		return BulkPayment{}, fmt.Errorf("ar: get bulk payment %d: %w", id, err)
	}
	if err := pgxscan.Select(ctx, conn, &b.Methods, `SELECT account_id, amount FROM bulk_payment_methods WHERE bulk_payment_id=$1 ORDER BY position`, id); err != nil {
		return BulkPayment{}, fmt.Errorf("ar: bulk methods %d: %w", id, err)
	}
	return b, nil
}

func (r *repository) UpdateBulk(ctx context.Context, b BulkPayment) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE bulk_payments SET applied_amount=$2, status=$3 WHERE id=$1`, b.ID, b.Applied, b.Status)
	if err != nil {
		return fmt.Errorf("ar: update bulk payment %d: %w", b.ID, err)
	}
	return nil
}

func (r *repository) DeleteBulk(ctx context.Context, id int64) error {
	conn := db.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `DELETE FROM bulk_payment_methods WHERE bulk_payment_id=$1`, id); err != nil {
		return fmt.Errorf("ar: delete bulk methods %d: %w", id, err)
	}
	if _, err := conn.Exec(ctx, `DELETE FROM bulk_payments WHERE id=$1`, id); err != nil {
		return fmt.Errorf("ar: delete bulk payment %d: %w", id, err)
	}
	return nil
}
