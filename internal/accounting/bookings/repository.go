package bookings

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists bookings. Writes join the transaction carried by ctx.
type Repository interface {
	Insert(ctx context.Context, draft Draft) (Booking, error)
	DeleteBySource(ctx context.Context, ref sources.Ref) (int64, error)
	ListBySource(ctx context.Context, ref sources.Ref) ([]Booking, error)
	List(ctx context.Context, filter Filter) ([]Booking, error)
	Get(ctx context.Context, id int64) (Booking, error)
	Imbalanced(ctx context.Context) ([]Imbalance, error)
	MalformedLines(ctx context.Context) ([]MalformedLine, error)
}

type repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

var bookingColumns = []string{
	"id", "transaction_source_id", "source_kind", "document_id", "source_key", "reference",
	"booking_date", "amount", "COALESCE(partner_type, '') AS partner_type", "COALESCE(partner_id, 0) AS partner_id", "created_at",
}

var lineColumns = []string{"id", "booking_id", "account_id", "product_id", "debit", "credit", "line_date", "description", "source_key"}

func (r *repository) Insert(ctx context.Context, draft Draft) (Booking, error) {
	if err := draft.Validate(); err != nil {
		return Booking{}, err
	}
	conn := db.Conn(ctx, r.pool)
	key := draft.Source.Key()
	booking := Booking{
		SourceID:    draft.SourceID,
		SourceKind:  draft.Source.Kind,
		DocumentID:  draft.Source.DocumentID,
		SourceKey:   key,
		Reference:   draft.Reference,
		Date:        draft.Date,
		Amount:      shared.Round2(draft.Amount),
		PartnerType: draft.PartnerType,
		PartnerID:   draft.PartnerID,
	}
	err := conn.QueryRow(ctx, `INSERT INTO bookings (transaction_source_id, source_kind, document_id, source_key, reference, booking_date, amount, partner_type, partner_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),NULLIF($9,0)) RETURNING id, created_at`,
		booking.SourceID, booking.SourceKind, booking.DocumentID, key, booking.Reference, booking.Date, booking.Amount, booking.PartnerType, booking.PartnerID).
		Scan(&booking.ID, &booking.CreatedAt)
	if err != nil {
		return Booking{}, fmt.Errorf("bookings: insert %s: %w", draft.Source, err)
	}
	batch := &pgx.Batch{}
	booking.Lines = make([]Line, 0, len(draft.Lines))
	for _, in := range draft.Lines {
		line := Line{
			BookingID:   booking.ID,
			AccountID:   in.AccountID,
			ProductID:   in.ProductID,
			Debit:       shared.Round2(in.Debit),
			Credit:      shared.Round2(in.Credit),
			Date:        draft.Date,
			Description: in.Description,
			SourceKey:   key,
		}
		booking.Lines = append(booking.Lines, line)
		idx := len(booking.Lines) - 1
		batch.Queue(`INSERT INTO booking_lines (booking_id, account_id, product_id, debit, credit, line_date, description, source_key)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`, line.BookingID, line.AccountID, line.ProductID, line.Debit, line.Credit, line.Date, line.Description, key).
			QueryRow(func(row pgx.Row) error {
				return row.Scan(&booking.Lines[idx].ID)
			})
	}
	results := conn.SendBatch(ctx, batch)
	if err := results.Close(); err != nil {
		return Booking{}, fmt.Errorf("bookings: insert lines %s: %w", draft.Source, err)
	}
	return booking, nil
}

func (r *repository) DeleteBySource(ctx context.Context, ref sources.Ref) (int64, error) {
	conn := db.Conn(ctx, r.pool)
	key := ref.Key()
	if _, err := conn.Exec(ctx, `DELETE FROM booking_lines WHERE source_key=$1`, key); err != nil {
		return 0, fmt.Errorf("bookings: delete lines %s: %w", ref, err)
	}
	tag, err := conn.Exec(ctx, `DELETE FROM bookings WHERE source_key=$1`, key)
	if err != nil {
		return 0, fmt.Errorf("bookings: delete %s: %w", ref, err)
	}
	return tag.RowsAffected(), nil
}

func (r *repository) ListBySource(ctx context.Context, ref sources.Ref) ([]Booking, error) {
	items, err := r.selectBookings(ctx, r.builder.Select(bookingColumns...).From("bookings").
		Where(squirrel.Eq{"source_key": ref.Key()}).OrderBy("id"))
	if err != nil {
		return nil, err
	}
	for i := range items {
		lines, err := r.lines(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Lines = lines
	}
	return items, nil
}

func (r *repository) List(ctx context.Context, filter Filter) ([]Booking, error) {
	q := r.builder.Select(bookingColumns...).From("bookings").OrderBy("booking_date DESC", "id DESC")
	if filter.Kind != "" {
		q = q.Where(squirrel.Eq{"source_kind": filter.Kind})
	}
	if filter.DocumentID != 0 {
		q = q.Where(squirrel.Eq{"document_id": filter.DocumentID})
	}
	if filter.From != nil {
		q = q.Where(squirrel.GtOrEq{"booking_date": *filter.From})
	}
	if filter.To != nil {
		q = q.Where(squirrel.LtOrEq{"booking_date": *filter.To})
	}
	limit := filter.Limit
	if limit == 0 || limit > 500 {
		limit = 100
	}
	return r.selectBookings(ctx, q.Limit(limit))
}

func (r *repository) Get(ctx context.Context, id int64) (Booking, error) {
	sql, args, err := r.builder.Select(bookingColumns...).From("bookings").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return Booking{}, err
	}
	var booking Booking
	if err := pgxscan.Get(ctx, db.Conn(ctx, r.pool), &booking, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return Booking{}, shared.NotFound("booking", id)
		}
		return Booking{}, fmt.Errorf("bookings: get %d: %w", id, err)
	}
	lines, err := r.lines(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	booking.Lines = lines
	return booking, nil
}

func (r *repository) Imbalanced(ctx context.Context) ([]Imbalance, error) {
	var items []Imbalance
	err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &items, `SELECT b.id AS booking_id, b.reference,
	COALESCE(SUM(l.debit),0) AS debit, COALESCE(SUM(l.credit),0) AS credit
FROM bookings b LEFT JOIN booking_lines l ON l.booking_id = b.id
GROUP BY b.id, b.reference
HAVING ABS(COALESCE(SUM(l.debit),0) - COALESCE(SUM(l.credit),0)) > 0.01 OR COUNT(l.id) < 2
ORDER BY b.id`)
	if err != nil {
		return nil, fmt.Errorf("bookings: imbalanced: %w", err)
	}
	return items, nil
}

func (r *repository) MalformedLines(ctx context.Context) ([]MalformedLine, error) {
	var items []MalformedLine
	err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &items, `SELECT id AS line_id, booking_id, debit, credit
FROM booking_lines
WHERE (debit <> 0 AND credit <> 0) OR (debit = 0 AND credit = 0) OR debit < 0 OR credit < 0
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("bookings: malformed lines: %w", err)
	}
	return items, nil
}

func (r *repository) selectBookings(ctx context.Context, q squirrel.SelectBuilder) ([]Booking, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	var items []Booking
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("bookings: list: %w", err)
	}
	return items, nil
}

func (r *repository) lines(ctx context.Context, bookingID int64) ([]Line, error) {
	sql, args, err := r.builder.Select(lineColumns...).From("booking_lines").
		Where(squirrel.Eq{"booking_id": bookingID}).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	var lines []Line
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("bookings: lines %d: %w", bookingID, err)
	}
	return lines, nil
}
