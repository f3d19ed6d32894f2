package ledger

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists partner ledger entries.
type Repository interface {
	Insert(ctx context.Context, entries []Entry) error
	DeleteBySource(ctx context.Context, ref sources.Ref) (int64, error)
	ListByPartner(ctx context.Context, partner PartnerRef) ([]Entry, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO partner_ledger_entries (partner_type, partner_id, source_kind, document_id, source_key, product_id, entry_date, direction, amount, description)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			e.PartnerType, e.PartnerID, e.SourceKind, e.DocumentID, e.SourceKey, e.ProductID, e.EntryDate, e.Direction, e.Amount, e.Description)
	}
	if err := db.Conn(ctx, r.pool).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("partners/ledger: insert: %w", err)
	}
	return nil
}

func (r *repository) DeleteBySource(ctx context.Context, ref sources.Ref) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM partner_ledger_entries WHERE source_key=$1`, ref.Key())
	if err != nil {
		return 0, fmt.Errorf("partners/ledger: delete %s: %w", ref, err)
	}
	return tag.RowsAffected(), nil
}

func (r *repository) ListByPartner(ctx context.Context, partner PartnerRef) ([]Entry, error) {
	sql, args, err := squirrel.Select("id", "partner_type", "partner_id", "source_kind", "document_id", "source_key",
		"product_id", "entry_date", "direction", "amount", "description").
		From("partner_ledger_entries").
		Where(squirrel.Eq{"partner_type": partner.Type, "partner_id": partner.ID}).
		OrderBy("entry_date", "id").
		PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &entries, sql, args...); err != nil {
		return nil, fmt.Errorf("partners/ledger: list %s: %w", partner, err)
	}
	return entries, nil
}
