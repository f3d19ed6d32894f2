package inventory

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists stock levels and the movement log. Calls join the transaction in ctx.
type Repository interface {
	LockLevels(ctx context.Context, productIDs []int64) (map[int64]decimal.Decimal, error)
	SetLevel(ctx context.Context, productID int64, qty decimal.Decimal) error
	InsertMovements(ctx context.Context, movements []Movement) error
	DeleteMovementsBySource(ctx context.Context, ref sources.Ref) (int64, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

type repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

func (r *repository) LockLevels(ctx context.Context, productIDs []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	sql, args, err := r.builder.Select("product_id", "qty", "updated_at").From("stock_levels").
		Where(squirrel.Eq{"product_id": productIDs}).OrderBy("product_id").Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return nil, err
	}
	var levels []Level
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &levels, sql, args...); err != nil {
		return nil, fmt.Errorf("inventory: lock levels: %w", err)
	}
	for _, id := range productIDs {
		out[id] = decimal.Zero
	}
	for _, level := range levels {
		out[level.ProductID] = level.Qty
	}
	return out, nil
}

func (r *repository) SetLevel(ctx context.Context, productID int64, qty decimal.Decimal) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO stock_levels (product_id, qty, updated_at) VALUES ($1,$2,NOW())
ON CONFLICT (product_id) DO UPDATE SET qty = EXCLUDED.qty, updated_at = NOW()`, productID, qty)
	if err != nil {
		return fmt.Errorf("inventory: set level %d: %w", productID, err)
	}
	return nil
}

func (r *repository) InsertMovements(ctx context.Context, movements []Movement) error {
	if len(movements) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range movements {
		batch.Queue(`INSERT INTO stock_movements (product_id, direction, qty, source_kind, document_id, source_key, partner_type, partner_id, moved_at, note)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,0),$9,$10)`,
			m.ProductID, m.Direction, m.Qty, m.SourceKind, m.DocumentID, m.SourceKey, m.PartnerType, m.PartnerID, m.MovedAt, m.Note)
	}
	if err := db.Conn(ctx, r.pool).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inventory: insert movements: %w", err)
	}
	return nil
}

func (r *repository) DeleteMovementsBySource(ctx context.Context, ref sources.Ref) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM stock_movements WHERE source_key=$1`, ref.Key())
	if err != nil {
		return 0, fmt.Errorf("inventory: delete movements %s: %w", ref, err)
	}
	return tag.RowsAffected(), nil
}

func (r *repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	q := r.builder.Select("id", "product_id", "direction", "qty", "source_kind", "document_id", "source_key",
		"COALESCE(partner_type, '') AS partner_type", "COALESCE(partner_id, 0) AS partner_id", "moved_at", "note").
		From("stock_movements").OrderBy("moved_at", "id")
	if filter.ProductID != 0 {
		q = q.Where(squirrel.Eq{"product_id": filter.ProductID})
	}
	if filter.Source != nil {
		q = q.Where(squirrel.Eq{"source_key": filter.Source.Key()})
	}
	if filter.From != nil {
		q = q.Where(squirrel.GtOrEq{"moved_at": *filter.From})
	}
	if filter.To != nil {
		q = q.Where(squirrel.LtOrEq{"moved_at": *filter.To})
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	var items []Movement
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("inventory: list movements: %w", err)
	}
	return items, nil
}
