package adjustments

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists adjustments. Calls join the transaction in ctx.
type Repository interface {
	CreateStock(ctx context.Context, adj StockAdjustment) (StockAdjustment, error)
	GetStock(ctx context.Context, id int64) (StockAdjustment, error)
	ListStock(ctx context.Context, filter ListFilter) ([]StockAdjustment, error)
	UpdateStock(ctx context.Context, adj StockAdjustment) (StockAdjustment, error)
	DeleteStock(ctx context.Context, id int64) error

	CreateProduct(ctx context.Context, adj ProductAdjustment) (ProductAdjustment, error)
	GetProduct(ctx context.Context, id int64) (ProductAdjustment, error)
	ListProduct(ctx context.Context, filter ListFilter) ([]ProductAdjustment, error)
	DeleteProduct(ctx context.Context, id int64) error
}

type repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

var stockColumns = []string{"id", "reference", "adjustment_date", "rate", "note", "amount", "created_at", "updated_at"}

var lineColumns = []string{"id", "adjustment_id", "product_id", "qty", "amount"}

var productColumns = []string{"id", "reference", "product_id", "adjustment_date", "previous_qty", "new_qty", "difference", "rate", "amount", "created_at"}

func (r *repository) insertLines(ctx context.Context, adj *StockAdjustment) error {
	if len(adj.Lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range adj.Lines {
		l := &adj.Lines[i]
		l.AdjustmentID = adj.ID
		batch.Queue(`INSERT INTO stock_adjustment_lines (adjustment_id, product_id, qty, amount) VALUES ($1,$2,$3,$4) RETURNING id`,
			l.AdjustmentID, l.ProductID, l.Qty, l.Amount).
			QueryRow(func(row pgx.Row) error { return row.Scan(&l.ID) })
	}
	if err := db.Conn(ctx, r.pool).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("adjustments: insert lines of %d: %w", adj.ID, err)
	}
	return nil
}

func (r *repository) CreateStock(ctx context.Context, adj StockAdjustment) (StockAdjustment, error) {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO stock_adjustments (reference, adjustment_date, rate, note, amount)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at, updated_at`,
		adj.Reference, adj.AdjustmentDate, adj.Rate, adj.Note, adj.Amount).Scan(&adj.ID, &adj.CreatedAt, &adj.UpdatedAt)
	if err != nil {
		return StockAdjustment{}, fmt.Errorf("adjustments: create %s: %w", adj.Reference, err)
	}
	if err := r.insertLines(ctx, &adj); err != nil {
		return StockAdjustment{}, err
	}
	return adj, nil
}

func (r *repository) GetStock(ctx context.Context, id int64) (StockAdjustment, error) {
	sql, args, err := r.builder.Select(stockColumns...).From("stock_adjustments").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return StockAdjustment{}, err
	}
	var adj StockAdjustment
	if err := pgxscan.Get(ctx, db.Conn(ctx, r.pool), &adj, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return StockAdjustment{}, shared.NotFound("stock adjustment", id)
		}
		return StockAdjustment{}, fmt.Errorf("adjustments: get %d: %w", id, err)
	}
	sql, args, err = r.builder.Select(lineColumns...).From("stock_adjustment_lines").Where(squirrel.Eq{"adjustment_id": id}).OrderBy("id").ToSql()
	if err != nil {
		return StockAdjustment{}, err
	}
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &adj.Lines, sql, args...); err != nil {
		return StockAdjustment{}, fmt.Errorf("adjustments: lines of %d: %w", id, err)
	}
	return adj, nil
}

func filtered(q squirrel.SelectBuilder, f ListFilter) squirrel.SelectBuilder {
	if f.From != nil {
		q = q.Where(squirrel.GtOrEq{"adjustment_date": *f.From})
	}
	if f.To != nil {
		q = q.Where(squirrel.LtOrEq{"adjustment_date": *f.To})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	return q.OrderBy("adjustment_date DESC", "id DESC")
}

func (r *repository) ListStock(ctx context.Context, filter ListFilter) ([]StockAdjustment, error) {
	q := filtered(r.builder.Select(stockColumns...).From("stock_adjustments"), filter)
	if filter.ProductID > 0 {
		q = q.Where("EXISTS (SELECT 1 FROM stock_adjustment_lines l WHERE l.adjustment_id = stock_adjustments.id AND l.product_id = ?)", filter.ProductID)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	var out []StockAdjustment
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("adjustments: list: %w", err)
	}
	return out, nil
}

func (r *repository) UpdateStock(ctx context.Context, adj StockAdjustment) (StockAdjustment, error) {
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `UPDATE stock_adjustments SET adjustment_date=$2, rate=$3, note=$4, amount=$5, updated_at=NOW()
WHERE id=$1 RETURNING updated_at`, adj.ID, adj.AdjustmentDate, adj.Rate, adj.Note, adj.Amount).Scan(&adj.UpdatedAt)
	if err != nil {
		if pgxscan.NotFound(err) {
			return StockAdjustment{}, shared.NotFound("stock adjustment", adj.ID)
		}
		return StockAdjustment{}, fmt.Errorf("adjustments: update %d: %w", adj.ID, err)
	}
	if _, err := conn.Exec(ctx, `DELETE FROM stock_adjustment_lines WHERE adjustment_id=$1`, adj.ID); err != nil {
		return StockAdjustment{}, fmt.Errorf("adjustments: replace lines of %d: %w", adj.ID, err)
	}
	if err := r.insertLines(ctx, &adj); err != nil {
		return StockAdjustment{}, err
	}
	return adj, nil
}

func (r *repository) DeleteStock(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM stock_adjustments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("adjustments: delete %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("stock adjustment", id)
	}
	return nil
}

func (r *repository) CreateProduct(ctx context.Context, adj ProductAdjustment) (ProductAdjustment, error) {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO product_adjustments
(reference, product_id, adjustment_date, previous_qty, new_qty, difference, rate, amount)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at`,
		adj.Reference, adj.ProductID, adj.AdjustmentDate, adj.PreviousQty, adj.NewQty, adj.Difference, adj.Rate, adj.Amount).
		Scan(&adj.ID, &adj.CreatedAt)
	if err != nil {
		return ProductAdjustment{}, fmt.Errorf("adjustments: create product adjustment %s: %w", adj.Reference, err)
	}
	return adj, nil
}

func (r *repository) GetProduct(ctx context.Context, id int64) (ProductAdjustment, error) {
	sql, args, err := r.builder.Select(productColumns...).From("product_adjustments").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return ProductAdjustment{}, err
	}
	var adj ProductAdjustment
	if err := pgxscan.Get(ctx, db.Conn(ctx, r.pool), &adj, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return ProductAdjustment{}, shared.NotFound("product adjustment", id)
		}
		return ProductAdjustment{}, fmt.Errorf("adjustments: get product adjustment %d: %w", id, err)
	}
	return adj, nil
}

func (r *repository) ListProduct(ctx context.Context, filter ListFilter) ([]ProductAdjustment, error) {
	q := filtered(r.builder.Select(productColumns...).From("product_adjustments"), filter)
	if filter.ProductID > 0 {
		q = q.Where(squirrel.Eq{"product_id": filter.ProductID})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	var out []ProductAdjustment
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("adjustments: list product adjustments: %w", err)
	}
	return out, nil
}

func (r *repository) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM product_adjustments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("adjustments: delete product adjustment %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("product adjustment", id)
	}
	return nil
}
