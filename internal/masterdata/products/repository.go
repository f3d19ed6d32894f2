package products

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists products.
type Repository interface {
	Get(ctx context.Context, id int64) (Product, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]Product, error)
	List(ctx context.Context, filter Filter) ([]Product, int, error)
	Create(ctx context.Context, input CreateInput) (Product, error)
}

type repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

func (r *repository) base() squirrel.SelectBuilder {
	return r.builder.Select(
		"p.id", "p.code", "p.name", "p.sale_price", "p.cost", "p.cost_currency",
		"COALESCE(s.qty, 0) AS stock_qty",
		"p.asset_account_id", "p.income_account_id", "p.cogs_account_id",
		"COALESCE(p.adjustment_account_id, 0) AS adjustment_account_id",
		"p.commissionable", "p.commission_rate", "COALESCE(p.commission_account_id, 0) AS commission_account_id",
		"p.quantity_discount", "p.discount_rate", "COALESCE(p.discount_account_id, 0) AS discount_account_id",
		"p.is_active", "p.created_at",
	).From("products p").LeftJoin("stock_levels s ON s.product_id = p.id")
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	sql, args, err := r.base().Where(squirrel.Eq{"p.id": id}).ToSql()
	if err != nil {
		return Product{}, err
	}
	var product Product
	if err := pgxscan.Get(ctx, db.Conn(ctx, r.pool), &product, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return Product{}, shared.NotFound("product", id)
		}
		return Product{}, fmt.Errorf("products: get %d: %w", id, err)
	}
	return product, nil
}

func (r *repository) GetMany(ctx context.Context, ids []int64) (map[int64]Product, error) {
	out := make(map[int64]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sql, args, err := r.base().Where(squirrel.Eq{"p.id": ids}).ToSql()
	if err != nil {
		return nil, err
	}
	var items []Product
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("products: get many: %w", err)
	}
	for _, item := range items {
		out[item.ID] = item
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, shared.NotFound("product", id)
		}
	}
	return out, nil
}

func (r *repository) List(ctx context.Context, filter Filter) ([]Product, int, error) {
	q := r.base()
	count := r.builder.Select("COUNT(*)").From("products p")
	if filter.Search != "" {
		like := squirrel.Or{squirrel.ILike{"p.name": "%" + filter.Search + "%"}, squirrel.ILike{"p.code": "%" + filter.Search + "%"}}
		q = q.Where(like)
		count = count.Where(like)
	}
	countSQL, countArgs, err := count.ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("products: count: %w", err)
	}
	page := shared.NewPagination(filter.Page, filter.Limit, total)
	sql, args, err := q.OrderBy("p.code").
		Limit(uint64(page.PerPage)).
		Offset(page.Offset()).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	var items []Product
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &items, sql, args...); err != nil {
		return nil, 0, fmt.Errorf("products: list: %w", err)
	}
	return items, total, nil
}

func (r *repository) Create(ctx context.Context, in CreateInput) (Product, error) {
	var id int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO products (code, name, sale_price, cost, cost_currency,
	asset_account_id, income_account_id, cogs_account_id, adjustment_account_id,
	commissionable, commission_rate, commission_account_id, quantity_discount, discount_rate, discount_account_id, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,0),$10,$11,NULLIF($12,0),$13,$14,NULLIF($15,0),TRUE) RETURNING id`,
		in.Code, in.Name, in.SalePrice, in.Cost, in.CostCurrency,
		in.AssetAccountID, in.IncomeAccountID, in.COGSAccountID, in.AdjustmentAccountID,
		in.Commissionable, in.CommissionRate, in.CommissionAccountID, in.QuantityDiscount, in.DiscountRate, in.DiscountAccountID,
	).Scan(&id)
	if err != nil {
		return Product{}, fmt.Errorf("products: create: %w", err)
	}
	return r.Get(ctx, id)
}
