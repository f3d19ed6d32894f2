package partners

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists partners. Calls join the transaction in ctx.
type Repository interface {
	CreateSalesperson(ctx context.Context, sp Salesperson) (Salesperson, error)
	GetSalesperson(ctx context.Context, id int64) (Salesperson, error)
	ListSalespersons(ctx context.Context, filter ListFilter) ([]Salesperson, error)

	CreateCustomer(ctx context.Context, c Customer) (Customer, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	ListCustomers(ctx context.Context, filter ListFilter) ([]Customer, error)

	CreateVendor(ctx context.Context, v Vendor) (Vendor, error)
	GetVendor(ctx context.Context, id int64) (Vendor, error)
	UpdateVendor(ctx context.Context, v Vendor) (Vendor, error)
	ListVendors(ctx context.Context, filter ListFilter) ([]Vendor, error)
}

type repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

func (r *repository) get(ctx context.Context, dst any, table, entity string, columns []string, id int64) error {
	sql, args, err := r.builder.Select(columns...).From(table).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	if err := pgxscan.Get(ctx, db.Conn(ctx, r.pool), dst, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return shared.NotFound(entity, id)
		}
		return fmt.Errorf("partners: get %s %d: %w", entity, id, err)
	}
	return nil
}

func (r *repository) list(ctx context.Context, dst any, table string, columns []string, filter ListFilter) error {
	q := r.builder.Select(columns...).From(table).OrderBy("name", "id")
	if filter.Search != "" {
		q = q.Where(squirrel.ILike{"name": "%" + filter.Search + "%"})
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return err
	}
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), dst, sql, args...); err != nil {
		return fmt.Errorf("partners: list %s: %w", table, err)
	}
	return nil
}

var salespersonColumns = []string{"id", "name", "receivable_account_id", "is_active", "created_at"}

func (r *repository) CreateSalesperson(ctx context.Context, sp Salesperson) (Salesperson, error) {
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO salespersons (name, receivable_account_id, is_active) VALUES ($1,$2,TRUE) RETURNING id, is_active, created_at`,
		sp.Name, sp.ReceivableAccountID).Scan(&sp.ID, &sp.IsActive, &sp.CreatedAt)
	if err != nil {
		return Salesperson{}, fmt.Errorf("partners: create salesperson: %w", err)
	}
	return sp, nil
}

func (r *repository) GetSalesperson(ctx context.Context, id int64) (Salesperson, error) {
	var sp Salesperson
	err := r.get(ctx, &sp, "salespersons", "salesperson", salespersonColumns, id)
	return sp, err
}

func (r *repository) ListSalespersons(ctx context.Context, filter ListFilter) ([]Salesperson, error) {
	var out []Salesperson
	err := r.list(ctx, &out, "salespersons", salespersonColumns, filter)
	return out, err
}

var customerColumns = []string{"id", "name", "phone", "receivable_account_id", "COALESCE(cash_account_id, 0) AS cash_account_id", "is_active", "created_at"}

func (r *repository) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	var cash *int64
	if c.CashAccountID != 0 {
		cash = &c.CashAccountID
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO customers (name, phone, receivable_account_id, cash_account_id, is_active) VALUES ($1,$2,$3,$4,TRUE)
RETURNING id, is_active, created_at`,
		c.Name, c.Phone, c.ReceivableAccountID, cash).Scan(&c.ID, &c.IsActive, &c.CreatedAt)
	if err != nil {
		return Customer{}, fmt.Errorf("partners: create customer: %w", err)
	}
	return c, nil
}

func (r *repository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := r.get(ctx, &c, "customers", "customer", customerColumns, id)
	return c, err
}

func (r *repository) ListCustomers(ctx context.Context, filter ListFilter) ([]Customer, error) {
	var out []Customer
	err := r.list(ctx, &out, "customers", customerColumns, filter)
	return out, err
}

var vendorColumns = []string{"id", "name", "payable_account_id", "opening_balance", "opening_date", "is_active", "created_at"}

func (r *repository) CreateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO vendors (name, payable_account_id, opening_balance, opening_date, is_active) VALUES ($1,$2,$3,$4,TRUE)
RETURNING id, is_active, created_at`,
		v.Name, v.PayableAccountID, v.OpeningBalance, v.OpeningDate).Scan(&v.ID, &v.IsActive, &v.CreatedAt)
	if err != nil {
		return Vendor{}, fmt.Errorf("partners: create vendor: %w", err)
	}
	return v, nil
}

func (r *repository) UpdateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE vendors SET name = $1, payable_account_id = $2, opening_balance = $3, opening_date = $4 WHERE id = $5`,
		v.Name, v.PayableAccountID, v.OpeningBalance, v.OpeningDate, v.ID)
	if err != nil {
		return Vendor{}, fmt.Errorf("partners: update vendor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Vendor{}, shared.NotFound("vendor", v.ID)
	}
	return v, nil
}

func (r *repository) GetVendor(ctx context.Context, id int64) (Vendor, error) {
	var v Vendor
	err := r.get(ctx, &v, "vendors", "vendor", vendorColumns, id)
	return v, err
}

func (r *repository) ListVendors(ctx context.Context, filter ListFilter) ([]Vendor, error) {
	var out []Vendor
	err := r.list(ctx, &out, "vendors", vendorColumns, filter)
	return out, err
}
