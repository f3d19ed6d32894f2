package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists accounts.
type Repository interface {
	Get(ctx context.Context, id int64) (Account, error)
	List(ctx context.Context) ([]Account, error)
	Create(ctx context.Context, input CreateInput) (Account, error)
}

type repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

var accountColumns = []string{"id", "code", "name", "type", "currency", "is_active", "created_at"}

func (r *repository) Get(ctx context.Context, id int64) (Account, error) {
	sql, args, err := r.builder.Select(accountColumns...).From("accounts").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return Account{}, err
	}
	var account Account
	if err := pgxscan.Get(ctx, db.Conn(ctx, r.pool), &account, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return Account{}, shared.NotFound("account", id)
		}
		return Account{}, fmt.Errorf("accounts: get %d: %w", id, err)
	}
	return account, nil
}

func (r *repository) List(ctx context.Context) ([]Account, error) {
	sql, args, err := r.builder.Select(accountColumns...).From("accounts").OrderBy("code").ToSql()
	if err != nil {
		return nil, err
	}
	var accounts []Account
	if err := pgxscan.Select(ctx, db.Conn(ctx, r.pool), &accounts, sql, args...); err != nil {
		return nil, fmt.Errorf("accounts: list: %w", err)
	}
	return accounts, nil
}

func (r *repository) Create(ctx context.Context, input CreateInput) (Account, error) {
	sql, args, err := r.builder.Insert("accounts").
		Columns("code", "name", "type", "currency", "is_active").
		Values(input.Code, input.Name, input.Type, input.Currency, true).
		Suffix("RETURNING " + strings.Join(accountColumns, ", ")).
		ToSql()
	if err != nil {
		return Account{}, err
	}
	var account Account
	if err := pgxscan.Get(ctx, db.Conn(ctx, r.pool), &account, sql, args...); err != nil {
		return Account{}, fmt.Errorf("accounts: create: %w", err)
	}
	return account, nil
}
