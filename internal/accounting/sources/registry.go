package sources

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository reads transaction_sources.
type Repository interface {
	List(ctx context.Context) ([]Source, error)
}

// Registry maps every Kind to its transaction_sources row. It is built once at startup and
// is read-only afterwards.
type Registry struct {
	byKind map[Kind]Source
}

// LoadRegistry resolves all kinds; a missing row is a configuration error.
func LoadRegistry(ctx context.Context, repo Repository) (*Registry, error) {
	rows, err := repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("sources: load: %w", err)
	}
	return NewRegistry(rows)
}

// NewRegistry builds a registry from already loaded rows.
func NewRegistry(rows []Source) (*Registry, error) {
	reg := &Registry{byKind: make(map[Kind]Source, len(rows))}
	for _, row := range rows {
		reg.byKind[row.Code] = row
	}
	for _, kind := range Kinds() {
		if _, ok := reg.byKind[kind]; !ok {
			return nil, shared.Configuration("transaction source %s is not configured", kind)
		}
	}
	return reg, nil
}

// Lookup returns the source row for kind.
func (r *Registry) Lookup(kind Kind) (Source, error) {
	src, ok := r.byKind[kind]
	if !ok {
		return Source{}, shared.Configuration("transaction source %s is not configured", kind)
	}
	return src, nil
}

// ID returns the source id for kind, or zero when unknown.
func (r *Registry) ID(kind Kind) int64 {
	return r.byKind[kind].ID
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context) ([]Source, error) {
	sql, args, err := squirrel.Select("id", "code", "name").From("transaction_sources").OrderBy("id").
		PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return nil, err
	}
	var rows []Source
	if err := pgxscan.Select(ctx, r.pool, &rows, sql, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
