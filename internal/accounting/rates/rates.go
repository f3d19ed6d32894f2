// Package rates looks up exchange rates into the local currency.
package rates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Rate is the value of one unit of Currency on EffectiveOn.
type Rate struct {
	Currency    string          `db:"currency" json:"currency" validate:"required,len=3,uppercase"`
	EffectiveOn time.Time       `db:"effective_on" json:"effective_on" validate:"required"`
	Rate        decimal.Decimal `db:"rate" json:"rate"`
}

// Repository reads and writes exchange_rates.
type Repository interface {
	Latest(ctx context.Context, currency string, on time.Time) (Rate, error)
	Upsert(ctx context.Context, rate Rate) error
}

// Service resolves rates for postings.
type Service struct {
	repo Repository
}

// NewService constructs the service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Rate returns the latest positive rate on or before date.
func (s *Service) Rate(ctx context.Context, currency string, on time.Time) (decimal.Decimal, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	rate, err := s.repo.Latest(ctx, currency, on)
	if err != nil {
		if shared.IsNotFound(err) {
			return decimal.Zero, noRate(currency, on)
		}
		return decimal.Zero, err
	}
	if !rate.Rate.IsPositive() {
		return decimal.Zero, noRate(currency, on)
	}
	return rate.Rate, nil
}

// Set stores a rate.
func (s *Service) Set(ctx context.Context, rate Rate) error {
	if !rate.Rate.IsPositive() {
		return shared.Validation("exchange rate for %s must be positive", rate.Currency)
	}
	rate.Currency = strings.ToUpper(rate.Currency)
	return s.repo.Upsert(ctx, rate)
}

func noRate(currency string, on time.Time) error {
	return shared.Validation("no exchange rate for %s on %s", currency, on.Format("2006-01-02"))
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Latest(ctx context.Context, currency string, on time.Time) (Rate, error) {
	sql, args, err := squirrel.Select("currency", "effective_on", "rate").From("exchange_rates").
		Where(squirrel.Eq{"currency": currency}).
		Where(squirrel.LtOrEq{"effective_on": on}).
		OrderBy("effective_on DESC").Limit(1).
		PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return Rate{}, err
	}
	var rate Rate
	if err := pgxscan.Get(ctx, db.Conn(ctx, r.pool), &rate, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return Rate{}, shared.NotFound("exchange rate", currency)
		}
		return Rate{}, fmt.Errorf("rates: latest %s: %w", currency, err)
	}
	return rate, nil
}

func (r *repository) Upsert(ctx context.Context, rate Rate) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO exchange_rates (currency, effective_on, rate) VALUES ($1,$2,$3)
ON CONFLICT (currency, effective_on) DO UPDATE SET rate = EXCLUDED.rate`, rate.Currency, rate.EffectiveOn, rate.Rate)
	if err != nil {
		return fmt.Errorf("rates: upsert %s: %w", rate.Currency, err)
	}
	return nil
}
