package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// MaxIdempotencyKeyLength bounds client supplied keys.
const MaxIdempotencyKeyLength = 128

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// NormalizeIdempotencyKey trims the key and checks its length. An empty key is allowed and
// means the request is not deduplicated.
func NormalizeIdempotencyKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if len(key) > MaxIdempotencyKeyLength {
		return "", Validation("idempotency key longer than %d characters", MaxIdempotencyKeyLength)
	}
	return key, nil
}

// IdempotencyStore persists processed request keys in idempotency_keys. Inserts join the
// caller's transaction when one is active.
type IdempotencyStore struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     time.Now,
	}
}

// CheckAndInsert claims key for module and returns ErrIdempotencyConflict when it was
// already claimed.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("shared: idempotency store not initialised")
	}
	key, err := NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}
	if key == "" || module == "" {
		return Validation("idempotency key and module are required")
	}
	sql, args, err := s.builder.Insert("idempotency_keys").
		Columns("key", "module", "created_at").
		Values(key, module, s.now().UTC()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := db.Conn(ctx, s.pool).Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("shared: idempotency insert: %w", err)
	}
	return nil
}

// Cleanup removes keys older than olderThan and reports how many were pruned.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	if olderThan <= 0 {
		return 0, Validation("retention must be positive")
	}
	sql, args, err := s.builder.Delete("idempotency_keys").
		Where(squirrel.Lt{"created_at": s.now().UTC().Add(-olderThan)}).
		ToSql()
	if err != nil {
		return 0, err
	}
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("shared: idempotency cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete releases a key after the guarded work failed or was reversed.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	sql, args, err := s.builder.Delete("idempotency_keys").Where(squirrel.Eq{"key": key}).ToSql()
	if err != nil {
		return err
	}
	if _, err := db.Conn(ctx, s.pool).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("shared: idempotency delete: %w", err)
	}
	return nil
}
