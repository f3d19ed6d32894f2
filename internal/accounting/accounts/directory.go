package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Directory resolves accounts for currency and type checks.
type Directory interface {
	Resolve(ctx context.Context, id int64) (Account, error)
}

const directoryVersionKey = "accounts:version"

// CachedDirectory fronts a Repository with a versioned redis cache. Concurrent misses for the
// same account share one repository load.
type CachedDirectory struct {
	repo   Repository
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedDirectory constructs the directory. A nil client reads straight from the repository.
func NewCachedDirectory(repo Repository, client *redis.Client, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedDirectory{repo: repo, client: client, ttl: ttl}
}

// Resolve returns the account, reading through the cache.
func (d *CachedDirectory) Resolve(ctx context.Context, id int64) (Account, error) {
	if d.client == nil {
		return d.repo.Get(ctx, id)
	}
	key, err := d.key(ctx, id)
	if err != nil {
		return Account{}, err
	}
	payload, err := d.client.Get(ctx, key).Bytes()
	if err == nil {
		var account Account
		if err := json.Unmarshal(payload, &account); err == nil {
			return account, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return Account{}, fmt.Errorf("accounts: cache get: %w", err)
	}
	value, err, _ := d.group.Do(key, func() (interface{}, error) {
		account, err := d.repo.Get(ctx, id)
		if err != nil {
			return Account{}, err
		}
		raw, err := json.Marshal(account)
		if err != nil {
			return Account{}, err
		}
		if err := d.client.Set(ctx, key, raw, d.ttl).Err(); err != nil {
			return Account{}, fmt.Errorf("accounts: cache set: %w", err)
		}
		return account, nil
	})
	if err != nil {
		return Account{}, err
	}
	return value.(Account), nil
}

// Bump invalidates every cached account.
func (d *CachedDirectory) Bump(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	return d.client.Incr(ctx, directoryVersionKey).Err()
}

func (d *CachedDirectory) key(ctx context.Context, id int64) (string, error) {
	ver, err := d.client.Get(ctx, directoryVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		ver = 0
	} else if err != nil {
		return "", fmt.Errorf("accounts: cache version: %w", err)
	}
	return "accounts:" + strconv.FormatInt(id, 10) + ":" + strconv.FormatInt(ver, 10), nil
}
