package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DocumentLockKey builds redis keys for per-document write sections.
func DocumentLockKey(kind string, id int64) string {
	return fmt.Sprintf("ledger:doc:%s:%d:lock", kind, id)
}

// DocumentLocker serialises writers of the same document through redis.
type DocumentLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDocumentLocker constructs the locker. A nil client disables locking.
func NewDocumentLocker(client *redis.Client, ttl time.Duration) *DocumentLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DocumentLocker{client: client, ttl: ttl}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// WithLock runs fn while holding the document lock and returns ErrDocumentLocked when another
// writer holds it.
func (l *DocumentLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return &DomainError{Kind: ErrDocumentLocked, Message: "document is being modified by another request"}
	}
	defer func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err()
	}()
	return fn(ctx)
}
