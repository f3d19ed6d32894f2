package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Option tunes the redis client.
type Option func(*redis.Options)

// WithClientName sets CLIENT SETNAME on every connection.
func WithClientName(name string) Option {
	return func(o *redis.Options) { o.ClientName = name }
}

// WithDB selects the logical database.
func WithDB(db int) Option {
	return func(o *redis.Options) { o.DB = db }
}

// New creates a redis client and pings it. Document locks and the account cache share it.
func New(ctx context.Context, addr string, opts ...Option) (*redis.Client, error) {
	options := &redis.Options{Addr: addr, ReadTimeout: 2 * time.Second, WriteTimeout: 2 * time.Second}
	for _, opt := range opts {
		opt(options)
	}
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", addr, err)
	}
	return client, nil
}
