// Package cache provides a Redis-backed ledger.BalanceCache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/udhaar/credit-ledger/ledger"
)

const defaultPrefix = "udhaar:balance"

// Redis stores balances under generation-versioned keys:
//
//	<prefix>:gen:<account>          INCR on every invalidation
//	<prefix>:<account>:<generation> the balance computed at that generation
//
// A fill that raced with a write lands under a generation no reader asks
// for again and expires with the TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ ledger.BalanceCache = (*Redis)(nil)

// NewRedis instantiates the cache. ttl <= 0 keeps entries until evicted.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, prefix: defaultPrefix}
}

func (r *Redis) genKey(id ledger.AccountID) string {
	return fmt.Sprintf("%s:gen:%s", r.prefix, id)
}

func (r *Redis) valueKey(id ledger.AccountID, gen int64) string {
	return fmt.Sprintf("%s:%s:%d", r.prefix, id, gen)
}

func (r *Redis) Generation(ctx context.Context, id ledger.AccountID) (int64, error) {
	gen, err := r.client.Get(ctx, r.genKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read generation: %w", err)
	}
	return gen, nil
}

func (r *Redis) Get(ctx context.Context, id ledger.AccountID, gen int64) (decimal.Decimal, bool, error) {
	raw, err := r.client.Get(ctx, r.valueKey(id, gen)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("read balance: %w", err)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("decode balance %q: %w", raw, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, id ledger.AccountID, gen int64, balance decimal.Decimal) error {
	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.valueKey(id, gen), balance.String(), ttl).Err(); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, id ledger.AccountID) error {
	if err := r.client.Incr(ctx, r.genKey(id)).Err(); err != nil {
		return fmt.Errorf("bump generation: %w", err)
	}
	return nil
}
