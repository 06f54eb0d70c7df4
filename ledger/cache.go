package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// BalanceCache holds derived balances. Entries are keyed by a per-account
// generation: Invalidate bumps the generation, so a fill computed before a
// write lands under a generation nobody reads again.
type BalanceCache interface {
	Generation(ctx context.Context, id AccountID) (int64, error)
	Get(ctx context.Context, id AccountID, gen int64) (decimal.Decimal, bool, error)
	Set(ctx context.Context, id AccountID, gen int64, balance decimal.Decimal) error
	Invalidate(ctx context.Context, id AccountID) error
}

// =============================================================================
// MEMORY CACHE - in-process, default
// =============================================================================

type MemoryCache struct {
	mu      sync.Mutex
	entries map[AccountID]memoryEntry
}

type memoryEntry struct {
	gen     int64
	balance decimal.Decimal
	filled  bool
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[AccountID]memoryEntry)}
}

func (c *MemoryCache) Generation(_ context.Context, id AccountID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id].gen, nil
}

func (c *MemoryCache) Get(_ context.Context, id AccountID, gen int64) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	if !e.filled || e.gen != gen {
		return decimal.Zero, false, nil
	}
	return e.balance, true, nil
}

func (c *MemoryCache) Set(_ context.Context, id AccountID, gen int64, balance decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	if e.gen != gen {
		return nil // stale fill
	}
	c.entries[id] = memoryEntry{gen: gen, balance: balance, filled: true}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, id AccountID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = memoryEntry{gen: c.entries[id].gen + 1}
	return nil
}
