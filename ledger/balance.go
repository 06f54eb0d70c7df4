/*
balance.go - Balance derivation

PURPOSE:
  Answers "who owes whom, and how much?" for one account. The answer is
  always a sum over the transaction log; the cache only remembers the last
  answer until the next write.

BALANCE:
  balance = Σ sign(paymentType) × amount over live versions

CACHING:
  The cache is keyed by a per-account generation (see cache.go). Every
  mutation invalidates inside the same per-account critical section, before
  the mutating call returns. If invalidation itself fails, the account is
  marked dirty and reads bypass the cache until an invalidation succeeds.

STATEMENTS:
  Statement() replays live versions oldest first, carrying a running balance.
  Lines before the requested range fold into the opening balance.

SEE ALSO:
  - cache.go: BalanceCache and the in-process implementation
  - ledger/cache/redis.go: Redis implementation
*/
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// BALANCE ENGINE
// =============================================================================

type BalanceEngine struct {
	store  TransactionStore
	cache  BalanceCache
	logger *slog.Logger

	group singleflight.Group
	dirty sync.Map // AccountID -> struct{}
}

func NewBalanceEngine(store TransactionStore, cache BalanceCache, logger *slog.Logger) *BalanceEngine {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BalanceEngine{store: store, cache: cache, logger: logger}
}

// ComputeBalance sums the signed amounts of live versions.
func ComputeBalance(txs []Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		if tx.Live() {
			sum = sum.Add(tx.SignedAmount())
		}
	}
	return sum
}

// CurrentBalance returns the account balance, from cache when valid.
func (b *BalanceEngine) CurrentBalance(ctx context.Context, id AccountID) (decimal.Decimal, error) {
	if _, isDirty := b.dirty.Load(id); isDirty {
		if err := b.cache.Invalidate(ctx, id); err == nil {
			b.dirty.Delete(id)
		}
		return b.compute(ctx, id)
	}

	gen, err := b.cache.Generation(ctx, id)
	if err != nil {
		b.logger.Warn("balance cache unavailable", slog.String("account", string(id)), slog.Any("error", err))
		return b.compute(ctx, id)
	}
	if v, ok, err := b.cache.Get(ctx, id, gen); err == nil && ok {
		return v, nil
	}

	key := fmt.Sprintf("%s:%d", id, gen)
	v, err, _ := b.group.Do(key, func() (any, error) {
		sum, err := b.compute(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := b.cache.Set(ctx, id, gen, sum); err != nil {
			b.logger.Warn("balance cache fill failed", slog.String("account", string(id)), slog.Any("error", err))
		}
		return sum, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// Invalidate drops the cached balance for id. It never fails the caller: a
// cache error marks the account dirty so later reads recompute.
func (b *BalanceEngine) Invalidate(ctx context.Context, id AccountID) {
	if err := b.cache.Invalidate(ctx, id); err != nil {
		b.dirty.Store(id, struct{}{})
		b.logger.Error("balance cache invalidation failed", slog.String("account", string(id)), slog.Any("error", err))
	}
}

func (b *BalanceEngine) compute(ctx context.Context, id AccountID) (decimal.Decimal, error) {
	txs, err := b.store.Load(ctx, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load transactions: %w", err)
	}
	return ComputeBalance(txs), nil
}

// =============================================================================
// STATEMENT - running balance per line
// =============================================================================

// DateRange is inclusive of From and exclusive of To. Zero values are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

type StatementLine struct {
	Transaction    Transaction
	RunningBalance decimal.Decimal
}

type Statement struct {
	AccountID      AccountID
	Range          DateRange
	OpeningBalance decimal.Decimal
	Lines          []StatementLine
	ClosingBalance decimal.Decimal
}

// BuildStatement replays live versions in creation order. Versions created
// before the range fold into OpeningBalance; versions after it are ignored.
func BuildStatement(id AccountID, txs []Transaction, r DateRange) Statement {
	st := Statement{AccountID: id, Range: r, OpeningBalance: decimal.Zero}
	running := decimal.Zero
	for _, tx := range sortedOldestFirst(txs) {
		if !tx.Live() {
			continue
		}
		if !r.From.IsZero() && tx.CreatedAt.Before(r.From) {
			running = running.Add(tx.SignedAmount())
			st.OpeningBalance = running
			continue
		}
		if !r.Contains(tx.CreatedAt) {
			continue
		}
		running = running.Add(tx.SignedAmount())
		st.Lines = append(st.Lines, StatementLine{Transaction: tx, RunningBalance: running})
	}
	st.ClosingBalance = running
	return st
}

// =============================================================================
// SNAPSHOT - what notification dispatch reads
// =============================================================================

type Direction string

const (
	DirectionYouWillGet  Direction = "you_will_get"
	DirectionYouWillGive Direction = "you_will_give"
	DirectionSettled     Direction = "settled"
)

// DirectionOf reads a balance from the account owner's side.
func DirectionOf(balance decimal.Decimal) Direction {
	switch {
	case balance.IsPositive():
		return DirectionYouWillGet
	case balance.IsNegative():
		return DirectionYouWillGive
	}
	return DirectionSettled
}

type Snapshot struct {
	AccountID AccountID
	Balance   decimal.Decimal
	Direction Direction
	AsOf      time.Time
}
