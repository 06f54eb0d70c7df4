/*
bulk.go - Best-effort multi-id edit and delete

PURPOSE:
  Applies Edit or SoftDelete to many ids and reports the outcome of each.
  There is no batch transaction: an id that fails does not undo the ids that
  succeeded, and it does not stop the ids that have not run yet.

RESULTS:
  One BulkResult per input id, in input order. A duplicate id appears twice;
  the second attempt reports what the first one left behind (for example
  not_found after a delete).

CONCURRENCY:
  Ids run on a bounded pool (WithBulkConcurrency). Each id goes through the
  normal per-account lock, so ids on one account still serialize.

CACHE:
  Every account touched by a successful id is invalidated again before the
  call returns.
*/
package ledger

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

type BulkResult struct {
	ID          TransactionID
	OK          bool
	Kind        Kind   // empty when OK
	Error       string // empty when OK
	Transaction *Transaction
}

// BulkEdit applies patch to every id.
func (l *Ledger) BulkEdit(ctx context.Context, ids []TransactionID, patch Patch) ([]BulkResult, error) {
	if patch.empty() {
		return nil, Invalid("patch", "nothing to change")
	}
	return l.bulk(ctx, "edit", ids, func(ctx context.Context, id TransactionID) (Transaction, error) {
		return l.Edit(ctx, id, patch)
	})
}

// BulkDelete soft-deletes every id.
func (l *Ledger) BulkDelete(ctx context.Context, ids []TransactionID, deletedBy string) ([]BulkResult, error) {
	return l.bulk(ctx, "delete", ids, func(ctx context.Context, id TransactionID) (Transaction, error) {
		return l.SoftDelete(ctx, id, deletedBy)
	})
}

func (l *Ledger) bulk(ctx context.Context, op string, ids []TransactionID, fn func(context.Context, TransactionID) (Transaction, error)) ([]BulkResult, error) {
	if len(ids) == 0 {
		return nil, Invalid("ids", "at least one id is required")
	}

	results := make([]BulkResult, len(ids))
	var (
		mu       sync.Mutex
		affected = make(map[AccountID]struct{})
	)

	var g errgroup.Group
	g.SetLimit(l.bulkConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			tx, err := fn(ctx, id)
			if err != nil {
				results[i] = BulkResult{ID: id, Kind: KindOf(err), Error: err.Error()}
				return nil
			}
			results[i] = BulkResult{ID: id, OK: true, Transaction: &tx}
			mu.Lock()
			affected[tx.AccountID] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return an error

	invalidateCtx := context.WithoutCancel(ctx)
	for id := range affected {
		l.balances.Invalidate(invalidateCtx, id)
	}

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	l.logger.Info("bulk "+op+" finished",
		slog.Int("requested", len(ids)),
		slog.Int("failed", failed),
		slog.Int("accounts", len(affected)))
	return results, nil
}
