package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/udhaar/credit-ledger/ledger"
)

// Mismatch is a linked relationship whose two ledgers disagree.
type Mismatch struct {
	OwnerID           string
	CounterpartyPhone string
	MyBalance         decimal.Decimal
	TheirBalance      decimal.Decimal
	Discrepancy       decimal.Decimal
}

type ScanResult struct {
	Checked    int
	Linked     int
	Matched    int
	Mismatches []Mismatch
}

// Scan reconciles every personal ledger in the owner-side store and reports
// the linked ones that disagree. Advisory only; nothing is written.
func (r *Reconciler) Scan(ctx context.Context) (ScanResult, error) {
	accts, err := r.mine.ListAccountsByKind(ctx, ledger.AccountPersonal)
	if err != nil {
		return ScanResult{}, err
	}

	var res ScanResult
	for _, acct := range accts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		v, err := r.View(ctx, acct.OwnerID, acct.CounterpartyPhone)
		if err != nil {
			r.logger.Warn("reconcile failed",
				slog.String("account", string(acct.ID)), slog.Any("error", err))
			continue
		}
		res.Checked++
		if !v.Linked {
			continue
		}
		res.Linked++
		if v.Matched {
			res.Matched++
			continue
		}
		res.Mismatches = append(res.Mismatches, Mismatch{
			OwnerID:           v.OwnerID,
			CounterpartyPhone: v.CounterpartyPhone,
			MyBalance:         v.MyStats.Balance,
			TheirBalance:      v.TheirBalance,
			Discrepancy:       v.Discrepancy,
		})
	}
	return res, nil
}

// =============================================================================
// SCAN RUNS
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run records one Scan, scheduled or manual.
type Run struct {
	ID          string
	Trigger     string // "schedule" or "manual"
	Status      RunStatus
	Result      ScanResult
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RunStore keeps the scan history. store/sqlite implements it.
type RunStore interface {
	SaveRun(ctx context.Context, r Run) error
	// ListRuns returns the newest runs first, at most limit. A limit of
	// zero or less returns every run.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// MemoryRuns is an in-memory RunStore.
type MemoryRuns struct {
	mu   sync.Mutex
	runs []Run
}

func (m *MemoryRuns) SaveRun(_ context.Context, r Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == r.ID {
			m.runs[i] = r
			return nil
		}
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *MemoryRuns) ListRuns(_ context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.runs) {
		limit = len(m.runs)
	}
	out := make([]Run, 0, limit)
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}
