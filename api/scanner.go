/*
scanner.go - Scheduled discrepancy scan

PURPOSE:
  Periodically reconciles every personal ledger whose counterparty phone
  belongs to a registered party and records which relationships disagree.
  The scan is advisory: it never writes to a ledger.

DESIGN:
  - robfig/cron drives the schedule (SCAN_SCHEDULE, e.g. "@every 1h" or
    "0 2 * * *" in the service timezone)
  - One scan at a time: a manual trigger while a scan runs gets
    ErrScanRunning, a scheduled tick is skipped
  - Every run is saved twice: as running when it starts, and completed or
    failed when it ends, so a crash leaves a visible running row

USAGE:
  scanner := NewScanner(reconciler, runs, WithScanLogger(logger))
  if err := scanner.Start("@every 1h", loc); err != nil { ... }
  defer scanner.Stop()

SEE ALSO:
  - reconcile/scan.go: Scan and the run record
  - reconciliation.go: Manual trigger and run history endpoints
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/udhaar/credit-ledger/reconcile"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"

	// scanTimeout bounds one scheduled scan.
	scanTimeout = 10 * time.Minute
)

// ErrScanRunning is returned by RunNow while another scan is in progress.
var ErrScanRunning = errors.New("a discrepancy scan is already running")

// ScanObserver is told about every finished scan.
type ScanObserver interface {
	ScanFinished(res reconcile.ScanResult, took time.Duration)
}

type nopScanObserver struct{}

func (nopScanObserver) ScanFinished(reconcile.ScanResult, time.Duration) {}

// Scanner runs reconcile.Scan on a schedule and on demand.
type Scanner struct {
	reconciler *reconcile.Reconciler
	runs       reconcile.RunStore
	observer   ScanObserver
	logger     *slog.Logger
	now        func() time.Time

	running sync.Mutex

	mu   sync.Mutex
	cron *cron.Cron
}

type ScannerOption func(*Scanner)

func WithScanLogger(l *slog.Logger) ScannerOption       { return func(s *Scanner) { s.logger = l } }
func WithScanObserver(o ScanObserver) ScannerOption     { return func(s *Scanner) { s.observer = o } }
func WithScanClock(now func() time.Time) ScannerOption { return func(s *Scanner) { s.now = now } }

// NewScanner creates a scanner. It does nothing until Start or RunNow.
func NewScanner(r *reconcile.Reconciler, runs reconcile.RunStore, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		reconciler: r,
		runs:       runs,
		observer:   nopScanObserver{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With(slog.String("component", "scanner"))
	return s
}

// Start schedules scans. An empty schedule disables scheduling.
func (s *Scanner) Start(schedule string, loc *time.Location) error {
	if schedule == "" {
		s.logger.Info("scheduled scans disabled")
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scanner already started")
	}

	cronLog := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn))
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(schedule, s.scheduled); err != nil {
		return fmt.Errorf("unable to schedule discrepancy scan %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("scheduled scans started", slog.String("schedule", schedule), slog.String("tz", loc.String()))
	return nil
}

// Stop halts the schedule and waits for a running scheduled scan.
func (s *Scanner) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		s.logger.Info("scheduled scans stopped")
	}
}

func (s *Scanner) scheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()
	if _, err := s.RunNow(ctx, TriggerSchedule); err != nil && !errors.Is(err, ErrScanRunning) {
		s.logger.Error("scheduled scan failed", slog.Any("error", err))
	}
}

// RunNow scans immediately and returns the finished run. A failed scan is
// still recorded and returned along with the error.
func (s *Scanner) RunNow(ctx context.Context, trigger string) (reconcile.Run, error) {
	if !s.running.TryLock() {
		return reconcile.Run{}, ErrScanRunning
	}
	defer s.running.Unlock()

	start := s.now()
	run := reconcile.Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    reconcile.RunRunning,
		StartedAt: start,
	}
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return reconcile.Run{}, fmt.Errorf("save scan run: %w", err)
	}

	res, scanErr := s.reconciler.Scan(ctx)
	end := s.now()
	run.Result = res
	run.CompletedAt = &end
	run.Status = reconcile.RunCompleted
	if scanErr != nil {
		run.Status = reconcile.RunFailed
		run.Error = scanErr.Error()
	}

	// The scan context may be spent; the outcome is saved regardless.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.runs.SaveRun(saveCtx, run); err != nil {
		s.logger.Error("save scan run failed", slog.String("run", run.ID), slog.Any("error", err))
	}

	took := end.Sub(start)
	s.observer.ScanFinished(res, took)
	for _, m := range res.Mismatches {
		s.logger.Warn("ledgers disagree",
			slog.String("owner", m.OwnerID),
			slog.String("phone", m.CounterpartyPhone),
			slog.String("mine", money(m.MyBalance)),
			slog.String("theirs", money(m.TheirBalance)),
			slog.String("discrepancy", money(m.Discrepancy)))
	}
	s.logger.Info("scan finished",
		slog.String("run", run.ID),
		slog.String("trigger", trigger),
		slog.Int("checked", res.Checked),
		slog.Int("linked", res.Linked),
		slog.Int("mismatched", len(res.Mismatches)),
		slog.Duration("took", took))

	if scanErr != nil {
		return run, fmt.Errorf("discrepancy scan: %w", scanErr)
	}
	return run, nil
}

// Runs returns recent scans, newest first.
func (s *Scanner) Runs(ctx context.Context, limit int) ([]reconcile.Run, error) {
	return s.runs.ListRuns(ctx, limit)
}
