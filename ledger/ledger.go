/*
ledger.go - The ledger service

PURPOSE:
  The Ledger is the only writer of transactions. It validates input, takes
  the per-account lock, runs the credit-limit check, commits through the
  Store and invalidates the cached balance, all inside one critical section.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: stored versions are never rewritten or removed
  2. DERIVED BALANCE: balance = Σ signed amounts of live versions
  3. SINGLE WRITER: Append/Edit/SoftDelete on one account are serialized
  4. IDEMPOTENT: the same idempotency key on the same account returns the
     original transaction instead of writing a second one

EDITS:
  Only Amount, PaymentType and Notes change. The edit writes version n+1 and
  points version n at it. Entries posted by an order (Source ORDER) cannot be
  edited or deleted; correct them with a new entry.

ORDER ENTRIES:
  Only PostOrderSale writes Source ORDER, under the key OrderSaleKey(order).
  Append refuses that source and every key starting with OrderKeyPrefix, so
  a manual entry can never stand in for an order's posting.

TIMEOUTS:
  Every mutation runs under OpTimeout. Waiting for the account lock counts
  against it. Expiry surfaces ErrTimeout, which IsRetryable reports.

EXAMPLE FLOW:
  1. Customer takes goods on credit: UDHAAR 500      balance  500
  2. Pays part in cash:              CASH   200      balance  300
  3. Cash was really 250: Edit(amount=250)           balance  250
     Log: [UDHAAR 500 v1, CASH 200 v1 (superseded), CASH 250 v2]

SEE ALSO:
  - creditlimit.go: Admission check for UDHAAR
  - query.go: Paged listing
  - bulk.go: Multi-id edit/delete
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultOpTimeout bounds a single mutation including lock wait.
const DefaultOpTimeout = 5 * time.Second

// Observer receives ledger events. observability.Metrics implements it.
type Observer interface {
	TransactionAppended(pt PaymentType, src Source)
	CreditLimitRefused(id AccountID)
	CreditLimitBypassed(id AccountID)
}

type nopObserver struct{}

func (nopObserver) TransactionAppended(PaymentType, Source) {}
func (nopObserver) CreditLimitRefused(AccountID)            {}
func (nopObserver) CreditLimitBypassed(AccountID)           {}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store    Store
	balances *BalanceEngine
	locks    *KeyedMutex
	logger   *slog.Logger
	observer Observer

	cache           BalanceCache
	opTimeout       time.Duration
	bulkConcurrency int
	loc             *time.Location
	now             func() time.Time
	newID           func() string
}

type Option func(*Ledger)

func WithCache(c BalanceCache) Option        { return func(l *Ledger) { l.cache = c } }
func WithLogger(lg *slog.Logger) Option      { return func(l *Ledger) { l.logger = lg } }
func WithObserver(o Observer) Option         { return func(l *Ledger) { l.observer = o } }
func WithOpTimeout(d time.Duration) Option   { return func(l *Ledger) { l.opTimeout = d } }
func WithBulkConcurrency(n int) Option       { return func(l *Ledger) { l.bulkConcurrency = n } }
func WithLocation(loc *time.Location) Option { return func(l *Ledger) { l.loc = loc } }
func WithClock(now func() time.Time) Option  { return func(l *Ledger) { l.now = now } }
func WithIDs(newID func() string) Option     { return func(l *Ledger) { l.newID = newID } }

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:           store,
		locks:           NewKeyedMutex(),
		observer:        nopObserver{},
		opTimeout:       DefaultOpTimeout,
		bulkConcurrency: 4,
		loc:             time.UTC,
		now:             time.Now,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	if l.bulkConcurrency < 1 {
		l.bulkConcurrency = 1
	}
	if l.opTimeout <= 0 {
		l.opTimeout = DefaultOpTimeout
	}
	l.balances = NewBalanceEngine(store, l.cache, l.logger)
	return l
}

// Store exposes the underlying store for read-only collaborators such as
// reconciliation.
func (l *Ledger) Store() Store { return l.store }

// Location is where day boundaries fall for statements and summaries.
func (l *Ledger) Location() *time.Location { return l.loc }

// =============================================================================
// APPEND
// =============================================================================

type AppendInput struct {
	AccountID      AccountID
	Amount         decimal.Decimal
	PaymentType    PaymentType
	Source         Source // defaults to MANUAL
	Notes          string
	ReferenceID    string
	IdempotencyKey string
	CreatedBy      string

	// Bypass admits an UDHAAR entry that would exceed the credit limit.
	Bypass bool
}

// OrderKeyPrefix starts every idempotency key reserved for order postings.
const OrderKeyPrefix = "order:"

// OrderSaleKey is the idempotency key of an order's sale entry.
func OrderSaleKey(orderID string) string {
	return OrderKeyPrefix + orderID + ":collected"
}

// Append records a new transaction. ORDER entries and keys starting with
// OrderKeyPrefix are refused; orders post through PostOrderSale.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (Transaction, error) {
	if in.Source == "" {
		in.Source = SourceManual
	}
	if in.Source == SourceOrder {
		return Transaction{}, Invalid("source", "%s entries are posted by order collection", SourceOrder)
	}
	if strings.HasPrefix(in.IdempotencyKey, OrderKeyPrefix) {
		return Transaction{}, Invalid("idempotencyKey", "prefix %q is reserved for orders", OrderKeyPrefix)
	}
	return l.append(ctx, in, nil)
}

// OrderSale is the ledger side of a collected order.
type OrderSale struct {
	AccountID   AccountID
	OrderID     string
	Amount      decimal.Decimal
	PaymentType PaymentType
	Notes       string
	CreatedBy   string
	Bypass      bool
}

// PostOrderSale records the sale entry of a collected order. Posting the
// same order again returns the first entry, so a retried collection writes
// at most once.
func (l *Ledger) PostOrderSale(ctx context.Context, sale OrderSale) (Transaction, error) {
	if strings.TrimSpace(sale.OrderID) == "" {
		return Transaction{}, Invalid("orderId", "required")
	}
	key := OrderSaleKey(sale.OrderID)
	return l.append(ctx, AppendInput{
		AccountID:      sale.AccountID,
		Amount:         sale.Amount,
		PaymentType:    sale.PaymentType,
		Source:         SourceOrder,
		Notes:          sale.Notes,
		ReferenceID:    sale.OrderID,
		IdempotencyKey: key,
		CreatedBy:      sale.CreatedBy,
		Bypass:         sale.Bypass,
	}, func(existing Transaction) error {
		if existing.Source != SourceOrder || existing.ReferenceID != sale.OrderID {
			return Invalid("idempotencyKey", "key %q is held by a %s entry not posted by order %s",
				key, existing.Source, sale.OrderID)
		}
		return nil
	})
}

// append writes in under the account lock. A replayed idempotency key
// returns the stored entry once replayable accepts it.
func (l *Ledger) append(ctx context.Context, in AppendInput, replayable func(Transaction) error) (Transaction, error) {
	if err := ValidateAmount(in.Amount); err != nil {
		return Transaction{}, err
	}
	if !in.Source.Valid() {
		return Transaction{}, Invalid("source", "unknown source %q", in.Source)
	}

	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	acct, err := l.store.GetAccount(ctx, in.AccountID)
	if err != nil {
		return Transaction{}, storeErr("resolve account", err)
	}
	if !in.PaymentType.AllowedOn(acct.Kind) {
		return Transaction{}, Invalid("paymentType", "%q is not allowed on %s accounts", in.PaymentType, acct.Kind)
	}

	unlock, err := l.locks.Lock(ctx, string(acct.ID))
	if err != nil {
		return Transaction{}, err
	}
	defer unlock()

	if in.IdempotencyKey != "" {
		existing, found, err := l.store.FindByIdempotencyKey(ctx, acct.ID, in.IdempotencyKey)
		if err != nil {
			return Transaction{}, storeErr("check idempotency key", err)
		}
		if found {
			if replayable != nil {
				if err := replayable(existing); err != nil {
					return Transaction{}, err
				}
			}
			if !existing.Amount.Equal(in.Amount) || existing.PaymentType != in.PaymentType {
				return Transaction{}, Invalid("idempotencyKey", "key %q already used with a different amount or payment type", in.IdempotencyKey)
			}
			l.logger.Debug("idempotent append replayed",
				slog.String("account", string(acct.ID)), slog.String("transaction", string(existing.ID)))
			return existing, nil
		}
	}

	if err := l.checkCreditLimit(ctx, acct, decimal.Zero, in.Amount, in.PaymentType, in.Bypass); err != nil {
		return Transaction{}, err
	}

	id := TransactionID(l.newID())
	tx := Transaction{
		ID:             id,
		AccountID:      acct.ID,
		Amount:         in.Amount,
		PaymentType:    in.PaymentType,
		Source:         in.Source,
		Notes:          in.Notes,
		ReferenceID:    in.ReferenceID,
		IdempotencyKey: in.IdempotencyKey,
		OriginID:       id,
		Version:        1,
		CreatedAt:      l.now(),
		CreatedBy:      in.CreatedBy,
	}
	stored, err := l.store.Insert(ctx, tx)
	if err != nil {
		return Transaction{}, storeErr("append transaction", err)
	}
	l.balances.Invalidate(context.WithoutCancel(ctx), acct.ID)
	l.observer.TransactionAppended(stored.PaymentType, stored.Source)

	l.logger.Info("transaction appended",
		slog.String("account", string(acct.ID)),
		slog.String("transaction", string(stored.ID)),
		slog.String("type", string(stored.PaymentType)),
		slog.String("amount", stored.Amount.StringFixed(MoneyPlaces)),
		slog.String("source", string(stored.Source)))
	return stored, nil
}

// =============================================================================
// EDIT
// =============================================================================

// Patch lists the mutable fields. Nil pointers leave a field unchanged.
type Patch struct {
	Amount      *decimal.Decimal
	PaymentType *PaymentType
	Notes       *string

	Bypass   bool
	EditedBy string
}

func (p Patch) empty() bool {
	return p.Amount == nil && p.PaymentType == nil && p.Notes == nil
}

// Edit writes a new version of id with patch applied.
func (l *Ledger) Edit(ctx context.Context, id TransactionID, patch Patch) (Transaction, error) {
	if patch.empty() {
		return Transaction{}, Invalid("patch", "nothing to change")
	}
	if patch.Amount != nil {
		if err := ValidateAmount(*patch.Amount); err != nil {
			return Transaction{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	cur, unlock, err := l.lockTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	defer unlock()

	if err := editable(cur); err != nil {
		return Transaction{}, err
	}
	acct, err := l.store.GetAccount(ctx, cur.AccountID)
	if err != nil {
		return Transaction{}, storeErr("resolve account", err)
	}

	next := cur
	if patch.Amount != nil {
		next.Amount = *patch.Amount
	}
	if patch.PaymentType != nil {
		if !patch.PaymentType.AllowedOn(acct.Kind) {
			return Transaction{}, Invalid("paymentType", "%q is not allowed on %s accounts", *patch.PaymentType, acct.Kind)
		}
		next.PaymentType = *patch.PaymentType
	}
	if patch.Notes != nil {
		next.Notes = *patch.Notes
	}

	if err := l.checkCreditLimit(ctx, acct, cur.SignedAmount(), next.Amount, next.PaymentType, patch.Bypass); err != nil {
		return Transaction{}, err
	}

	now := l.now()
	next.ID = TransactionID(l.newID())
	next.Version = cur.Version + 1
	next.Seq = 0
	next.SupersededBy = ""
	next.IdempotencyKey = ""
	next.EditedAt = &now
	next.EditedBy = patch.EditedBy

	stored, err := l.store.Supersede(ctx, cur.ID, next)
	if err != nil {
		return Transaction{}, storeErr("edit transaction", err)
	}
	l.balances.Invalidate(context.WithoutCancel(ctx), acct.ID)

	l.logger.Info("transaction edited",
		slog.String("account", string(acct.ID)),
		slog.String("transaction", string(cur.ID)),
		slog.String("version", string(stored.ID)),
		slog.Int("n", stored.Version))
	return stored, nil
}

// =============================================================================
// SOFT DELETE
// =============================================================================

// SoftDelete tombstones id and returns the tombstoned version.
func (l *Ledger) SoftDelete(ctx context.Context, id TransactionID, deletedBy string) (Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	cur, unlock, err := l.lockTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	defer unlock()

	if err := editable(cur); err != nil {
		return Transaction{}, err
	}

	now := l.now()
	if err := l.store.MarkDeleted(ctx, cur.ID, now, deletedBy); err != nil {
		return Transaction{}, storeErr("delete transaction", err)
	}
	l.balances.Invalidate(context.WithoutCancel(ctx), cur.AccountID)

	cur.DeletedAt = &now
	cur.DeletedBy = deletedBy
	l.logger.Info("transaction deleted",
		slog.String("account", string(cur.AccountID)),
		slog.String("transaction", string(cur.ID)))
	return cur, nil
}

// lockTransaction takes the lock of id's account and re-reads id under it.
func (l *Ledger) lockTransaction(ctx context.Context, id TransactionID) (Transaction, func(), error) {
	tx, err := l.store.Get(ctx, id)
	if err != nil {
		return Transaction{}, nil, storeErr("load transaction", err)
	}
	unlock, err := l.locks.Lock(ctx, string(tx.AccountID))
	if err != nil {
		return Transaction{}, nil, err
	}
	tx, err = l.store.Get(ctx, id)
	if err != nil {
		unlock()
		return Transaction{}, nil, storeErr("load transaction", err)
	}
	return tx, unlock, nil
}

func editable(tx Transaction) error {
	switch {
	case tx.DeletedAt != nil:
		return fmt.Errorf("transaction %s is deleted: %w", tx.ID, ErrNotFound)
	case tx.SupersededBy != "":
		return fmt.Errorf("transaction %s was superseded by %s: %w", tx.ID, tx.SupersededBy, ErrImmutableTransaction)
	case tx.Source == SourceOrder:
		return fmt.Errorf("transaction %s was posted by order %s: %w", tx.ID, tx.ReferenceID, ErrImmutableTransaction)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns any version of a transaction, including deleted and
// superseded ones.
func (l *Ledger) Get(ctx context.Context, id TransactionID) (Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	tx, err := l.store.Get(ctx, id)
	if err != nil {
		return Transaction{}, storeErr("load transaction", err)
	}
	return tx, nil
}

// History returns the full version chain of the entry id belongs to.
func (l *Ledger) History(ctx context.Context, id TransactionID) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	tx, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	chain, err := l.store.LoadChain(ctx, tx.OriginID)
	if err != nil {
		return nil, storeErr("load history", err)
	}
	return chain, nil
}

// CurrentBalance returns the derived balance of an account.
func (l *Ledger) CurrentBalance(ctx context.Context, id AccountID) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	if _, err := l.store.GetAccount(ctx, id); err != nil {
		return decimal.Zero, storeErr("resolve account", err)
	}
	bal, err := l.balances.CurrentBalance(ctx, id)
	if err != nil {
		return decimal.Zero, storeErr("balance", err)
	}
	return bal, nil
}

// LiveTransactions returns the account's live versions, oldest first.
func (l *Ledger) LiveTransactions(ctx context.Context, id AccountID) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	txs, err := l.store.Load(ctx, id)
	if err != nil {
		return nil, storeErr("load transactions", err)
	}
	return LiveOnly(txs), nil
}

// Statement returns running balances for the account within r.
func (l *Ledger) Statement(ctx context.Context, id AccountID, r DateRange) (Statement, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	if _, err := l.store.GetAccount(ctx, id); err != nil {
		return Statement{}, storeErr("resolve account", err)
	}
	txs, err := l.store.Load(ctx, id)
	if err != nil {
		return Statement{}, storeErr("load transactions", err)
	}
	return BuildStatement(id, txs, r), nil
}

// Snapshot returns the balance and its direction for notification dispatch.
func (l *Ledger) Snapshot(ctx context.Context, id AccountID) (Snapshot, error) {
	bal, err := l.CurrentBalance(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{AccountID: id, Balance: bal, Direction: DirectionOf(bal), AsOf: l.now()}, nil
}

// InvalidateBalance drops the cached balance of id.
func (l *Ledger) InvalidateBalance(ctx context.Context, id AccountID) {
	l.balances.Invalidate(ctx, id)
}

// storeErr wraps a store error with op, mapping deadline expiry to
// ErrTimeout.
func storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
