/*
Package reconcile compares two independently kept ledgers of one
relationship.

PURPOSE:
  The owner keeps a ledger about a counterparty phone. If that phone belongs
  to a registered party, the counterparty keeps its own ledger about the
  owner. Reconciliation reads both and reports whether they agree. It never
  writes to either side and never corrects one from the other: fixing a
  disagreement takes a new entry on one or both ledgers.

SIGNS:
  myBalance     owner's books:        GAVE +, TOOK - (or UDHAAR +, CASH/UPI -)
  theirBalance  counterparty's books: same convention, from their side
  When both sides agree, one's receivable is the other's payable:

      myBalance + theirBalance == 0      (within 0.01)

  ImpliedBalance = -theirBalance is what the counterparty's books say the
  owner's balance should be.

EXAMPLES:
  Owner GAVE 200 to X, X recorded TOOK 200 from owner:
      my = +200, their = -200, matched
  Owner (a customer) TOOK 500 of goods from shop S, S recorded UDHAAR 500:
      my = -500, their = +500, matched

SEE ALSO:
  - records.go: PersonalEntry / ShopSale union and their sign functions
  - scan.go: sweep of every linked personal ledger
*/
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/udhaar/credit-ledger/ledger"
)

// Reader is the read-only slice of a ledger store reconciliation needs.
// ledger.Store satisfies it.
type Reader interface {
	GetIdentity(ctx context.Context, id string) (ledger.Identity, error)
	IdentityByPhone(ctx context.Context, phone string) (ledger.Identity, error)
	FindAccount(ctx context.Context, ownerID, counterpartyPhone string) (ledger.Account, error)
	ListAccountsByKind(ctx context.Context, kind ledger.AccountKind) ([]ledger.Account, error)
	Load(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error)
}

// Stats summarizes the owner's side.
type Stats struct {
	Balance decimal.Decimal
	// TotalGave sums entries that raise what the counterparty owes
	// (GAVE, or UDHAAR on a shop ledger); TotalTook sums the rest.
	TotalGave decimal.Decimal
	TotalTook decimal.Decimal
	Count     int
}

// View is the reconciled picture of one (owner, counterparty phone) pair.
type View struct {
	OwnerID           string
	CounterpartyPhone string

	// Linked is true when the phone belongs to a registered party.
	Linked       bool
	Counterparty *ledger.Identity
	// CounterpartyAccount is the counterparty's ledger about the owner, nil
	// when they keep none.
	CounterpartyAccount *ledger.Account

	MyAccount       *ledger.Account
	MyEntries       []ledger.Transaction
	TeammateRecords []Record
	MyStats         Stats

	TheirBalance   decimal.Decimal
	ImpliedBalance decimal.Decimal
	Discrepancy    decimal.Decimal // MyStats.Balance + TheirBalance
	Matched        bool
}

// Observer is told about every view with a linked counterparty.
type Observer interface {
	Reconciled(matched bool)
}

type nopObserver struct{}

func (nopObserver) Reconciled(bool) {}

// =============================================================================
// RECONCILER
// =============================================================================

type Reconciler struct {
	mine     Reader
	theirs   Reader
	logger   *slog.Logger
	observer Observer
}

type Option func(*Reconciler)

func WithLogger(l *slog.Logger) Option { return func(r *Reconciler) { r.logger = l } }
func WithObserver(o Observer) Option   { return func(r *Reconciler) { r.observer = o } }

// New reads the owner's side from mine and the counterparty's side from
// theirs. In a single deployment both are the same store.
func New(mine, theirs Reader, opts ...Option) *Reconciler {
	r := &Reconciler{mine: mine, theirs: theirs, observer: nopObserver{}}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// View builds the reconciled view for ownerID and counterpartyPhone. Both
// sides are fetched concurrently.
func (r *Reconciler) View(ctx context.Context, ownerID, counterpartyPhone string) (View, error) {
	phone := ledger.NormalizePhone(counterpartyPhone)
	if phone == "" {
		return View{}, ledger.Invalid("counterpartyPhone", "required")
	}
	if ownerID == "" {
		return View{}, ledger.Invalid("ownerId", "required")
	}

	v := View{OwnerID: ownerID, CounterpartyPhone: phone}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		acct, entries, err := r.mySide(gctx, ownerID, phone)
		if err != nil {
			return fmt.Errorf("owner ledger: %w", err)
		}
		v.MyAccount = acct
		v.MyEntries = entries
		return nil
	})

	g.Go(func() error {
		ident, acct, records, err := r.theirSide(gctx, ownerID, phone)
		if err != nil {
			return fmt.Errorf("counterparty ledger: %w", err)
		}
		v.Counterparty = ident
		v.Linked = ident != nil
		v.CounterpartyAccount = acct
		v.TeammateRecords = records
		return nil
	})

	if err := g.Wait(); err != nil {
		return View{}, err
	}

	v.MyStats = statsOf(v.MyEntries)
	v.TheirBalance = Sum(v.TeammateRecords)
	v.ImpliedBalance = v.TheirBalance.Neg()
	v.Discrepancy = v.MyStats.Balance.Add(v.TheirBalance)
	v.Matched = v.Linked && v.Discrepancy.Abs().LessThan(ledger.MatchEpsilon)

	if v.Linked {
		r.observer.Reconciled(v.Matched)
		if !v.Matched {
			r.logger.Debug("ledgers disagree",
				slog.String("owner", ownerID),
				slog.String("phone", phone),
				slog.String("mine", v.MyStats.Balance.StringFixed(ledger.MoneyPlaces)),
				slog.String("theirs", v.TheirBalance.StringFixed(ledger.MoneyPlaces)))
		}
	}
	return v, nil
}

func (r *Reconciler) mySide(ctx context.Context, ownerID, phone string) (*ledger.Account, []ledger.Transaction, error) {
	acct, err := r.mine.FindAccount(ctx, ownerID, phone)
	if errors.Is(err, ledger.ErrUnknownAccount) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	txs, err := r.mine.Load(ctx, acct.ID)
	if err != nil {
		return nil, nil, err
	}
	return &acct, ledger.LiveOnly(txs), nil
}

func (r *Reconciler) theirSide(ctx context.Context, ownerID, phone string) (*ledger.Identity, *ledger.Account, []Record, error) {
	ident, err := r.theirs.IdentityByPhone(ctx, phone)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil, nil, nil
	}
	if err != nil {
		return nil, nil, nil, err
	}

	// The counterparty files its ledger under the owner's phone.
	owner, err := r.mine.GetIdentity(ctx, ownerID)
	if errors.Is(err, ledger.ErrNotFound) {
		return &ident, nil, nil, nil
	}
	if err != nil {
		return nil, nil, nil, err
	}

	acct, err := r.theirs.FindAccount(ctx, ident.ID, owner.Phone)
	if errors.Is(err, ledger.ErrUnknownAccount) {
		return &ident, nil, nil, nil
	}
	if err != nil {
		return nil, nil, nil, err
	}
	txs, err := r.theirs.Load(ctx, acct.ID)
	if err != nil {
		return nil, nil, nil, err
	}

	live := ledger.LiveOnly(txs)
	records := make([]Record, 0, len(live))
	for _, tx := range live {
		rec, err := wrap(acct.Kind, tx)
		if err != nil {
			return nil, nil, nil, err
		}
		records = append(records, rec)
	}
	return &ident, &acct, records, nil
}

func statsOf(entries []ledger.Transaction) Stats {
	s := Stats{Balance: decimal.Zero, TotalGave: decimal.Zero, TotalTook: decimal.Zero}
	for _, tx := range entries {
		signed := tx.SignedAmount()
		s.Balance = s.Balance.Add(signed)
		if signed.IsPositive() {
			s.TotalGave = s.TotalGave.Add(tx.Amount)
		} else {
			s.TotalTook = s.TotalTook.Add(tx.Amount)
		}
		s.Count++
	}
	return s
}
