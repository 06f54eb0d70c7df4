/*
creditlimit.go - Soft credit-limit admission

PURPOSE:
  Before an UDHAAR entry is committed, compare where the balance would land
  with the account's effective limit. Crossing the limit is a confirmable
  warning, not a hard failure: the caller sees CreditLimitExceededError and
  may resubmit the identical request with Bypass set.

EFFECTIVE LIMIT:
  1. Account.CreditLimit when set (per-customer override)
  2. Otherwise the shop's policy (SetShopCreditLimit)
  3. Otherwise unlimited

RACE:
  The check runs inside the per-account critical section held by Append and
  Edit, so two concurrent UDHAAR entries cannot both pass against the same
  stale balance.

EXAMPLE:
  limit 1000, balance 500
  UDHAAR 600          -> CreditLimitExceededError{500, 1000, 1100, 100}
  UDHAAR 600 + Bypass -> committed, balance 1100
*/
package ledger

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// checkCreditLimit admits an UDHAAR contribution of amount after removing
// the signed contribution `removed` (non-zero only for edits).
func (l *Ledger) checkCreditLimit(ctx context.Context, acct Account, removed, amount decimal.Decimal, pt PaymentType, bypass bool) error {
	if pt != PaymentUdhaar {
		return nil
	}
	limit, err := l.effectiveLimit(ctx, acct)
	if err != nil || limit == nil {
		return err
	}

	current, err := l.balances.CurrentBalance(ctx, acct.ID)
	if err != nil {
		return err
	}
	projected := current.Sub(removed).Add(amount)
	// Entries that lower the balance are always admitted, even when the
	// account is already over its limit.
	if !projected.GreaterThan(*limit) || !projected.GreaterThan(current) {
		return nil
	}

	if bypass {
		l.observer.CreditLimitBypassed(acct.ID)
		l.logger.Info("credit limit bypassed",
			slog.String("account", string(acct.ID)),
			slog.String("limit", limit.StringFixed(MoneyPlaces)),
			slog.String("projected", projected.StringFixed(MoneyPlaces)))
		return nil
	}

	l.observer.CreditLimitRefused(acct.ID)
	return &CreditLimitExceededError{
		AccountID:        acct.ID,
		CurrentBalance:   current,
		CreditLimit:      *limit,
		ProjectedBalance: projected,
		ExceededBy:       projected.Sub(*limit),
	}
}

func (l *Ledger) effectiveLimit(ctx context.Context, acct Account) (*decimal.Decimal, error) {
	if acct.Kind != AccountShop {
		return nil, nil
	}
	if acct.CreditLimit != nil {
		return acct.CreditLimit, nil
	}
	limit, err := l.store.ShopCreditLimit(ctx, acct.OwnerID)
	if err != nil {
		return nil, storeErr("load credit limit policy", err)
	}
	return limit, nil
}

// EffectiveCreditLimit returns the limit applied to id, nil when unlimited.
func (l *Ledger) EffectiveCreditLimit(ctx context.Context, id AccountID) (*decimal.Decimal, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return nil, storeErr("resolve account", err)
	}
	return l.effectiveLimit(ctx, acct)
}

func validateLimit(limit *decimal.Decimal) error {
	if limit == nil {
		return nil
	}
	if limit.IsNegative() {
		return Invalid("creditLimit", "must not be negative")
	}
	if !limit.Equal(limit.Round(MoneyPlaces)) {
		return Invalid("creditLimit", "more than two decimal places")
	}
	return nil
}
