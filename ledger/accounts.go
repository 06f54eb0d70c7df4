package ledger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// RegisterIdentity stores a party so its phone can be linked from other
// parties' ledgers.
func (l *Ledger) RegisterIdentity(ctx context.Context, id Identity) (Identity, error) {
	id.Phone = NormalizePhone(id.Phone)
	if id.Phone == "" {
		return Identity{}, Invalid("phone", "required")
	}
	if id.Kind != IdentityPerson && id.Kind != IdentityShop {
		return Identity{}, Invalid("kind", "must be %q or %q", IdentityPerson, IdentityShop)
	}
	if id.ID == "" {
		id.ID = l.newID()
	}
	if id.CreatedAt.IsZero() {
		id.CreatedAt = l.now()
	}
	if err := l.store.SaveIdentity(ctx, id); err != nil {
		return Identity{}, storeErr("save identity", err)
	}
	return id, nil
}

// ResolvePhone returns the identity registered for phone.
func (l *Ledger) ResolvePhone(ctx context.Context, phone string) (Identity, error) {
	id, err := l.store.IdentityByPhone(ctx, NormalizePhone(phone))
	if err != nil {
		return Identity{}, storeErr("resolve phone", err)
	}
	return id, nil
}

type OpenAccountInput struct {
	Kind              AccountKind
	OwnerID           string
	CounterpartyPhone string
	CounterpartyName  string
	CreditLimit       *decimal.Decimal
}

// OpenAccount creates the ledger for one (owner, counterparty phone) pair.
func (l *Ledger) OpenAccount(ctx context.Context, in OpenAccountInput) (Account, error) {
	if in.Kind != AccountShop && in.Kind != AccountPersonal {
		return Account{}, Invalid("kind", "must be %q or %q", AccountShop, AccountPersonal)
	}
	if strings.TrimSpace(in.OwnerID) == "" {
		return Account{}, Invalid("ownerId", "required")
	}
	phone := NormalizePhone(in.CounterpartyPhone)
	if phone == "" {
		return Account{}, Invalid("counterpartyPhone", "required")
	}
	if in.CreditLimit != nil && in.Kind != AccountShop {
		return Account{}, Invalid("creditLimit", "only shop accounts carry a credit limit")
	}
	if err := validateLimit(in.CreditLimit); err != nil {
		return Account{}, err
	}

	acct := Account{
		ID:                AccountID(l.newID()),
		Kind:              in.Kind,
		OwnerID:           in.OwnerID,
		CounterpartyPhone: phone,
		CounterpartyName:  in.CounterpartyName,
		CreditLimit:       in.CreditLimit,
		CreatedAt:         l.now(),
	}
	if ident, err := l.store.IdentityByPhone(ctx, phone); err == nil {
		acct.CounterpartyID = ident.ID
	} else if !IsNotFound(err) {
		return Account{}, storeErr("resolve phone", err)
	}

	if err := l.store.CreateAccount(ctx, acct); err != nil {
		return Account{}, storeErr("create account", err)
	}
	l.logger.Info("account opened",
		slog.String("account", string(acct.ID)),
		slog.String("kind", string(acct.Kind)),
		slog.String("owner", acct.OwnerID))
	return acct, nil
}

func (l *Ledger) GetAccount(ctx context.Context, id AccountID) (Account, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return Account{}, storeErr("resolve account", err)
	}
	return acct, nil
}

func (l *Ledger) FindAccount(ctx context.Context, ownerID, phone string) (Account, error) {
	acct, err := l.store.FindAccount(ctx, ownerID, NormalizePhone(phone))
	if err != nil {
		return Account{}, storeErr("find account", err)
	}
	return acct, nil
}

func (l *Ledger) ListAccounts(ctx context.Context, ownerID string) ([]Account, error) {
	accts, err := l.store.ListAccounts(ctx, ownerID)
	if err != nil {
		return nil, storeErr("list accounts", err)
	}
	return accts, nil
}

// SetAccountCreditLimit overrides the shop policy for one customer. A nil
// limit removes the override.
func (l *Ledger) SetAccountCreditLimit(ctx context.Context, id AccountID, limit *decimal.Decimal) error {
	if err := validateLimit(limit); err != nil {
		return err
	}
	acct, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return storeErr("resolve account", err)
	}
	if acct.Kind != AccountShop {
		return Invalid("creditLimit", "only shop accounts carry a credit limit")
	}

	// Serialize with in-flight admissions on this account.
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	unlock, err := l.locks.Lock(ctx, string(id))
	if err != nil {
		return err
	}
	defer unlock()

	if err := l.store.SetAccountCreditLimit(ctx, id, limit); err != nil {
		return storeErr("set credit limit", err)
	}
	return nil
}

// SetShopCreditLimit sets the default limit for every customer of shopID.
// A nil limit means unlimited.
func (l *Ledger) SetShopCreditLimit(ctx context.Context, shopID string, limit *decimal.Decimal) error {
	if strings.TrimSpace(shopID) == "" {
		return Invalid("shopId", "required")
	}
	if err := validateLimit(limit); err != nil {
		return err
	}
	if err := l.store.SetShopCreditLimit(ctx, shopID, limit); err != nil {
		return storeErr("set shop credit limit", err)
	}
	l.logger.Info("shop credit limit set", slog.String("shop", shopID), slog.Bool("unlimited", limit == nil))
	return nil
}
