/*
store.go - Persistence interface for accounts and transactions

PURPOSE:
  Defines the boundary between the ledger service and the database. The
  service owns every rule (validation, credit limits, locking); the store
  only persists and loads.

KEY INTERFACES:
  AccountStore:     Identities, accounts, credit-limit policy
  TransactionStore: Versioned, append-only transaction records
  Store:            Both

APPEND-ONLY CONTRACT:
  - Insert():      writes a new version
  - Supersede():   writes a new version and points the old one at it, atomically
  - MarkDeleted(): sets deleted_at on a live version
  There is no method that rewrites amount, type, or notes of a stored version,
  and no method that removes a row.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - ledger.go: The service that drives these interfaces
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStore persists identities, accounts and credit-limit policy.
type AccountStore interface {
	SaveIdentity(ctx context.Context, id Identity) error
	// IdentityByPhone returns ErrNotFound when no identity owns phone.
	IdentityByPhone(ctx context.Context, phone string) (Identity, error)
	GetIdentity(ctx context.Context, id string) (Identity, error)

	// CreateAccount returns ErrDuplicateAccount if (OwnerID, CounterpartyPhone)
	// already has an account.
	CreateAccount(ctx context.Context, acct Account) error
	// GetAccount returns ErrUnknownAccount when id does not resolve.
	GetAccount(ctx context.Context, id AccountID) (Account, error)
	// FindAccount returns ErrUnknownAccount when the pair has no account.
	FindAccount(ctx context.Context, ownerID, counterpartyPhone string) (Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]Account, error)
	ListAccountsByKind(ctx context.Context, kind AccountKind) ([]Account, error)

	SetAccountCreditLimit(ctx context.Context, id AccountID, limit *decimal.Decimal) error
	SetShopCreditLimit(ctx context.Context, shopID string, limit *decimal.Decimal) error
	// ShopCreditLimit returns nil when the shop has no policy (unlimited).
	ShopCreditLimit(ctx context.Context, shopID string) (*decimal.Decimal, error)
}

// TransactionStore persists transaction versions.
type TransactionStore interface {
	// Insert stores tx and returns it with Seq (and OriginSeq for first
	// versions) assigned.
	Insert(ctx context.Context, tx Transaction) (Transaction, error)

	// Supersede atomically stores next and sets SupersededBy on oldID.
	// Returns ErrImmutableTransaction if oldID is already superseded.
	Supersede(ctx context.Context, oldID TransactionID, next Transaction) (Transaction, error)

	// MarkDeleted sets DeletedAt on a live version. Returns ErrNotFound for
	// unknown or already deleted ids.
	MarkDeleted(ctx context.Context, id TransactionID, at time.Time, by string) error

	// Get returns any version, live or not. ErrNotFound if unknown.
	Get(ctx context.Context, id TransactionID) (Transaction, error)

	// Load returns every version for the account ordered by
	// (CreatedAt, OriginSeq, Version), oldest first.
	Load(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// LoadChain returns every version sharing originID, oldest first.
	LoadChain(ctx context.Context, originID TransactionID) ([]Transaction, error)

	// FindByIdempotencyKey looks up a version by key within one account.
	FindByIdempotencyKey(ctx context.Context, accountID AccountID, key string) (Transaction, bool, error)
}

// Store is everything the ledger service needs.
type Store interface {
	AccountStore
	TransactionStore
}

// LiveOnly filters txs down to versions that count toward balances.
func LiveOnly(txs []Transaction) []Transaction {
	out := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Live() {
			out = append(out, tx)
		}
	}
	return out
}
