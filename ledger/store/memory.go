// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/udhaar/credit-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	identities map[string]ledger.Identity
	byPhone    map[string]string // phone -> identity id

	accounts   map[ledger.AccountID]ledger.Account
	byPair     map[pairKey]ledger.AccountID
	shopLimits map[string]decimal.Decimal

	transactions map[ledger.TransactionID]ledger.Transaction
	byAccount    map[ledger.AccountID][]ledger.TransactionID
	idempotency  map[idemKey]ledger.TransactionID

	seq       int64
	originSeq int64
}

type pairKey struct {
	OwnerID string
	Phone   string
}

type idemKey struct {
	AccountID ledger.AccountID
	Key       string
}

var _ ledger.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		identities:   make(map[string]ledger.Identity),
		byPhone:      make(map[string]string),
		accounts:     make(map[ledger.AccountID]ledger.Account),
		byPair:       make(map[pairKey]ledger.AccountID),
		shopLimits:   make(map[string]decimal.Decimal),
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
		byAccount:    make(map[ledger.AccountID][]ledger.TransactionID),
		idempotency:  make(map[idemKey]ledger.TransactionID),
	}
}

// =============================================================================
// IDENTITIES
// =============================================================================

func (m *Memory) SaveIdentity(_ context.Context, id ledger.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.byPhone[id.Phone]; ok && owner != id.ID {
		return fmt.Errorf("phone %s is registered to %s: %w", id.Phone, owner, ledger.ErrDuplicateAccount)
	}
	if prev, ok := m.identities[id.ID]; ok && prev.Phone != id.Phone {
		delete(m.byPhone, prev.Phone)
	}
	m.identities[id.ID] = id
	m.byPhone[id.Phone] = id.ID
	return nil
}

func (m *Memory) IdentityByPhone(_ context.Context, phone string) (ledger.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPhone[phone]
	if !ok {
		return ledger.Identity{}, fmt.Errorf("identity for phone %s: %w", phone, ledger.ErrNotFound)
	}
	return m.identities[id], nil
}

func (m *Memory) GetIdentity(_ context.Context, id string) (ledger.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ident, ok := m.identities[id]
	if !ok {
		return ledger.Identity{}, fmt.Errorf("identity %s: %w", id, ledger.ErrNotFound)
	}
	return ident, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, acct ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{OwnerID: acct.OwnerID, Phone: acct.CounterpartyPhone}
	if _, ok := m.byPair[k]; ok {
		return fmt.Errorf("account for %s/%s: %w", acct.OwnerID, acct.CounterpartyPhone, ledger.ErrDuplicateAccount)
	}
	if _, ok := m.accounts[acct.ID]; ok {
		return fmt.Errorf("account %s: %w", acct.ID, ledger.ErrDuplicateAccount)
	}
	m.accounts[acct.ID] = cloneAccount(acct)
	m.byPair[k] = acct.ID
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[id]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account %s: %w", id, ledger.ErrUnknownAccount)
	}
	return cloneAccount(acct), nil
}

func (m *Memory) FindAccount(_ context.Context, ownerID, phone string) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPair[pairKey{OwnerID: ownerID, Phone: phone}]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account for %s/%s: %w", ownerID, phone, ledger.ErrUnknownAccount)
	}
	return cloneAccount(m.accounts[id]), nil
}

func (m *Memory) ListAccounts(_ context.Context, ownerID string) ([]ledger.Account, error) {
	return m.listWhere(func(a ledger.Account) bool { return a.OwnerID == ownerID }), nil
}

func (m *Memory) ListAccountsByKind(_ context.Context, kind ledger.AccountKind) ([]ledger.Account, error) {
	return m.listWhere(func(a ledger.Account) bool { return a.Kind == kind }), nil
}

func (m *Memory) listWhere(keep func(ledger.Account) bool) []ledger.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Account
	for _, a := range m.accounts {
		if keep(a) {
			out = append(out, cloneAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) SetAccountCreditLimit(_ context.Context, id ledger.AccountID, limit *decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, ledger.ErrUnknownAccount)
	}
	acct.CreditLimit = cloneDecimal(limit)
	m.accounts[id] = acct
	return nil
}

func (m *Memory) SetShopCreditLimit(_ context.Context, shopID string, limit *decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit == nil {
		delete(m.shopLimits, shopID)
		return nil
	}
	m.shopLimits[shopID] = *limit
	return nil
}

func (m *Memory) ShopCreditLimit(_ context.Context, shopID string) (*decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit, ok := m.shopLimits[shopID]
	if !ok {
		return nil, nil
	}
	return &limit, nil
}

// =============================================================================
// TRANSACTIONS - append-only
// =============================================================================

func (m *Memory) Insert(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(tx)
}

func (m *Memory) insertLocked(tx ledger.Transaction) (ledger.Transaction, error) {
	if _, ok := m.transactions[tx.ID]; ok {
		return ledger.Transaction{}, fmt.Errorf("transaction %s already stored: %w", tx.ID, ledger.ErrValidation)
	}
	if tx.IdempotencyKey != "" {
		k := idemKey{AccountID: tx.AccountID, Key: tx.IdempotencyKey}
		if _, ok := m.idempotency[k]; ok {
			return ledger.Transaction{}, ledger.Invalid("idempotencyKey", "key %q already used", tx.IdempotencyKey)
		}
		m.idempotency[k] = tx.ID
	}
	m.seq++
	tx.Seq = m.seq
	if tx.OriginSeq == 0 {
		m.originSeq++
		tx.OriginSeq = m.originSeq
	}
	m.transactions[tx.ID] = tx
	m.byAccount[tx.AccountID] = append(m.byAccount[tx.AccountID], tx.ID)
	return tx, nil
}

func (m *Memory) Supersede(_ context.Context, oldID ledger.TransactionID, next ledger.Transaction) (ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.transactions[oldID]
	if !ok {
		return ledger.Transaction{}, fmt.Errorf("transaction %s: %w", oldID, ledger.ErrNotFound)
	}
	if old.SupersededBy != "" {
		return ledger.Transaction{}, fmt.Errorf("transaction %s already superseded: %w", oldID, ledger.ErrImmutableTransaction)
	}
	stored, err := m.insertLocked(next)
	if err != nil {
		return ledger.Transaction{}, err
	}
	old.SupersededBy = stored.ID
	m.transactions[oldID] = old
	return stored, nil
}

func (m *Memory) MarkDeleted(_ context.Context, id ledger.TransactionID, at time.Time, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok || tx.DeletedAt != nil {
		return fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	tx.DeletedAt = &at
	tx.DeletedBy = by
	m.transactions[id] = tx
	return nil
}

func (m *Memory) Get(_ context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return ledger.Transaction{}, fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	return tx, nil
}

func (m *Memory) Load(_ context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byAccount[accountID]
	result := make([]ledger.Transaction, 0, len(ids))
	for _, id := range ids {
		result = append(result, m.transactions[id])
	}
	sortCreation(result)
	return result, nil
}

func (m *Memory) LoadChain(_ context.Context, originID ledger.TransactionID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	origin, ok := m.transactions[originID]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", originID, ledger.ErrNotFound)
	}
	var chain []ledger.Transaction
	for _, id := range m.byAccount[origin.AccountID] {
		if tx := m.transactions[id]; tx.OriginID == originID {
			chain = append(chain, tx)
		}
	}
	sortCreation(chain)
	return chain, nil
}

func (m *Memory) FindByIdempotencyKey(_ context.Context, accountID ledger.AccountID, key string) (ledger.Transaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.idempotency[idemKey{AccountID: accountID, Key: key}]
	if !ok {
		return ledger.Transaction{}, false, nil
	}
	return m.transactions[id], true, nil
}

func sortCreation(txs []ledger.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.OriginSeq != b.OriginSeq {
			return a.OriginSeq < b.OriginSeq
		}
		return a.Version < b.Version
	})
}

func cloneAccount(a ledger.Account) ledger.Account {
	a.CreditLimit = cloneDecimal(a.CreditLimit)
	return a
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
