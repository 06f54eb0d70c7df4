package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/udhaar/credit-ledger/ledger"
)

var _ ledger.Store = (*Store)(nil)

// =============================================================================
// IDENTITIES
// =============================================================================

func (s *Store) SaveIdentity(ctx context.Context, id ledger.Identity) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT id FROM identities WHERE phone = ?`, id.Phone).Scan(&owner)
		switch {
		case err == nil && owner != id.ID:
			return fmt.Errorf("phone %s is registered to %s: %w", id.Phone, owner, ledger.ErrDuplicateAccount)
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check phone: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO identities (id, phone, kind, name, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				phone = excluded.phone,
				kind = excluded.kind,
				name = excluded.name
		`, id.ID, id.Phone, id.Kind, id.Name, formatTime(id.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to save identity: %w", err)
		}
		return nil
	})
}

const identityColumns = `id, phone, kind, name, created_at`

func (s *Store) IdentityByPhone(ctx context.Context, phone string) (ledger.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE phone = ?`, phone)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Identity{}, fmt.Errorf("identity for phone %s: %w", phone, ledger.ErrNotFound)
	}
	return ident, err
}

func (s *Store) GetIdentity(ctx context.Context, id string) (ledger.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Identity{}, fmt.Errorf("identity %s: %w", id, ledger.ErrNotFound)
	}
	return ident, err
}

func scanIdentity(row scanner) (ledger.Identity, error) {
	var (
		ident     ledger.Identity
		createdAt string
	)
	if err := row.Scan(&ident.ID, &ident.Phone, &ident.Kind, &ident.Name, &createdAt); err != nil {
		return ledger.Identity{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return ledger.Identity{}, fmt.Errorf("identity %s created_at: %w", ident.ID, err)
	}
	ident.CreatedAt = t
	return ident, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, kind, owner_id, counterparty_phone, counterparty_name,
	counterparty_id, credit_limit, created_at`

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, acct.ID, acct.Kind, acct.OwnerID, acct.CounterpartyPhone, acct.CounterpartyName,
		acct.CounterpartyID, formatDecimalPtr(acct.CreditLimit), formatTime(acct.CreatedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("account for %s/%s: %w", acct.OwnerID, acct.CounterpartyPhone, ledger.ErrDuplicateAccount)
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("account %s: %w", id, ledger.ErrUnknownAccount)
	}
	return acct, err
}

func (s *Store) FindAccount(ctx context.Context, ownerID, phone string) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = ? AND counterparty_phone = ?`,
		ownerID, phone)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("account for %s/%s: %w", ownerID, phone, ledger.ErrUnknownAccount)
	}
	return acct, err
}

func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]ledger.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
}

func (s *Store) ListAccountsByKind(ctx context.Context, kind ledger.AccountKind) ([]ledger.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE kind = ? ORDER BY created_at, id`, kind)
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		acct      ledger.Account
		limit     sql.NullString
		createdAt string
	)
	err := row.Scan(&acct.ID, &acct.Kind, &acct.OwnerID, &acct.CounterpartyPhone,
		&acct.CounterpartyName, &acct.CounterpartyID, &limit, &createdAt)
	if err != nil {
		return ledger.Account{}, err
	}
	if acct.CreditLimit, err = parseDecimalPtr(limit); err != nil {
		return ledger.Account{}, fmt.Errorf("account %s credit_limit: %w", acct.ID, err)
	}
	if acct.CreatedAt, err = parseTime(createdAt); err != nil {
		return ledger.Account{}, fmt.Errorf("account %s created_at: %w", acct.ID, err)
	}
	return acct, nil
}

// =============================================================================
// CREDIT LIMITS
// =============================================================================

func (s *Store) SetAccountCreditLimit(ctx context.Context, id ledger.AccountID, limit *decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET credit_limit = ? WHERE id = ?`,
		formatDecimalPtr(limit), id)
	if err != nil {
		return fmt.Errorf("failed to set credit limit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, ledger.ErrUnknownAccount)
	}
	return nil
}

func (s *Store) SetShopCreditLimit(ctx context.Context, shopID string, limit *decimal.Decimal) error {
	var err error
	if limit == nil {
		_, err = s.db.ExecContext(ctx, `DELETE FROM shop_credit_limits WHERE shop_id = ?`, shopID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO shop_credit_limits (shop_id, credit_limit) VALUES (?, ?)
			ON CONFLICT(shop_id) DO UPDATE SET credit_limit = excluded.credit_limit
		`, shopID, limit.String())
	}
	if err != nil {
		return fmt.Errorf("failed to set shop credit limit: %w", err)
	}
	return nil
}

func (s *Store) ShopCreditLimit(ctx context.Context, shopID string) (*decimal.Decimal, error) {
	var limit sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT credit_limit FROM shop_credit_limits WHERE shop_id = ?`, shopID).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load shop credit limit: %w", err)
	}
	return parseDecimalPtr(limit)
}

// =============================================================================
// TRANSACTIONS - append-only
// =============================================================================

const transactionColumns = `seq, id, account_id, amount, payment_type, source, notes,
	reference_id, idempotency_key, origin_id, origin_seq, version, superseded_by,
	created_at, created_by, edited_at, edited_by, deleted_at, deleted_by`

// creationOrder matches ledger's (CreatedAt, OriginSeq, Version) ordering.
const creationOrder = ` ORDER BY created_at, origin_seq, version`

func (s *Store) Insert(ctx context.Context, t ledger.Transaction) (ledger.Transaction, error) {
	var stored ledger.Transaction
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		stored, err = insertTransaction(ctx, tx, t)
		return err
	})
	return stored, err
}

func (s *Store) Supersede(ctx context.Context, oldID ledger.TransactionID, next ledger.Transaction) (ledger.Transaction, error) {
	var stored ledger.Transaction
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var supersededBy string
		err := tx.QueryRowContext(ctx,
			`SELECT superseded_by FROM transactions WHERE id = ?`, oldID).Scan(&supersededBy)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transaction %s: %w", oldID, ledger.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load transaction: %w", err)
		}
		if supersededBy != "" {
			return fmt.Errorf("transaction %s already superseded: %w", oldID, ledger.ErrImmutableTransaction)
		}

		if stored, err = insertTransaction(ctx, tx, next); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE transactions SET superseded_by = ? WHERE id = ?`, stored.ID, oldID)
		if err != nil {
			return fmt.Errorf("failed to supersede transaction: %w", err)
		}
		return nil
	})
	return stored, err
}

// insertTransaction assigns Seq, and OriginSeq for first versions, from the
// current maximum. Callers hold a database transaction.
func insertTransaction(ctx context.Context, q querier, t ledger.Transaction) (ledger.Transaction, error) {
	var seq int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM transactions`).Scan(&seq); err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to allocate seq: %w", err)
	}
	t.Seq = seq
	if t.OriginSeq == 0 {
		t.OriginSeq = seq
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.Seq, t.ID, t.AccountID, t.Amount.String(), t.PaymentType, t.Source, t.Notes,
		t.ReferenceID, t.IdempotencyKey, t.OriginID, t.OriginSeq, t.Version, t.SupersededBy,
		formatTime(t.CreatedAt), t.CreatedBy, formatTimePtr(t.EditedAt), t.EditedBy,
		formatTimePtr(t.DeletedAt), t.DeletedBy,
	)
	if isUniqueConstraintError(err) {
		if t.IdempotencyKey != "" {
			return ledger.Transaction{}, ledger.Invalid("idempotencyKey", "key %q already used", t.IdempotencyKey)
		}
		return ledger.Transaction{}, fmt.Errorf("transaction %s already stored: %w", t.ID, ledger.ErrValidation)
	}
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return t, nil
}

func (s *Store) MarkDeleted(ctx context.Context, id ledger.TransactionID, at time.Time, by string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET deleted_at = ?, deleted_by = ?
		WHERE id = ? AND deleted_at IS NULL
	`, formatTime(at), by, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	return t, err
}

func (s *Store) Load(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE account_id = ?`+creationOrder, accountID)
}

func (s *Store) LoadChain(ctx context.Context, originID ledger.TransactionID) ([]ledger.Transaction, error) {
	chain, err := s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE origin_id = ?`+creationOrder, originID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", originID, ledger.ErrNotFound)
	}
	return chain, nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, accountID ledger.AccountID, key string) (ledger.Transaction, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE account_id = ? AND idempotency_key = ?`,
		accountID, key)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	return t, true, nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		t         ledger.Transaction
		amount    string
		createdAt string
		editedAt  sql.NullString
		deletedAt sql.NullString
	)
	err := row.Scan(
		&t.Seq, &t.ID, &t.AccountID, &amount, &t.PaymentType, &t.Source, &t.Notes,
		&t.ReferenceID, &t.IdempotencyKey, &t.OriginID, &t.OriginSeq, &t.Version, &t.SupersededBy,
		&createdAt, &t.CreatedBy, &editedAt, &t.EditedBy, &deletedAt, &t.DeletedBy,
	)
	if err != nil {
		return ledger.Transaction{}, err
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %s amount: %w", t.ID, err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %s created_at: %w", t.ID, err)
	}
	if t.EditedAt, err = parseTimePtr(editedAt); err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %s edited_at: %w", t.ID, err)
	}
	if t.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %s deleted_at: %w", t.ID, err)
	}
	return t, nil
}
