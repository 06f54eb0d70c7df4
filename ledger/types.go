/*
Package ledger provides the credit ledger core.

PURPOSE:
  Records money owed between two phone-addressed parties. A shop extends
  store credit (udhaar) to its customers; people track what they gave to and
  took from each other. Every change is a Transaction appended to the
  account's log, and every balance is derived from that log.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identity:    A registered party (person or shop) addressed by phone
  - Account:     One owner's view of one relationship (owner, counterparty phone)
  - Transaction: An immutable, versioned ledger entry
  - PaymentType: CASH/UPI/UDHAAR on shop accounts, GAVE/TOOK on personal ones

DESIGN PRINCIPLES:
  1. Derived balance: no balance field exists on Account
  2. Precision: decimal.Decimal with two fractional digits, never float64
  3. Versioned edits: an edit writes a new version and supersedes the old one
  4. Soft delete: DeletedAt is set, the record stays for audit

SIGN CONVENTION:
  Shop account:     UDHAAR +amount, CASH -amount, UPI -amount
                    balance > 0 means the customer owes the shop
  Personal account: GAVE +amount, TOOK -amount
                    balance > 0 means the counterparty owes the owner

SEE ALSO:
  - ledger.go: Append/Edit/SoftDelete
  - balance.go: Balance derivation and statements
  - store.go: Persistence interface
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of fractional digits an amount may carry.
const MoneyPlaces = 2

// MatchEpsilon is the tolerance used when comparing two independently
// derived balances.
var MatchEpsilon = decimal.New(1, -MoneyPlaces)

// MustParseMoney parses a decimal string and panics on malformed input.
// Intended for tests and fixtures.
func MustParseMoney(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// ValidateAmount reports ErrInvalidAmount for zero, negative, or
// sub-minor-unit amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &AmountError{Amount: amount, Reason: "must be greater than zero"}
	}
	if !amount.Equal(amount.Round(MoneyPlaces)) {
		return &AmountError{Amount: amount, Reason: "more than two decimal places"}
	}
	return nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string

// =============================================================================
// IDENTITY
// =============================================================================

type IdentityKind string

const (
	IdentityPerson IdentityKind = "person"
	IdentityShop   IdentityKind = "shop"
)

// Identity is a registered party. A phone maps to at most one identity.
type Identity struct {
	ID        string
	Phone     string
	Kind      IdentityKind
	Name      string
	CreatedAt time.Time
}

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountKind string

const (
	AccountShop     AccountKind = "shop"
	AccountPersonal AccountKind = "personal"
)

// Account is one owner's ledger about one counterparty.
//
// For a shop account OwnerID is the shop and CounterpartyPhone the customer.
// For a personal account OwnerID is a person and CounterpartyPhone the contact.
type Account struct {
	ID                AccountID
	Kind              AccountKind
	OwnerID           string
	CounterpartyPhone string
	CounterpartyName  string
	// CounterpartyID is set when the counterparty was a registered identity
	// at creation time. Reconciliation resolves links by phone regardless.
	CounterpartyID string
	// CreditLimit overrides the shop policy when non-nil. Shop accounts only.
	CreditLimit *decimal.Decimal
	CreatedAt   time.Time
}

// =============================================================================
// PAYMENT TYPE / SOURCE
// =============================================================================

type PaymentType string

const (
	PaymentCash   PaymentType = "CASH"
	PaymentUPI    PaymentType = "UPI"
	PaymentUdhaar PaymentType = "UDHAAR"
	PaymentGave   PaymentType = "GAVE"
	PaymentTook   PaymentType = "TOOK"
)

// Sign returns +1 for entries that increase what the counterparty owes the
// account owner and -1 for entries that decrease it. Unknown types return 0.
func (p PaymentType) Sign() int {
	switch p {
	case PaymentUdhaar, PaymentGave:
		return 1
	case PaymentCash, PaymentUPI, PaymentTook:
		return -1
	}
	return 0
}

// Signed applies the sign of p to amount.
func (p PaymentType) Signed(amount decimal.Decimal) decimal.Decimal {
	switch p.Sign() {
	case 1:
		return amount
	case -1:
		return amount.Neg()
	}
	return decimal.Zero
}

// AllowedOn reports whether p may be recorded on an account of kind k.
func (p PaymentType) AllowedOn(k AccountKind) bool {
	switch k {
	case AccountShop:
		return p == PaymentCash || p == PaymentUPI || p == PaymentUdhaar
	case AccountPersonal:
		return p == PaymentGave || p == PaymentTook
	}
	return false
}

type Source string

const (
	SourceManual  Source = "MANUAL"
	SourceOrder   Source = "ORDER"
	SourcePayment Source = "PAYMENT"
)

func (s Source) Valid() bool {
	return s == SourceManual || s == SourceOrder || s == SourcePayment
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Transaction is one immutable version of a ledger entry.
//
// An edit never changes a stored version. It writes a new version sharing
// OriginID and CreatedAt, and points the previous version's SupersededBy at
// it. Ordering in statements and pages uses (CreatedAt, OriginSeq), so an
// edited entry keeps its place.
type Transaction struct {
	ID          TransactionID
	AccountID   AccountID
	Amount      decimal.Decimal
	PaymentType PaymentType
	Source      Source
	Notes       string
	ReferenceID string

	IdempotencyKey string

	// Version chain
	OriginID     TransactionID
	OriginSeq    int64
	Version      int
	SupersededBy TransactionID

	// Audit fields
	Seq       int64 // assigned by the store, unique and increasing
	CreatedAt time.Time
	CreatedBy string
	EditedAt  *time.Time
	EditedBy  string
	DeletedAt *time.Time
	DeletedBy string
}

// Live reports whether the version counts toward balances and listings.
func (t Transaction) Live() bool {
	return t.SupersededBy == "" && t.DeletedAt == nil
}

// SignedAmount is the transaction's contribution to its account balance.
func (t Transaction) SignedAmount() decimal.Decimal {
	return t.PaymentType.Signed(t.Amount)
}

// before orders transactions by creation, oldest first.
func (t Transaction) before(o Transaction) bool {
	if !t.CreatedAt.Equal(o.CreatedAt) {
		return t.CreatedAt.Before(o.CreatedAt)
	}
	if t.OriginSeq != o.OriginSeq {
		return t.OriginSeq < o.OriginSeq
	}
	return t.Version < o.Version
}
