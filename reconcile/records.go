package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/udhaar/credit-ledger/ledger"
)

// =============================================================================
// COUNTERPARTY RECORDS - tagged union
// =============================================================================

// Record is one entry from the counterparty's own ledger. It is either a
// PersonalEntry (the counterparty is a person) or a ShopSale (the
// counterparty is a shop). Each variant resolves its own sign.
type Record interface {
	Transaction() ledger.Transaction
	// Signed is the entry's contribution to the counterparty's balance in
	// the counterparty's own books.
	Signed() decimal.Decimal
	isRecord()
}

// PersonalEntry is a GAVE or TOOK recorded by a person about the owner.
type PersonalEntry struct {
	Tx ledger.Transaction
}

func (e PersonalEntry) Transaction() ledger.Transaction { return e.Tx }
func (PersonalEntry) isRecord()                         {}

// Signed: GAVE means the counterparty gave to the owner, so the owner owes
// them (+ in their books); TOOK is the reverse.
func (e PersonalEntry) Signed() decimal.Decimal {
	switch e.Tx.PaymentType {
	case ledger.PaymentGave:
		return e.Tx.Amount
	case ledger.PaymentTook:
		return e.Tx.Amount.Neg()
	}
	return decimal.Zero
}

// ShopSale is an UDHAAR, CASH or UPI entry recorded by a shop about the
// owner as its customer.
type ShopSale struct {
	Tx ledger.Transaction
}

func (s ShopSale) Transaction() ledger.Transaction { return s.Tx }
func (ShopSale) isRecord()                         {}

// Signed: UDHAAR means the owner bought on credit and owes the shop (+ in
// the shop's books); CASH and UPI pay that debt down.
func (s ShopSale) Signed() decimal.Decimal {
	switch s.Tx.PaymentType {
	case ledger.PaymentUdhaar:
		return s.Tx.Amount
	case ledger.PaymentCash, ledger.PaymentUPI:
		return s.Tx.Amount.Neg()
	}
	return decimal.Zero
}

// wrap tags tx by the kind of ledger it came from.
func wrap(kind ledger.AccountKind, tx ledger.Transaction) (Record, error) {
	if !tx.PaymentType.AllowedOn(kind) {
		return nil, fmt.Errorf("transaction %s: %q on a %s ledger: %w", tx.ID, tx.PaymentType, kind, ledger.ErrValidation)
	}
	switch kind {
	case ledger.AccountShop:
		return ShopSale{Tx: tx}, nil
	case ledger.AccountPersonal:
		return PersonalEntry{Tx: tx}, nil
	}
	return nil, fmt.Errorf("account kind %q: %w", kind, ledger.ErrValidation)
}

// Sum adds up the signed contributions of records.
func Sum(records []Record) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Signed())
	}
	return total
}
