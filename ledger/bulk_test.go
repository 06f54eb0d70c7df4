package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udhaar/credit-ledger/ledger"
)

func TestBulkDelete_OneMissingID(t *testing.T) {
	// GIVEN: three entries
	// WHEN: deleting them plus one id that does not exist
	// THEN: the three succeed, exactly the missing id reports not_found
	l, _ := newTestLedger(t, ledger.WithBulkConcurrency(2))
	ctx := context.Background()
	acct := openShopAccount(t, l, "shop-1", "9876543210")

	a := appendTx(t, l, acct.ID, "100", ledger.PaymentUdhaar)
	b := appendTx(t, l, acct.ID, "200", ledger.PaymentUdhaar)
	c := appendTx(t, l, acct.ID, "300", ledger.PaymentUdhaar)
	keep := appendTx(t, l, acct.ID, "50", ledger.PaymentUdhaar)
	requireBalance(t, l, acct.ID, "650")

	results, err := l.BulkDelete(ctx, []ledger.TransactionID{a.ID, "missing", b.ID, c.ID}, "owner")
	require.NoError(t, err)
	require.Len(t, results, 4)

	for i, want := range []ledger.TransactionID{a.ID, "missing", b.ID, c.ID} {
		assert.Equal(t, want, results[i].ID, "results keep input order")
	}
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.Equal(t, ledger.KindNotFound, results[1].Kind)
	assert.NotEmpty(t, results[1].Error)
	assert.True(t, results[2].OK)
	assert.True(t, results[3].OK)

	requireBalance(t, l, acct.ID, keep.Amount.String())
}

func TestBulkEdit_PartialFailureKeepsSuccesses(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	acct := openShopAccount(t, l, "shop-1", "9876543210")

	manual := appendTx(t, l, acct.ID, "100", ledger.PaymentUdhaar)
	fromOrder, err := l.PostOrderSale(ctx, ledger.OrderSale{
		AccountID: acct.ID, OrderID: "order-1", Amount: money("140"), PaymentType: ledger.PaymentUdhaar,
	})
	require.NoError(t, err)

	results, err := l.BulkEdit(ctx, []ledger.TransactionID{manual.ID, fromOrder.ID}, ledger.Patch{Amount: moneyPtr("120")})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].OK)
	require.NotNil(t, results[0].Transaction)
	assert.Equal(t, 2, results[0].Transaction.Version)
	assert.False(t, results[1].OK)
	assert.Equal(t, ledger.KindImmutableTransaction, results[1].Kind)

	requireBalance(t, l, acct.ID, "260")
}

func TestBulk_SpansAccountsAndInvalidatesEach(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	a := openShopAccount(t, l, "shop-1", "9876543210")
	b := openShopAccount(t, l, "shop-1", "9876543211")

	txA := appendTx(t, l, a.ID, "100", ledger.PaymentUdhaar)
	txB := appendTx(t, l, b.ID, "200", ledger.PaymentUdhaar)
	requireBalance(t, l, a.ID, "100") // warm the cache
	requireBalance(t, l, b.ID, "200")

	results, err := l.BulkDelete(ctx, []ledger.TransactionID{txA.ID, txB.ID}, "owner")
	require.NoError(t, err)
	assert.True(t, results[0].OK)
	assert.True(t, results[1].OK)

	requireBalance(t, l, a.ID, "0")
	requireBalance(t, l, b.ID, "0")
}

func TestBulk_DuplicateIDReportsSecondAttempt(t *testing.T) {
	l, _ := newTestLedger(t, ledger.WithBulkConcurrency(1))
	ctx := context.Background()
	acct := openShopAccount(t, l, "shop-1", "9876543210")
	tx := appendTx(t, l, acct.ID, "100", ledger.PaymentUdhaar)

	results, err := l.BulkDelete(ctx, []ledger.TransactionID{tx.ID, tx.ID}, "owner")
	require.NoError(t, err)

	assert.True(t, results[0].OK)
	assert.Equal(t, ledger.KindNotFound, results[1].Kind)
}

func TestBulk_RejectsEmptyInput(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.BulkDelete(ctx, nil, "owner")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = l.BulkEdit(ctx, []ledger.TransactionID{"x"}, ledger.Patch{})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}
