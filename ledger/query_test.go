package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udhaar/credit-ledger/ledger"
)

func ids(txs []ledger.Transaction) []ledger.TransactionID {
	out := make([]ledger.TransactionID, len(txs))
	for i, tx := range txs {
		out[i] = tx.OriginID
	}
	return out
}

func TestQuery_NewestFirstWithCursor(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	acct := openShopAccount(t, l, "shop-1", "9876543210")

	var created []ledger.TransactionID
	for i := 0; i < 7; i++ {
		created = append(created, appendTx(t, l, acct.ID, "10", ledger.PaymentUdhaar).ID)
	}

	var seen []ledger.TransactionID
	cursor := ""
	pages := 0
	for {
		page, err := l.Query(ctx, acct.ID, ledger.Filter{Limit: 3, Cursor: cursor})
		require.NoError(t, err)
		seen = append(seen, ids(page.Items)...)
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, 3, pages)
	want := make([]ledger.TransactionID, 0, len(created))
	for i := len(created) - 1; i >= 0; i-- {
		want = append(want, created[i])
	}
	assert.Equal(t, want, seen)
}

func TestQuery_CursorStableUnderConcurrentWrites(t *testing.T) {
	// GIVEN: a first page of 3 out of 6 entries
	// WHEN: new entries are appended and a page-2 entry is edited
	// THEN: page 2 continues exactly where page 1 stopped
	l, _ := newTestLedger(t)
	ctx := context.Background()
	acct := openShopAccount(t, l, "shop-1", "9876543210")

	var created []ledger.Transaction
	for i := 0; i < 6; i++ {
		created = append(created, appendTx(t, l, acct.ID, "10", ledger.PaymentUdhaar))
	}

	first, err := l.Query(ctx, acct.ID, ledger.Filter{Limit: 3})
	require.NoError(t, err)
	require.NotEmpty(t, first.NextCursor)
	assert.Equal(t, []ledger.TransactionID{created[5].ID, created[4].ID, created[3].ID}, ids(first.Items))

	appendTx(t, l, acct.ID, "99", ledger.PaymentCash)
	appendTx(t, l, acct.ID, "98", ledger.PaymentCash)
	_, err = l.Edit(ctx, created[1].ID, ledger.Patch{Amount: moneyPtr("11")})
	require.NoError(t, err)

	second, err := l.Query(ctx, acct.ID, ledger.Filter{Limit: 3, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, []ledger.TransactionID{created[2].ID, created[1].ID, created[0].ID}, ids(second.Items))
	assert.True(t, second.Items[1].Amount.Equal(money("11")), "edited entry keeps its position")
	assert.Empty(t, second.NextCursor)
}

func TestQuery_Filters(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	acct := openShopAccount(t, l, "shop-1", "9876543210")

	day1 := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)
	clock.Set(day1)
	rice, err := l.Append(ctx, ledger.AppendInput{AccountID: acct.ID, Amount: money("450"), PaymentType: ledger.PaymentUdhaar, Notes: "chawal 5kg"})
	require.NoError(t, err)
	cash, err := l.Append(ctx, ledger.AppendInput{AccountID: acct.ID, Amount: money("200"), PaymentType: ledger.PaymentCash, Notes: "part payment"})
	require.NoError(t, err)
	clock.Set(day1.AddDate(0, 0, 2))
	upi, err := l.Append(ctx, ledger.AppendInput{AccountID: acct.ID, Amount: money("50"), PaymentType: ledger.PaymentUPI, Notes: "gpay"})
	require.NoError(t, err)
	oil, err := l.Append(ctx, ledger.AppendInput{AccountID: acct.ID, Amount: money("180"), PaymentType: ledger.PaymentUdhaar, Notes: "sarson oil"})
	require.NoError(t, err)

	cases := []struct {
		name   string
		filter ledger.Filter
		want   []ledger.TransactionID
	}{
		{"payment types", ledger.Filter{PaymentTypes: []ledger.PaymentType{ledger.PaymentCash, ledger.PaymentUPI}}, []ledger.TransactionID{upi.ID, cash.ID}},
		{"amount range", ledger.Filter{MinAmount: moneyPtr("100"), MaxAmount: moneyPtr("200")}, []ledger.TransactionID{oil.ID, cash.ID}},
		{"date range", ledger.Filter{Range: ledger.DateRange{From: day1, To: day1.AddDate(0, 0, 1)}}, []ledger.TransactionID{cash.ID, rice.ID}},
		{"search substring", ledger.Filter{Search: "PAYMENT"}, []ledger.TransactionID{cash.ID}},
		{"search fuzzy", ledger.Filter{Search: "chaval"}, []ledger.TransactionID{rice.ID}},
		{"search all terms", ledger.Filter{Search: "sarson oil"}, []ledger.TransactionID{oil.ID}},
		{"short term is exact", ledger.Filter{Search: "oel"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := l.Query(ctx, acct.ID, tc.filter)
			require.NoError(t, err)
			if tc.want == nil {
				assert.Empty(t, page.Items)
				return
			}
			assert.Equal(t, tc.want, ids(page.Items))
		})
	}
}

func TestQuery_DeletedOnlyOnRequest(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	acct := openShopAccount(t, l, "shop-1", "9876543210")

	keep := appendTx(t, l, acct.ID, "10", ledger.PaymentUdhaar)
	gone := appendTx(t, l, acct.ID, "20", ledger.PaymentUdhaar)
	_, err := l.SoftDelete(ctx, gone.ID, "owner")
	require.NoError(t, err)

	page, err := l.Query(ctx, acct.ID, ledger.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []ledger.TransactionID{keep.ID}, ids(page.Items))

	page, err = l.Query(ctx, acct.ID, ledger.Filter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, []ledger.TransactionID{gone.ID, keep.ID}, ids(page.Items))
	assert.NotNil(t, page.Items[0].DeletedAt)
}

func TestQuery_RejectsBadInput(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	acct := openShopAccount(t, l, "shop-1", "9876543210")

	_, err := l.Query(ctx, acct.ID, ledger.Filter{Cursor: "not-a-cursor"})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = l.Query(ctx, acct.ID, ledger.Filter{MinAmount: moneyPtr("10"), MaxAmount: moneyPtr("5")})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = l.Query(ctx, acct.ID, ledger.Filter{Limit: -1})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = l.Query(ctx, "missing", ledger.Filter{})
	assert.ErrorIs(t, err, ledger.ErrUnknownAccount)
}

func TestQuery_HonorsCancellation(t *testing.T) {
	l, _ := newTestLedger(t)
	acct := openShopAccount(t, l, "shop-1", "9876543210")
	appendTx(t, l, acct.ID, "10", ledger.PaymentUdhaar)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Query(ctx, acct.ID, ledger.Filter{})

	assert.ErrorIs(t, err, context.Canceled)
}
