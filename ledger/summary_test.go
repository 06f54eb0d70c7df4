package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/udhaar/credit-ledger/ledger"
)

func TestSummarize_SinglePassAggregates(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	acct := openShopAccount(t, l, "shop-1", "9876543210")

	day1 := time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)
	clock.Set(day1)
	appendTx(t, l, acct.ID, "500", ledger.PaymentUdhaar)
	appendTx(t, l, acct.ID, "100", ledger.PaymentCash)
	clock.Set(day1.AddDate(0, 0, 1))
	appendTx(t, l, acct.ID, "300", ledger.PaymentUdhaar)
	gone := appendTx(t, l, acct.ID, "999", ledger.PaymentUPI)
	_, err := l.SoftDelete(ctx, gone.ID, "owner")
	require.NoError(t, err)

	s, err := l.Summarize(ctx, acct.ID, ledger.DateRange{})
	require.NoError(t, err)

	assert.Equal(t, 3, s.Count)
	assert.True(t, s.Total.Equal(money("900")))
	assert.True(t, s.Net.Equal(money("700")))
	assert.True(t, s.TotalByType[ledger.PaymentUdhaar].Equal(money("800")))
	assert.True(t, s.TotalByType[ledger.PaymentCash].Equal(money("100")))
	_, hasUPI := s.TotalByType[ledger.PaymentUPI]
	assert.False(t, hasUPI, "deleted entries are not aggregated")
	assert.True(t, s.AvgTicket.Equal(money("300")))

	require.Len(t, s.Daily, 2)
	assert.Equal(t, "2025-05-01", s.Daily[0].Date)
	assert.Equal(t, 2, s.Daily[0].Count)
	assert.True(t, s.Daily[0].Net.Equal(money("400")))
	assert.Equal(t, "2025-05-02", s.Daily[1].Date)
	assert.True(t, s.Daily[1].ByType[ledger.PaymentUdhaar].Equal(money("300")))

	require.Len(t, s.TopCounterparties, 1)
	assert.Equal(t, acct.CounterpartyPhone, s.TopCounterparties[0].Phone)

	// Balance and summary agree.
	requireBalance(t, l, acct.ID, s.Net.String())
}

func TestSummarize_RangeAndAverageRounding(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	acct := openShopAccount(t, l, "shop-1", "9876543210")

	day1 := time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)
	clock.Set(day1)
	appendTx(t, l, acct.ID, "10", ledger.PaymentUdhaar)
	appendTx(t, l, acct.ID, "10", ledger.PaymentUdhaar)
	appendTx(t, l, acct.ID, "10.01", ledger.PaymentUdhaar)
	clock.Set(day1.AddDate(0, 1, 0))
	appendTx(t, l, acct.ID, "1000", ledger.PaymentUdhaar)

	s, err := l.Summarize(ctx, acct.ID, ledger.DateRange{From: day1, To: day1.AddDate(0, 0, 1)})
	require.NoError(t, err)

	assert.Equal(t, 3, s.Count)
	assert.True(t, s.AvgTicket.Equal(money("10.00")), "got %s", s.AvgTicket)
}

func TestSummarizeOwner_RanksTopCounterparties(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	phones := []string{"9000000001", "9000000002", "9000000003", "9000000004", "9000000005", "9000000006"}
	amounts := []string{"100", "600", "300", "500", "200", "400"}
	for i, phone := range phones {
		acct := openShopAccount(t, l, "shop-1", phone)
		appendTx(t, l, acct.ID, amounts[i], ledger.PaymentUdhaar)
	}
	other := openShopAccount(t, l, "shop-2", "9000000001")
	appendTx(t, l, other.ID, "10000", ledger.PaymentUdhaar)

	s, err := l.SummarizeOwner(ctx, "shop-1", ledger.DateRange{})
	require.NoError(t, err)

	assert.Equal(t, 6, s.Count)
	assert.True(t, s.Total.Equal(money("2100")))
	require.Len(t, s.TopCounterparties, ledger.TopCounterpartyCount)
	got := make([]string, 0, len(s.TopCounterparties))
	for _, p := range s.TopCounterparties {
		got = append(got, p.Phone)
	}
	assert.Equal(t, []string{"9000000002", "9000000004", "9000000006", "9000000003", "9000000005"}, got)
}

func TestRenderStatement(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	acct := openShopAccount(t, l, "shop-1", "9876543210")

	clock.Set(time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC))
	appendTx(t, l, acct.ID, "1500", ledger.PaymentUdhaar)
	_, err := l.Append(ctx, ledger.AppendInput{AccountID: acct.ID, Amount: money("250.50"), PaymentType: ledger.PaymentCash, Notes: "paid at counter"})
	require.NoError(t, err)

	st, err := l.Statement(ctx, acct.ID, ledger.DateRange{})
	require.NoError(t, err)
	text := ledger.RenderStatement(acct, st, language.English, time.UTC)

	assert.Contains(t, text, "Statement: Customer 10")
	assert.Contains(t, text, "Opening balance: 0.00")
	assert.Contains(t, text, "02 Jun 2025")
	assert.Contains(t, text, "1,500.00")
	assert.Contains(t, text, "paid at counter")
	assert.Contains(t, text, "Closing balance: 1,249.50 (you will get)")
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "1,234,567.05", ledger.FormatMoney(money("1234567.05"), language.English))
	assert.Equal(t, "-300.00", ledger.FormatMoney(money("-300"), language.English))
	assert.Equal(t, "0.50", ledger.FormatMoney(money("0.5"), language.English))
}
