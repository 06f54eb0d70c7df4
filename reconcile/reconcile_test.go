package reconcile_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udhaar/credit-ledger/ledger"
	"github.com/udhaar/credit-ledger/ledger/store"
	"github.com/udhaar/credit-ledger/reconcile"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	ownerPhone = "9000000001"
	xPhone     = "9000000002"
	shopPhone  = "9000000003"
)

type fixture struct {
	ledger *ledger.Ledger
	rec    *reconcile.Reconciler
	owner  ledger.Identity
	x      ledger.Identity
	shop   ledger.Identity
}

type countingObserver struct{ matched, mismatched int }

func (o *countingObserver) Reconciled(matched bool) {
	if matched {
		o.matched++
	} else {
		o.mismatched++
	}
}

func newFixture(t *testing.T, opts ...reconcile.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	l := ledger.New(mem)

	register := func(phone string, kind ledger.IdentityKind, name string) ledger.Identity {
		id, err := l.RegisterIdentity(ctx, ledger.Identity{Phone: phone, Kind: kind, Name: name})
		require.NoError(t, err)
		return id
	}
	return &fixture{
		ledger: l,
		rec:    reconcile.New(mem, mem, opts...),
		owner:  register(ownerPhone, ledger.IdentityPerson, "Asha"),
		x:      register(xPhone, ledger.IdentityPerson, "Ravi"),
		shop:   register(shopPhone, ledger.IdentityShop, "Sharma Kirana"),
	}
}

func (f *fixture) open(t *testing.T, kind ledger.AccountKind, ownerID, phone string) ledger.Account {
	t.Helper()
	acct, err := f.ledger.OpenAccount(context.Background(), ledger.OpenAccountInput{Kind: kind, OwnerID: ownerID, CounterpartyPhone: phone})
	require.NoError(t, err)
	return acct
}

func (f *fixture) post(t *testing.T, id ledger.AccountID, amount string, pt ledger.PaymentType) ledger.Transaction {
	t.Helper()
	tx, err := f.ledger.Append(context.Background(), ledger.AppendInput{AccountID: id, Amount: ledger.MustParseMoney(amount), PaymentType: pt})
	require.NoError(t, err)
	return tx
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(ledger.MustParseMoney(want)), "%s: want %s, got %s", msg, want, got)
}

// =============================================================================
// SIGN DIRECTIONS
// =============================================================================

func TestView_ScenarioB_PersonGaveCounterpartyTook(t *testing.T) {
	// GIVEN: owner records GAVE 200 to X; X records TOOK 200 from owner
	// WHEN: owner opens the view on X
	// THEN: my = +200, their = -200, matched
	f := newFixture(t)
	mine := f.open(t, ledger.AccountPersonal, f.owner.ID, xPhone)
	theirs := f.open(t, ledger.AccountPersonal, f.x.ID, ownerPhone)
	f.post(t, mine.ID, "200", ledger.PaymentGave)
	f.post(t, theirs.ID, "200", ledger.PaymentTook)

	v, err := f.rec.View(context.Background(), f.owner.ID, xPhone)
	require.NoError(t, err)

	assert.True(t, v.Linked)
	require.NotNil(t, v.Counterparty)
	assert.Equal(t, f.x.ID, v.Counterparty.ID)
	assertMoney(t, "200", v.MyStats.Balance, "myBalance")
	assertMoney(t, "-200", v.TheirBalance, "theirBalance")
	assertMoney(t, "200", v.ImpliedBalance, "implied")
	assert.True(t, v.Matched)
	require.Len(t, v.TeammateRecords, 1)
	_, isPersonal := v.TeammateRecords[0].(reconcile.PersonalEntry)
	assert.True(t, isPersonal)
}

func TestView_ReverseDirection_PersonTookCounterpartyGave(t *testing.T) {
	// GIVEN: Owner records TOOK 75.50 from X; X records GAVE 75.50 to owner
	// WHEN: Owner opens the view on X
	// THEN: my = -75.50, their = +75.50, matched

	f := newFixture(t)
	mine := f.open(t, ledger.AccountPersonal, f.owner.ID, xPhone)
	theirs := f.open(t, ledger.AccountPersonal, f.x.ID, ownerPhone)
	f.post(t, mine.ID, "75.50", ledger.PaymentTook)
	f.post(t, theirs.ID, "75.50", ledger.PaymentGave)

	v, err := f.rec.View(context.Background(), f.owner.ID, xPhone)
	require.NoError(t, err)

	assertMoney(t, "-75.50", v.MyStats.Balance, "myBalance")
	assertMoney(t, "75.50", v.TheirBalance, "theirBalance")
	assert.True(t, v.Matched)
}

func TestView_ShopCounterparty_UdhaarMirrorsTook(t *testing.T) {
	// GIVEN: owner (a customer) records TOOK 500 from the shop; the shop
	//        recorded UDHAAR 500, then the owner paid 100 cash and recorded
	//        GAVE 100
	// WHEN: owner opens the view on the shop
	// THEN: my = -400, their = +400, matched
	f := newFixture(t)
	mine := f.open(t, ledger.AccountPersonal, f.owner.ID, shopPhone)
	shopSide := f.open(t, ledger.AccountShop, f.shop.ID, ownerPhone)
	f.post(t, mine.ID, "500", ledger.PaymentTook)
	f.post(t, shopSide.ID, "500", ledger.PaymentUdhaar)
	f.post(t, mine.ID, "100", ledger.PaymentGave)
	f.post(t, shopSide.ID, "100", ledger.PaymentCash)

	v, err := f.rec.View(context.Background(), f.owner.ID, shopPhone)
	require.NoError(t, err)

	assertMoney(t, "-400", v.MyStats.Balance, "myBalance")
	assertMoney(t, "400", v.TheirBalance, "theirBalance")
	assertMoney(t, "-400", v.ImpliedBalance, "implied")
	assert.True(t, v.Matched)
	for _, r := range v.TeammateRecords {
		_, isSale := r.(reconcile.ShopSale)
		assert.True(t, isSale)
	}
	assertMoney(t, "100", v.MyStats.TotalGave, "totalGave")
	assertMoney(t, "500", v.MyStats.TotalTook, "totalTook")
	assert.Equal(t, 2, v.MyStats.Count)
}

func TestView_Discrepancy(t *testing.T) {
	// GIVEN: Owner records GAVE 200; X records TOOK 150
	// WHEN: Owner opens the view on X
	// THEN: The 50 gap is reported and neither ledger changes

	obs := &countingObserver{}
	f := newFixture(t, reconcile.WithObserver(obs))
	mine := f.open(t, ledger.AccountPersonal, f.owner.ID, xPhone)
	theirs := f.open(t, ledger.AccountPersonal, f.x.ID, ownerPhone)
	f.post(t, mine.ID, "200", ledger.PaymentGave)
	f.post(t, theirs.ID, "150", ledger.PaymentTook)

	v, err := f.rec.View(context.Background(), f.owner.ID, xPhone)
	require.NoError(t, err)

	assert.False(t, v.Matched)
	assertMoney(t, "50", v.Discrepancy, "discrepancy")
	assert.Equal(t, 1, obs.mismatched)

	// Reconciliation is read-only: both ledgers are untouched.
	bal, err := f.ledger.CurrentBalance(context.Background(), mine.ID)
	require.NoError(t, err)
	assertMoney(t, "200", bal, "owner balance")
	bal, err = f.ledger.CurrentBalance(context.Background(), theirs.ID)
	require.NoError(t, err)
	assertMoney(t, "-150", bal, "counterparty balance")
}

func TestView_DeletedAndEditedEntriesFollowLiveVersions(t *testing.T) {
	// GIVEN: X mis-recorded TOOK 250, corrected it to 200, and deleted a stray 10
	// WHEN: Owner, who recorded GAVE 200, opens the view
	// THEN: Only live versions count and the ledgers match

	f := newFixture(t)
	ctx := context.Background()
	mine := f.open(t, ledger.AccountPersonal, f.owner.ID, xPhone)
	theirs := f.open(t, ledger.AccountPersonal, f.x.ID, ownerPhone)
	f.post(t, mine.ID, "200", ledger.PaymentGave)
	wrong := f.post(t, theirs.ID, "250", ledger.PaymentTook)
	extra := f.post(t, theirs.ID, "10", ledger.PaymentTook)

	amount := ledger.MustParseMoney("200")
	_, err := f.ledger.Edit(ctx, wrong.ID, ledger.Patch{Amount: &amount})
	require.NoError(t, err)
	_, err = f.ledger.SoftDelete(ctx, extra.ID, "ravi")
	require.NoError(t, err)

	v, err := f.rec.View(ctx, f.owner.ID, xPhone)
	require.NoError(t, err)
	assert.True(t, v.Matched)
	assert.Len(t, v.TeammateRecords, 1)
}

// =============================================================================
// LINKING
// =============================================================================

func TestView_UnregisteredPhoneIsNotLinked(t *testing.T) {
	// GIVEN: A ledger with a phone nobody registered
	// WHEN: The view is opened with a differently formatted phone
	// THEN: Own stats are shown, unlinked and never matched

	f := newFixture(t)
	mine := f.open(t, ledger.AccountPersonal, f.owner.ID, "9111111111")
	f.post(t, mine.ID, "20", ledger.PaymentGave)

	v, err := f.rec.View(context.Background(), f.owner.ID, "+91 91111 11111")
	require.NoError(t, err)

	assert.False(t, v.Linked)
	assert.Nil(t, v.Counterparty)
	assert.Empty(t, v.TeammateRecords)
	assertMoney(t, "20", v.MyStats.Balance, "myBalance")
	assert.False(t, v.Matched, "an unlinked view is never matched")
}

func TestView_LinkedWithoutCounterpartyLedger(t *testing.T) {
	// GIVEN: X is registered but keeps no ledger with the owner
	// WHEN: Owner opens the view on X
	// THEN: Linked with a zero counterparty balance, not matched

	f := newFixture(t)
	mine := f.open(t, ledger.AccountPersonal, f.owner.ID, xPhone)
	f.post(t, mine.ID, "20", ledger.PaymentGave)

	v, err := f.rec.View(context.Background(), f.owner.ID, xPhone)
	require.NoError(t, err)

	assert.True(t, v.Linked)
	assert.Nil(t, v.CounterpartyAccount)
	assert.True(t, v.TheirBalance.IsZero())
	assert.False(t, v.Matched)
}

func TestView_NoOwnerLedgerYet(t *testing.T) {
	// GIVEN: X records GAVE 40 to the owner; the owner has no ledger
	// WHEN: Owner opens the view on X
	// THEN: Their side and the implied balance are shown, not matched

	f := newFixture(t)
	theirs := f.open(t, ledger.AccountPersonal, f.x.ID, ownerPhone)
	f.post(t, theirs.ID, "40", ledger.PaymentGave)

	v, err := f.rec.View(context.Background(), f.owner.ID, xPhone)
	require.NoError(t, err)

	assert.Nil(t, v.MyAccount)
	assert.Empty(t, v.MyEntries)
	assertMoney(t, "40", v.TheirBalance, "theirBalance")
	assertMoney(t, "-40", v.ImpliedBalance, "implied")
	assert.False(t, v.Matched)
}

func TestView_Validation(t *testing.T) {
	// GIVEN: A registered owner
	// WHEN: The view is opened with an empty phone or owner
	// THEN: Both are validation errors

	f := newFixture(t)
	_, err := f.rec.View(context.Background(), f.owner.ID, "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
	_, err = f.rec.View(context.Background(), "", xPhone)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// SCAN
// =============================================================================

func TestScan_ReportsOnlyLinkedMismatches(t *testing.T) {
	// GIVEN: One agreeing pair, one disagreeing shop pair and one unlinked ledger
	// WHEN: A full scan runs
	// THEN: Only the linked disagreement is reported

	f := newFixture(t)
	ok := f.open(t, ledger.AccountPersonal, f.owner.ID, xPhone)
	okMirror := f.open(t, ledger.AccountPersonal, f.x.ID, ownerPhone)
	f.post(t, ok.ID, "200", ledger.PaymentGave)
	f.post(t, okMirror.ID, "200", ledger.PaymentTook)

	bad := f.open(t, ledger.AccountPersonal, f.owner.ID, shopPhone)
	badMirror := f.open(t, ledger.AccountShop, f.shop.ID, ownerPhone)
	f.post(t, bad.ID, "300", ledger.PaymentTook)
	f.post(t, badMirror.ID, "350", ledger.PaymentUdhaar)

	unlinked := f.open(t, ledger.AccountPersonal, f.owner.ID, "9222222222")
	f.post(t, unlinked.ID, "1", ledger.PaymentGave)

	res, err := f.rec.Scan(context.Background())
	require.NoError(t, err)

	// owner->X, X->owner, owner->shop, owner->unlinked
	assert.Equal(t, 4, res.Checked)
	assert.Equal(t, 3, res.Linked)
	assert.Equal(t, 2, res.Matched)
	require.Len(t, res.Mismatches, 1)
	m := res.Mismatches[0]
	assert.Equal(t, f.owner.ID, m.OwnerID)
	assert.Equal(t, shopPhone, m.CounterpartyPhone)
	assertMoney(t, "50", m.Discrepancy, "discrepancy")
}

// =============================================================================
// RUN HISTORY
// =============================================================================

func TestMemoryRuns_ListNewestFirst(t *testing.T) {
	// GIVEN: Three saved runs, the second saved twice as it completed
	// WHEN: Runs are listed with limits 2, 10, 0 and -1
	// THEN: Newest come first; zero or negative returns every run
	ctx := context.Background()
	runs := &reconcile.MemoryRuns{}
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, runs.SaveRun(ctx, reconcile.Run{ID: id, Trigger: "manual", Status: reconcile.RunRunning}))
	}
	require.NoError(t, runs.SaveRun(ctx, reconcile.Run{ID: "run-2", Trigger: "manual", Status: reconcile.RunCompleted}))

	ids := func(limit int) []string {
		got, err := runs.ListRuns(ctx, limit)
		require.NoError(t, err)
		out := make([]string, len(got))
		for i, r := range got {
			out[i] = r.ID
		}
		return out
	}

	assert.Equal(t, []string{"run-3", "run-2"}, ids(2))
	assert.Equal(t, []string{"run-3", "run-2", "run-1"}, ids(10))
	assert.Equal(t, []string{"run-3", "run-2", "run-1"}, ids(0))
	assert.Equal(t, []string{"run-3", "run-2", "run-1"}, ids(-1))

	all, err := runs.ListRuns(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, reconcile.RunCompleted, all[1].Status)
}
