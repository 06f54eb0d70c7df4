package order_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udhaar/credit-ledger/ledger"
	"github.com/udhaar/credit-ledger/ledger/store"
	"github.com/udhaar/credit-ledger/order"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	shopID   = "shop-1"
	customer = "9876543210"
)

func money(s string) decimal.Decimal { return ledger.MustParseMoney(s) }

type fixture struct {
	ledger   *ledger.Ledger
	repo     *flakyRepo
	svc      *order.Service
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	clock := func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }

	l := ledger.New(store.NewMemory(), ledger.WithClock(clock))
	repo := &flakyRepo{Repository: order.NewMemoryRepository()}
	n := &recordingNotifier{}
	svc := order.NewService(repo, l, order.WithClock(clock), order.WithNotifier(n))
	return &fixture{ledger: l, repo: repo, svc: svc, notifier: n}
}

// flakyRepo fails the next Update when failUpdates > 0.
type flakyRepo struct {
	order.Repository
	failUpdates atomic.Int32
}

func (r *flakyRepo) Update(ctx context.Context, o order.Order) error {
	if r.failUpdates.Add(-1) >= 0 {
		return errors.New("disk full")
	}
	r.failUpdates.Store(0)
	return r.Repository.Update(ctx, o)
}

type recordingNotifier struct {
	mu    sync.Mutex
	ready []order.ID
	err   error
}

func (n *recordingNotifier) OrderReady(_ context.Context, o order.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ready = append(n.ready, o.ID)
	return n.err
}

func catalogItem(name, qty, price string) order.ItemInput {
	return order.ItemInput{Name: name, Quantity: money(qty), UnitPrice: money(price), ProductID: "p-" + name}
}

func checkout(t *testing.T, f *fixture, items ...order.ItemInput) order.Order {
	t.Helper()
	o, err := f.svc.Checkout(context.Background(), order.CheckoutInput{
		ShopID:        shopID,
		CustomerPhone: customer,
		Items:         items,
	})
	require.NoError(t, err)
	return o
}

// toReady walks a catalog-only order to READY.
func toReady(t *testing.T, f *fixture, id order.ID) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Accept(ctx, id)
	require.NoError(t, err)
	_, err = f.svc.MarkReady(ctx, id)
	require.NoError(t, err)
}

func ledgerEntries(t *testing.T, f *fixture, acct ledger.AccountID) []ledger.Transaction {
	t.Helper()
	txs, err := f.ledger.LiveTransactions(context.Background(), acct)
	require.NoError(t, err)
	return txs
}

// =============================================================================
// CHECKOUT
// =============================================================================

func TestCheckout_ScenarioC(t *testing.T) {
	// GIVEN: items totalling 150, discount 20, delivery 10
	// WHEN: the order runs to COLLECTED as UDHAAR
	// THEN: totalAmount is 140 and exactly one 140 UDHAAR entry is posted
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Checkout(ctx, order.CheckoutInput{
		ShopID:         shopID,
		CustomerPhone:  "+91 98765-43210",
		CustomerName:   "Asha",
		Items:          []order.ItemInput{catalogItem("rice", "2", "50"), catalogItem("dal", "1", "50")},
		Discount:       money("20"),
		DeliveryCharge: money("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, customer, o.CustomerPhone)
	assert.Equal(t, ledger.PaymentUdhaar, o.PaymentType)
	assert.True(t, o.TotalAmount.Equal(money("140")), "total %s", o.TotalAmount)
	assert.True(t, o.Items[0].LineTotal.Equal(money("100")))

	toReady(t, f, o.ID)
	done, err := f.svc.Collect(ctx, o.ID, order.CollectInput{By: "staff-1"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCollected, done.Status)
	require.NotEmpty(t, done.CollectedTxID)

	txs := ledgerEntries(t, f, o.AccountID)
	require.Len(t, txs, 1)
	tx := txs[0]
	assert.Equal(t, done.CollectedTxID, tx.ID)
	assert.True(t, tx.Amount.Equal(money("140")))
	assert.Equal(t, ledger.PaymentUdhaar, tx.PaymentType)
	assert.Equal(t, ledger.SourceOrder, tx.Source)
	assert.Equal(t, string(o.ID), tx.ReferenceID)

	bal, err := f.ledger.CurrentBalance(ctx, o.AccountID)
	require.NoError(t, err)
	assert.True(t, bal.Equal(money("140")))
}

func TestCheckout_ReusesExistingAccount(t *testing.T) {
	// GIVEN: A registered customer identity
	// WHEN: Two checkouts at the same shop
	// THEN: Both orders share one account linked to the identity

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.RegisterIdentity(ctx, ledger.Identity{ID: "cust-1", Phone: customer, Kind: ledger.IdentityPerson})
	require.NoError(t, err)

	first := checkout(t, f, catalogItem("rice", "1", "40"))
	second := checkout(t, f, catalogItem("oil", "1", "120"))

	assert.Equal(t, first.AccountID, second.AccountID)
	assert.Equal(t, "cust-1", first.CustomerID)
}

func TestCheckout_RefusesPersonalLedgerOfSamePair(t *testing.T) {
	// GIVEN: The shop owner keeps a personal ledger with the customer's phone
	// WHEN: The customer checks out at the shop
	// THEN: Checkout is refused on customerPhone and no order is stored
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.OpenAccount(ctx, ledger.OpenAccountInput{
		Kind:              ledger.AccountPersonal,
		OwnerID:           shopID,
		CounterpartyPhone: customer,
	})
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, order.CheckoutInput{
		ShopID:        shopID,
		CustomerPhone: customer,
		Items:         []order.ItemInput{catalogItem("rice", "1", "50")},
	})

	var vErr *ledger.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "customerPhone", vErr.Field)
	orders, err := f.svc.ListByShop(ctx, shopID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckout_Validation(t *testing.T) {
	valid := func() order.CheckoutInput {
		return order.CheckoutInput{
			ShopID:        shopID,
			CustomerPhone: customer,
			Items:         []order.ItemInput{catalogItem("rice", "1", "40")},
		}
	}
	tests := []struct {
		name   string
		mutate func(*order.CheckoutInput)
		field  string
	}{
		{"no shop", func(in *order.CheckoutInput) { in.ShopID = "" }, "shopId"},
		{"no phone", func(in *order.CheckoutInput) { in.CustomerPhone = "" }, "customerPhone"},
		{"personal payment type", func(in *order.CheckoutInput) { in.PaymentType = ledger.PaymentGave }, "paymentType"},
		{"no items", func(in *order.CheckoutInput) { in.Items = nil }, "items"},
		{"blank name", func(in *order.CheckoutInput) { in.Items[0].Name = " " }, "items[0].name"},
		{"zero quantity", func(in *order.CheckoutInput) { in.Items[0].Quantity = decimal.Zero }, "items[0].quantity"},
		{"negative price", func(in *order.CheckoutInput) { in.Items[0].UnitPrice = money("-1") }, "items[0].unitPrice"},
		{"sub-paisa price", func(in *order.CheckoutInput) { in.Items[0].UnitPrice = decimal.RequireFromString("1.005") }, "items[0].unitPrice"},
		{"negative discount", func(in *order.CheckoutInput) { in.Discount = money("-5") }, "discount"},
		{"discount swallows total", func(in *order.CheckoutInput) { in.Discount = money("40") }, "totalAmount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := valid()
			tt.mutate(&in)

			_, err := f.svc.Checkout(context.Background(), in)

			var verr *ledger.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestCollect_RetryPostsOneEntry(t *testing.T) {
	// GIVEN: the order save after posting fails once
	// WHEN: collect is retried
	// THEN: the retry reuses the posted entry; the ledger holds one
	f := newFixture(t)
	ctx := context.Background()
	o := checkout(t, f, catalogItem("rice", "2", "50"))
	toReady(t, f, o.ID)

	f.repo.failUpdates.Store(1)
	_, err := f.svc.Collect(ctx, o.ID, order.CollectInput{})
	require.Error(t, err)

	stuck, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusReady, stuck.Status)
	require.Len(t, ledgerEntries(t, f, o.AccountID), 1)

	done, err := f.svc.Collect(ctx, o.ID, order.CollectInput{})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCollected, done.Status)

	txs := ledgerEntries(t, f, o.AccountID)
	require.Len(t, txs, 1)
	assert.Equal(t, txs[0].ID, done.CollectedTxID)

	_, err = f.svc.Collect(ctx, o.ID, order.CollectInput{})
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
	assert.Len(t, ledgerEntries(t, f, o.AccountID), 1)
}

func TestCollect_ConcurrentCallsPostOnce(t *testing.T) {
	// GIVEN: A READY order
	// WHEN: Ten concurrent collects
	// THEN: Exactly one succeeds and one entry is posted

	f := newFixture(t)
	ctx := context.Background()
	o := checkout(t, f, catalogItem("rice", "2", "50"))
	toReady(t, f, o.ID)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Collect(ctx, o.ID, order.CollectInput{}); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Len(t, ledgerEntries(t, f, o.AccountID), 1)
}

func TestCollect_CreditLimit(t *testing.T) {
	// GIVEN: A shop limit of 100 and a 150 UDHAAR order
	// WHEN: Collect without, then with, bypass
	// THEN: The first is refused with the excess; the second collects

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.SetShopCreditLimit(ctx, shopID, ptr(money("100"))))
	o := checkout(t, f, catalogItem("rice", "3", "50"))
	toReady(t, f, o.ID)

	_, err := f.svc.Collect(ctx, o.ID, order.CollectInput{})
	var limitErr *ledger.CreditLimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.True(t, limitErr.ExceededBy.Equal(money("50")))

	still, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusReady, still.Status)
	assert.Empty(t, ledgerEntries(t, f, o.AccountID))

	done, err := f.svc.Collect(ctx, o.ID, order.CollectInput{Bypass: true, By: "owner"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCollected, done.Status)
}

func TestCollect_CashOrderIsNotLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.SetShopCreditLimit(ctx, shopID, ptr(money("100"))))
	o, err := f.svc.Checkout(ctx, order.CheckoutInput{
		ShopID:        shopID,
		CustomerPhone: customer,
		Items:         []order.ItemInput{catalogItem("rice", "3", "50")},
		PaymentType:   ledger.PaymentCash,
	})
	require.NoError(t, err)
	toReady(t, f, o.ID)

	_, err = f.svc.Collect(ctx, o.ID, order.CollectInput{})
	require.NoError(t, err)

	bal, err := f.ledger.CurrentBalance(ctx, o.AccountID)
	require.NoError(t, err)
	assert.True(t, bal.Equal(money("-150")))
}

func TestCollect_ManualEntryCannotClaimOrderKey(t *testing.T) {
	// GIVEN: A READY order whose sale key a manual entry tries to take first
	// WHEN: The manual append is made, then the order is collected
	// THEN: The append is refused and collection posts its own ORDER entry
	f := newFixture(t)
	ctx := context.Background()
	o := checkout(t, f, catalogItem("rice", "2", "50"))
	toReady(t, f, o.ID)

	for _, in := range []ledger.AppendInput{
		{AccountID: o.AccountID, Amount: money("1"), PaymentType: ledger.PaymentUdhaar, IdempotencyKey: order.CollectKey(o.ID)},
		{AccountID: o.AccountID, Amount: o.TotalAmount, PaymentType: ledger.PaymentUdhaar, IdempotencyKey: order.CollectKey(o.ID)},
		{AccountID: o.AccountID, Amount: o.TotalAmount, PaymentType: ledger.PaymentUdhaar, Source: ledger.SourceOrder, ReferenceID: string(o.ID)},
	} {
		_, err := f.ledger.Append(ctx, in)
		assert.ErrorIs(t, err, ledger.ErrValidation)
	}
	assert.Empty(t, ledgerEntries(t, f, o.AccountID))

	done, err := f.svc.Collect(ctx, o.ID, order.CollectInput{})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCollected, done.Status)

	txs := ledgerEntries(t, f, o.AccountID)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.SourceOrder, txs[0].Source)
	assert.Equal(t, string(o.ID), txs[0].ReferenceID)
	bal, err := f.ledger.CurrentBalance(ctx, o.AccountID)
	require.NoError(t, err)
	assert.True(t, bal.Equal(o.TotalAmount))
	_, err = f.ledger.SoftDelete(ctx, done.CollectedTxID, "staff")
	assert.ErrorIs(t, err, ledger.ErrImmutableTransaction)
}

func TestCollect_RefusesForeignEntryUnderOrderKey(t *testing.T) {
	// GIVEN: A manual entry already stored under the order's sale key
	// WHEN: The READY order is collected
	// THEN: Collection fails validation and the order stays READY
	f := newFixture(t)
	ctx := context.Background()
	o := checkout(t, f, catalogItem("rice", "2", "50"))
	toReady(t, f, o.ID)
	_, err := f.ledger.Store().Insert(ctx, ledger.Transaction{
		ID: "legacy", AccountID: o.AccountID, Amount: o.TotalAmount, PaymentType: ledger.PaymentUdhaar,
		Source: ledger.SourceManual, IdempotencyKey: order.CollectKey(o.ID),
		OriginID: "legacy", Version: 1, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	_, err = f.svc.Collect(ctx, o.ID, order.CollectInput{})

	assert.ErrorIs(t, err, ledger.ErrValidation)
	still, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusReady, still.Status)
	assert.Empty(t, still.CollectedTxID)
}

func TestCollectedEntryIsImmutable(t *testing.T) {
	// GIVEN: A collected order
	// WHEN: Its ledger entry is edited or deleted
	// THEN: Both are refused as immutable

	f := newFixture(t)
	ctx := context.Background()
	o := checkout(t, f, catalogItem("rice", "1", "50"))
	toReady(t, f, o.ID)
	done, err := f.svc.Collect(ctx, o.ID, order.CollectInput{})
	require.NoError(t, err)

	amount := money("1")
	_, err = f.ledger.Edit(ctx, done.CollectedTxID, ledger.Patch{Amount: &amount})
	assert.ErrorIs(t, err, ledger.ErrImmutableTransaction)
	_, err = f.ledger.SoftDelete(ctx, done.CollectedTxID, "staff")
	assert.ErrorIs(t, err, ledger.ErrImmutableTransaction)
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	collected := checkout(t, f, catalogItem("rice", "1", "50"))
	toReady(t, f, collected.ID)
	_, err := f.svc.Collect(ctx, collected.ID, order.CollectInput{})
	require.NoError(t, err)

	cancelled := checkout(t, f, catalogItem("rice", "1", "50"))
	_, err = f.svc.Cancel(ctx, cancelled.ID, order.RoleCustomer, "changed mind")
	require.NoError(t, err)

	for _, id := range []order.ID{collected.ID, cancelled.ID} {
		before, err := f.svc.Get(ctx, id)
		require.NoError(t, err)

		attempts := map[string]func() error{
			"accept":     func() error { _, err := f.svc.Accept(ctx, id); return err },
			"verify":     func() error { _, err := f.svc.VerifyPrices(ctx, id, nil); return err },
			"edit":       func() error { _, err := f.svc.EditItems(ctx, id, order.RoleShop, order.ItemsPatch{Items: []order.ItemInput{catalogItem("x", "1", "1")}}); return err },
			"cancel":     func() error { _, err := f.svc.Cancel(ctx, id, order.RoleShop, ""); return err },
			"mark ready": func() error { _, err := f.svc.MarkReady(ctx, id); return err },
			"collect":    func() error { _, err := f.svc.Collect(ctx, id, order.CollectInput{}); return err },
		}
		for name, attempt := range attempts {
			err := attempt()
			var terr *order.InvalidTransitionError
			require.ErrorAs(t, err, &terr, "%s on %s", name, before.Status)
			assert.Equal(t, before.Status, terr.From)
		}

		after, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	}
	assert.Len(t, ledgerEntries(t, f, collected.AccountID), 1)
}

func TestCancel_Roles(t *testing.T) {
	// GIVEN: An ACCEPTED order
	// WHEN: The customer, then the shop, cancels
	// THEN: Only the shop may; an unknown role is a validation error

	f := newFixture(t)
	ctx := context.Background()

	o := checkout(t, f, catalogItem("rice", "1", "50"))
	_, err := f.svc.Accept(ctx, o.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, o.ID, order.RoleCustomer, "too slow")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	got, err := f.svc.Cancel(ctx, o.ID, order.RoleShop, "out of stock")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Equal(t, order.RoleShop, got.CancelledBy)
	assert.Equal(t, "out of stock", got.CancelReason)

	_, err = f.svc.Cancel(ctx, o.ID, "admin", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestAccept_RequiresPriceVerification(t *testing.T) {
	// GIVEN: An order with a free-text item at price 0
	// WHEN: The shop accepts before and after verifying prices
	// THEN: Accept is refused until prices are verified

	f := newFixture(t)
	ctx := context.Background()
	o := checkout(t, f,
		catalogItem("rice", "2", "50"),
		order.ItemInput{Name: "loose jaggery", Quantity: money("1.5"), UnitPrice: money("0")})
	assert.True(t, o.NeedsPriceVerification())

	_, err := f.svc.Accept(ctx, o.ID)
	var terr *order.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.NotEmpty(t, terr.Reason)

	assert.ElementsMatch(t,
		[]order.Event{order.EventVerifyPrices, order.EventEditItems, order.EventCancel},
		order.Allowed(o, order.RoleShop))

	verified, err := f.svc.VerifyPrices(ctx, o.ID, []order.PriceUpdate{{Index: 1, UnitPrice: money("60")}})
	require.NoError(t, err)
	assert.True(t, verified.PriceVerified)
	assert.Equal(t, order.StatusPending, verified.Status)
	assert.True(t, verified.TotalAmount.Equal(money("190")), "total %s", verified.TotalAmount)

	_, err = f.svc.VerifyPrices(ctx, o.ID, []order.PriceUpdate{{Index: 5, UnitPrice: money("1")}})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	accepted, err := f.svc.Accept(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusAccepted, accepted.Status)
}

func TestVerifyPrices_ShopOnly(t *testing.T) {
	o := order.Order{Status: order.StatusPending}
	_, err := order.Next(o, order.EventVerifyPrices, order.RoleCustomer)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestEditItems_RecomputesTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := checkout(t, f, catalogItem("rice", "2", "50"))
	_, err := f.svc.Accept(ctx, o.ID)
	require.NoError(t, err)

	discount := money("5")
	got, err := f.svc.EditItems(ctx, o.ID, order.RoleShop, order.ItemsPatch{
		Items:    []order.ItemInput{catalogItem("rice", "1", "50"), catalogItem("salt", "2", "12.50")},
		Discount: &discount,
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusAccepted, got.Status)
	require.Len(t, got.Items, 2)
	assert.True(t, got.Items[1].LineTotal.Equal(money("25")))
	assert.True(t, got.TotalAmount.Equal(money("70")), "total %s", got.TotalAmount)

	_, err = f.svc.EditItems(ctx, o.ID, order.RoleShop, order.ItemsPatch{})
	assert.ErrorIs(t, err, ledger.ErrValidation)
	unchanged, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, got, unchanged)
}

func TestEditItems_AcceptedIsShopOnly(t *testing.T) {
	// GIVEN: An ACCEPTED order at the shop's prices
	// WHEN: The customer rewrites a unit price
	// THEN: The edit is refused and the order keeps the shop's total
	f := newFixture(t)
	ctx := context.Background()
	o := checkout(t, f, catalogItem("rice", "2", "50"))
	accepted, err := f.svc.Accept(ctx, o.ID)
	require.NoError(t, err)

	_, err = f.svc.EditItems(ctx, o.ID, order.RoleCustomer, order.ItemsPatch{
		Items: []order.ItemInput{catalogItem("rice", "2", "1")},
	})

	var terr *order.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, order.StatusAccepted, terr.From)
	got, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, accepted, got)
	assert.NotContains(t, order.Allowed(got, order.RoleCustomer), order.EventEditItems)
	assert.Contains(t, order.Allowed(got, order.RoleShop), order.EventEditItems)
}

func TestEditItems_NewFreeTextNeedsVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := checkout(t, f, order.ItemInput{Name: "ghee", Quantity: money("1"), UnitPrice: money("0")})
	_, err := f.svc.VerifyPrices(ctx, o.ID, []order.PriceUpdate{{Index: 0, UnitPrice: money("550")}})
	require.NoError(t, err)

	got, err := f.svc.EditItems(ctx, o.ID, order.RoleCustomer, order.ItemsPatch{
		Items: []order.ItemInput{
			{Name: "ghee", Quantity: money("2"), UnitPrice: money("550")},
			{Name: "paneer", Quantity: money("1"), UnitPrice: money("0")},
		},
	})
	require.NoError(t, err)
	assert.False(t, got.PriceVerified)
}

func TestMarkReady_NotifiesCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.err = errors.New("queue down")
	o := checkout(t, f, catalogItem("rice", "1", "50"))

	toReady(t, f, o.ID)

	assert.Equal(t, []order.ID{o.ID}, f.notifier.ready)
	got, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusReady, got.Status)
}

func TestUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Accept(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := checkout(t, f, catalogItem("rice", "1", "50"))
	second := checkout(t, f, catalogItem("dal", "1", "50"))

	byShop, err := f.svc.ListByShop(ctx, shopID)
	require.NoError(t, err)
	require.Len(t, byShop, 2)
	assert.Equal(t, second.ID, byShop[0].ID)
	assert.Equal(t, first.ID, byShop[1].ID)

	byCustomer, err := f.svc.ListByCustomer(ctx, "+91-9876543210")
	require.NoError(t, err)
	assert.Len(t, byCustomer, 2)
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }
