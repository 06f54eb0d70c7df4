/*
service.go - Order lifecycle service

PURPOSE:
  Applies the transition table to stored orders and runs each transition's
  side effect. Every mutation of one order is serialized by a per-order
  lock, re-reads the order under that lock, and writes it back only when the
  whole transition succeeded. A refused transition leaves the order exactly
  as it was.

COLLECT:
  1. Lock the order, require READY
  2. Ledger.Append(order account, TotalAmount, PaymentType, ORDER,
     idempotency key "order:<id>:collected")
  3. Save COLLECTED with the posted transaction id

  If step 3 fails after step 2, the retry runs step 2 again with the same
  key; the ledger returns the entry it already holds instead of posting a
  second one. A retry after step 3 finds COLLECTED and is refused. Either
  way exactly one ledger entry exists per order.

  A credit-limit refusal in step 2 leaves the order READY; the shop may
  collect again with Bypass.

NOTIFY:
  MarkReady tells the customer through Notifier after the order is saved.
  Notification failure is logged, never returned.
*/
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/udhaar/credit-ledger/ledger"
)

// Repository persists orders. Get returns ledger.ErrNotFound for unknown ids.
type Repository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id ID) (Order, error)
	Update(ctx context.Context, o Order) error
	ListByShop(ctx context.Context, shopID string) ([]Order, error)
	ListByCustomer(ctx context.Context, customerPhone string) ([]Order, error)
}

// Notifier tells the customer their order is ready. jobs.AsynqNotifier
// implements it.
type Notifier interface {
	OrderReady(ctx context.Context, o Order) error
}

// Observer receives transition events. observability.Metrics implements it.
type Observer interface {
	OrderTransitioned(from, to Status)
}

type nopNotifier struct{}

func (nopNotifier) OrderReady(context.Context, Order) error { return nil }

type nopObserver struct{}

func (nopObserver) OrderTransitioned(Status, Status) {}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	repo     Repository
	ledger   *ledger.Ledger
	notifier Notifier
	observer Observer
	logger   *slog.Logger
	locks    *ledger.KeyedMutex

	opTimeout time.Duration
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithNotifier(n Notifier) Option        { return func(s *Service) { s.notifier = n } }
func WithObserver(o Observer) Option        { return func(s *Service) { s.observer = o } }
func WithLogger(l *slog.Logger) Option      { return func(s *Service) { s.logger = l } }
func WithOpTimeout(d time.Duration) Option  { return func(s *Service) { s.opTimeout = d } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithIDs(newID func() string) Option    { return func(s *Service) { s.newID = newID } }

func NewService(repo Repository, l *ledger.Ledger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		ledger:    l,
		notifier:  nopNotifier{},
		observer:  nopObserver{},
		locks:     ledger.NewKeyedMutex(),
		opTimeout: ledger.DefaultOpTimeout,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// =============================================================================
// CHECKOUT
// =============================================================================

type ItemInput struct {
	Name      string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	ProductID string
}

type CheckoutInput struct {
	ShopID         string
	CustomerPhone  string
	CustomerName   string
	Items          []ItemInput
	Discount       decimal.Decimal
	DeliveryCharge decimal.Decimal
	PaymentType    ledger.PaymentType // defaults to UDHAAR
	CreatedBy      string
}

// Checkout creates a PENDING order and makes sure the shop has a ledger for
// the customer.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (Order, error) {
	if strings.TrimSpace(in.ShopID) == "" {
		return Order{}, ledger.Invalid("shopId", "required")
	}
	phone := ledger.NormalizePhone(in.CustomerPhone)
	if phone == "" {
		return Order{}, ledger.Invalid("customerPhone", "required")
	}
	if in.PaymentType == "" {
		in.PaymentType = ledger.PaymentUdhaar
	}
	if !in.PaymentType.AllowedOn(ledger.AccountShop) {
		return Order{}, ledger.Invalid("paymentType", "%q cannot settle an order", in.PaymentType)
	}
	items, err := buildItems(in.Items)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	o := Order{
		ID:             ID(s.newID()),
		ShopID:         in.ShopID,
		CustomerPhone:  phone,
		Items:          items,
		Discount:       in.Discount,
		DeliveryCharge: in.DeliveryCharge,
		PaymentType:    in.PaymentType,
		Status:         StatusPending,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	o.Recompute()
	if err := validateTotals(o); err != nil {
		return Order{}, err
	}

	acct, err := s.customerAccount(ctx, in.ShopID, phone, in.CustomerName)
	if err != nil {
		return Order{}, err
	}
	o.AccountID = acct.ID
	o.CustomerID = acct.CounterpartyID

	if err := s.repo.Create(ctx, o); err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	s.logger.Info("order placed",
		slog.String("order", string(o.ID)),
		slog.String("shop", o.ShopID),
		slog.String("total", o.TotalAmount.StringFixed(ledger.MoneyPlaces)))
	return o.Clone(), nil
}

// customerAccount returns the shop ledger of (shopID, phone), opening it
// on first checkout. A personal ledger under the same pair cannot carry
// order sales.
func (s *Service) customerAccount(ctx context.Context, shopID, phone, name string) (ledger.Account, error) {
	acct, err := s.ledger.FindAccount(ctx, shopID, phone)
	switch {
	case err == nil:
		return shopAccount(acct)
	case !errors.Is(err, ledger.ErrUnknownAccount):
		return ledger.Account{}, err
	}
	acct, err = s.ledger.OpenAccount(ctx, ledger.OpenAccountInput{
		Kind:              ledger.AccountShop,
		OwnerID:           shopID,
		CounterpartyPhone: phone,
		CounterpartyName:  name,
	})
	if errors.Is(err, ledger.ErrDuplicateAccount) {
		// Opened concurrently by another checkout.
		acct, err = s.ledger.FindAccount(ctx, shopID, phone)
		if err != nil {
			return ledger.Account{}, err
		}
		return shopAccount(acct)
	}
	return acct, err
}

func shopAccount(acct ledger.Account) (ledger.Account, error) {
	if acct.Kind != ledger.AccountShop {
		return ledger.Account{}, ledger.Invalid("customerPhone",
			"%s already has a %s ledger with this owner; orders need a shop ledger", acct.CounterpartyPhone, acct.Kind)
	}
	return acct, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Accept moves a PENDING order to ACCEPTED.
func (s *Service) Accept(ctx context.Context, id ID) (Order, error) {
	return s.apply(ctx, id, EventAccept, RoleShop, func(ctx context.Context, o *Order) error {
		o.Recompute()
		return nil
	})
}

// PriceUpdate sets the unit price of the item at Index.
type PriceUpdate struct {
	Index     int
	UnitPrice decimal.Decimal
}

// VerifyPrices applies the shop's prices to a PENDING order and marks it
// verified.
func (s *Service) VerifyPrices(ctx context.Context, id ID, updates []PriceUpdate) (Order, error) {
	return s.apply(ctx, id, EventVerifyPrices, RoleShop, func(ctx context.Context, o *Order) error {
		for _, u := range updates {
			if u.Index < 0 || u.Index >= len(o.Items) {
				return ledger.Invalid("index", "item %d does not exist", u.Index)
			}
			if err := validatePrice("unitPrice", u.UnitPrice); err != nil {
				return err
			}
			o.Items[u.Index].UnitPrice = u.UnitPrice
		}
		o.PriceVerified = true
		o.Recompute()
		return validateTotals(*o)
	})
}

// ItemsPatch replaces an order's items. Nil Discount or DeliveryCharge
// leaves them unchanged.
type ItemsPatch struct {
	Items          []ItemInput
	Discount       *decimal.Decimal
	DeliveryCharge *decimal.Decimal
}

// EditItems replaces the basket. Either party may edit a PENDING order;
// once ACCEPTED only the shop may, since its prices are then final. New
// free-text items clear PriceVerified on a PENDING order.
func (s *Service) EditItems(ctx context.Context, id ID, role Role, patch ItemsPatch) (Order, error) {
	return s.apply(ctx, id, EventEditItems, role, func(ctx context.Context, o *Order) error {
		items, err := buildItems(patch.Items)
		if err != nil {
			return err
		}
		if o.Status == StatusPending && hasNewFreeText(o.Items, items) {
			o.PriceVerified = false
		}
		o.Items = items
		if patch.Discount != nil {
			o.Discount = *patch.Discount
		}
		if patch.DeliveryCharge != nil {
			o.DeliveryCharge = *patch.DeliveryCharge
		}
		o.Recompute()
		return validateTotals(*o)
	})
}

// Cancel ends the order. Customers may cancel while PENDING, shops while
// PENDING or ACCEPTED.
func (s *Service) Cancel(ctx context.Context, id ID, role Role, reason string) (Order, error) {
	if !role.Valid() {
		return Order{}, ledger.Invalid("role", "must be %q or %q", RoleCustomer, RoleShop)
	}
	return s.apply(ctx, id, EventCancel, role, func(ctx context.Context, o *Order) error {
		o.CancelledBy = role
		o.CancelReason = reason
		return nil
	})
}

// MarkReady moves an ACCEPTED order to READY and notifies the customer.
func (s *Service) MarkReady(ctx context.Context, id ID) (Order, error) {
	o, err := s.apply(ctx, id, EventMarkReady, RoleShop, nil)
	if err != nil {
		return Order{}, err
	}
	if err := s.notifier.OrderReady(ctx, o); err != nil {
		s.logger.Warn("order ready notification failed",
			slog.String("order", string(o.ID)), slog.Any("error", err))
	}
	return o, nil
}

type CollectInput struct {
	// Bypass admits an UDHAAR sale over the customer's credit limit.
	Bypass bool
	By     string
}

// Collect hands the order over and posts its total to the ledger.
func (s *Service) Collect(ctx context.Context, id ID, in CollectInput) (Order, error) {
	return s.apply(ctx, id, EventCollect, RoleShop, func(ctx context.Context, o *Order) error {
		tx, err := s.ledger.PostOrderSale(ctx, ledger.OrderSale{
			AccountID:   o.AccountID,
			OrderID:     string(o.ID),
			Amount:      o.TotalAmount,
			PaymentType: o.PaymentType,
			Notes:       fmt.Sprintf("Order %s", o.ID),
			CreatedBy:   in.By,
			Bypass:      in.Bypass,
		})
		if err != nil {
			return err
		}
		o.CollectedTxID = tx.ID
		return nil
	})
}

// apply runs one transition under the order lock. mutate sees a copy; the
// copy is saved only if both the table and mutate accept the event.
func (s *Service) apply(ctx context.Context, id ID, ev Event, role Role, mutate func(context.Context, *Order) error) (Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	unlock, err := s.locks.Lock(ctx, string(id))
	if err != nil {
		return Order{}, err
	}
	defer unlock()

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, fmt.Errorf("load order: %w", err)
	}
	to, err := Next(cur, ev, role)
	if err != nil {
		return Order{}, err
	}

	next := cur.Clone()
	if mutate != nil {
		if err := mutate(ctx, &next); err != nil {
			return Order{}, err
		}
	}
	next.Status = to
	next.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, next); err != nil {
		return Order{}, fmt.Errorf("save order: %w", err)
	}

	if cur.Status != to {
		s.observer.OrderTransitioned(cur.Status, to)
	}
	s.logger.Info("order transition",
		slog.String("order", string(id)),
		slog.String("event", string(ev)),
		slog.String("from", string(cur.Status)),
		slog.String("to", string(to)))
	return next.Clone(), nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) Get(ctx context.Context, id ID) (Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, fmt.Errorf("load order: %w", err)
	}
	return o, nil
}

func (s *Service) ListByShop(ctx context.Context, shopID string) ([]Order, error) {
	return s.repo.ListByShop(ctx, shopID)
}

func (s *Service) ListByCustomer(ctx context.Context, phone string) ([]Order, error) {
	return s.repo.ListByCustomer(ctx, ledger.NormalizePhone(phone))
}

// =============================================================================
// VALIDATION
// =============================================================================

func buildItems(in []ItemInput) ([]Item, error) {
	if len(in) == 0 {
		return nil, ledger.Invalid("items", "at least one item is required")
	}
	items := make([]Item, 0, len(in))
	for i, it := range in {
		if strings.TrimSpace(it.Name) == "" {
			return nil, ledger.Invalid(fmt.Sprintf("items[%d].name", i), "required")
		}
		if !it.Quantity.IsPositive() {
			return nil, ledger.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		if err := validatePrice(fmt.Sprintf("items[%d].unitPrice", i), it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, Item{
			Name:      strings.TrimSpace(it.Name),
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			ProductID: it.ProductID,
		})
	}
	return items, nil
}

func validatePrice(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return ledger.Invalid(field, "must not be negative")
	}
	if !d.Equal(d.Round(ledger.MoneyPlaces)) {
		return ledger.Invalid(field, "more than two decimal places")
	}
	return nil
}

func validateTotals(o Order) error {
	if err := validatePrice("discount", o.Discount); err != nil {
		return err
	}
	if err := validatePrice("deliveryCharge", o.DeliveryCharge); err != nil {
		return err
	}
	if !o.TotalAmount.IsPositive() {
		return ledger.Invalid("totalAmount", "must be greater than zero, got %s", o.TotalAmount.StringFixed(ledger.MoneyPlaces))
	}
	return nil
}

// hasNewFreeText reports whether next carries a free-text item that prev
// did not have at the same name and price.
func hasNewFreeText(prev, next []Item) bool {
	known := make(map[string]decimal.Decimal, len(prev))
	for _, it := range prev {
		if it.ProductID == "" {
			known[it.Name] = it.UnitPrice
		}
	}
	for _, it := range next {
		if it.ProductID != "" {
			continue
		}
		price, ok := known[it.Name]
		if !ok || !price.Equal(it.UnitPrice) {
			return true
		}
	}
	return false
}
