/*
Package order models a customer order from checkout to collection.

PURPOSE:
  A customer checks out a basket at a shop. The shop accepts it, prepares
  it, and hands it over. Handing over (COLLECTED) is the one step with a
  financial side effect: it posts the order total to the shop's ledger for
  that customer, exactly once.

LIFECYCLE:
  ┌─────────┐ accept ┌──────────┐ markReady ┌───────┐ collect ┌───────────┐
  │ PENDING │──────▶ │ ACCEPTED │─────────▶ │ READY │───────▶ │ COLLECTED │
  └─────────┘        └──────────┘           └───────┘         └───────────┘
       │ cancel            │ cancel (shop only)
       ▼                   ▼
  ┌───────────┐
  │ CANCELLED │
  └───────────┘

TOTALS:
  lineTotal   = quantity × unitPrice, rounded to 2 places
  totalAmount = Σ lineTotal − discount + deliveryCharge
  Recomputed on every item edit and price verification.

PRICE VERIFICATION:
  Items typed in by the customer carry no catalog ProductID and therefore
  no trusted price. Such an order cannot be accepted until the shop has run
  VerifyPrices, which may adjust prices and sets PriceVerified.

SEE ALSO:
  - machine.go: Transition table
  - service.go: Service applying transitions and the ledger side effect
*/
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/udhaar/credit-ledger/ledger"
)

type ID string

// =============================================================================
// STATUS / EVENT / ROLE
// =============================================================================

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusReady     Status = "READY"
	StatusCollected Status = "COLLECTED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no event can leave s.
func (s Status) Terminal() bool {
	return s == StatusCollected || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusReady, StatusCollected, StatusCancelled:
		return true
	}
	return false
}

type Event string

const (
	EventAccept       Event = "accept"
	EventVerifyPrices Event = "verify_prices"
	EventEditItems    Event = "edit_items"
	EventCancel       Event = "cancel"
	EventMarkReady    Event = "mark_ready"
	EventCollect      Event = "collect"
)

// Role is who is acting on the order.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleShop     Role = "shop"
)

func (r Role) Valid() bool { return r == RoleCustomer || r == RoleShop }

// =============================================================================
// ORDER
// =============================================================================

type Item struct {
	Name      string
	Quantity  decimal.Decimal // fractional for loose goods (1.5 kg)
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	// ProductID references the shop catalog. Empty for free-text items.
	ProductID string
}

type Order struct {
	ID             ID
	ShopID         string
	CustomerPhone  string
	CustomerID     string // set when the phone is a registered identity
	AccountID      ledger.AccountID
	Items          []Item
	Discount       decimal.Decimal
	DeliveryCharge decimal.Decimal
	TotalAmount    decimal.Decimal
	// PaymentType is what COLLECTED posts: UDHAAR, CASH or UPI.
	PaymentType   ledger.PaymentType
	Status        Status
	PriceVerified bool

	CollectedTxID ledger.TransactionID
	CancelledBy   Role
	CancelReason  string
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NeedsPriceVerification reports whether acceptance must wait for
// VerifyPrices.
func (o Order) NeedsPriceVerification() bool {
	if o.PriceVerified {
		return false
	}
	for _, it := range o.Items {
		if it.ProductID == "" {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (o Order) Clone() Order {
	o.Items = append([]Item(nil), o.Items...)
	return o
}

// LineTotal is quantity × unitPrice rounded to money precision.
func LineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice).Round(ledger.MoneyPlaces)
}

// Recompute refreshes every line total and the order total.
func (o *Order) Recompute() {
	sum := decimal.Zero
	for i := range o.Items {
		o.Items[i].LineTotal = LineTotal(o.Items[i].Quantity, o.Items[i].UnitPrice)
		sum = sum.Add(o.Items[i].LineTotal)
	}
	o.TotalAmount = sum.Sub(o.Discount).Add(o.DeliveryCharge)
}

// CollectKey is the ledger idempotency key of the order's sale entry.
func CollectKey(id ID) string {
	return ledger.OrderSaleKey(string(id))
}
