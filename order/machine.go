package order

import (
	"fmt"

	"github.com/udhaar/credit-ledger/ledger"
)

// =============================================================================
// TRANSITION TABLE
// =============================================================================

type edge struct {
	to Status
	// roles allowed to fire the event; nil means any role
	roles map[Role]bool
}

var shopOnly = map[Role]bool{RoleShop: true}

// transitions lists every legal (status, event) pair. Anything missing is an
// InvalidTransitionError.
var transitions = map[Status]map[Event]edge{
	StatusPending: {
		EventAccept:       {to: StatusAccepted, roles: shopOnly},
		EventVerifyPrices: {to: StatusPending, roles: shopOnly},
		EventEditItems:    {to: StatusPending},
		EventCancel:       {to: StatusCancelled},
	},
	StatusAccepted: {
		EventEditItems: {to: StatusAccepted, roles: shopOnly},
		EventCancel:    {to: StatusCancelled, roles: shopOnly},
		EventMarkReady: {to: StatusReady, roles: shopOnly},
	},
	StatusReady: {
		EventCollect: {to: StatusCollected, roles: shopOnly},
	},
}

// InvalidTransitionError reports an event that is not legal from the
// order's current status for the acting role.
type InvalidTransitionError struct {
	OrderID ID
	From    Status
	Event   Event
	Role    Role
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("order %s: %s is not allowed from %s", e.OrderID, e.Event, e.From)
	if e.Role != "" {
		msg += " for " + string(e.Role)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error { return ledger.ErrInvalidTransition }

// Next returns the status o moves to when role fires ev.
func Next(o Order, ev Event, role Role) (Status, error) {
	invalid := &InvalidTransitionError{OrderID: o.ID, From: o.Status, Event: ev, Role: role}

	e, ok := transitions[o.Status][ev]
	if !ok {
		return o.Status, invalid
	}
	if e.roles != nil && !e.roles[role] {
		invalid.Reason = "not permitted for this role"
		return o.Status, invalid
	}
	if ev == EventAccept && o.NeedsPriceVerification() {
		invalid.Reason = "prices of items without a catalog product must be verified first"
		return o.Status, invalid
	}
	return e.to, nil
}

// Allowed lists the events role may fire on o, for UIs that render actions.
func Allowed(o Order, role Role) []Event {
	var out []Event
	for _, ev := range []Event{EventAccept, EventVerifyPrices, EventEditItems, EventCancel, EventMarkReady, EventCollect} {
		if _, err := Next(o, ev, role); err == nil {
			out = append(out, ev)
		}
	}
	return out
}
