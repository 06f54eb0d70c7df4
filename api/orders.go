package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/udhaar/credit-ledger/ledger"
	"github.com/udhaar/credit-ledger/order"
)

// =============================================================================
// ORDER HANDLERS
// =============================================================================
//
//   POST   /api/orders                        Checkout (PENDING)
//   GET    /api/orders/{id}                   One order
//   POST   /api/orders/{id}/accept            PENDING → ACCEPTED (shop)
//   POST   /api/orders/{id}/verify-prices     Shop price check (PENDING)
//   PUT    /api/orders/{id}/items             Replace basket
//   POST   /api/orders/{id}/cancel            → CANCELLED
//   POST   /api/orders/{id}/ready             ACCEPTED → READY (shop)
//   POST   /api/orders/{id}/collect           READY → COLLECTED, posts to ledger
//   GET    /api/shops/{shopID}/orders         Shop's orders
//   GET    /api/customers/{phone}/orders      Customer's orders

// Checkout creates a PENDING order.
// POST /api/orders
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.orders.Checkout(r.Context(), order.CheckoutInput{
		ShopID:         req.ShopID,
		CustomerPhone:  req.CustomerPhone,
		CustomerName:   req.CustomerName,
		Items:          toItemInputs(req.Items),
		Discount:       req.Discount,
		DeliveryCharge: req.DeliveryCharge,
		PaymentType:    ledger.PaymentType(req.PaymentType),
		CreatedBy:      actor(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(o))
}

// GetOrder returns one order.
// GET /api/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), orderParam(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

// AcceptOrder moves a PENDING order to ACCEPTED.
// POST /api/orders/{id}/accept
func (h *Handler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	h.writeOrder(w, r)(h.orders.Accept(r.Context(), orderParam(r)))
}

// VerifyPrices applies the shop's prices to free-text items.
// POST /api/orders/{id}/verify-prices
func (h *Handler) VerifyPrices(w http.ResponseWriter, r *http.Request) {
	var req VerifyPricesRequest
	if !h.decode(w, r, &req) {
		return
	}
	updates := make([]order.PriceUpdate, len(req.Prices))
	for i, p := range req.Prices {
		updates[i] = order.PriceUpdate{Index: p.Index, UnitPrice: p.UnitPrice}
	}
	h.writeOrder(w, r)(h.orders.VerifyPrices(r.Context(), orderParam(r), updates))
}

// EditOrderItems replaces the basket.
// PUT /api/orders/{id}/items
func (h *Handler) EditOrderItems(w http.ResponseWriter, r *http.Request) {
	var req EditItemsRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.writeOrder(w, r)(h.orders.EditItems(r.Context(), orderParam(r), order.Role(req.Role), order.ItemsPatch{
		Items:          toItemInputs(req.Items),
		Discount:       req.Discount,
		DeliveryCharge: req.DeliveryCharge,
	}))
}

// CancelOrder cancels on behalf of the customer or the shop.
// POST /api/orders/{id}/cancel
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.writeOrder(w, r)(h.orders.Cancel(r.Context(), orderParam(r), order.Role(req.Role), req.Reason))
}

// MarkOrderReady moves an ACCEPTED order to READY and notifies the
// customer.
// POST /api/orders/{id}/ready
func (h *Handler) MarkOrderReady(w http.ResponseWriter, r *http.Request) {
	h.writeOrder(w, r)(h.orders.MarkReady(r.Context(), orderParam(r)))
}

// CollectOrder hands the order over and posts its total to the shop's
// ledger. Retrying after a failure posts at most one entry. The body is
// optional; {"bypass": true} admits an UDHAAR sale over the credit limit.
// POST /api/orders/{id}/collect
func (h *Handler) CollectOrder(w http.ResponseWriter, r *http.Request) {
	var req CollectOrderRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	h.writeOrder(w, r)(h.orders.Collect(r.Context(), orderParam(r), order.CollectInput{
		Bypass: req.Bypass,
		By:     actor(r),
	}))
}

// ListShopOrders returns a shop's orders, newest first.
// GET /api/shops/{shopID}/orders
func (h *Handler) ListShopOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByShop(r.Context(), chi.URLParam(r, "shopID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": toOrderDTOs(orders)})
}

// ListCustomerOrders returns a customer's orders across shops.
// GET /api/customers/{phone}/orders
func (h *Handler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByCustomer(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": toOrderDTOs(orders)})
}

func orderParam(r *http.Request) order.ID {
	return order.ID(chi.URLParam(r, "id"))
}

// writeOrder returns a sink for (order, error) results.
func (h *Handler) writeOrder(w http.ResponseWriter, r *http.Request) func(order.Order, error) {
	return func(o order.Order, err error) {
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderDTO(o))
	}
}
