/*
handlers.go - HTTP API handlers for the credit ledger

PURPOSE:
  Exposes the ledger, order lifecycle and reconciliation over REST. Handles
  HTTP request/response, JSON serialization, and delegates to the domain
  packages. No business rule lives here.

ENDPOINTS:
  Identities:
    POST   /api/identities                          Register a party
    GET    /api/identities/{phone}                  Resolve a phone

  Accounts:
    POST   /api/accounts                            Open an account
    GET    /api/accounts/{id}                       Account details
    GET    /api/owners/{ownerID}/accounts           Owner's accounts
    GET    /api/accounts/{id}/credit-limit          Effective limit
    PUT    /api/accounts/{id}/credit-limit          Account override
    PUT    /api/shops/{shopID}/credit-limit         Shop policy

  Transactions (transactions.go):
    POST   /api/accounts/{id}/transactions          Append
    GET    /api/accounts/{id}/transactions          Query (filters, cursor)
    GET    /api/transactions/{id}                   One version
    PATCH  /api/transactions/{id}                   Edit (new version)
    DELETE /api/transactions/{id}                   Soft delete
    GET    /api/transactions/{id}/history           Version chain
    POST   /api/transactions/bulk-edit              Bulk edit
    POST   /api/transactions/bulk-delete            Bulk soft delete

  Reporting (transactions.go):
    GET    /api/accounts/{id}/balance               Current balance
    GET    /api/accounts/{id}/statement             Running balance (?format=text)
    GET    /api/accounts/{id}/snapshot              Notification snapshot
    GET    /api/accounts/{id}/summary               Aggregates for one account
    GET    /api/owners/{ownerID}/summary            Aggregates for an owner

  Orders (orders.go), Reconciliation (reconciliation.go), Scenarios
  (scenarios.go).

CALLER IDENTITY:
  The X-Actor-ID header names the caller for audit fields (created_by,
  edited_by, deleted_by). It is trusted as given.

ERROR HANDLING:
  Errors are returned as {error, kind, details} with status by kind:
  - 400: Malformed JSON body
  - 404: Unknown account, transaction or order
  - 409: Credit limit (with override details), invalid transition,
         immutable transaction, duplicate
  - 422: Validation (body or query), invalid amount
  - 503: Timeout (safe to retry)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/udhaar/credit-ledger/ledger"
	"github.com/udhaar/credit-ledger/order"
	"github.com/udhaar/credit-ledger/reconcile"
)

// ActorHeader carries the caller identity recorded on writes.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps lists what the handlers need.
type Deps struct {
	Ledger     *ledger.Ledger
	Orders     *order.Service
	Reconciler *reconcile.Reconciler
	Scanner    *Scanner
	// Pinger backs /readyz. Nil means always ready.
	Pinger Pinger
	Logger *slog.Logger
	// Scenarios enables the demo fixture endpoints.
	Scenarios bool
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	ledger     *ledger.Ledger
	orders     *order.Service
	reconciler *reconcile.Reconciler
	scanner    *Scanner
	pinger     Pinger
	logger     *slog.Logger
	scenarios  bool
	validate   *validator.Validate
}

// NewHandler creates a new handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		ledger:     d.Ledger,
		orders:     d.Orders,
		reconciler: d.Reconciler,
		scanner:    d.Scanner,
		pinger:     d.Pinger,
		logger:     logger,
		scenarios:  d.Scenarios,
		validate:   newValidator(),
	}
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", slog.Any("error", err))
			writeError(w, http.StatusServiceUnavailable, string(ledger.KindTimeout), "store unavailable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// =============================================================================
// IDENTITY HANDLERS
// =============================================================================

// RegisterIdentity stores a person or shop.
// POST /api/identities
func (h *Handler) RegisterIdentity(w http.ResponseWriter, r *http.Request) {
	var req RegisterIdentityRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.ledger.RegisterIdentity(r.Context(), ledger.Identity{
		ID:    req.ID,
		Phone: req.Phone,
		Kind:  ledger.IdentityKind(req.Kind),
		Name:  req.Name,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIdentityDTO(id))
}

// ResolveIdentity looks a phone up.
// GET /api/identities/{phone}
func (h *Handler) ResolveIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := h.ledger.ResolvePhone(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityDTO(id))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// OpenAccount creates the ledger for one (owner, counterparty phone) pair.
// POST /api/accounts
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	acct, err := h.ledger.OpenAccount(r.Context(), ledger.OpenAccountInput{
		Kind:              ledger.AccountKind(req.Kind),
		OwnerID:           req.OwnerID,
		CounterpartyPhone: req.CounterpartyPhone,
		CounterpartyName:  req.CounterpartyName,
		CreditLimit:       req.CreditLimit,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// GetAccount returns one account.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.ledger.GetAccount(r.Context(), accountParam(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// ListAccounts returns every account an owner keeps.
// GET /api/owners/{ownerID}/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.ledger.ListAccounts(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]AccountDTO, len(accts))
	for i, a := range accts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": dtos})
}

// GetCreditLimit returns the limit in force: the account override, else
// the shop policy, else null (unlimited).
// GET /api/accounts/{id}/credit-limit
func (h *Handler) GetCreditLimit(w http.ResponseWriter, r *http.Request) {
	id := accountParam(r)
	limit, err := h.ledger.EffectiveCreditLimit(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":   string(id),
		"credit_limit": moneyPtr(limit),
	})
}

// SetAccountCreditLimit sets or clears the account override.
// PUT /api/accounts/{id}/credit-limit
func (h *Handler) SetAccountCreditLimit(w http.ResponseWriter, r *http.Request) {
	var req CreditLimitRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := accountParam(r)
	if err := h.ledger.SetAccountCreditLimit(r.Context(), id, req.Limit); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":   string(id),
		"credit_limit": moneyPtr(req.Limit),
	})
}

// SetShopCreditLimit sets or clears the shop-wide policy.
// PUT /api/shops/{shopID}/credit-limit
func (h *Handler) SetShopCreditLimit(w http.ResponseWriter, r *http.Request) {
	var req CreditLimitRequest
	if !h.decode(w, r, &req) {
		return
	}
	shopID := chi.URLParam(r, "shopID")
	if err := h.ledger.SetShopCreditLimit(r.Context(), shopID, req.Limit); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shop_id":      shopID,
		"credit_limit": moneyPtr(req.Limit),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

func accountParam(r *http.Request) ledger.AccountID {
	return ledger.AccountID(chi.URLParam(r, "id"))
}

// parseRange reads ?from= and ?to=. A date (2006-01-02) is a whole day in
// loc, so to=2025-01-31 includes the 31st. RFC 3339 values are used as is
// with to exclusive.
func parseRange(r *http.Request, loc *time.Location) (ledger.DateRange, error) {
	var dr ledger.DateRange
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		t, _, err := parseInstant(s, loc)
		if err != nil {
			return dr, ledger.Invalid("from", "%v", err)
		}
		dr.From = t
	}
	if s := q.Get("to"); s != "" {
		t, dateOnly, err := parseInstant(s, loc)
		if err != nil {
			return dr, ledger.Invalid("to", "%v", err)
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		dr.To = t
	}
	return dr, nil
}

func parseInstant(s string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, false, nil
}

func parseDecimalParam(r *http.Request, name string) (*decimal.Decimal, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, ledger.Invalid(name, "not a number: %q", s)
	}
	return &d, nil
}

func parseIntParam(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, ledger.Invalid(name, "not an integer: %q", s)
	}
	return n, nil
}

func parseBoolParam(r *http.Request, name string) (bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, ledger.Invalid(name, "not a boolean: %q", s)
	}
	return b, nil
}
