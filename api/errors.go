package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/udhaar/credit-ledger/ledger"
	"github.com/udhaar/credit-ledger/order"
)

// maxBodyBytes bounds request bodies. Bulk requests are the largest.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Details any    `json:"details,omitempty"`
}

// CreditLimitDetails is returned with a 409 so the client can offer an
// override. Repeating the request with bypass=true admits the entry.
type CreditLimitDetails struct {
	AccountID        string `json:"account_id"`
	CurrentBalance   string `json:"current_balance"`
	CreditLimit      string `json:"credit_limit"`
	ProjectedBalance string `json:"projected_balance"`
	ExceededBy       string `json:"exceeded_by"`
	CanOverride      bool   `json:"can_override"`
}

type FieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type TransitionDetails struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	Event   string `json:"event"`
}

// kindMalformed is the kind for bodies that are not valid JSON.
const kindMalformed = "malformed_request"

// statusFor maps an error kind to its HTTP status.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindInvalidAmount, ledger.KindValidation:
		return http.StatusUnprocessableEntity
	case ledger.KindUnknownAccount, ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindImmutableTransaction, ledger.KindInvalidTransition,
		ledger.KindCreditLimitExceeded, ledger.KindConflict:
		return http.StatusConflict
	case ledger.KindTimeout:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeDomainError renders err with the status of its kind. Internal
// errors are logged and their text is not returned.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	if errors.Is(err, ErrScanRunning) {
		kind = ledger.KindConflict
	}
	status := statusFor(kind)
	resp := ErrorResponse{Error: err.Error(), Kind: string(kind)}

	var (
		limitErr      *ledger.CreditLimitExceededError
		fieldErr      *ledger.ValidationError
		transitionErr *order.InvalidTransitionError
	)
	switch {
	case errors.As(err, &limitErr):
		resp.Details = CreditLimitDetails{
			AccountID:        string(limitErr.AccountID),
			CurrentBalance:   money(limitErr.CurrentBalance),
			CreditLimit:      money(limitErr.CreditLimit),
			ProjectedBalance: money(limitErr.ProjectedBalance),
			ExceededBy:       money(limitErr.ExceededBy),
			CanOverride:      true,
		}
	case errors.As(err, &fieldErr):
		resp.Details = []FieldErrorDTO{{Field: fieldErr.Field, Message: fieldErr.Message}}
	case errors.As(err, &transitionErr):
		resp.Details = TransitionDetails{
			OrderID: string(transitionErr.OrderID),
			From:    string(transitionErr.From),
			Event:   string(transitionErr.Event),
		}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("error", err))
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Kind: kind, Details: details})
}

// =============================================================================
// REQUEST DECODING
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. On failure the
// response is written and false is returned.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, kindMalformed, "request body is empty", nil)
			return false
		}
		writeError(w, http.StatusBadRequest, kindMalformed, "invalid JSON", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, kindMalformed, err.Error(), nil)
			return false
		}
		details := make([]FieldErrorDTO, len(verrs))
		for i, fe := range verrs {
			details[i] = FieldErrorDTO{Field: fieldPath(fe), Message: ruleMessage(fe)}
		}
		writeError(w, http.StatusUnprocessableEntity, string(ledger.KindValidation), "validation failed", details)
		return false
	}
	return true
}

// fieldPath drops the struct name from the namespace: "CheckoutRequest.items[0].name"
// becomes "items[0].name".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return fmt.Sprintf("failed %q", fe.Tag())
}
