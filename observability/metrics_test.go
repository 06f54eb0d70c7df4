package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udhaar/credit-ledger/ledger"
	"github.com/udhaar/credit-ledger/order"
	"github.com/udhaar/credit-ledger/reconcile"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	m := NewMetrics()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/transactions")
	req := httptest.NewRequest(http.MethodPost, "/api/transactions", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)

	body := scrape(t, m)
	assert.Contains(t, body, `udhaar_http_requests_total{code="409",route="/api/transactions"} 1`)
	assert.Contains(t, body, `udhaar_http_request_duration_seconds_bucket{route="/api/transactions"`)
}

func TestServiceObservers(t *testing.T) {
	m := NewMetrics()

	m.TransactionAppended(ledger.PaymentUdhaar, ledger.SourceOrder)
	m.TransactionAppended(ledger.PaymentUdhaar, ledger.SourceOrder)
	m.CreditLimitRefused("a1")
	m.CreditLimitBypassed("a1")
	m.Reconciled(false)
	m.OrderTransitioned(order.StatusReady, order.StatusCollected)
	m.ScanFinished(reconcile.ScanResult{Mismatches: make([]reconcile.Mismatch, 3)}, time.Second)
	m.NotificationHandled(errors.New("smtp down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.appends.WithLabelValues("UDHAAR", "ORDER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.creditLimit.WithLabelValues("refused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.creditLimit.WithLabelValues("bypassed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciliations.WithLabelValues("mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orderTransitions.WithLabelValues("READY", "COLLECTED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.scanMismatches))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsSent.WithLabelValues("error")))

	assert.Contains(t, scrape(t, m), "udhaar_ledger_appends_total")
}

func TestNilMetricsHandler(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
