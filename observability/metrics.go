// Package observability exposes Prometheus metrics for the HTTP layer and
// the ledger, reconciliation and order services.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/udhaar/credit-ledger/ledger"
	"github.com/udhaar/credit-ledger/order"
	"github.com/udhaar/credit-ledger/reconcile"
)

// Metrics implements ledger.Observer, reconcile.Observer and
// order.Observer on one registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	appends           *prometheus.CounterVec
	creditLimit       *prometheus.CounterVec
	reconciliations   *prometheus.CounterVec
	orderTransitions  *prometheus.CounterVec
	scanMismatches    prometheus.Gauge
	scanDuration      prometheus.Histogram
	notificationsSent *prometheus.CounterVec
}

var (
	_ ledger.Observer    = (*Metrics)(nil)
	_ reconcile.Observer = (*Metrics)(nil)
	_ order.Observer     = (*Metrics)(nil)
)

// NewMetrics creates the registry and every metric.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "udhaar_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "udhaar_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "udhaar_ledger_appends_total",
			Help: "Transactions appended by payment type and source.",
		}, []string{"payment_type", "source"}),
		creditLimit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "udhaar_credit_limit_checks_total",
			Help: "Udhaar entries over the credit limit, refused or bypassed.",
		}, []string{"outcome"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "udhaar_reconciliations_total",
			Help: "Linked reconciliation views by result.",
		}, []string{"result"}),
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "udhaar_order_transitions_total",
			Help: "Order status transitions.",
		}, []string{"from", "to"}),
		scanMismatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "udhaar_scan_mismatches",
			Help: "Mismatched relationships found by the last discrepancy scan.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "udhaar_scan_duration_seconds",
			Help:    "Discrepancy scan duration.",
			Buckets: prometheus.DefBuckets,
		}),
		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "udhaar_notifications_total",
			Help: "Order-ready notifications handled by the worker.",
		}, []string{"result"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.appends, m.creditLimit, m.reconciliations, m.orderTransitions,
		m.scanMismatches, m.scanDuration, m.notificationsSent,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// =============================================================================
// SERVICE OBSERVERS
// =============================================================================

func (m *Metrics) TransactionAppended(pt ledger.PaymentType, src ledger.Source) {
	m.appends.WithLabelValues(string(pt), string(src)).Inc()
}

// Account ids are left out of the labels to bound cardinality.
func (m *Metrics) CreditLimitRefused(ledger.AccountID) {
	m.creditLimit.WithLabelValues("refused").Inc()
}

func (m *Metrics) CreditLimitBypassed(ledger.AccountID) {
	m.creditLimit.WithLabelValues("bypassed").Inc()
}

func (m *Metrics) Reconciled(matched bool) {
	result := "mismatch"
	if matched {
		result = "matched"
	}
	m.reconciliations.WithLabelValues(result).Inc()
}

func (m *Metrics) OrderTransitioned(from, to order.Status) {
	m.orderTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// ScanFinished records a completed discrepancy scan.
func (m *Metrics) ScanFinished(res reconcile.ScanResult, took time.Duration) {
	m.scanMismatches.Set(float64(len(res.Mismatches)))
	m.scanDuration.Observe(took.Seconds())
}

// NotificationHandled counts one worker delivery attempt.
func (m *Metrics) NotificationHandled(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notificationsSent.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
