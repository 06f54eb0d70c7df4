/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For for rate limiting
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Request count and latency per route pattern
  6. Secure:     Security headers, HTTPS redirect in production
  7. CORS:       Cross-origin requests for the shop and customer apps
  8. Timeout:    Request deadline; the ledger's own op timeout is shorter
  9. Rate limit: Per client IP, /api only

ROUTE GROUPS:
  /healthz, /readyz     Liveness and readiness
  /metrics              Prometheus
  /api/identities/*     Party registry
  /api/accounts/*       Accounts, entries, balances, statements
  /api/transactions/*   Single and bulk entry operations
  /api/owners/*         Owner-wide lists, summaries, reconciliation
  /api/shops/*          Shop credit policy and orders
  /api/customers/*      Customer orders
  /api/orders/*         Order lifecycle
  /api/reconciliation/* Discrepancy scans
  /api/scenarios/*      Demo fixtures (when enabled)

SECURITY NOTE:
  No authentication middleware. The X-Actor-ID header is trusted; deploy
  behind a gateway that sets it.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/udhaar/credit-ledger/observability"
)

// RouterConfig holds the middleware settings.
type RouterConfig struct {
	CORSOrigins     []string
	RateLimitPerMin int // 0 disables rate limiting
	RequestTimeout  time.Duration
	Production      bool
	Metrics         *observability.Metrics
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cfg.Metrics.Middleware)
	r.Use(secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !cfg.Production,
	}).Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimitPerMin > 0 {
			r.Use(httprate.Limit(cfg.RateLimitPerMin, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}

		r.Route("/identities", func(r chi.Router) {
			r.Post("/", h.RegisterIdentity)
			r.Get("/{phone}", h.ResolveIdentity)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.OpenAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/credit-limit", h.GetCreditLimit)
			r.Put("/{id}/credit-limit", h.SetAccountCreditLimit)
			r.Post("/{id}/transactions", h.AppendTransaction)
			r.Get("/{id}/transactions", h.QueryTransactions)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/statement", h.GetStatement)
			r.Get("/{id}/snapshot", h.GetSnapshot)
			r.Get("/{id}/summary", h.AccountSummary)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/bulk-edit", h.BulkEdit)
			r.Post("/bulk-delete", h.BulkDelete)
			r.Get("/{id}", h.GetTransaction)
			r.Patch("/{id}", h.EditTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
			r.Get("/{id}/history", h.TransactionHistory)
		})

		r.Route("/owners/{ownerID}", func(r chi.Router) {
			r.Get("/accounts", h.ListAccounts)
			r.Get("/summary", h.OwnerSummary)
			r.Get("/reconciliation/{phone}", h.Reconcile)
		})

		r.Route("/shops/{shopID}", func(r chi.Router) {
			r.Put("/credit-limit", h.SetShopCreditLimit)
			r.Get("/orders", h.ListShopOrders)
		})

		r.Get("/customers/{phone}/orders", h.ListCustomerOrders)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.Checkout)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/accept", h.AcceptOrder)
			r.Post("/{id}/verify-prices", h.VerifyPrices)
			r.Put("/{id}/items", h.EditOrderItems)
			r.Post("/{id}/cancel", h.CancelOrder)
			r.Post("/{id}/ready", h.MarkOrderReady)
			r.Post("/{id}/collect", h.CollectOrder)
		})

		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/runs", h.ListScanRuns)
			r.Post("/runs", h.RunScan)
		})

		if h.scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
