package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/akazancev/bankcore/internal/domain"
	"github.com/akazancev/bankcore/internal/infra/observability"
	"github.com/akazancev/bankcore/internal/port"
	"github.com/akazancev/bankcore/internal/service"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
// Tariff listing is public; everything else under /v1 requires a
// Bearer token.
func NewRouter(
	ledger *service.AccountLedger,
	credits *service.CreditLifecycle,
	gate port.IdentityGate,
	identCache port.Cache[domain.Identity],
	ready func(context.Context) error,
	metrics *observability.Metrics,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(ready))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Public tariff catalogue.
		r.Get("/tariffs", listTariffsHandler(credits, logger))

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(gate, identCache, metrics, logger))

			// Accounts
			r.Post("/accounts", openAccountHandler(ledger, logger))
			r.Get("/accounts", listAccountsHandler(ledger, logger))
			r.Get("/accounts/all", listAllAccountsHandler(ledger, logger))
			r.Get("/accounts/{accountId}", getAccountHandler(ledger, logger))
			r.Post("/accounts/{accountId}/close", closeAccountHandler(ledger, logger))
			r.Post("/accounts/{accountId}/deposit", depositHandler(ledger, logger))
			r.Post("/accounts/{accountId}/withdraw", withdrawHandler(ledger, logger))
			r.Get("/accounts/{accountId}/transactions", listTransactionsHandler(ledger, logger))

			// Tariff administration
			r.Post("/tariffs", createTariffHandler(credits, logger))
			r.Patch("/tariffs/{tariffId}/status", setTariffStatusHandler(credits, logger))

			// Credits
			r.Post("/credits", applyForCreditHandler(credits, logger))
			r.Get("/credits/my", listMyCreditsHandler(credits, logger))
			r.Get("/credits/all", listAllCreditsHandler(credits, logger))
			r.Get("/credits/{creditId}", getCreditHandler(credits, logger))
			r.Post("/credits/{creditId}/payments", payCreditHandler(credits, logger))
		})
	})

	return r
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func readyzHandler(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "not ready",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
