// Package handler exposes the sync engine over HTTP: sync triggering,
// account and spend reads, anomaly reports and operational endpoints.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/infra/observability"
	"github.com/costwatch/costwatch-go/internal/port"
	"github.com/costwatch/costwatch-go/internal/service"
)

var tracer = otel.Tracer("handler")

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(
	syncSvc *service.SyncService,
	anomalySvc *service.AnomalyService,
	authSvc *service.AuthService,
	accounts port.AccountStore,
	ledger port.SpendLedger,
	store Pinger,
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

	// The dashboard frontend calls this API from the browser.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(store, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 (token-scoped to one organization) ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(JWTAuthMiddleware(authSvc, logger))

		r.Route("/organizations/{orgID}", func(r chi.Router) {
			r.Use(RequireOrgAccess(logger))

			r.Post("/accounts/{accountID}/sync", syncAccountHandler(syncSvc, logger))
			r.Get("/accounts/{accountID}", getAccountHandler(accounts, logger))
			r.Get("/spend", getSpendHandler(ledger, logger))
			r.Get("/anomalies", getAnomaliesHandler(anomalySvc, logger))
		})

		r.Get("/metrics/sync", syncMetricsHandler(metrics))
	})

	return r
}

// ============================================================
// Sync - POST /v1/organizations/{orgID}/accounts/{accountID}/sync
// ============================================================

func syncAccountHandler(syncSvc *service.SyncService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/organizations/{orgID}/accounts/{accountID}/sync")
		defer span.End()

		orgID := chi.URLParam(r, "orgID")
		accountID := chi.URLParam(r, "accountID")
		span.SetAttributes(
			attribute.String("organization.id", orgID),
			attribute.String("account.id", accountID),
		)

		// Pre-lock failures (NotFound, RateLimited) surface as errors; a
		// failed backfill comes back as a result and still renders 200.
		result, err := syncSvc.Sync(ctx, orgID, accountID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// ============================================================
// Accounts - GET /v1/organizations/{orgID}/accounts/{accountID}
// ============================================================

func getAccountHandler(accounts port.AccountStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/organizations/{orgID}/accounts/{accountID}")
		defer span.End()

		orgID := chi.URLParam(r, "orgID")
		accountID := chi.URLParam(r, "accountID")

		acct, err := accounts.GetAccount(ctx, orgID, accountID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, acct)
	}
}

// ============================================================
// Spend - GET /v1/organizations/{orgID}/spend?days=30
// ============================================================

func getSpendHandler(ledger port.SpendLedger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/organizations/{orgID}/spend")
		defer span.End()

		orgID := chi.URLParam(r, "orgID")
		days := parseDays(r, 30, 365)

		totals, err := ledger.DailyTotals(ctx, orgID, sinceFromDays(time.Now(), days))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if totals == nil {
			totals = []domain.DailySpend{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"organization_id": orgID,
			"days":            days,
			"spend":           totals,
		})
	}
}

// ============================================================
// Anomalies - GET /v1/organizations/{orgID}/anomalies
// ============================================================

func getAnomaliesHandler(anomalySvc *service.AnomalyService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/organizations/{orgID}/anomalies")
		defer span.End()

		orgID := chi.URLParam(r, "orgID")

		report, err := anomalySvc.Detect(ctx, orgID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		// A nil report means today looks normal.
		writeJSON(w, http.StatusOK, map[string]any{"report": report})
	}
}

// ============================================================
// Metrics & Health
// ============================================================

func syncMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetSyncSnapshot())
	}
}

func healthzHandler(store Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := domain.HealthStatus{Status: "healthy", Store: "ok"}

		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				logger.Warn("healthz: store unreachable", zap.Error(err))
				status.Status = "degraded"
				status.Store = "unreachable"
			}
		} else {
			status.Store = "unconfigured"
		}

		writeJSON(w, http.StatusOK, status)
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
