package ports

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Amund211/duelhistory/internal/app"
	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/Amund211/duelhistory/internal/logging"
	"github.com/Amund211/duelhistory/internal/ratelimiting"
)

func rateLimitExceeded(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
}

func MakeStartSyncHandler(
	startSync app.StartSync,
	rateLimiter ratelimiting.RequestRateLimiter,
	allowedOrigins *DomainSuffixes,
	logger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		logging.NewRequestLoggerMiddleware(logger),
		sentryMiddleware,
		buildMetricsMiddleware(),
		BuildCORSMiddleware(allowedOrigins, http.MethodGet, http.MethodPost),
		NewRateLimitMiddleware(rateLimiter, rateLimitExceeded),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		err := startSync(r.Context())
		if errors.Is(err, domain.ErrSyncInProgress) {
			http.Error(w, "A sync is already in progress", http.StatusConflict)
			return
		} else if err != nil {
			logging.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to start sync", "error", err)
			http.Error(w, "Failed to start sync", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}

	return middleware(handler)
}

func MakeGetSyncStatusHandler(
	getSyncStatus app.GetSyncStatus,
	rateLimiter ratelimiting.RequestRateLimiter,
	allowedOrigins *DomainSuffixes,
	logger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		logging.NewRequestLoggerMiddleware(logger),
		sentryMiddleware,
		buildMetricsMiddleware(),
		BuildCORSMiddleware(allowedOrigins, http.MethodGet, http.MethodPost),
		NewRateLimitMiddleware(rateLimiter, rateLimitExceeded),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		report, err := getSyncStatus(r.Context())
		if err != nil {
			logging.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to get sync status", "error", err)
			http.Error(w, "Failed to get sync status", http.StatusInternalServerError)
			return
		}

		marshalled, err := SyncStatusReportToResponseData(report)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(marshalled)
	}

	return middleware(handler)
}
