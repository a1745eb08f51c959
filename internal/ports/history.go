package ports

import (
	"log/slog"
	"net/http"

	"github.com/Amund211/duelhistory/internal/app"
	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/Amund211/duelhistory/internal/logging"
	"github.com/Amund211/duelhistory/internal/ratelimiting"
)

func MakeGetHistoryHandler(
	getRatingHistory app.GetRatingHistory,
	rateLimiter ratelimiting.RequestRateLimiter,
	allowedOrigins *DomainSuffixes,
	logger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		logging.NewRequestLoggerMiddleware(logger),
		sentryMiddleware,
		buildMetricsMiddleware(),
		BuildCORSMiddleware(allowedOrigins, http.MethodGet),
		NewRateLimitMiddleware(rateLimiter, rateLimitExceeded),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		var selected *domain.Series
		if rawSeries := r.URL.Query().Get("series"); rawSeries != "" {
			series, err := domain.ParseSeries(rawSeries)
			if err != nil {
				http.Error(w, "invalid series", http.StatusBadRequest)
				return
			}
			selected = &series
		}

		history, err := getRatingHistory(r.Context())
		if err != nil {
			logging.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to get rating history", "error", err)
			http.Error(w, "Failed to get history", http.StatusInternalServerError)
			return
		}

		marshalled, err := RatingHistoryToResponseData(history, selected)
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
