package ports

import (
	"net/http"

	"github.com/Amund211/duelhistory/internal/logging"
	"github.com/Amund211/duelhistory/internal/ratelimiting"
)

func NewRateLimitMiddleware(rateLimiter ratelimiting.RequestRateLimiter, onLimitExceeded http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if rateLimiter.Consume(r) {
				next(w, r)
				return
			}

			ctx := r.Context()
			logging.FromContext(ctx).InfoContext(ctx, "Rate limit exceeded", "key", rateLimiter.KeyFor(r))
			onLimitExceeded(w, r)
		}
	}
}

// Compose middlewares so the first one is outermost
func ComposeMiddlewares(middlewares ...func(http.HandlerFunc) http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	return func(h http.HandlerFunc) http.HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}
