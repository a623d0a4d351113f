package api

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// limitByUser caps requests per authenticated user in a sliding window.
// A limit of 0 returns a pass-through middleware.
func limitByUser(limit int, window time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(userKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "too many requests, try again later")
		}),
	)
}

// userKey keys on the caller's user id, falling back to the client IP for
// requests that carry no identity.
func userKey(r *http.Request) (string, error) {
	if actor, ok := actorFromContext(r.Context()); ok && actor.ID != "" {
		return "user:" + actor.ID, nil
	}
	return httprate.KeyByIP(r)
}
