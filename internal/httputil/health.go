package httputil

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus is the body of a healthy /health response
type HealthStatus struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// HealthHandler reports 200 while ping succeeds and 503 otherwise.
// A nil ping always reports healthy.
func HealthHandler(store string, ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				RespondError(w, http.StatusServiceUnavailable, "store unreachable")
				return
			}
		}
		RespondJSON(w, http.StatusOK, HealthStatus{Status: "ok", Store: store})
	}
}
