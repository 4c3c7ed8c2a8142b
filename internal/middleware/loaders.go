package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/versioned/internal/historyloader"
	"github.com/rpattn/versioned/internal/versioning"
)

type ctxKey string

const historyLoadersKey ctxKey = "historyLoaders"

// LoaderMiddleware attaches a fresh set of history loaders to each request
func LoaderMiddleware(registry *versioning.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), historyLoadersKey, historyloader.NewSet(registry))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoadersFromContext retrieves the request's history loaders
func LoadersFromContext(ctx context.Context) *historyloader.Set {
	if s, ok := ctx.Value(historyLoadersKey).(*historyloader.Set); ok {
		return s
	}
	return nil
}
