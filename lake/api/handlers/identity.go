package handlers

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader carries the already-authenticated user id. Requests without it
// are anonymous and only see anonymous conversations.
const UserIDHeader = "X-User-ID"

type userKey struct{}

// Identity stores the caller's user id in the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
			r = r.WithContext(context.WithValue(r.Context(), userKey{}, id))
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromContext returns the caller's user id, or nil when anonymous.
func UserFromContext(ctx context.Context) *string {
	id, ok := ctx.Value(userKey{}).(string)
	if !ok {
		return nil
	}
	return &id
}
