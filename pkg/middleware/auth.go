package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/perch-social/perch/pkg/composables"
	"github.com/perch-social/perch/pkg/httpapi"
)

// AccountHeader carries the authenticated account id, set by the edge
// proxy after token verification.
const AccountHeader = "X-Account-ID"

// RequireAccount rejects requests without an authenticated account and
// scopes the context to it.
func RequireAccount() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(AccountHeader))
			if raw == "" {
				_ = httpapi.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
				return
			}
			accountID, err := uuid.Parse(raw)
			if err != nil {
				_ = httpapi.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid account credential", nil)
				return
			}
			ctx := composables.WithAccountID(r.Context(), accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
