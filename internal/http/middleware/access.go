package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-idm-stepflow/internal/httputil"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
)

// AdminTokenHeader carries the admin token.
const AdminTokenHeader = "X-Admin-Token"

// RequireAccess rejects requests the gate denies for resource.
// Must be used after Session.
func RequireAccess(gate *flow.Gate, resource flow.Resource, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := SessionFromContext(r.Context())
			if gate.Allow(r.Context(), resource, s) {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("access denied", "resource", resource.String(), "path", r.URL.Path, "has_session", s != nil)
			if s == nil && resource != flow.AdminArea {
				httputil.Error(w, http.StatusUnauthorized, "authentication required")
				return
			}
			httputil.Error(w, http.StatusForbidden, "access denied")
		})
	}
}

// AdminToken copies the admin token header into the request context so that
// an AdminTokenPolicy can see it.
func AdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := r.Header.Get(AdminTokenHeader); token != "" {
			r = r.WithContext(context.WithValue(r.Context(), AdminTokenKey, token))
		}
		next.ServeHTTP(w, r)
	})
}

// AdminTokenPolicy admits requests whose admin token equals want. An empty
// want admits nobody.
func AdminTokenPolicy(want string) flow.AdminPolicy {
	return func(ctx context.Context, _ flow.State) bool {
		got, _ := ctx.Value(AdminTokenKey).(string)
		if want == "" || got == "" {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
	}
}
