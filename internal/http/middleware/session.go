package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-idm-stepflow/internal/httputil"
	"github.com/tendant/simple-idm-stepflow/pkg/auth"
	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
	"github.com/tendant/simple-idm-stepflow/pkg/sessions"
)

type contextKey string

const (
	// SessionKey is the context key for the resolved flow session.
	SessionKey contextKey = "session"
	// ClaimsKey is the context key for bearer token claims.
	ClaimsKey contextKey = "claims"
	// AdminTokenKey is the context key for the presented admin token.
	AdminTokenKey contextKey = "admin_token"
)

// Session resolves the caller's flow session. A bearer token is tried first
// when tokens is configured, then the session cookie. Requests without a
// session continue with none in the context.
func Session(manager *sessions.Manager, tokens *auth.TokenService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var sessionID string

			if bearer, ok := httputil.GetBearerToken(r); ok && tokens != nil {
				claims, err := tokens.Validate(bearer)
				if err != nil {
					httputil.Error(w, http.StatusUnauthorized, "invalid or expired token")
					return
				}
				sessionID = claims.SessionID()
				ctx = context.WithValue(ctx, ClaimsKey, claims)
			} else if id, ok := httputil.GetSessionIDFromCookie(r); ok {
				sessionID = id
			}

			if sessionID != "" {
				s, err := manager.Get(ctx, sessionID)
				switch {
				case err == nil:
					ctx = context.WithValue(ctx, SessionKey, s)
				case errors.Is(err, domain.ErrSessionNotFound):
					if ctx.Value(ClaimsKey) != nil {
						httputil.Error(w, http.StatusUnauthorized, "session no longer exists")
						return
					}
				default:
					logger.Error("failed to load session", "session", sessionID, "error", err)
					httputil.Error(w, http.StatusServiceUnavailable, "session store unavailable")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the resolved session or nil.
func SessionFromContext(ctx context.Context) *flow.Session {
	s, _ := ctx.Value(SessionKey).(*flow.Session)
	return s
}

// ClaimsFromContext returns bearer token claims when the request used one.
func ClaimsFromContext(ctx context.Context) (*auth.AccessTokenClaims, bool) {
	c, ok := ctx.Value(ClaimsKey).(*auth.AccessTokenClaims)
	return c, ok
}
