package protected

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-idm-stepflow/internal/http/middleware"
	"github.com/tendant/simple-idm-stepflow/internal/httputil"
	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
)

// ProfileLookup reads stored onboarding profiles.
type ProfileLookup interface {
	GetByUsername(ctx context.Context, username string) (*domain.StoredProfile, error)
}

// Handler serves resources for fully authenticated sessions.
type Handler struct {
	logger   *slog.Logger
	chain    *flow.Chain
	profiles ProfileLookup
}

// NewHandler creates a new protected resource handler. profiles may be nil.
func NewHandler(logger *slog.Logger, chain *flow.Chain, profiles ProfileLookup) *Handler {
	return &Handler{logger: logger, chain: chain, profiles: profiles}
}

// Dashboard greets the authenticated user.
// GET /v1/api/dashboard
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	s := middleware.SessionFromContext(r.Context())
	if s == nil {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	st := h.chain.State(s)
	httputil.JSON(w, http.StatusOK, map[string]any{
		"message":         "Welcome, " + st.Username + "!",
		"username":        st.Username,
		"completed_steps": st.CompletedSteps(),
		"authorities":     st.Grants,
	})
}

// Profile returns the user's session details and onboarding profile.
// GET /v1/api/profile
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	s := middleware.SessionFromContext(r.Context())
	if s == nil {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	st := h.chain.State(s)
	resp := map[string]any{
		"username":             st.Username,
		"onboarding_completed": st.OnboardingCompleted,
		"authenticated_at":     st.LastActivity,
		"session_started_at":   st.CreatedAt,
	}

	if h.profiles != nil && st.Username != "" {
		p, err := h.profiles.GetByUsername(r.Context(), st.Username)
		switch {
		case err == nil:
			resp["profile"] = p
		case errors.Is(err, domain.ErrProfileNotFound):
		default:
			h.logger.Error("failed to load profile", "username", st.Username, "error", err)
		}
	}
	httputil.JSON(w, http.StatusOK, resp)
}
