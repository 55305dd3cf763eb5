package admin

import (
	"log/slog"
	"net/http"

	"github.com/tendant/simple-idm-stepflow/internal/httputil"
	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
	"github.com/tendant/simple-idm-stepflow/pkg/settings"
)

// Handler manages the authentication settings.
type Handler struct {
	logger   *slog.Logger
	settings *settings.Service
	chain    *flow.Chain
}

// NewHandler creates a new admin handler.
func NewHandler(logger *slog.Logger, settingsService *settings.Service, chain *flow.Chain) *Handler {
	return &Handler{logger: logger, settings: settingsService, chain: chain}
}

// UpdateRequest changes the optional steps. Omitted fields keep their value.
type UpdateRequest struct {
	OTPEnabled        *bool `json:"otp_enabled"`
	OnboardingEnabled *bool `json:"onboarding_enabled"`
}

// SettingsResponse reports the settings and the flow they produce.
type SettingsResponse struct {
	Settings        *domain.AuthSettings `json:"settings"`
	FlowDescription string               `json:"flow_description"`
	Message         string               `json:"message,omitempty"`
}

// StepStatus describes one registered step.
type StepStatus struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Order   int    `json:"order"`
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// Get returns the current settings.
// GET /v1/admin/auth-settings
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	current := h.settings.Current(r.Context())
	httputil.JSON(w, http.StatusOK, SettingsResponse{
		Settings:        current,
		FlowDescription: current.FlowDescription(),
	})
}

// Status lists the registered steps and which of them are enabled.
// GET /v1/admin/auth-settings/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	current := h.settings.Current(r.Context())
	steps := make([]StepStatus, 0, len(h.chain.Steps()))
	for _, step := range h.chain.Steps() {
		steps = append(steps, StepStatus{
			ID:      step.ID(),
			Name:    step.Name(),
			Order:   step.Order(),
			Enabled: step.Enabled(),
			URL:     step.URL(),
		})
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"otp_enabled":        current.OTPEnabled,
		"onboarding_enabled": current.OnboardingEnabled,
		"flow_description":   current.FlowDescription(),
		"flow":               h.chain.FlowDescription(),
		"steps":              steps,
		"updated_at":         current.UpdatedAt,
	})
}

// Update changes one or both toggles.
// POST /v1/admin/auth-settings/update
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.OTPEnabled == nil && req.OnboardingEnabled == nil {
		httputil.Error(w, http.StatusBadRequest, "otp_enabled or onboarding_enabled is required")
		return
	}

	updated, err := h.settings.Apply(r.Context(), req.OTPEnabled, req.OnboardingEnabled)
	h.respond(w, updated, err, "Authentication settings updated")
}

// EnableOTP turns the otp step on.
// POST /v1/admin/auth-settings/enable-otp
func (h *Handler) EnableOTP(w http.ResponseWriter, r *http.Request) {
	updated, err := h.settings.SetOTPEnabled(r.Context(), true)
	h.respond(w, updated, err, "OTP enabled")
}

// DisableOTP turns the otp step off.
// POST /v1/admin/auth-settings/disable-otp
func (h *Handler) DisableOTP(w http.ResponseWriter, r *http.Request) {
	updated, err := h.settings.SetOTPEnabled(r.Context(), false)
	h.respond(w, updated, err, "OTP disabled")
}

// EnableOnboarding turns the onboarding step on.
// POST /v1/admin/auth-settings/enable-onboarding
func (h *Handler) EnableOnboarding(w http.ResponseWriter, r *http.Request) {
	updated, err := h.settings.SetOnboardingEnabled(r.Context(), true)
	h.respond(w, updated, err, "Onboarding enabled")
}

// DisableOnboarding turns the onboarding step off.
// POST /v1/admin/auth-settings/disable-onboarding
func (h *Handler) DisableOnboarding(w http.ResponseWriter, r *http.Request) {
	updated, err := h.settings.SetOnboardingEnabled(r.Context(), false)
	h.respond(w, updated, err, "Onboarding disabled")
}

// FlowCombinations lists the four possible flows.
// GET /v1/admin/auth-settings/flow-combinations
func (h *Handler) FlowCombinations(w http.ResponseWriter, r *http.Request) {
	current := h.settings.Current(r.Context())
	httputil.JSON(w, http.StatusOK, map[string]any{
		"combinations": domain.FlowCombinations(),
		"current":      current.FlowDescription(),
	})
}

func (h *Handler) respond(w http.ResponseWriter, updated *domain.AuthSettings, err error, message string) {
	if err != nil {
		h.logger.Error("failed to update authentication settings", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to update settings")
		return
	}
	httputil.JSON(w, http.StatusOK, SettingsResponse{
		Settings:        updated,
		FlowDescription: updated.FlowDescription(),
		Message:         message,
	})
}
