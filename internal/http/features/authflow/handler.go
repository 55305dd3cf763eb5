package authflow

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/simple-idm-stepflow/internal/http/middleware"
	"github.com/tendant/simple-idm-stepflow/internal/httputil"
	"github.com/tendant/simple-idm-stepflow/pkg/auth"
	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
	"github.com/tendant/simple-idm-stepflow/pkg/sessions"
	"github.com/tendant/simple-idm-stepflow/pkg/settings"
)

// Handler serves the authentication step endpoints.
type Handler struct {
	logger       *slog.Logger
	chain        *flow.Chain
	sessions     *sessions.Manager
	settings     *settings.Service
	tokens       *auth.TokenService
	cookieConfig httputil.CookieConfig
}

// NewHandler creates a new flow handler. tokens may be nil when bearer
// tokens are not configured.
func NewHandler(
	logger *slog.Logger,
	chain *flow.Chain,
	manager *sessions.Manager,
	settingsService *settings.Service,
	tokens *auth.TokenService,
	cookieConfig httputil.CookieConfig,
) *Handler {
	return &Handler{
		logger:       logger,
		chain:        chain,
		sessions:     manager,
		settings:     settingsService,
		tokens:       tokens,
		cookieConfig: cookieConfig,
	}
}

// LoginRequest is the password step body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// OTPRequest is the otp step body.
type OTPRequest struct {
	OTP string `json:"otp"`
}

// OnboardRequest is the onboarding step body.
type OnboardRequest struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// StepRequest is the body of the generic step endpoint. Each step reads the
// fields it needs.
type StepRequest struct {
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	OTP         string `json:"otp,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// StepResponse reports the outcome of a step submission.
type StepResponse struct {
	Success            bool          `json:"success"`
	Message            string        `json:"message"`
	Code               string        `json:"code,omitempty"`
	StepCompleted      bool          `json:"step_completed"`
	NextStep           string        `json:"next_step,omitempty"`
	NextURL            string        `json:"next_url,omitempty"`
	FullyAuthenticated bool          `json:"fully_authenticated"`
	Grants             []string      `json:"grants,omitempty"`
	Progress           flow.Progress `json:"progress"`
	AccessToken        string        `json:"access_token,omitempty"`
	TokenType          string        `json:"token_type,omitempty"`
	ExpiresIn          int           `json:"expires_in,omitempty"`
}

// StatusResponse describes the caller's session.
type StatusResponse struct {
	Authenticated      bool     `json:"authenticated"`
	FullyAuthenticated bool     `json:"fully_authenticated"`
	Username           string   `json:"username,omitempty"`
	CompletedSteps     []string `json:"completed_steps"`
	NextStep           string   `json:"next_step,omitempty"`
	NextURL            string   `json:"next_url,omitempty"`
	Grants             []string `json:"grants,omitempty"`
	OTPEnabled         bool     `json:"otp_enabled"`
	OnboardingEnabled  bool     `json:"onboarding_enabled"`
	Flow               string   `json:"flow"`
}

// Login handles the password step.
// POST /v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	h.submit(w, r, flow.StepPassword, flow.Credential{Username: req.Username, Password: req.Password})
}

// VerifyOTP handles the otp step.
// POST /v1/auth/otp
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	h.submit(w, r, flow.StepOTP, flow.Credential{Code: req.OTP})
}

// Onboard handles the onboarding step.
// POST /v1/auth/onboard
func (h *Handler) Onboard(w http.ResponseWriter, r *http.Request) {
	var req OnboardRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	h.submit(w, r, flow.StepOnboarding, flow.Credential{Profile: &domain.OnboardingProfile{
		FullName:    req.FullName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
	}})
}

// SubmitStep handles any step by id.
// POST /v1/auth/steps/{stepID}
func (h *Handler) SubmitStep(w http.ResponseWriter, r *http.Request) {
	var req StepRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	cred := flow.Credential{Username: req.Username, Password: req.Password, Code: req.OTP}
	if req.FullName != "" || req.Email != "" || req.PhoneNumber != "" {
		cred.Profile = &domain.OnboardingProfile{
			FullName:    req.FullName,
			Email:       req.Email,
			PhoneNumber: req.PhoneNumber,
		}
	}
	h.submit(w, r, chi.URLParam(r, "stepID"), cred)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, stepID string, cred flow.Credential) {
	ctx := r.Context()
	s := middleware.SessionFromContext(ctx)

	if s == nil {
		if stepID != flow.StepPassword {
			// Only the first step may start a session; let the chain
			// produce the matching rejection on a throwaway one.
			res := h.chain.ProcessStep(ctx, stepID, cred, flow.NewSession("", time.Now()))
			h.writeResult(w, res, nil)
			return
		}
		var err error
		if s, err = h.sessions.Create(ctx); err != nil {
			h.logger.Error("failed to create session", "error", err)
			httputil.Error(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		httputil.SetSessionCookie(w, s.ID(), h.cookieConfig)
	}

	res := h.chain.Submit(ctx, stepID, cred, s)

	if err := h.sessions.Save(ctx, s); err != nil {
		h.logger.Error("failed to save session", "session", s.ID(), "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	if res.Success {
		h.logger.Info("step completed", "session", s.ID(), "step", stepID, "next", res.NextStep)
	} else {
		h.logger.Warn("step failed", "session", s.ID(), "step", stepID, "error", res.Err)
	}
	h.writeResult(w, res, s)
}

func (h *Handler) writeResult(w http.ResponseWriter, res flow.Result, s *flow.Session) {
	resp := StepResponse{
		Success:       res.Success,
		Message:       res.Message,
		StepCompleted: res.Completed,
		NextStep:      res.NextStep,
		Grants:        res.Grants,
	}
	if next, ok := h.chain.Step(res.NextStep); ok {
		resp.NextURL = next.URL()
	}
	if s != nil {
		resp.Progress = h.chain.Progress(s)
		resp.FullyAuthenticated = resp.Progress.FullyAuthenticated
	}

	if !res.Success {
		status, code := StatusFor(res.Err)
		resp.Code = code
		httputil.JSON(w, status, resp)
		return
	}

	if resp.FullyAuthenticated && h.tokens != nil {
		st := h.chain.State(s)
		token, _, err := h.tokens.Issue(s.ID(), st.Username, st.Grants)
		if err != nil {
			h.logger.Error("failed to issue access token", "session", s.ID(), "error", err)
		} else {
			resp.AccessToken = token
			resp.TokenType = "Bearer"
			resp.ExpiresIn = int(h.tokens.TTL().Seconds())
		}
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// StatusFor maps an engine error to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnknownStep):
		return http.StatusNotFound, "unknown_step"
	case errors.Is(err, domain.ErrStepDisabled):
		return http.StatusBadRequest, "step_disabled"
	case errors.Is(err, domain.ErrStepAlreadyCompleted):
		return http.StatusConflict, "step_already_completed"
	case errors.Is(err, domain.ErrStepInProgress):
		return http.StatusConflict, "step_in_progress"
	case errors.Is(err, domain.ErrSessionReset):
		return http.StatusConflict, "session_reset"
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusConflict, "access_denied"
	case errors.Is(err, domain.ErrVerificationFailed):
		return http.StatusUnauthorized, "verification_failed"
	case errors.Is(err, domain.ErrSessionExpired):
		return http.StatusUnauthorized, "session_expired"
	case errors.Is(err, domain.ErrCollaborator):
		return http.StatusBadGateway, "backend_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// Status reports the caller's session.
// GET /v1/auth/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	current := h.settings.Current(r.Context())
	resp := StatusResponse{
		CompletedSteps:    []string{},
		OTPEnabled:        current.OTPEnabled,
		OnboardingEnabled: current.OnboardingEnabled,
		Flow:              h.chain.FlowDescription(),
		NextStep:          flow.StepPassword,
	}

	if s := middleware.SessionFromContext(r.Context()); s != nil {
		st := h.chain.State(s)
		resp.Authenticated = st.Username != ""
		resp.Username = st.Username
		resp.CompletedSteps = st.CompletedSteps()
		resp.Grants = st.Grants
		resp.NextStep = h.chain.NextStep(s)
		resp.FullyAuthenticated = h.chain.IsFullyAuthenticated(s)
	}
	if next, ok := h.chain.Step(resp.NextStep); ok {
		resp.NextURL = next.URL()
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// Progress reports step completion counts.
// GET /v1/auth/progress
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	s := middleware.SessionFromContext(r.Context())
	if s == nil {
		s = flow.NewSession("", time.Now())
	}
	p := h.chain.Progress(s)
	httputil.JSON(w, http.StatusOK, map[string]any{
		"completed":           p.Completed,
		"total":               p.Total,
		"percentage":          p.Percentage(),
		"fully_authenticated": p.FullyAuthenticated,
		"next_step":           p.NextStep,
	})
}

// Logout discards the session.
// POST /v1/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if s := middleware.SessionFromContext(r.Context()); s != nil {
		h.chain.ResetAll(s)
		if err := h.sessions.Delete(r.Context(), s.ID()); err != nil {
			h.logger.Error("failed to delete session", "session", s.ID(), "error", err)
		}
	}
	httputil.ClearSessionCookie(w, h.cookieConfig)
	httputil.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})
}

// OTPInfo describes the otp step to a caller allowed to see it.
// GET /v1/auth/otp/info
func (h *Handler) OTPInfo(w http.ResponseWriter, r *http.Request) {
	h.stepInfo(w, r, flow.StepOTP, "Enter the 6-digit code sent to you")
}

// OnboardInfo describes the onboarding step to a caller allowed to see it.
// GET /v1/auth/onboard/info
func (h *Handler) OnboardInfo(w http.ResponseWriter, r *http.Request) {
	h.stepInfo(w, r, flow.StepOnboarding, "Provide your full name, email and optionally a phone number")
}

func (h *Handler) stepInfo(w http.ResponseWriter, r *http.Request, stepID, instructions string) {
	step, ok := h.chain.Step(stepID)
	if !ok {
		httputil.Error(w, http.StatusNotFound, "unknown step")
		return
	}
	s := middleware.SessionFromContext(r.Context())
	if s == nil {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	st := h.chain.State(s)
	httputil.JSON(w, http.StatusOK, map[string]any{
		"step":         step.ID(),
		"name":         step.Name(),
		"order":        step.Order(),
		"url":          step.URL(),
		"username":     st.Username,
		"completed":    step.Completed(st),
		"instructions": instructions,
	})
}
