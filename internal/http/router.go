package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/simple-idm-stepflow/internal/config"
	"github.com/tendant/simple-idm-stepflow/internal/http/features/admin"
	"github.com/tendant/simple-idm-stepflow/internal/http/features/authflow"
	"github.com/tendant/simple-idm-stepflow/internal/http/features/protected"
	"github.com/tendant/simple-idm-stepflow/internal/http/middleware"
	"github.com/tendant/simple-idm-stepflow/internal/httputil"
	"github.com/tendant/simple-idm-stepflow/pkg/auth"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
	"github.com/tendant/simple-idm-stepflow/pkg/sessions"
	"github.com/tendant/simple-idm-stepflow/pkg/settings"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger          *slog.Logger
	Chain           *flow.Chain
	Gate            *flow.Gate
	Sessions        *sessions.Manager
	Settings        *settings.Service
	Tokens          *auth.TokenService // optional
	Profiles        protected.ProfileLookup
	RateLimitConfig config.RateLimitConfig
	SecurityHeaders config.SecurityHeadersConfig
	MaxRequestBody  int64
	CookieSecure    bool // Whether to use Secure flag on cookies (should be true for HTTPS)
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.MaxRequestBody))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Create rate limiters for different endpoint types
	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)

	cookieConfig := httputil.DefaultCookieConfig()
	cookieConfig.Secure = cfg.CookieSecure

	flowHandler := authflow.NewHandler(cfg.Logger, cfg.Chain, cfg.Sessions, cfg.Settings, cfg.Tokens, cookieConfig)
	adminHandler := admin.NewHandler(cfg.Logger, cfg.Settings, cfg.Chain)
	protectedHandler := protected.NewHandler(cfg.Logger, cfg.Chain, cfg.Profiles)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Session(cfg.Sessions, cfg.Tokens, cfg.Logger))

		// Authentication steps
		r.With(rateLimiters[middleware.LimitLogin]).Post("/v1/auth/login", flowHandler.Login)
		r.Group(func(r chi.Router) {
			r.Use(rateLimiters[middleware.LimitVerify])
			r.Post("/v1/auth/otp", flowHandler.VerifyOTP)
			r.Post("/v1/auth/onboard", flowHandler.Onboard)
			r.Post("/v1/auth/steps/{stepID}", flowHandler.SubmitStep)
		})

		r.Get("/v1/auth/status", flowHandler.Status)
		r.Get("/v1/auth/progress", flowHandler.Progress)
		r.Post("/v1/auth/logout", flowHandler.Logout)

		r.With(middleware.RequireAccess(cfg.Gate, flow.OTPArea, cfg.Logger)).
			Get("/v1/auth/otp/info", flowHandler.OTPInfo)
		r.With(middleware.RequireAccess(cfg.Gate, flow.OnboardingArea, cfg.Logger)).
			Get("/v1/auth/onboard/info", flowHandler.OnboardInfo)

		// Resources for fully authenticated sessions
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAccess(cfg.Gate, flow.ProtectedAPI, cfg.Logger))
			r.Get("/v1/api/dashboard", protectedHandler.Dashboard)
			r.Get("/v1/api/profile", protectedHandler.Profile)
		})

		// Settings administration
		r.Route("/v1/admin/auth-settings", func(r chi.Router) {
			r.Use(rateLimiters[middleware.LimitAdmin])
			r.Use(middleware.AdminToken)
			r.Use(middleware.RequireAccess(cfg.Gate, flow.AdminArea, cfg.Logger))
			r.Get("/", adminHandler.Get)
			r.Get("/status", adminHandler.Status)
			r.Post("/update", adminHandler.Update)
			r.Post("/enable-otp", adminHandler.EnableOTP)
			r.Post("/disable-otp", adminHandler.DisableOTP)
			r.Post("/enable-onboarding", adminHandler.EnableOnboarding)
			r.Post("/disable-onboarding", adminHandler.DisableOnboarding)
			r.Get("/flow-combinations", adminHandler.FlowCombinations)
		})
	})

	return r
}
