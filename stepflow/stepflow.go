// Package stepflow assembles the multi-step authentication engine, its
// settings service, session manager and HTTP routes into one embeddable
// instance.
//
// Basic usage with in-memory stores:
//
//	users := memory.NewUserStore()
//	_ = users.Seed(memory.DemoUsers...)
//
//	sf, err := stepflow.New(ctx, stepflow.Config{
//	    Users:     users,
//	    Settings:  memory.NewSettingsStore(),
//	    Profiles:  memory.NewProfileStore(),
//	    Sessions:  memory.NewSessionStore(),
//	    Deliverer: notification.NewLogDeliverer(logger),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	http.ListenAndServe(":8080", sf.Handler())
//
// Protecting your own routes:
//
//	r.With(sf.SessionMiddleware(), sf.RequireAccess(flow.ProtectedAPI)).Get("/reports", reports)
package stepflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/simple-idm-stepflow/internal/config"
	httpserver "github.com/tendant/simple-idm-stepflow/internal/http"
	"github.com/tendant/simple-idm-stepflow/internal/http/middleware"
	"github.com/tendant/simple-idm-stepflow/pkg/auth"
	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
	"github.com/tendant/simple-idm-stepflow/pkg/sessions"
	"github.com/tendant/simple-idm-stepflow/pkg/settings"
)

// ProfileRepository stores and reads onboarding profiles.
type ProfileRepository interface {
	Save(ctx context.Context, profile *domain.StoredProfile) error
	GetByUsername(ctx context.Context, username string) (*domain.StoredProfile, error)
}

// Config holds the configuration for a Stepflow instance.
type Config struct {
	// Users backs the password step (required).
	Users auth.UserLookup
	// Settings persists the step toggles (required).
	Settings settings.Repository
	// Profiles stores accepted onboarding profiles (optional).
	Profiles ProfileRepository
	// Sessions persists flow sessions (required).
	Sessions sessions.Store
	// Deliverer sends one-time codes (required).
	Deliverer auth.Deliverer

	// IdleTimeout resets sessions idle longer than this (default: 30 minutes).
	IdleTimeout time.Duration
	// SettingsCacheTTL bounds how stale a settings read may be (default: 5 seconds).
	SettingsCacheTTL         time.Duration
	DefaultOTPEnabled        bool
	DefaultOnboardingEnabled bool

	// JWTSecret enables bearer access tokens when set (min 32 chars).
	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration

	// AdminPolicy guards the settings endpoints. Nil admits everyone, which
	// is only acceptable for demos.
	AdminPolicy flow.AdminPolicy

	EmailRules      auth.EmailRules
	RateLimit       config.RateLimitConfig
	SecurityHeaders config.SecurityHeadersConfig
	MaxRequestBody  int64
	CookieSecure    bool

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// Stepflow is an assembled authentication flow.
type Stepflow struct {
	config   Config
	chain    *flow.Chain
	gate     *flow.Gate
	settings *settings.Service
	sessions *sessions.Manager
	tokens   *auth.TokenService
	handler  http.Handler
}

// New validates cfg, ensures the settings row exists and builds the instance.
func New(ctx context.Context, cfg Config) (*Stepflow, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	settingsService := settings.NewService(cfg.Settings, settings.Config{
		CacheTTL:                 cfg.SettingsCacheTTL,
		DefaultOTPEnabled:        cfg.DefaultOTPEnabled,
		DefaultOnboardingEnabled: cfg.DefaultOnboardingEnabled,
	}, cfg.Logger)
	if _, err := settingsService.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize settings: %w", err)
	}

	var profiles auth.ProfileStore
	if cfg.Profiles != nil {
		profiles = cfg.Profiles
	}
	opts := flow.Options{IdleTimeout: cfg.IdleTimeout, Logger: cfg.Logger}
	chain, err := flow.New(flow.Collaborators{
		Credentials: auth.NewPasswordVerifier(cfg.Users),
		Codes:       auth.NewCodeService(cfg.Deliverer),
		Onboarding:  auth.NewOnboardingService(profiles, cfg.EmailRules),
		Settings:    settingsService,
	}, opts)
	if err != nil {
		return nil, err
	}

	var tokens *auth.TokenService
	if cfg.JWTSecret != "" {
		tokens, err = auth.NewTokenService(auth.TokenConfig{
			Secret: []byte(cfg.JWTSecret),
			Issuer: cfg.JWTIssuer,
			TTL:    cfg.AccessTokenTTL,
		})
		if err != nil {
			return nil, err
		}
	}

	var gateOpts []flow.GateOption
	if cfg.AdminPolicy != nil {
		gateOpts = append(gateOpts, flow.WithAdminPolicy(cfg.AdminPolicy))
	} else {
		cfg.Logger.Warn("admin endpoints are open to everyone; configure an admin policy for production")
	}
	gate := flow.NewGate(chain, settingsService, gateOpts...)

	manager := sessions.NewManager(cfg.Sessions, sessions.Config{IdleTimeout: cfg.IdleTimeout}, cfg.Logger)

	sf := &Stepflow{
		config:   cfg,
		chain:    chain,
		gate:     gate,
		settings: settingsService,
		sessions: manager,
		tokens:   tokens,
	}

	routerCfg := httpserver.RouterConfig{
		Logger:          cfg.Logger,
		Chain:           chain,
		Gate:            gate,
		Sessions:        manager,
		Settings:        settingsService,
		Tokens:          tokens,
		RateLimitConfig: cfg.RateLimit,
		SecurityHeaders: cfg.SecurityHeaders,
		MaxRequestBody:  cfg.MaxRequestBody,
		CookieSecure:    cfg.CookieSecure,
	}
	if cfg.Profiles != nil {
		routerCfg.Profiles = cfg.Profiles
	}
	sf.handler = httpserver.NewRouter(routerCfg)
	return sf, nil
}

func validateConfig(cfg *Config) error {
	switch {
	case cfg.Users == nil:
		return errors.New("stepflow: Users is required")
	case cfg.Settings == nil:
		return errors.New("stepflow: Settings is required")
	case cfg.Sessions == nil:
		return errors.New("stepflow: Sessions is required")
	case cfg.Deliverer == nil:
		return errors.New("stepflow: Deliverer is required")
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		return errors.New("stepflow: JWTSecret must be at least 32 characters")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = flow.DefaultIdleTimeout
	}
	if cfg.SettingsCacheTTL == 0 {
		cfg.SettingsCacheTTL = settings.DefaultCacheTTL
	}
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "simple-idm-stepflow"
	}
	if cfg.MaxRequestBody == 0 {
		cfg.MaxRequestBody = 1 << 20
	}
}

// Handler returns the HTTP handler with every flow, admin and API route.
func (s *Stepflow) Handler() http.Handler {
	return s.handler
}

// Chain returns the step chain.
func (s *Stepflow) Chain() *flow.Chain {
	return s.chain
}

// Gate returns the authorization gate.
func (s *Stepflow) Gate() *flow.Gate {
	return s.gate
}

// Settings returns the settings service.
func (s *Stepflow) Settings() *settings.Service {
	return s.settings
}

// Sessions returns the session manager.
func (s *Stepflow) Sessions() *sessions.Manager {
	return s.sessions
}

// SessionMiddleware resolves the caller's session for your own routes.
func (s *Stepflow) SessionMiddleware() func(http.Handler) http.Handler {
	return middleware.Session(s.sessions, s.tokens, s.config.Logger)
}

// RequireAccess guards your own routes with the gate. Use after
// SessionMiddleware.
func (s *Stepflow) RequireAccess(resource flow.Resource) func(http.Handler) http.Handler {
	return middleware.RequireAccess(s.gate, resource, s.config.Logger)
}

// SessionFromContext returns the session resolved by SessionMiddleware.
func SessionFromContext(ctx context.Context) *flow.Session {
	return middleware.SessionFromContext(ctx)
}

// Username returns the username bound to the request's session, if any.
func (s *Stepflow) Username(r *http.Request) (string, bool) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		return "", false
	}
	st := s.chain.State(sess)
	return st.Username, st.Username != ""
}

// Run sweeps idle sessions from the cache until ctx is done.
func (s *Stepflow) Run(ctx context.Context) {
	interval := s.config.IdleTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}
	s.sessions.Run(ctx, interval)
}
