package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tendant/simple-idm-stepflow/internal/config"
	"github.com/tendant/simple-idm-stepflow/internal/httputil"
)

// Rate limiter groups returned by CreateRateLimiters.
const (
	LimitLogin  = "login"
	LimitVerify = "verify"
	LimitAdmin  = "admin"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
}

// RateLimit creates an IP-based rate limiter middleware with logging.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit exceeded",
					"ip", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
				)
			}
			httputil.ErrorCode(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded. please try again later")
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// CreateRateLimiters creates the login, verify and admin limiters.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	if !cfg.Enabled {
		noOp := NoRateLimit()
		return map[string]func(http.Handler) http.Handler{
			LimitLogin:  noOp,
			LimitVerify: noOp,
			LimitAdmin:  noOp,
		}
	}

	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return map[string]func(http.Handler) http.Handler{
		LimitLogin: RateLimit(RateLimitConfig{
			Requests: cfg.LoginRequests,
			Window:   window,
			Logger:   logger,
		}),
		LimitVerify: RateLimit(RateLimitConfig{
			Requests: cfg.VerifyRequests,
			Window:   window,
			Logger:   logger,
		}),
		LimitAdmin: RateLimit(RateLimitConfig{
			Requests: cfg.AdminRequests,
			Window:   window,
			Logger:   logger,
		}),
	}
}
