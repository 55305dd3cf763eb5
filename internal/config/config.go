package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backends for users, settings and profiles.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBolt     = "bbolt"
)

// Backends for authentication sessions.
const (
	SessionMemory = "memory"
	SessionRedis  = "redis"
	SessionBolt   = "bbolt"
)

// Code delivery modes.
const (
	DeliveryLog   = "log"
	DeliveryEmail = "email"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int
	LogLevel   string

	// Storage
	StoreBackend   string
	SessionBackend string
	BoltPath       string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Flow
	SessionIdleTimeout       time.Duration
	SettingsCacheTTL         time.Duration
	DefaultOTPEnabled        bool
	DefaultOnboardingEnabled bool
	DemoUsers                bool

	// Code delivery
	CodeDelivery string
	SMTP         SMTPConfig

	// JWT (optional)
	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration

	// HTTP
	CookieSecure       bool
	AdminOpen          bool
	AdminToken         string
	MaxRequestBodySize int64
	RateLimit          RateLimitConfig
	SecurityHeaders    SecurityHeadersConfig

	PasswordPolicy PasswordPolicyConfig
	Validation     ValidationConfig
}

// ValidationConfig controls email checks during onboarding and provisioning.
type ValidationConfig struct {
	StrictEmailValidation bool
	BlockDisposableEmail  bool
}

// SMTPConfig holds SMTP settings for code delivery by email.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// RateLimitConfig holds per-IP rate limits.
type RateLimitConfig struct {
	Enabled bool
	// LoginRequests limits password submissions per Window.
	LoginRequests int
	// VerifyRequests limits otp and onboarding submissions per Window.
	VerifyRequests int
	AdminRequests  int
	Window         time.Duration
}

// SecurityHeadersConfig holds response security header values.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// PasswordPolicyConfig holds password requirements for provisioned users.
type PasswordPolicyConfig struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		LogLevel:   strings.ToLower(getEnv("LOG_LEVEL", "info")),

		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		SessionBackend: strings.ToLower(getEnv("SESSION_BACKEND", SessionMemory)),
		BoltPath:       getEnv("BOLT_PATH", "stepflow.db"),

		// Database defaults (matches podman setup: make postgres-start)
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 25432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "stepflow"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "stepflow:session"),

		SessionIdleTimeout:       getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SettingsCacheTTL:         getEnvDuration("SETTINGS_CACHE_TTL", 5*time.Second),
		DefaultOTPEnabled:        getEnvBool("DEFAULT_OTP_ENABLED", true),
		DefaultOnboardingEnabled: getEnvBool("DEFAULT_ONBOARDING_ENABLED", true),

		CodeDelivery: strings.ToLower(getEnv("CODE_DELIVERY", DeliveryLog)),
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
		},

		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTIssuer:      getEnv("JWT_ISSUER", "simple-idm-stepflow"),
		AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),

		CookieSecure:       getEnvBool("COOKIE_SECURE", false),
		AdminOpen:          getEnvBool("ADMIN_OPEN", true),
		AdminToken:         getEnv("ADMIN_TOKEN", ""),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),

		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			LoginRequests:  getEnvInt("RATE_LIMIT_LOGIN_REQUESTS", 10),
			VerifyRequests: getEnvInt("RATE_LIMIT_VERIFY_REQUESTS", 10),
			AdminRequests:  getEnvInt("RATE_LIMIT_ADMIN_REQUESTS", 60),
			Window:         getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_HEADERS_CSP", "default-src 'none'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HEADERS_HSTS_MAX_AGE", 0),
			FrameOptions:       getEnv("SECURITY_HEADERS_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_HEADERS_CONTENT_TYPE_OPTIONS", "nosniff"),
			ReferrerPolicy:     getEnv("SECURITY_HEADERS_REFERRER_POLICY", "no-referrer"),
			PermissionsPolicy:  getEnv("SECURITY_HEADERS_PERMISSIONS_POLICY", ""),
		},

		PasswordPolicy: PasswordPolicyConfig{
			MinLength:        getEnvInt("PASSWORD_MIN_LENGTH", 8),
			RequireUppercase: getEnvBool("PASSWORD_REQUIRE_UPPERCASE", false),
			RequireLowercase: getEnvBool("PASSWORD_REQUIRE_LOWERCASE", false),
			RequireNumber:    getEnvBool("PASSWORD_REQUIRE_NUMBER", false),
			RequireSpecial:   getEnvBool("PASSWORD_REQUIRE_SPECIAL", false),
		},
	}
	cfg.Validation = ValidationConfig{
		StrictEmailValidation: getEnvBool("STRICT_EMAIL_VALIDATION", true),
		BlockDisposableEmail:  getEnvBool("BLOCK_DISPOSABLE_EMAIL", false),
	}
	cfg.DemoUsers = getEnvBool("DEMO_USERS", cfg.StoreBackend == StoreMemory)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreBolt:
	case StorePostgres:
		if c.DBHost == "" || c.DBName == "" {
			return fmt.Errorf("DB_HOST and DB_NAME are required for STORE_BACKEND=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.SessionBackend {
	case SessionMemory, SessionBolt:
	case SessionRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for SESSION_BACKEND=%s", SessionRedis)
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}

	if (c.StoreBackend == StoreBolt || c.SessionBackend == SessionBolt) && c.BoltPath == "" {
		return fmt.Errorf("BOLT_PATH is required for the bbolt backend")
	}

	switch c.CodeDelivery {
	case DeliveryLog:
	case DeliveryEmail:
		if c.SMTP.Host == "" || c.SMTP.From == "" {
			return fmt.Errorf("SMTP_HOST and SMTP_FROM are required for CODE_DELIVERY=%s", DeliveryEmail)
		}
	default:
		return fmt.Errorf("unknown CODE_DELIVERY %q", c.CodeDelivery)
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if !c.AdminOpen && c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required when ADMIN_OPEN=false")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerAddr, c.ServerPort)
}

// DatabaseURL returns the lib/pq connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// HasJWT returns true if bearer access tokens are configured.
func (c *Config) HasJWT() bool {
	return c.JWTSecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
