package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
)

// DefaultAccessTokenTTL is the lifetime of access tokens issued after the flow completes.
const DefaultAccessTokenTTL = 15 * time.Minute

// TokenConfig holds access token configuration.
type TokenConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// AccessTokenClaims are the claims of a bearer token. The token ID is the
// authentication session ID, so a token can never outlive its session.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Capabilities []string `json:"caps,omitempty"`
}

// SessionID returns the session the token was issued for.
func (c *AccessTokenClaims) SessionID() string {
	return c.ID
}

// TokenService signs and validates HS256 access tokens.
type TokenService struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenService creates a new token service.
func NewTokenService(config TokenConfig) (*TokenService, error) {
	if len(config.Secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if config.TTL == 0 {
		config.TTL = DefaultAccessTokenTTL
	}
	return &TokenService{config: config, now: time.Now}, nil
}

// TTL returns the access token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.config.TTL
}

// Issue signs a token for a fully authenticated session.
func (s *TokenService) Issue(sessionID, username string, capabilities []string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.config.TTL)

	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    s.config.Issuer,
			ID:        sessionID,
		},
		Capabilities: capabilities,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate parses a token and returns its claims. Every failure is reported
// as domain.ErrInvalidToken.
func (s *TokenService) Validate(tokenString string) (*AccessTokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(*jwt.Token) (interface{}, error) {
		return s.config.Secret, nil
	}, opts...)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}
