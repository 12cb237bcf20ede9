// Package auth verifies the bearer tokens that identify the acting tenant.
// Tokens are minted by the platform's identity provider; the hub only needs
// to check the signature and read the tenant_id claim.
package auth

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is the lifetime of tokens issued by IssueActorToken.
const DefaultTokenTTL = 15 * time.Minute

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingActor = errors.New("token carries no tenant_id")
)

// TokenConfig holds token verification settings.
type TokenConfig struct {
	// Secret is the HMAC key shared with the identity provider.
	Secret []byte
	// Issuer, when set, must match the iss claim.
	Issuer string
	// TTL of issued tokens (default: 15 minutes).
	TTL time.Duration
	// Clock is the time source for expiry checks (default: wall clock).
	Clock clock.Clock
}

// ActorClaims are the claims of an actor token.
type ActorClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
}

// TokenService issues and validates actor tokens.
type TokenService struct {
	config TokenConfig
	parser *jwt.Parser
}

// NewTokenService creates a new token service.
func NewTokenService(config TokenConfig) *TokenService {
	if config.TTL == 0 {
		config.TTL = DefaultTokenTTL
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(config.Clock.Now),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}

	return &TokenService{config: config, parser: jwt.NewParser(opts...)}
}

// IssueActorToken signs a token acting as tenantID. The hub never logs
// tenants in; this exists for the identity provider's tests and local tooling.
func (s *TokenService) IssueActorToken(tenantID uuid.UUID, subject string) (string, time.Time, error) {
	now := s.config.Clock.Now()
	expiresAt := now.Add(s.config.TTL)
	if subject == "" {
		subject = tenantID.String()
	}

	claims := ActorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		TenantID: tenantID.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.config.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateActorToken checks the signature, expiry and issuer of a token.
func (s *TokenService) ValidateActorToken(tokenString string) (*ActorClaims, error) {
	token, err := s.parser.ParseWithClaims(tokenString, &ActorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.config.Secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*ActorClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ActorTenantID validates a token and returns the acting tenant.
func (s *TokenService) ActorTenantID(tokenString string) (uuid.UUID, error) {
	claims, err := s.ValidateActorToken(tokenString)
	if err != nil {
		return uuid.Nil, err
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil || tenantID == uuid.Nil {
		return uuid.Nil, ErrMissingActor
	}
	return tenantID, nil
}
