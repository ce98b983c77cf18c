package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const internalAudience = "internal"

var (
	// ErrUnauthorized covers missing, malformed, expired, or mis-signed tokens
	// and bad dev secrets.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a verified caller acts outside its tenant.
	ErrForbidden = errors.New("forbidden")
)

// Claims are the decoded contents of a verified service token.
type Claims struct {
	Subject   string
	Audience  string
	Issuer    string
	ExpiresAt time.Time
}

// TokenService issues and verifies HMAC-signed service tokens.
//
// The signing secret and root issuer must match across every cooperating
// service; a mismatch shows up as 401s on the other side, not as a startup
// error.
type TokenService struct {
	secret         []byte
	serviceName    string
	rootIssuer     string
	devAdminSecret string
	timeFunc       func() time.Time
}

// NewTokenService builds a token service from shared configuration.
func NewTokenService(secret, serviceName, rootIssuer, devAdminSecret string) *TokenService {
	return &TokenService{
		secret:         []byte(secret),
		serviceName:    serviceName,
		rootIssuer:     rootIssuer,
		devAdminSecret: devAdminSecret,
		timeFunc:       time.Now,
	}
}

// IssueInternalToken signs a 5-minute token for service-to-service calls.
// The issuer is the platform root identity, not this service's name.
func (s *TokenService) IssueInternalToken(subject string) (string, error) {
	if subject == "" {
		subject = "writer"
	}
	return s.sign(subject, s.rootIssuer, 5*time.Minute)
}

// IssueDevToken signs a 1-hour token for manual testing. The caller must
// present the configured dev admin secret.
func (s *TokenService) IssueDevToken(name, secret string) (string, error) {
	if s.devAdminSecret == "" || secret != s.devAdminSecret {
		return "", fmt.Errorf("bad dev secret: %w", ErrUnauthorized)
	}
	if name == "" {
		name = "svc:cli"
	}
	return s.sign(name, s.serviceName, time.Hour)
}

func (s *TokenService) sign(subject, issuer string, ttl time.Duration) (string, error) {
	now := s.timeFunc()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{internalAudience},
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (s *TokenService) Verify(tokenString string) (Claims, error) {
	if tokenString == "" {
		return Claims{}, fmt.Errorf("missing token: %w", ErrUnauthorized)
	}

	parsed, err := jwt.ParseWithClaims(
		tokenString,
		&jwt.RegisteredClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(s.timeFunc),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, fmt.Errorf("invalid token: %w", ErrUnauthorized)
	}

	reg, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return Claims{}, fmt.Errorf("unexpected claims type: %w", ErrUnauthorized)
	}

	claims := Claims{
		Subject: reg.Subject,
		Issuer:  reg.Issuer,
	}
	if len(reg.Audience) > 0 {
		claims.Audience = reg.Audience[0]
	}
	if reg.ExpiresAt != nil {
		claims.ExpiresAt = reg.ExpiresAt.Time
	}
	return claims, nil
}
