// Package identity adapts the external identity provider: it verifies bearer
// tokens and yields the {userId, role} pair the core consumes. Authentication
// itself (login, sessions) lives outside this service.
package identity

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"profilehub/pkg/domain"
)

const defaultLeeway = 30 * time.Second

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Config configures token verification.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier validates HS256 access tokens issued by the identity provider.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("identity: signing secret required")
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Verifier{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		leeway:   leeway,
	}, nil
}

// Verify parses and validates a token, returning the caller identity.
func (v *Verifier) Verify(token string) (domain.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	var c claims
	if _, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	subject := strings.TrimSpace(c.Subject)
	if subject == "" {
		return domain.Identity{}, ErrInvalidToken
	}
	role := domain.Role(strings.TrimSpace(c.Role))
	if role != domain.RoleAdmin {
		role = domain.RoleUser
	}
	return domain.Identity{UserID: subject, Role: role}, nil
}

// FromRequest extracts and verifies the bearer token of an HTTP request.
func (v *Verifier) FromRequest(r *http.Request) (domain.Identity, error) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return domain.Identity{}, ErrMissingToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return domain.Identity{}, ErrMissingToken
	}
	return v.Verify(token)
}
