// Package auth turns bearer tokens issued by the hosted auth provider into
// request actors. Sign-in, password storage and sessions live with the provider.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flooringops/opsdesk/internal/shared"
)

// Claims is the token payload the provider signs.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Service verifies and, for tooling and tests, issues HS256 tokens.
type Service struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewService constructs a Service. issuer may be empty to skip the iss check.
func NewService(secret, issuer string) *Service {
	return &Service{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Verify validates token and returns the actor it identifies.
func (s *Service) Verify(token string) (shared.Actor, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return shared.Actor{}, fmt.Errorf("%w: %v", shared.ErrUnauthorized, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return shared.Actor{}, fmt.Errorf("%w: invalid token", shared.ErrUnauthorized)
	}
	role := shared.Role(strings.ToLower(claims.Role))
	switch role {
	case shared.RoleAdmin, shared.RoleStaff, shared.RoleInstaller:
	case "":
		role = shared.RoleStaff
	default:
		return shared.Actor{}, fmt.Errorf("%w: unknown role %q", shared.ErrUnauthorized, claims.Role)
	}
	return shared.Actor{ID: claims.Subject, Email: claims.Email, Role: role}, nil
}

// Issue signs a token for actor valid for ttl.
func (s *Service) Issue(actor shared.Actor, ttl time.Duration) (string, error) {
	if actor.ID == "" {
		return "", errors.New("auth: actor id required")
	}
	now := s.now()
	claims := &Claims{
		Email: actor.Email,
		Role:  string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
