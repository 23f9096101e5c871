// Package identity resolves the user an operation runs as, either from a
// literal "uid:role1,role2" string or from a signed JWT.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/flowgate/internal/ir"
)

// Claims are the JWT claims carrying a flowgate user. The subject is the
// user's uid.
type Claims struct {
	jwt.RegisteredClaims
	Email    string   `json:"email,omitempty"`
	FullName string   `json:"name,omitempty"`
	Roles    []string `json:"roles"`
}

// ErrNoRoles is returned for an identity without roles.
var ErrNoRoles = errors.New("identity has no roles")

// TokenManager issues and verifies HS256 user tokens.
type TokenManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures a TokenManager.
type Option func(*TokenManager)

// WithIssuer sets the issuer written to and required of every token.
func WithIssuer(iss string) Option {
	return func(m *TokenManager) {
		m.issuer = iss
	}
}

// WithTimeFunc sets the clock used for issuing and expiry checks.
func WithTimeFunc(now func() time.Time) Option {
	return func(m *TokenManager) {
		m.now = now
	}
}

// NewTokenManager returns a manager signing with secret.
func NewTokenManager(secret string, opts ...Option) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	m := &TokenManager{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue signs a token for user, valid for ttl.
func (m *TokenManager) Issue(user *ir.User, ttl time.Duration) (string, error) {
	if len(user.Roles) == 0 {
		return "", ErrNoRoles
	}
	now := m.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:    user.Email,
		FullName: user.FullName,
		Roles:    user.Roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify checks a token's signature, expiry and issuer and returns the
// user it names.
func (m *TokenManager) Verify(token string) (*ir.User, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token subject is required")
	}
	if len(claims.Roles) == 0 {
		return nil, fmt.Errorf("token for %q: %w", claims.Subject, ErrNoRoles)
	}
	return &ir.User{
		UID:      claims.Subject,
		Email:    claims.Email,
		FullName: claims.FullName,
		Roles:    claims.Roles,
	}, nil
}

// ParseAs reads "uid:role1,role2". Blank roles are dropped.
func ParseAs(s string) (*ir.User, error) {
	uid, roleList, ok := strings.Cut(s, ":")
	uid = strings.TrimSpace(uid)
	if !ok || uid == "" {
		return nil, fmt.Errorf("user %q: want uid:role1,role2", s)
	}
	var roles []string
	for _, r := range strings.Split(roleList, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("user %q: %w", uid, ErrNoRoles)
	}
	return &ir.User{UID: uid, Roles: roles}, nil
}
