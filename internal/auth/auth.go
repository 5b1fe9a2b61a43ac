// Package auth verifies the bearer tokens presented to the HTTP API. A
// failed check always yields an *Error; there is no fallback identity.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrorCode identifies why authentication failed
type ErrorCode string

const (
	CodeMissingToken ErrorCode = "missing_token"
	CodeMalformed    ErrorCode = "malformed_header"
	CodeInvalidToken ErrorCode = "invalid_token"
	CodeExpiredToken ErrorCode = "expired_token"
)

// Error is an authentication failure
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError returns the *Error in err's chain, if any
func AsError(err error) (*Error, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// AuthenticatedUser is the identity carried by a verified token
type AuthenticatedUser struct {
	ID    string
	Email string
	Name  string
}

// Claims are the JWT claims issued for API access
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// DefaultTokenTTL is how long issued tokens stay valid
const DefaultTokenTTL = 24 * time.Hour

// Authenticator issues and verifies HS256 tokens with a shared secret
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator creates an authenticator. The secret must be non-empty.
func NewAuthenticator(secret, issuer string) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// IssueToken signs a token for user valid for ttl (DefaultTokenTTL when zero)
func (a *Authenticator) IssueToken(user AuthenticatedUser, ttl time.Duration) (string, error) {
	if user.ID == "" {
		return "", fmt.Errorf("user id is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := a.now()
	claims := Claims{
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies an Authorization header value of the form
// "Bearer <token>"
func (a *Authenticator) Authenticate(header string) (*AuthenticatedUser, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, &Error{Code: CodeMissingToken}
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, &Error{Code: CodeMalformed}
	}
	return a.Verify(token)
}

// Verify checks a raw token and returns its user
func (a *Authenticator) Verify(token string) (*AuthenticatedUser, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &Error{Code: CodeExpiredToken, Err: err}
		}
		return nil, &Error{Code: CodeInvalidToken, Err: err}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, &Error{Code: CodeInvalidToken, Err: errors.New("token has no subject")}
	}
	return &AuthenticatedUser{ID: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}
