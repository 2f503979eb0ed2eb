// Package adminauth authenticates the single shared admin login and manages
// the dashboard session cookie.
package adminauth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// CookieName is the admin session cookie.
const CookieName = "admin_auth"

// DefaultSessionTTL is how long an issued admin session stays valid.
const DefaultSessionTTL = 7 * 24 * time.Hour

var (
	// ErrBadCredential is returned for a wrong password.
	ErrBadCredential = errors.New("invalid credential")
	// ErrInvalidSession is returned for a missing, malformed or expired
	// session token.
	ErrInvalidSession = errors.New("invalid admin session")
)

// Authenticator verifies the shared credential and manages session tokens.
// IssueSession returns the cookie value; ValidateSession checks one.
type Authenticator interface {
	VerifyCredential(password string) error
	IssueSession() (string, error)
	ValidateSession(token string) error
}

// Credential holds the configured admin secret. When Hash is set it is a
// bcrypt hash and takes precedence; otherwise Plain is compared in constant
// time.
type Credential struct {
	Plain string
	Hash  string
}

// Verify checks a submitted password against the credential.
func (c Credential) Verify(password string) error {
	if c.Hash != "" {
		if bcrypt.CompareHashAndPassword([]byte(c.Hash), []byte(password)) != nil {
			return ErrBadCredential
		}
		return nil
	}
	if c.Plain == "" {
		return ErrBadCredential
	}
	if subtle.ConstantTimeCompare([]byte(c.Plain), []byte(password)) != 1 {
		return ErrBadCredential
	}
	return nil
}

// SessionCookie builds the admin cookie for a token. Secure is set by the
// caller based on deployment; HttpOnly and SameSite=Lax always are.
func SessionCookie(token string, ttl time.Duration, secure bool) *http.Cookie {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie expires the admin cookie.
func ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// TokenFromRequest extracts the admin session token from the cookie.
func TokenFromRequest(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return "", false
	}
	return c.Value, true
}
