package adminauth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// JWTAuthenticator issues HS256-signed session tokens with server-side
// expiry, so a stolen cookie stops working when the claim lapses even if the
// browser keeps it.
type JWTAuthenticator struct {
	cred   Credential
	secret []byte
	ttl    time.Duration
}

// NewJWT builds the signed-token authenticator. A non-positive ttl uses
// DefaultSessionTTL.
func NewJWT(cred Credential, secret string, ttl time.Duration) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("admin jwt secret required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &JWTAuthenticator{cred: cred, secret: []byte(secret), ttl: ttl}, nil
}

func (a *JWTAuthenticator) VerifyCredential(password string) error {
	return a.cred.Verify(password)
}

func (a *JWTAuthenticator) IssueSession() (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *JWTAuthenticator) ValidateSession(token string) error {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidSession
	}
	if claims.Subject != "admin" {
		return ErrInvalidSession
	}
	return nil
}
