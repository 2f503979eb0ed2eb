package adminauth

import "crypto/subtle"

// staticToken is the opaque value stored in the cookie by StaticAuthenticator.
// Expiry is enforced by the cookie's own MaxAge.
const staticToken = "authenticated"

// StaticAuthenticator issues a fixed opaque session token. It keeps no state
// and cannot expire sessions server-side; use JWTAuthenticator where that
// matters.
type StaticAuthenticator struct {
	cred Credential
}

// NewStatic builds the opaque-token authenticator.
func NewStatic(cred Credential) *StaticAuthenticator {
	return &StaticAuthenticator{cred: cred}
}

func (a *StaticAuthenticator) VerifyCredential(password string) error {
	return a.cred.Verify(password)
}

func (a *StaticAuthenticator) IssueSession() (string, error) {
	return staticToken, nil
}

func (a *StaticAuthenticator) ValidateSession(token string) error {
	if subtle.ConstantTimeCompare([]byte(token), []byte(staticToken)) != 1 {
		return ErrInvalidSession
	}
	return nil
}
