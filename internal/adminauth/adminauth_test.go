package adminauth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestCredentialPlain(t *testing.T) {
	cred := Credential{Plain: "correct horse"}
	if err := cred.Verify("correct horse"); err != nil {
		t.Fatalf("valid password rejected: %v", err)
	}
	if err := cred.Verify("wrong"); !errors.Is(err, ErrBadCredential) {
		t.Fatalf("expected ErrBadCredential, got %v", err)
	}
}

func TestCredentialBcryptTakesPrecedence(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	cred := Credential{Plain: "something else", Hash: string(hash)}
	if err := cred.Verify("s3cret"); err != nil {
		t.Fatalf("hashed password rejected: %v", err)
	}
	if err := cred.Verify("something else"); !errors.Is(err, ErrBadCredential) {
		t.Fatal("plaintext fallback used despite configured hash")
	}
}

func TestCredentialEmptyRejectsEverything(t *testing.T) {
	if err := (Credential{}).Verify(""); !errors.Is(err, ErrBadCredential) {
		t.Fatal("empty credential must reject")
	}
}

func TestStaticAuthenticatorRoundTrip(t *testing.T) {
	a := NewStatic(Credential{Plain: "pw"})
	token, err := a.IssueSession()
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if err := a.ValidateSession(token); err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if err := a.ValidateSession("forged"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestJWTAuthenticatorRoundTrip(t *testing.T) {
	a, err := NewJWT(Credential{Plain: "pw"}, "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewJWT: %v", err)
	}
	token, err := a.IssueSession()
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if err := a.ValidateSession(token); err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}

	other, _ := NewJWT(Credential{Plain: "pw"}, "different-secret", time.Hour)
	if err := other.ValidateSession(token); !errors.Is(err, ErrInvalidSession) {
		t.Fatal("token signed with another secret accepted")
	}
	if err := a.ValidateSession("not.a.jwt"); !errors.Is(err, ErrInvalidSession) {
		t.Fatal("garbage token accepted")
	}
}

func TestJWTAuthenticatorExpiry(t *testing.T) {
	a, err := NewJWT(Credential{Plain: "pw"}, "test-secret", -time.Hour)
	if err != nil {
		t.Fatalf("NewJWT: %v", err)
	}
	// ttl <= 0 falls back to the default; issue with a short-lived clone
	// instead by constructing directly.
	a.ttl = -time.Minute
	token, err := a.IssueSession()
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if err := a.ValidateSession(token); !errors.Is(err, ErrInvalidSession) {
		t.Fatal("expired token accepted")
	}
}

func TestSessionCookieAttributes(t *testing.T) {
	c := SessionCookie("tok", 0, true)
	if c.Name != CookieName || c.Value != "tok" {
		t.Fatalf("unexpected cookie %+v", c)
	}
	if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode || !c.Secure {
		t.Fatalf("cookie flags wrong: %+v", c)
	}
	if c.MaxAge != int(DefaultSessionTTL/time.Second) {
		t.Fatalf("MaxAge = %d", c.MaxAge)
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := TokenFromRequest(r); ok {
		t.Fatal("token found on bare request")
	}
	r.AddCookie(&http.Cookie{Name: CookieName, Value: "tok"})
	tok, ok := TokenFromRequest(r)
	if !ok || tok != "tok" {
		t.Fatalf("got %q ok=%v", tok, ok)
	}
}
