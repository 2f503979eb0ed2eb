package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

// NewID returns a URL-safe hex string ID.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewSessionID returns a session identifier in the same shape the survey
// client generates: millisecond timestamp plus a random suffix. The server
// only mints one when a save arrives without a session id.
func NewSessionID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// ValidSessionID reports whether a client-supplied session id is acceptable.
// Session ids are opaque; only length and charset are checked.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
