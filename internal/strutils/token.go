package strutils

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Stable identifier for a bearer token that is safe to log, cache on and store
func TokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var bearerRx = regexp.MustCompile(`(?i)bearer\s+[^\s"',]+`)

// Remove anything that looks like a bearer credential from s
func RedactToken(s string) string {
	return bearerRx.ReplaceAllString(s, "Bearer <redacted>")
}

// Extract the token from an Authorization header value. Returns "" if the value is not a bearer credential.
func BearerToken(authorization string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(authorization), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

var fingerprintRx = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Check that s is shaped like the output of TokenFingerprint
func IsTokenFingerprint(s string) bool {
	return fingerprintRx.MatchString(s)
}

// Prefix of a token fingerprint, enough to correlate requests for the same token in logs and reports
func ShortTokenFingerprint(fingerprint string) string {
	if !IsTokenFingerprint(fingerprint) {
		return "<invalid>"
	}
	return fingerprint[:12]
}
