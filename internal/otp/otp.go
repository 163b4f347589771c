// Package otp implements the HOTP (RFC 4226) and TOTP (RFC 6238) code
// generation used for admin multi-factor authentication. Codes are six
// digits, SHA-1 based, with a 30-second time step.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"

	"admin-auth-service/internal/secrets"
)

const (
	secretBytes = 20 // RFC 4226 recommended secret length
	digits      = 6
	stepSeconds = 30

	// skewSteps widens verification to the adjacent time step in each
	// direction, tolerating ±30s of client clock drift.
	skewSteps = 1
)

// GenerateSecret returns a fresh 160-bit shared secret, base32 encoded
// for authenticator-app enrollment.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate mfa secret: %w", err)
	}
	return secrets.Base32Encode(raw), nil
}

// HOTP computes the RFC 4226 code for the given base32 secret and counter.
func HOTP(secret string, counter uint64) string {
	key := secrets.Base32Decode(secret)

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation: the low nibble of the last byte selects a
	// 4-byte window, the top bit of which is masked off.
	offset := sum[len(sum)-1] & 0x0f
	bin := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	return fmt.Sprintf("%06d", bin%1000000)
}

// TOTP computes the code for the 30-second step containing t.
func TOTP(secret string, t time.Time) string {
	counter := uint64(t.UnixMilli() / 1000 / stepSeconds)
	return HOTP(secret, counter)
}

// VerifyTOTP reports whether candidate matches the current step or the
// immediately adjacent one in either direction. Codes of any length
// other than six digits are rejected before any computation.
func VerifyTOTP(secret, candidate string, now time.Time) bool {
	code := strings.TrimSpace(candidate)
	if len(code) != digits || !isDigits(code) {
		return false
	}

	base := now.UnixMilli() / 1000 / stepSeconds
	for step := int64(-skewSteps); step <= skewSteps; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		expected := HOTP(secret, uint64(counter))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// ProvisionURI builds the otpauth:// URI consumed by standard TOTP
// authenticator apps.
func ProvisionURI(secret, account, issuer string) string {
	label := url.PathEscape(issuer + ":" + account)
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	return "otpauth://totp/" + label + "?" + v.Encode()
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
