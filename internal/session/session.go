// Package session manages authenticated admin sessions: opaque tokens,
// sliding expiry, per-admin concurrency caps, IP pinning and CSRF
// secrets. Stores are pluggable; the in-memory store serves a single
// instance, the Redis store a fleet.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrNotFound covers unknown and already-destroyed tokens.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned when the sliding window has lapsed. The
	// session is destroyed as a side effect of the lookup.
	ErrExpired = errors.New("session expired")

	// ErrIPMismatch is returned when a valid token arrives from a
	// different IP than the one it was issued to. The session is
	// destroyed as a side effect; a pinned token that leaks is useless.
	ErrIPMismatch = errors.New("session ip mismatch")
)

// Session is the server-side record behind one admin login. The
// principal fields are a snapshot taken at login; role changes take
// effect on the next login, not retroactively.
type Session struct {
	Token        string    `json:"-"`
	AdminID      int64     `json:"adminId"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	PartnerAPIID string    `json:"partnerApiId,omitempty"`
	MFAEnabled   bool      `json:"mfaEnabled"`
	IP           string    `json:"ip"`
	UserAgent    string    `json:"userAgent"`
	Fingerprint  string    `json:"fingerprint"`
	DeviceLabel  string    `json:"deviceLabel"`
	Location     string    `json:"location,omitempty"`
	CSRFToken    string    `json:"-"`
	NewDevice    bool      `json:"isNewDevice"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Store is the contract the auth service and middleware consume.
type Store interface {
	// Create registers the session, evicting the admin's oldest
	// sessions first if the concurrency cap would be exceeded.
	Create(ctx context.Context, s *Session) error

	// Lookup validates the token against the caller's IP. Expired and
	// IP-mismatched sessions are destroyed before the error returns.
	Lookup(ctx context.Context, token, ip string) (*Session, error)

	// Touch slides the expiry window forward from now.
	Touch(ctx context.Context, token string) error

	// Revoke destroys one session. Unknown tokens are not an error.
	Revoke(ctx context.Context, token string) error

	// RevokeAll destroys every session of the admin except the given
	// token (pass "" to destroy all) and reports how many went.
	RevokeAll(ctx context.Context, adminID int64, exceptToken string) (int, error)

	// SessionsFor lists the admin's live sessions, oldest first.
	SessionsFor(ctx context.Context, adminID int64) ([]Session, error)

	// SetLabel renames the device label on a live session.
	SetLabel(ctx context.Context, token, label string) error

	// SetUserLimit overrides the admin's session cap. Zero restores
	// the default.
	SetUserLimit(ctx context.Context, adminID int64, limit int) error

	// UserLimit reports the effective cap for the admin.
	UserLimit(ctx context.Context, adminID int64) (int, error)

	// ActiveCount reports how many sessions are live store-wide.
	ActiveCount(ctx context.Context) (int, error)
}

// NewToken returns a 64-char hex token from 32 random bytes. Session
// and CSRF tokens both use this shape.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
