// Package ledger tracks failed admin login attempts per source IP,
// escalates them to lockouts and permanent bans, and rate-limits MFA
// code guesses per (admin, IP) pair.
//
// Lockouts are transient and time-boxed; bans are durable and require
// explicit removal. The failure counters are a lossy accelerator: losing
// them on restart only grants an IP another run at the threshold.
package ledger

import (
	"context"
	"time"
)

// BanRecord is a durable entry on the IP blacklist. Its presence alone
// locks the IP out, independent of any transient counter state.
type BanRecord struct {
	IPAddress string    `json:"ipAddress"`
	Reason    string    `json:"reason"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// DefaultBanReason is recorded when a ban is triggered automatically by
// the failure threshold rather than by an operator.
const DefaultBanReason = "Exceeded admin login attempts"

// Signals summarizes the ledger's view of one IP for diagnostics.
type Signals struct {
	FailedAttempts int       `json:"failedAttempts"`
	LockoutUntil   time.Time `json:"lockoutUntil,omitzero"`
	Banned         bool      `json:"isBanned"`
}

// BanStore persists the blacklist. The Scylla repository is the
// production implementation; an in-memory one backs tests and
// storage-less development.
type BanStore interface {
	FindBan(ctx context.Context, ip string) (*BanRecord, error)
	InsertBan(ctx context.Context, rec BanRecord) error
	DeleteBan(ctx context.Context, ip string) error
	ListBans(ctx context.Context) ([]BanRecord, error)
}

// AttemptLedger is the contract the login orchestrator and the blacklist
// endpoints consume.
type AttemptLedger interface {
	// IsLocked reports whether the IP is banned or inside an active
	// lockout window.
	IsLocked(ctx context.Context, ip string) (bool, error)

	// RecordFailure increments the IP's counter. Reaching the threshold
	// opens the lockout window and promotes the IP to a permanent ban in
	// the same call; the return value tells the caller whether this call
	// created a fresh ban, so a distinct security event can be emitted.
	RecordFailure(ctx context.Context, ip string) (bannedNow bool, err error)

	// ClearOnSuccess resets the failure counter. It never removes a ban.
	ClearOnSuccess(ctx context.Context, ip string)

	// BanIP and UnbanIP are the explicit admin operations behind the
	// blacklist endpoints.
	BanIP(ctx context.Context, ip, reason, createdBy string) error
	UnbanIP(ctx context.Context, ip string) error
	ListBans(ctx context.Context) ([]BanRecord, error)

	// Signals exposes counter and ban state for the diagnostics endpoint.
	Signals(ctx context.Context, ip string) Signals
}

// MFALedger rate-limits one-time-code attempts per (admin, IP) pair,
// independently of the login ledger: a correct password does not exempt
// anyone from MFA brute-force protection.
type MFALedger interface {
	// Record increments the pair's counter unless it is already locked,
	// and reports the resulting lock state.
	Record(adminID int64, ip string) (locked bool, until time.Time)

	// IsLocked reports whether the pair is inside a lockout window.
	IsLocked(adminID int64, ip string) bool

	// Reset forgets the pair after a successful verification.
	Reset(adminID int64, ip string)
}
