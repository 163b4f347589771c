// Package device derives per-client fingerprints for "new device"
// detection on admin logins and tracks the human-readable labels
// attached to them.
package device

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"admin-auth-service/internal/util"
)

// Record is the persisted pairing of a fingerprint with a label.
type Record struct {
	AdminID     int64
	Fingerprint string
	DeviceName  string
	LastSeenAt  time.Time
}

// Repository is the persistence contract for device records. Backends
// that cannot store devices may return errors; the tracker degrades to
// in-memory-only tracking in that case.
type Repository interface {
	FindDevice(ctx context.Context, adminID int64, fingerprint string) (*Record, error)
	UpsertDevice(ctx context.Context, rec Record) error
}

// Fingerprint composes a deterministic identifier from the client IP and
// parsed user agent. It is a weak heuristic: shared NATs and carrier IP
// rotation cause false new-device results. Accepted limitation.
func Fingerprint(ip string, ua UserAgent) string {
	safeIP := ip
	if safeIP == "" {
		safeIP = "unknown-ip"
	}
	devicePart := ua.Device
	if devicePart == "" {
		devicePart = ua.OS
	}
	if devicePart == "" {
		devicePart = "unknown-device"
	}
	browserPart := ua.Browser
	if browserPart == "" {
		browserPart = "unknown-browser"
	}
	return safeIP + "|" + devicePart + "|" + browserPart
}

// BuildLabel renders a short human label like "Mac · Chrome".
func BuildLabel(ua UserAgent) string {
	var parts []string
	if ua.Device != "" {
		parts = append(parts, ua.Device)
	} else if ua.OS != "" {
		parts = append(parts, ua.OS)
	}
	if ua.Browser != "" {
		parts = append(parts, ua.Browser)
	}
	if len(parts) == 0 {
		return "Unknown device"
	}
	label := parts[0]
	for _, p := range parts[1:] {
		label += " · " + p
	}
	return label
}

// Tracker keeps the per-user working set of known fingerprints and
// mirrors labels into the Repository when the backing schema supports it.
type Tracker struct {
	repo Repository

	mu        sync.Mutex
	known     map[int64]map[string]struct{}
	supported bool
}

func NewTracker(repo Repository) *Tracker {
	return &Tracker{
		repo:      repo,
		known:     make(map[int64]map[string]struct{}),
		supported: repo != nil,
	}
}

// IsNewDevice reports whether the fingerprint has never been seen for
// this admin, consulting the working set first and then persistence.
func (t *Tracker) IsNewDevice(ctx context.Context, adminID int64, fingerprint string) bool {
	t.mu.Lock()
	if set, ok := t.known[adminID]; ok {
		if _, seen := set[fingerprint]; seen {
			t.mu.Unlock()
			return false
		}
	}
	supported := t.supported
	t.mu.Unlock()

	if !supported {
		return true
	}

	rec, err := t.repo.FindDevice(ctx, adminID, fingerprint)
	if err != nil {
		t.disable(err, "lookup")
		return true
	}
	return rec == nil
}

// FindRecord returns the persisted record, or nil when persistence is
// unavailable or the record does not exist.
func (t *Tracker) FindRecord(ctx context.Context, adminID int64, fingerprint string) *Record {
	t.mu.Lock()
	supported := t.supported
	t.mu.Unlock()
	if !supported || fingerprint == "" {
		return nil
	}

	rec, err := t.repo.FindDevice(ctx, adminID, fingerprint)
	if err != nil {
		t.disable(err, "lookup")
		return nil
	}
	return rec
}

// Remember adds the fingerprint to the admin's working set and upserts
// the persisted record. Persistence failures disable device tracking
// rather than failing the login.
func (t *Tracker) Remember(ctx context.Context, adminID int64, fingerprint, label string) {
	t.mu.Lock()
	set, ok := t.known[adminID]
	if !ok {
		set = make(map[string]struct{})
		t.known[adminID] = set
	}
	set[fingerprint] = struct{}{}
	supported := t.supported
	t.mu.Unlock()

	if !supported {
		return
	}

	safeName := util.Truncate(util.SanitizeInput(label), 255)
	if safeName == "" {
		safeName = "Device"
	}
	err := t.repo.UpsertDevice(ctx, Record{
		AdminID:     adminID,
		Fingerprint: fingerprint,
		DeviceName:  safeName,
		LastSeenAt:  time.Now().UTC(),
	})
	if err != nil {
		t.disable(err, "upsert")
	}
}

// Supported reports whether persisted device records are available.
func (t *Tracker) Supported() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supported
}

func (t *Tracker) disable(err error, op string) {
	t.mu.Lock()
	wasSupported := t.supported
	t.supported = false
	t.mu.Unlock()

	if wasSupported {
		util.Warn("Device record persistence disabled",
			util.String("operation", op),
			zap.Error(err))
	}
}
