package ledger

import (
	"fmt"
	"sync"
	"time"
)

type mfaEntry struct {
	count        int
	lockoutUntil time.Time
}

// MemoryMFALedger rate-limits MFA code attempts per (admin, IP) pair.
type MemoryMFALedger struct {
	maxAttempts int
	lockWindow  time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*mfaEntry
}

func NewMemoryMFALedger(maxAttempts int, lockWindow time.Duration) *MemoryMFALedger {
	return &MemoryMFALedger{
		maxAttempts: maxAttempts,
		lockWindow:  lockWindow,
		now:         time.Now,
		entries:     make(map[string]*mfaEntry),
	}
}

func mfaKey(adminID int64, ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	return fmt.Sprintf("%d:%s", adminID, ip)
}

func (l *MemoryMFALedger) Record(adminID int64, ip string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := mfaKey(adminID, ip)
	entry, ok := l.entries[key]
	if !ok {
		entry = &mfaEntry{}
		l.entries[key] = entry
	}

	now := l.now()
	if now.Before(entry.lockoutUntil) {
		// Attempts during a lockout do not extend it; the window is
		// fixed from the moment it opens.
		return true, entry.lockoutUntil
	}

	entry.count++
	if entry.count >= l.maxAttempts {
		entry.lockoutUntil = now.Add(l.lockWindow)
		return true, entry.lockoutUntil
	}
	return false, time.Time{}
}

func (l *MemoryMFALedger) IsLocked(adminID int64, ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[mfaKey(adminID, ip)]
	if !ok {
		return false
	}
	return l.now().Before(entry.lockoutUntil)
}

func (l *MemoryMFALedger) Reset(adminID int64, ip string) {
	l.mu.Lock()
	delete(l.entries, mfaKey(adminID, ip))
	l.mu.Unlock()
}
