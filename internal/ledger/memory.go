package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"admin-auth-service/internal/util"
)

type attemptEntry struct {
	count        int
	lockoutUntil time.Time
}

// MemoryLedger is the single-process AttemptLedger. Failure counters
// live in a map; bans go through the BanStore with a read-through cache
// so repeated checks of the same IP do not hit storage.
type MemoryLedger struct {
	bans          BanStore
	maxFailures   int
	lockoutWindow time.Duration
	now           func() time.Time

	mu       sync.Mutex
	attempts map[string]*attemptEntry
	banCache map[string]*BanRecord // nil value caches a confirmed miss
}

func NewMemoryLedger(bans BanStore, maxFailures int, lockoutWindow time.Duration) *MemoryLedger {
	return &MemoryLedger{
		bans:          bans,
		maxFailures:   maxFailures,
		lockoutWindow: lockoutWindow,
		now:           time.Now,
		attempts:      make(map[string]*attemptEntry),
		banCache:      make(map[string]*BanRecord),
	}
}

func (l *MemoryLedger) IsLocked(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}

	banned, err := l.isBanned(ctx, ip)
	if err != nil {
		return false, err
	}
	if banned {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.attempts[ip]
	if !ok {
		return false, nil
	}
	// A zero lockoutUntil means the entry is still accumulating below
	// the threshold; only an expired window retires it.
	if !entry.lockoutUntil.IsZero() && l.now().After(entry.lockoutUntil) {
		delete(l.attempts, ip)
		return false, nil
	}
	return entry.count >= l.maxFailures, nil
}

func (l *MemoryLedger) RecordFailure(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}

	l.mu.Lock()
	entry, ok := l.attempts[ip]
	if !ok {
		entry = &attemptEntry{}
		l.attempts[ip] = entry
	}
	entry.count++
	breached := entry.count >= l.maxFailures
	if breached {
		entry.lockoutUntil = l.now().Add(l.lockoutWindow)
	}
	l.mu.Unlock()

	if !breached {
		return false, nil
	}

	// Threshold breach promotes straight to a durable ban.
	if err := l.BanIP(ctx, ip, DefaultBanReason, "system"); err != nil {
		// The lockout window still holds even if the ban write failed.
		util.Error("Failed to persist automatic IP ban",
			util.String("ip", ip), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (l *MemoryLedger) ClearOnSuccess(_ context.Context, ip string) {
	l.mu.Lock()
	delete(l.attempts, ip)
	l.mu.Unlock()
}

func (l *MemoryLedger) BanIP(ctx context.Context, ip, reason, createdBy string) error {
	rec := BanRecord{
		IPAddress: ip,
		Reason:    reason,
		CreatedBy: createdBy,
		CreatedAt: l.now().UTC(),
	}
	if err := l.bans.InsertBan(ctx, rec); err != nil {
		return err
	}

	l.mu.Lock()
	delete(l.attempts, ip)
	l.banCache[ip] = &rec
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) UnbanIP(ctx context.Context, ip string) error {
	if err := l.bans.DeleteBan(ctx, ip); err != nil {
		return err
	}

	l.mu.Lock()
	delete(l.attempts, ip)
	delete(l.banCache, ip)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) ListBans(ctx context.Context) ([]BanRecord, error) {
	return l.bans.ListBans(ctx)
}

func (l *MemoryLedger) Signals(ctx context.Context, ip string) Signals {
	banned, err := l.isBanned(ctx, ip)
	if err != nil {
		util.Warn("Ban lookup failed while collecting signals",
			util.String("ip", ip), zap.Error(err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sig := Signals{Banned: banned}
	if entry, ok := l.attempts[ip]; ok {
		sig.FailedAttempts = entry.count
		sig.LockoutUntil = entry.lockoutUntil
	}
	return sig
}

func (l *MemoryLedger) isBanned(ctx context.Context, ip string) (bool, error) {
	l.mu.Lock()
	if rec, cached := l.banCache[ip]; cached {
		l.mu.Unlock()
		return rec != nil, nil
	}
	l.mu.Unlock()

	rec, err := l.bans.FindBan(ctx, ip)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	l.banCache[ip] = rec
	l.mu.Unlock()
	return rec != nil, nil
}

// MemoryBanStore keeps the blacklist in process memory. Used by tests
// and by deployments running without persistent storage.
type MemoryBanStore struct {
	mu   sync.Mutex
	bans map[string]BanRecord
}

func NewMemoryBanStore() *MemoryBanStore {
	return &MemoryBanStore{bans: make(map[string]BanRecord)}
}

func (s *MemoryBanStore) FindBan(_ context.Context, ip string) (*BanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.bans[ip]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (s *MemoryBanStore) InsertBan(_ context.Context, rec BanRecord) error {
	s.mu.Lock()
	s.bans[rec.IPAddress] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryBanStore) DeleteBan(_ context.Context, ip string) error {
	s.mu.Lock()
	delete(s.bans, ip)
	s.mu.Unlock()
	return nil
}

func (s *MemoryBanStore) ListBans(_ context.Context) ([]BanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BanRecord, 0, len(s.bans))
	for _, rec := range s.bans {
		out = append(out, rec)
	}
	return out, nil
}
