package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryLedgerThresholdBansOnThirdFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBanStore()
	l := NewMemoryLedger(store, 3, 15*time.Minute)

	for i := 0; i < 2; i++ {
		banned, err := l.RecordFailure(ctx, "203.0.113.9")
		if err != nil {
			t.Fatal(err)
		}
		if banned {
			t.Fatalf("banned after %d failures", i+1)
		}
		if locked, _ := l.IsLocked(ctx, "203.0.113.9"); locked {
			t.Fatalf("locked after %d failures", i+1)
		}
	}

	banned, err := l.RecordFailure(ctx, "203.0.113.9")
	if err != nil {
		t.Fatal(err)
	}
	if !banned {
		t.Fatal("third failure did not report a fresh ban")
	}

	if locked, _ := l.IsLocked(ctx, "203.0.113.9"); !locked {
		t.Fatal("IP not locked after breaching the threshold")
	}

	rec, err := store.FindBan(ctx, "203.0.113.9")
	if err != nil || rec == nil {
		t.Fatalf("ban not persisted: rec=%v err=%v", rec, err)
	}
	if rec.Reason != DefaultBanReason || rec.CreatedBy != "system" {
		t.Errorf("ban record = %+v", rec)
	}
}

func TestMemoryLedgerCounterSurvivesGateChecks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBanStore()
	l := NewMemoryLedger(store, 3, 15*time.Minute)

	// The login path checks IsLocked before every attempt; sub-threshold
	// entries have no lockout window yet and must not be retired by the
	// check itself.
	for i := 1; i <= 2; i++ {
		if locked, _ := l.IsLocked(ctx, "203.0.113.40"); locked {
			t.Fatalf("locked before attempt %d", i)
		}
		l.RecordFailure(ctx, "203.0.113.40")
		if got := l.Signals(ctx, "203.0.113.40").FailedAttempts; got != i {
			t.Fatalf("counter = %d after %d failures", got, i)
		}
	}

	if locked, _ := l.IsLocked(ctx, "203.0.113.40"); locked {
		t.Fatal("locked before the threshold attempt")
	}
	banned, err := l.RecordFailure(ctx, "203.0.113.40")
	if err != nil {
		t.Fatal(err)
	}
	if !banned {
		t.Fatal("third failure did not ban")
	}
	if locked, _ := l.IsLocked(ctx, "203.0.113.40"); !locked {
		t.Fatal("IP not locked after the ban")
	}
	if rec, _ := store.FindBan(ctx, "203.0.113.40"); rec == nil {
		t.Fatal("ban not persisted")
	}
}

func TestMemoryLedgerClearOnSuccessKeepsBan(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(NewMemoryBanStore(), 3, 15*time.Minute)

	for i := 0; i < 3; i++ {
		l.RecordFailure(ctx, "198.51.100.7")
	}
	l.ClearOnSuccess(ctx, "198.51.100.7")

	// The counter is gone but the durable ban still locks the IP out.
	if locked, _ := l.IsLocked(ctx, "198.51.100.7"); !locked {
		t.Fatal("clearing the counter must not lift a ban")
	}

	if err := l.UnbanIP(ctx, "198.51.100.7"); err != nil {
		t.Fatal(err)
	}
	if locked, _ := l.IsLocked(ctx, "198.51.100.7"); locked {
		t.Fatal("IP still locked after unban")
	}
}

func TestMemoryLedgerLockoutExpires(t *testing.T) {
	ctx := context.Background()

	// Ban persistence failing leaves only the transient lockout.
	l := NewMemoryLedger(failingBanStore{}, 3, 15*time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if banned, _ := l.RecordFailure(ctx, "192.0.2.4"); banned {
			t.Fatal("ban reported even though the store rejected it")
		}
	}
	if locked, _ := l.IsLocked(ctx, "192.0.2.4"); !locked {
		t.Fatal("lockout window not open after breach")
	}

	l.now = func() time.Time { return base.Add(16 * time.Minute) }
	if locked, _ := l.IsLocked(ctx, "192.0.2.4"); locked {
		t.Fatal("lockout window did not expire")
	}
}

func TestMemoryLedgerEmptyIPIsNoop(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(NewMemoryBanStore(), 3, 15*time.Minute)

	if banned, err := l.RecordFailure(ctx, ""); banned || err != nil {
		t.Fatalf("RecordFailure(\"\") = %v, %v", banned, err)
	}
	if locked, err := l.IsLocked(ctx, ""); locked || err != nil {
		t.Fatalf("IsLocked(\"\") = %v, %v", locked, err)
	}
}

func TestMemoryLedgerSignals(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(NewMemoryBanStore(), 3, 15*time.Minute)

	l.RecordFailure(ctx, "203.0.113.20")
	l.RecordFailure(ctx, "203.0.113.20")

	sig := l.Signals(ctx, "203.0.113.20")
	if sig.FailedAttempts != 2 || sig.Banned {
		t.Errorf("Signals = %+v", sig)
	}

	l.RecordFailure(ctx, "203.0.113.20")
	sig = l.Signals(ctx, "203.0.113.20")
	if !sig.Banned {
		t.Error("breach not reflected in signals")
	}
}

func TestMemoryLedgerBanCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBanStore()
	l := NewMemoryLedger(store, 3, 15*time.Minute)

	// Prime the miss cache, then ban through the ledger; the cache must
	// not serve the stale miss.
	if locked, _ := l.IsLocked(ctx, "203.0.113.30"); locked {
		t.Fatal("unexpected lock")
	}
	if err := l.BanIP(ctx, "203.0.113.30", "manual", "root"); err != nil {
		t.Fatal(err)
	}
	if locked, _ := l.IsLocked(ctx, "203.0.113.30"); !locked {
		t.Fatal("ban not visible after cached miss")
	}
}

func TestMFALedgerLocksOnFifthAttempt(t *testing.T) {
	l := NewMemoryMFALedger(5, 5*time.Minute)

	for i := 0; i < 4; i++ {
		if locked, _ := l.Record(7, "203.0.113.9"); locked {
			t.Fatalf("locked after %d attempts", i+1)
		}
	}

	locked, until := l.Record(7, "203.0.113.9")
	if !locked {
		t.Fatal("fifth attempt did not lock")
	}
	if until.IsZero() {
		t.Fatal("lock has no expiry")
	}

	if !l.IsLocked(7, "203.0.113.9") {
		t.Fatal("IsLocked disagrees with Record")
	}

	// Further attempts report the same window rather than extending it.
	_, until2 := l.Record(7, "203.0.113.9")
	if !until2.Equal(until) {
		t.Errorf("lockout extended: %v -> %v", until, until2)
	}
}

func TestMFALedgerScopesByAdminAndIP(t *testing.T) {
	l := NewMemoryMFALedger(5, 5*time.Minute)

	for i := 0; i < 5; i++ {
		l.Record(7, "203.0.113.9")
	}

	if l.IsLocked(7, "198.51.100.1") {
		t.Error("lock leaked across IPs")
	}
	if l.IsLocked(8, "203.0.113.9") {
		t.Error("lock leaked across admins")
	}
}

func TestMFALedgerResetAndExpiry(t *testing.T) {
	l := NewMemoryMFALedger(5, 5*time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		l.Record(7, "203.0.113.9")
	}
	l.Reset(7, "203.0.113.9")
	if l.IsLocked(7, "203.0.113.9") {
		t.Fatal("lock survived reset")
	}

	for i := 0; i < 5; i++ {
		l.Record(7, "203.0.113.9")
	}
	l.now = func() time.Time { return base.Add(6 * time.Minute) }
	if l.IsLocked(7, "203.0.113.9") {
		t.Fatal("lock survived its window")
	}
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestRedisLedgerThresholdBansOnThirdFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBanStore()
	l := NewRedisLedger(newTestRedis(t), store, 3, 15*time.Minute)

	for i := 0; i < 2; i++ {
		banned, err := l.RecordFailure(ctx, "203.0.113.9")
		if err != nil {
			t.Fatal(err)
		}
		if banned {
			t.Fatalf("banned after %d failures", i+1)
		}
	}

	banned, err := l.RecordFailure(ctx, "203.0.113.9")
	if err != nil {
		t.Fatal(err)
	}
	if !banned {
		t.Fatal("third failure did not report a fresh ban")
	}

	if locked, _ := l.IsLocked(ctx, "203.0.113.9"); !locked {
		t.Fatal("IP not locked after ban")
	}

	if rec, _ := store.FindBan(ctx, "203.0.113.9"); rec == nil {
		t.Fatal("ban not persisted")
	}
}

func TestRedisLedgerClearOnSuccess(t *testing.T) {
	ctx := context.Background()
	l := NewRedisLedger(newTestRedis(t), NewMemoryBanStore(), 3, 15*time.Minute)

	l.RecordFailure(ctx, "198.51.100.7")
	l.RecordFailure(ctx, "198.51.100.7")
	l.ClearOnSuccess(ctx, "198.51.100.7")

	sig := l.Signals(ctx, "198.51.100.7")
	if sig.FailedAttempts != 0 {
		t.Errorf("counter survived clear: %+v", sig)
	}

	// The next run starts from zero again.
	if banned, _ := l.RecordFailure(ctx, "198.51.100.7"); banned {
		t.Fatal("single failure after clear caused a ban")
	}
}

func TestRedisLedgerSignals(t *testing.T) {
	ctx := context.Background()
	l := NewRedisLedger(newTestRedis(t), NewMemoryBanStore(), 3, 15*time.Minute)

	l.RecordFailure(ctx, "192.0.2.4")
	l.RecordFailure(ctx, "192.0.2.4")

	sig := l.Signals(ctx, "192.0.2.4")
	if sig.FailedAttempts != 2 || sig.Banned {
		t.Errorf("Signals = %+v", sig)
	}
}

func TestRedisMFALedgerLocksAndResets(t *testing.T) {
	l := NewRedisMFALedger(newTestRedis(t), 5, 5*time.Minute)

	for i := 0; i < 4; i++ {
		if locked, _ := l.Record(7, "203.0.113.9"); locked {
			t.Fatalf("locked after %d attempts", i+1)
		}
	}
	if locked, _ := l.Record(7, "203.0.113.9"); !locked {
		t.Fatal("fifth attempt did not lock")
	}
	if !l.IsLocked(7, "203.0.113.9") {
		t.Fatal("IsLocked disagrees with Record")
	}
	if l.IsLocked(7, "198.51.100.1") {
		t.Fatal("lock leaked across IPs")
	}

	l.Reset(7, "203.0.113.9")
	if l.IsLocked(7, "203.0.113.9") {
		t.Fatal("lock survived reset")
	}
}

type failingBanStore struct{}

func (failingBanStore) FindBan(context.Context, string) (*BanRecord, error) {
	return nil, nil
}

func (failingBanStore) InsertBan(context.Context, BanRecord) error {
	return errors.New("storage unavailable")
}

func (failingBanStore) DeleteBan(context.Context, string) error { return nil }

func (failingBanStore) ListBans(context.Context) ([]BanRecord, error) { return nil, nil }
