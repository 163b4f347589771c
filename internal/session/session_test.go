package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestNewTokenShape(t *testing.T) {
	a, err := NewToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewToken()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 64 {
		t.Errorf("token length = %d, want 64", len(a))
	}
	if a == b {
		t.Error("two tokens collided")
	}
}

func newSession(t *testing.T, adminID int64, ip string) *Session {
	t.Helper()
	token, err := NewToken()
	if err != nil {
		t.Fatal(err)
	}
	csrf, err := NewToken()
	if err != nil {
		t.Fatal(err)
	}
	return &Session{
		Token:       token,
		AdminID:     adminID,
		Username:    "admin",
		Role:        "superadmin",
		IP:          ip,
		UserAgent:   "test-agent",
		Fingerprint: ip + "|Mac|Chrome",
		DeviceLabel: "Mac · Chrome",
		CSRFToken:   csrf,
	}
}

func TestMemoryStoreLookupRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(30*time.Minute, 3)

	sess := newSession(t, 1, "203.0.113.9")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if sess.ExpiresAt.IsZero() || sess.CreatedAt.IsZero() {
		t.Fatal("Create did not stamp timestamps")
	}

	got, err := store.Lookup(ctx, sess.Token, "203.0.113.9")
	if err != nil {
		t.Fatal(err)
	}
	if got.AdminID != 1 || got.CSRFToken != sess.CSRFToken {
		t.Errorf("Lookup = %+v", got)
	}

	if _, err := store.Lookup(ctx, "deadbeef", "203.0.113.9"); err != ErrNotFound {
		t.Errorf("unknown token: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreIPMismatchDestroysSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(30*time.Minute, 3)

	sess := newSession(t, 1, "203.0.113.9")
	store.Create(ctx, sess)

	if _, err := store.Lookup(ctx, sess.Token, "198.51.100.1"); err != ErrIPMismatch {
		t.Fatalf("err = %v, want ErrIPMismatch", err)
	}

	// The session is gone even for the original IP.
	if _, err := store.Lookup(ctx, sess.Token, "203.0.113.9"); err != ErrNotFound {
		t.Fatalf("session survived the mismatch: err = %v", err)
	}
}

func TestMemoryStoreSlidingExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(30*time.Minute, 3)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	sess := newSession(t, 1, "203.0.113.9")
	store.Create(ctx, sess)

	// A touch at minute 20 pushes expiry to minute 50.
	store.now = func() time.Time { return base.Add(20 * time.Minute) }
	if err := store.Touch(ctx, sess.Token); err != nil {
		t.Fatal(err)
	}

	store.now = func() time.Time { return base.Add(45 * time.Minute) }
	if _, err := store.Lookup(ctx, sess.Token, "203.0.113.9"); err != nil {
		t.Fatalf("session expired despite sliding renewal: %v", err)
	}

	store.now = func() time.Time { return base.Add(51 * time.Minute) }
	if _, err := store.Lookup(ctx, sess.Token, "203.0.113.9"); err != ErrExpired {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestMemoryStoreConcurrencyCapEvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(30*time.Minute, 3)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var sessions []*Session
	for i := 0; i < 4; i++ {
		store.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		sess := newSession(t, 1, "203.0.113.9")
		if err := store.Create(ctx, sess); err != nil {
			t.Fatal(err)
		}
		sessions = append(sessions, sess)
	}

	// The first session was evicted; the other three survive.
	if _, err := store.Lookup(ctx, sessions[0].Token, "203.0.113.9"); err != ErrNotFound {
		t.Fatalf("oldest session not evicted: err = %v", err)
	}
	for _, sess := range sessions[1:] {
		if _, err := store.Lookup(ctx, sess.Token, "203.0.113.9"); err != nil {
			t.Fatalf("newer session evicted: %v", err)
		}
	}

	live, _ := store.SessionsFor(ctx, 1)
	if len(live) != 3 {
		t.Errorf("live sessions = %d, want 3", len(live))
	}
}

func TestMemoryStoreUserLimitOverride(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(30*time.Minute, 3)

	if err := store.SetUserLimit(ctx, 1, 1); err != nil {
		t.Fatal(err)
	}

	first := newSession(t, 1, "203.0.113.9")
	store.Create(ctx, first)
	second := newSession(t, 1, "203.0.113.9")
	store.Create(ctx, second)

	if _, err := store.Lookup(ctx, first.Token, "203.0.113.9"); err != ErrNotFound {
		t.Fatal("limit 1 did not evict the previous session")
	}

	// Zero restores the default.
	store.SetUserLimit(ctx, 1, 0)
	if limit, _ := store.UserLimit(ctx, 1); limit != 3 {
		t.Errorf("limit = %d, want default 3", limit)
	}
}

func TestMemoryStoreRevokeAllKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(30*time.Minute, 5)

	var sessions []*Session
	for i := 0; i < 3; i++ {
		sess := newSession(t, 1, "203.0.113.9")
		store.Create(ctx, sess)
		sessions = append(sessions, sess)
	}
	other := newSession(t, 2, "203.0.113.9")
	store.Create(ctx, other)

	n, err := store.RevokeAll(ctx, 1, sessions[2].Token)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("revoked = %d, want 2", n)
	}

	if _, err := store.Lookup(ctx, sessions[2].Token, "203.0.113.9"); err != nil {
		t.Fatal("kept session was revoked")
	}
	if _, err := store.Lookup(ctx, other.Token, "203.0.113.9"); err != nil {
		t.Fatal("another admin's session was revoked")
	}
}

func TestMemoryStoreSweepDeletesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(30*time.Minute, 5)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return base }
	old := newSession(t, 1, "203.0.113.9")
	store.Create(ctx, old)

	store.now = func() time.Time { return base.Add(25 * time.Minute) }
	fresh := newSession(t, 1, "203.0.113.9")
	store.Create(ctx, fresh)

	store.now = func() time.Time { return base.Add(35 * time.Minute) }
	if n := store.sweep(); n != 1 {
		t.Fatalf("sweep removed %d sessions, want 1", n)
	}

	if _, err := store.Lookup(ctx, fresh.Token, "203.0.113.9"); err != nil {
		t.Fatal("sweep removed a live session")
	}
	if count, _ := store.ActiveCount(ctx); count != 1 {
		t.Errorf("ActiveCount = %d, want 1", count)
	}
}

func TestMemoryStoreSetLabel(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(30*time.Minute, 3)

	sess := newSession(t, 1, "203.0.113.9")
	store.Create(ctx, sess)

	if err := store.SetLabel(ctx, sess.Token, "Work laptop"); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Lookup(ctx, sess.Token, "203.0.113.9")
	if got.DeviceLabel != "Work laptop" {
		t.Errorf("label = %q", got.DeviceLabel)
	}

	if err := store.SetLabel(ctx, "deadbeef", "x"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func newRedisStore(t *testing.T, ttl time.Duration, limit int) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return NewRedisStore(client, ttl, limit), srv
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t, 30*time.Minute, 3)

	sess := newSession(t, 1, "203.0.113.9")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	got, err := store.Lookup(ctx, sess.Token, "203.0.113.9")
	if err != nil {
		t.Fatal(err)
	}
	if got.Username != "admin" || got.CSRFToken != sess.CSRFToken || got.Fingerprint != sess.Fingerprint {
		t.Errorf("Lookup = %+v", got)
	}
}

func TestRedisStoreIPMismatchDestroysSession(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t, 30*time.Minute, 3)

	sess := newSession(t, 1, "203.0.113.9")
	store.Create(ctx, sess)

	if _, err := store.Lookup(ctx, sess.Token, "198.51.100.1"); err != ErrIPMismatch {
		t.Fatalf("err = %v, want ErrIPMismatch", err)
	}
	if _, err := store.Lookup(ctx, sess.Token, "203.0.113.9"); err != ErrNotFound {
		t.Fatalf("session survived the mismatch: err = %v", err)
	}
}

func TestRedisStoreExpiryViaTTL(t *testing.T) {
	ctx := context.Background()
	store, srv := newRedisStore(t, 30*time.Minute, 3)

	sess := newSession(t, 1, "203.0.113.9")
	store.Create(ctx, sess)

	srv.FastForward(31 * time.Minute)
	if _, err := store.Lookup(ctx, sess.Token, "203.0.113.9"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound after TTL", err)
	}

	// The dead index entry is pruned on the next listing.
	live, err := store.SessionsFor(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 0 {
		t.Errorf("live sessions = %d, want 0", len(live))
	}
}

func TestRedisStoreConcurrencyCapEvictsOldest(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t, 30*time.Minute, 2)

	var sessions []*Session
	for i := 0; i < 3; i++ {
		sess := newSession(t, 1, "203.0.113.9")
		if err := store.Create(ctx, sess); err != nil {
			t.Fatal(err)
		}
		sessions = append(sessions, sess)
		time.Sleep(2 * time.Millisecond) // distinct createdAt ordering
	}

	if _, err := store.Lookup(ctx, sessions[0].Token, "203.0.113.9"); err != ErrNotFound {
		t.Fatalf("oldest session not evicted: err = %v", err)
	}
	live, _ := store.SessionsFor(ctx, 1)
	if len(live) != 2 {
		t.Errorf("live sessions = %d, want 2", len(live))
	}
}

func TestRedisStoreRevokeAllAndLimits(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t, 30*time.Minute, 5)

	var sessions []*Session
	for i := 0; i < 3; i++ {
		sess := newSession(t, 1, "203.0.113.9")
		store.Create(ctx, sess)
		sessions = append(sessions, sess)
	}

	n, err := store.RevokeAll(ctx, 1, sessions[0].Token)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("revoked = %d, want 2", n)
	}
	if _, err := store.Lookup(ctx, sessions[0].Token, "203.0.113.9"); err != nil {
		t.Fatal("kept session was revoked")
	}

	if err := store.SetUserLimit(ctx, 1, 7); err != nil {
		t.Fatal(err)
	}
	if limit, _ := store.UserLimit(ctx, 1); limit != 7 {
		t.Errorf("limit = %d, want 7", limit)
	}
	store.SetUserLimit(ctx, 1, 0)
	if limit, _ := store.UserLimit(ctx, 1); limit != 5 {
		t.Errorf("limit = %d, want default 5", limit)
	}
}

func TestRedisStoreTouchSlidesTTL(t *testing.T) {
	ctx := context.Background()
	store, srv := newRedisStore(t, 30*time.Minute, 3)

	sess := newSession(t, 1, "203.0.113.9")
	store.Create(ctx, sess)

	srv.FastForward(20 * time.Minute)
	if err := store.Touch(ctx, sess.Token); err != nil {
		t.Fatal(err)
	}

	srv.FastForward(25 * time.Minute)
	if _, err := store.get(ctx, sess.Token); err != nil {
		t.Fatalf("session expired despite touch: %v", err)
	}
}
