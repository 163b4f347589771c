package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"admin-auth-service/internal/util"
)

const (
	failurePrefix = "admin_auth:failures:"
	mfaPrefix     = "admin_auth:mfa:"
)

// RedisLedger is the AttemptLedger for multi-instance deployments:
// failure counters live in Redis with the lockout window as their TTL,
// so every instance observes the same state. Bans still flow through
// the shared BanStore.
type RedisLedger struct {
	client        *redis.Client
	bans          BanStore
	maxFailures   int
	lockoutWindow time.Duration
}

func NewRedisLedger(client *redis.Client, bans BanStore, maxFailures int, lockoutWindow time.Duration) *RedisLedger {
	return &RedisLedger{
		client:        client,
		bans:          bans,
		maxFailures:   maxFailures,
		lockoutWindow: lockoutWindow,
	}
}

func (l *RedisLedger) IsLocked(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}

	rec, err := l.bans.FindBan(ctx, ip)
	if err != nil {
		return false, err
	}
	if rec != nil {
		return true, nil
	}

	count, err := l.client.Get(ctx, failurePrefix+ip).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read failure counter: %w", err)
	}
	return count >= l.maxFailures, nil
}

func (l *RedisLedger) RecordFailure(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}

	key := failurePrefix + ip
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.lockoutWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to record failure: %w", err)
	}

	if incr.Val() < int64(l.maxFailures) {
		return false, nil
	}

	// First breach promotes to a durable ban; later increments from
	// racing requests are tolerated and simply find the ban in place.
	existing, err := l.bans.FindBan(ctx, ip)
	if err == nil && existing != nil {
		return false, nil
	}
	if err := l.BanIP(ctx, ip, DefaultBanReason, "system"); err != nil {
		util.Error("Failed to persist automatic IP ban",
			util.String("ip", ip), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (l *RedisLedger) ClearOnSuccess(ctx context.Context, ip string) {
	if err := l.client.Del(ctx, failurePrefix+ip).Err(); err != nil {
		util.Warn("Failed to clear failure counter",
			util.String("ip", ip), zap.Error(err))
	}
}

func (l *RedisLedger) BanIP(ctx context.Context, ip, reason, createdBy string) error {
	if err := l.bans.InsertBan(ctx, BanRecord{
		IPAddress: ip,
		Reason:    reason,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	l.ClearOnSuccess(ctx, ip)
	return nil
}

func (l *RedisLedger) UnbanIP(ctx context.Context, ip string) error {
	if err := l.bans.DeleteBan(ctx, ip); err != nil {
		return err
	}
	l.ClearOnSuccess(ctx, ip)
	return nil
}

func (l *RedisLedger) ListBans(ctx context.Context) ([]BanRecord, error) {
	return l.bans.ListBans(ctx)
}

func (l *RedisLedger) Signals(ctx context.Context, ip string) Signals {
	sig := Signals{}

	if rec, err := l.bans.FindBan(ctx, ip); err == nil && rec != nil {
		sig.Banned = true
	}

	key := failurePrefix + ip
	if count, err := l.client.Get(ctx, key).Int(); err == nil {
		sig.FailedAttempts = count
		if count >= l.maxFailures {
			if ttl, err := l.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				sig.LockoutUntil = time.Now().Add(ttl)
			}
		}
	}
	return sig
}

// RedisMFALedger shares MFA attempt counters across instances. The
// counter key carries the lockout window as TTL once the limit is hit.
type RedisMFALedger struct {
	client      *redis.Client
	maxAttempts int
	lockWindow  time.Duration
}

func NewRedisMFALedger(client *redis.Client, maxAttempts int, lockWindow time.Duration) *RedisMFALedger {
	return &RedisMFALedger{client: client, maxAttempts: maxAttempts, lockWindow: lockWindow}
}

func (l *RedisMFALedger) key(adminID int64, ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	return fmt.Sprintf("%s%d:%s", mfaPrefix, adminID, ip)
}

func (l *RedisMFALedger) Record(adminID int64, ip string) (bool, time.Time) {
	ctx := context.Background()
	key := l.key(adminID, ip)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.lockWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Warn("Failed to record mfa attempt", zap.Error(err))
		return false, time.Time{}
	}

	if incr.Val() >= int64(l.maxAttempts) {
		return true, time.Now().Add(l.lockWindow)
	}
	return false, time.Time{}
}

func (l *RedisMFALedger) IsLocked(adminID int64, ip string) bool {
	count, err := l.client.Get(context.Background(), l.key(adminID, ip)).Int()
	if err != nil {
		return false
	}
	return count >= l.maxAttempts
}

func (l *RedisMFALedger) Reset(adminID int64, ip string) {
	if err := l.client.Del(context.Background(), l.key(adminID, ip)).Err(); err != nil {
		util.Warn("Failed to reset mfa attempts", zap.Error(err))
	}
}
