package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"admin-auth-service/internal/util"
)

const (
	sessionPrefix = "admin_auth:session:"
	adminSetKey   = "admin_auth:admin_sessions:"
	limitPrefix   = "admin_auth:session_limit:"
)

// storedSession is the wire shape in Redis. The token and CSRF secret
// are excluded from API serialization on Session itself, but the store
// has to round-trip them.
type storedSession struct {
	Token        string    `json:"token"`
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
	CSRFToken    string    `json:"csrfToken"`
	NewDevice    bool      `json:"isNewDevice"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func toStored(s *Session) storedSession {
	return storedSession{
		Token:        s.Token,
		AdminID:      s.AdminID,
		Username:     s.Username,
		Role:         s.Role,
		PartnerAPIID: s.PartnerAPIID,
		MFAEnabled:   s.MFAEnabled,
		IP:           s.IP,
		UserAgent:    s.UserAgent,
		Fingerprint:  s.Fingerprint,
		DeviceLabel:  s.DeviceLabel,
		Location:     s.Location,
		CSRFToken:    s.CSRFToken,
		NewDevice:    s.NewDevice,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		ExpiresAt:    s.ExpiresAt,
	}
}

func (st storedSession) toSession() *Session {
	return &Session{
		Token:        st.Token,
		AdminID:      st.AdminID,
		Username:     st.Username,
		Role:         st.Role,
		PartnerAPIID: st.PartnerAPIID,
		MFAEnabled:   st.MFAEnabled,
		IP:           st.IP,
		UserAgent:    st.UserAgent,
		Fingerprint:  st.Fingerprint,
		DeviceLabel:  st.DeviceLabel,
		Location:     st.Location,
		CSRFToken:    st.CSRFToken,
		NewDevice:    st.NewDevice,
		CreatedAt:    st.CreatedAt,
		LastActivity: st.LastActivity,
		ExpiresAt:    st.ExpiresAt,
	}
}

// RedisStore shares sessions across instances. Expiry rides on key TTL;
// the per-admin index is a set whose dead members are pruned lazily.
type RedisStore struct {
	client       *redis.Client
	ttl          time.Duration
	defaultLimit int
}

func NewRedisStore(client *redis.Client, ttl time.Duration, defaultLimit int) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, defaultLimit: defaultLimit}
}

func setKey(adminID int64) string   { return fmt.Sprintf("%s%d", adminSetKey, adminID) }
func limitKey(adminID int64) string { return fmt.Sprintf("%s%d", limitPrefix, adminID) }

func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	limit, err := s.UserLimit(ctx, sess.AdminID)
	if err != nil {
		limit = s.defaultLimit
	}

	live, err := s.SessionsFor(ctx, sess.AdminID)
	if err != nil {
		return fmt.Errorf("failed to list sessions for cap check: %w", err)
	}
	if excess := len(live) - limit + 1; excess > 0 {
		// SessionsFor returns oldest first.
		for _, victim := range live[:excess] {
			if err := s.Revoke(ctx, victim.Token); err != nil {
				util.Warn("Failed to evict session at concurrency cap", zap.Error(err))
			}
		}
		util.Info("Evicted oldest sessions at concurrency cap",
			util.Int64("adminId", sess.AdminID), util.Int("evicted", excess))
	}

	now := time.Now()
	sess.CreatedAt = now
	sess.LastActivity = now
	sess.ExpiresAt = now.Add(s.ttl)

	payload, err := json.Marshal(toStored(sess))
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionPrefix+sess.Token, payload, s.ttl)
	pipe.SAdd(ctx, setKey(sess.AdminID), sess.Token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, token string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionPrefix+token).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var st storedSession
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return st.toSession(), nil
}

func (s *RedisStore) Lookup(ctx context.Context, token, ip string) (*Session, error) {
	sess, err := s.get(ctx, token)
	if err != nil {
		return nil, err
	}

	if time.Now().After(sess.ExpiresAt) {
		_ = s.Revoke(ctx, token)
		return nil, ErrExpired
	}
	if ip != "" && sess.IP != ip {
		_ = s.Revoke(ctx, token)
		util.Warn("Session destroyed on IP mismatch",
			util.Int64("adminId", sess.AdminID),
			util.String("pinned", sess.IP), util.String("got", ip))
		return nil, ErrIPMismatch
	}
	return sess, nil
}

func (s *RedisStore) Touch(ctx context.Context, token string) error {
	sess, err := s.get(ctx, token)
	if err != nil {
		return err
	}
	now := time.Now()
	sess.LastActivity = now
	sess.ExpiresAt = now.Add(s.ttl)
	payload, err := json.Marshal(toStored(sess))
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return s.client.Set(ctx, sessionPrefix+token, payload, s.ttl).Err()
}

func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	sess, err := s.get(ctx, token)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionPrefix+token)
	pipe.SRem(ctx, setKey(sess.AdminID), token)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) RevokeAll(ctx context.Context, adminID int64, exceptToken string) (int, error) {
	tokens, err := s.client.SMembers(ctx, setKey(adminID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	revoked := 0
	for _, token := range tokens {
		if token == exceptToken {
			continue
		}
		exists, err := s.client.Exists(ctx, sessionPrefix+token).Result()
		if err == nil && exists == 0 {
			// Dead index entry, prune without counting it.
			s.client.SRem(ctx, setKey(adminID), token)
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, sessionPrefix+token)
		pipe.SRem(ctx, setKey(adminID), token)
		if _, err := pipe.Exec(ctx); err == nil {
			revoked++
		}
	}
	return revoked, nil
}

func (s *RedisStore) SessionsFor(ctx context.Context, adminID int64) ([]Session, error) {
	tokens, err := s.client.SMembers(ctx, setKey(adminID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]Session, 0, len(tokens))
	for _, token := range tokens {
		sess, err := s.get(ctx, token)
		if err == ErrNotFound {
			s.client.SRem(ctx, setKey(adminID), token)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RedisStore) SetLabel(ctx context.Context, token, label string) error {
	sess, err := s.get(ctx, token)
	if err != nil {
		return err
	}
	sess.DeviceLabel = label
	payload, err := json.Marshal(toStored(sess))
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return s.client.Set(ctx, sessionPrefix+token, payload, redis.KeepTTL).Err()
}

func (s *RedisStore) SetUserLimit(ctx context.Context, adminID int64, limit int) error {
	if limit <= 0 {
		return s.client.Del(ctx, limitKey(adminID)).Err()
	}
	return s.client.Set(ctx, limitKey(adminID), limit, 0).Err()
}

func (s *RedisStore) UserLimit(ctx context.Context, adminID int64) (int, error) {
	limit, err := s.client.Get(ctx, limitKey(adminID)).Int()
	if err == redis.Nil {
		return s.defaultLimit, nil
	}
	if err != nil {
		return s.defaultLimit, err
	}
	return limit, nil
}

func (s *RedisStore) ActiveCount(ctx context.Context) (int, error) {
	var cursor uint64
	total := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, sessionPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan sessions: %w", err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

// StartSweeper prunes index entries whose session keys already expired.
// Redis handles session expiry itself; this keeps the sets honest.
func (s *RedisStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.pruneIndexes(ctx)
			}
		}
	}()
}

func (s *RedisStore) pruneIndexes(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, adminSetKey+"*", 100).Result()
		if err != nil {
			util.Warn("Session index sweep failed", zap.Error(err))
			return
		}
		for _, key := range keys {
			tokens, err := s.client.SMembers(ctx, key).Result()
			if err != nil {
				continue
			}
			for _, token := range tokens {
				exists, err := s.client.Exists(ctx, sessionPrefix+token).Result()
				if err == nil && exists == 0 {
					s.client.SRem(ctx, key, token)
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
