package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"admin-auth-service/internal/util"
)

const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// MemoryStore keeps sessions in process memory, sharded by token hash
// so lookups on the hot path do not contend on a single lock. The
// per-admin index and the limit overrides are small and share one lock.
type MemoryStore struct {
	ttl          time.Duration
	defaultLimit int
	now          func() time.Time

	shards [shardCount]*shard

	mu     sync.Mutex
	index  map[int64]map[string]struct{}
	limits map[int64]int
}

func NewMemoryStore(ttl time.Duration, defaultLimit int) *MemoryStore {
	s := &MemoryStore{
		ttl:          ttl,
		defaultLimit: defaultLimit,
		now:          time.Now,
		index:        make(map[int64]map[string]struct{}),
		limits:       make(map[int64]int),
	}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return s
}

func (s *MemoryStore) shardFor(token string) *shard {
	return s.shards[murmur3.Sum32([]byte(token))%shardCount]
}

func (s *MemoryStore) Create(ctx context.Context, sess *Session) error {
	limit, _ := s.UserLimit(ctx, sess.AdminID)

	s.mu.Lock()
	tokens := s.index[sess.AdminID]
	if tokens == nil {
		tokens = make(map[string]struct{})
		s.index[sess.AdminID] = tokens
	}
	var victims []string
	if len(tokens) >= limit {
		victims = s.oldestLocked(tokens, len(tokens)-limit+1)
	}
	tokens[sess.Token] = struct{}{}
	s.mu.Unlock()

	for _, token := range victims {
		s.remove(token, sess.AdminID)
	}
	if len(victims) > 0 {
		util.Info("Evicted oldest sessions at concurrency cap",
			util.Int64("adminId", sess.AdminID), util.Int("evicted", len(victims)))
	}

	now := s.now()
	sess.CreatedAt = now
	sess.LastActivity = now
	sess.ExpiresAt = now.Add(s.ttl)

	cp := *sess
	sh := s.shardFor(sess.Token)
	sh.mu.Lock()
	sh.sessions[sess.Token] = &cp
	sh.mu.Unlock()
	return nil
}

// oldestLocked picks the n oldest tokens of the set. Caller holds s.mu.
func (s *MemoryStore) oldestLocked(tokens map[string]struct{}, n int) []string {
	type aged struct {
		token   string
		created time.Time
	}
	all := make([]aged, 0, len(tokens))
	for token := range tokens {
		sh := s.shardFor(token)
		sh.mu.RLock()
		sess, ok := sh.sessions[token]
		sh.mu.RUnlock()
		if !ok {
			// Index entry with no session; collect it regardless.
			all = append(all, aged{token: token})
			continue
		}
		all = append(all, aged{token: token, created: sess.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].created.Before(all[j].created) })
	if n > len(all) {
		n = len(all)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].token
	}
	return out
}

func (s *MemoryStore) Lookup(_ context.Context, token, ip string) (*Session, error) {
	sh := s.shardFor(token)
	sh.mu.RLock()
	sess, ok := sh.sessions[token]
	sh.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	if s.now().After(sess.ExpiresAt) {
		s.remove(token, sess.AdminID)
		return nil, ErrExpired
	}
	if ip != "" && sess.IP != ip {
		s.remove(token, sess.AdminID)
		util.Warn("Session destroyed on IP mismatch",
			util.Int64("adminId", sess.AdminID),
			util.String("pinned", sess.IP), util.String("got", ip))
		return nil, ErrIPMismatch
	}

	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) Touch(_ context.Context, token string) error {
	sh := s.shardFor(token)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[token]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	sess.LastActivity = now
	sess.ExpiresAt = now.Add(s.ttl)
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, token string) error {
	sh := s.shardFor(token)
	sh.mu.RLock()
	sess, ok := sh.sessions[token]
	sh.mu.RUnlock()
	if !ok {
		return nil
	}
	s.remove(token, sess.AdminID)
	return nil
}

func (s *MemoryStore) RevokeAll(_ context.Context, adminID int64, exceptToken string) (int, error) {
	s.mu.Lock()
	var victims []string
	for token := range s.index[adminID] {
		if token != exceptToken {
			victims = append(victims, token)
		}
	}
	s.mu.Unlock()

	for _, token := range victims {
		s.remove(token, adminID)
	}
	return len(victims), nil
}

func (s *MemoryStore) SessionsFor(_ context.Context, adminID int64) ([]Session, error) {
	s.mu.Lock()
	tokens := make([]string, 0, len(s.index[adminID]))
	for token := range s.index[adminID] {
		tokens = append(tokens, token)
	}
	s.mu.Unlock()

	now := s.now()
	out := make([]Session, 0, len(tokens))
	for _, token := range tokens {
		sh := s.shardFor(token)
		sh.mu.RLock()
		sess, ok := sh.sessions[token]
		if ok && now.Before(sess.ExpiresAt) {
			out = append(out, *sess)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetLabel(_ context.Context, token, label string) error {
	sh := s.shardFor(token)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[token]
	if !ok {
		return ErrNotFound
	}
	sess.DeviceLabel = label
	return nil
}

func (s *MemoryStore) SetUserLimit(_ context.Context, adminID int64, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		delete(s.limits, adminID)
		return nil
	}
	s.limits[adminID] = limit
	return nil
}

func (s *MemoryStore) UserLimit(_ context.Context, adminID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit, ok := s.limits[adminID]; ok {
		return limit, nil
	}
	return s.defaultLimit, nil
}

func (s *MemoryStore) ActiveCount(_ context.Context) (int, error) {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return total, nil
}

// StartSweeper drops expired sessions on a fixed interval until the
// context is cancelled. The sweep only deletes; sliding renewals happen
// on the request path.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.sweep(); n > 0 {
					util.Debug("Swept expired sessions", util.Int("count", n))
				}
			}
		}
	}()
}

func (s *MemoryStore) sweep() int {
	now := s.now()
	type victim struct {
		token   string
		adminID int64
	}
	var victims []victim
	for _, sh := range s.shards {
		sh.mu.RLock()
		for token, sess := range sh.sessions {
			if now.After(sess.ExpiresAt) {
				victims = append(victims, victim{token, sess.AdminID})
			}
		}
		sh.mu.RUnlock()
	}
	for _, v := range victims {
		s.remove(v.token, v.adminID)
	}
	return len(victims)
}

func (s *MemoryStore) remove(token string, adminID int64) {
	sh := s.shardFor(token)
	sh.mu.Lock()
	delete(sh.sessions, token)
	sh.mu.Unlock()

	s.mu.Lock()
	if tokens, ok := s.index[adminID]; ok {
		delete(tokens, token)
		if len(tokens) == 0 {
			delete(s.index, adminID)
		}
	}
	s.mu.Unlock()
}
