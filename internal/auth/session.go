package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultSessionTTL = 24 * time.Hour
	SessionCookie     = "session_id"
)

// ErrNoSession is returned when a token is unknown or expired.
var ErrNoSession = errors.New("no such session")

// Session ties an opaque token to the account it was issued for. The user
// ID pins the session to that account even if the username is later reused.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// SessionStore maps session tokens to identities. Sessions expire after
// sitting idle for the store's TTL; every successful Get restarts the clock.
type SessionStore interface {
	Create(ctx context.Context, userID int64, username string) (Session, error)
	Get(ctx context.Context, token string) (Session, error)
	Delete(ctx context.Context, token string) error
}

func newSession(userID int64, username string, now time.Time) Session {
	return Session{Token: uuid.New().String(), UserID: userID, Username: username, CreatedAt: now, LastSeen: now}
}

// MemorySessionStore keeps sessions in process memory. Sessions are lost on
// restart.
type MemorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]Session
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemorySessionStore{ttl: ttl, now: time.Now, sessions: make(map[string]Session)}
}

func (s *MemorySessionStore) Create(ctx context.Context, userID int64, username string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := newSession(userID, username, s.now())
	s.sessions[sess.Token] = sess
	return sess, nil
}

func (s *MemorySessionStore) Get(ctx context.Context, token string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, ErrNoSession
	}
	now := s.now()
	if now.Sub(sess.LastSeen) > s.ttl {
		delete(s.sessions, token)
		return Session{}, ErrNoSession
	}
	sess.LastSeen = now
	s.sessions[token] = sess
	return sess, nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// Sweep drops every idle session and returns how many it dropped.
func (s *MemorySessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for token, sess := range s.sessions {
		if now.Sub(sess.LastSeen) > s.ttl {
			delete(s.sessions, token)
			n++
		}
	}
	return n
}

// Len returns the number of sessions currently held, expired or not.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (s *MemorySessionStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// RedisSessionStore wraps Redis for session management. Expiry is the key TTL.
type RedisSessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSessionStore(rdb *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

func sessionKey(token string) string { return "session:" + token }

// Create stores a new session for the given account.
func (s *RedisSessionStore) Create(ctx context.Context, userID int64, username string) (Session, error) {
	sess := newSession(userID, username, time.Now().UTC())
	raw, err := json.Marshal(sess)
	if err != nil {
		return Session{}, fmt.Errorf("encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.Token), raw, s.ttl).Err(); err != nil {
		return Session{}, fmt.Errorf("redis create session: %w", err)
	}
	return sess, nil
}

// Get returns the session for a token and pushes its expiry out by the TTL.
func (s *RedisSessionStore) Get(ctx context.Context, token string) (Session, error) {
	raw, err := s.rdb.GetEx(ctx, sessionKey(token), s.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("redis get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	sess.LastSeen = time.Now().UTC()
	return sess, nil
}

// Delete removes a session.
func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, sessionKey(token)).Err()
}
