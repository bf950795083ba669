package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lanternhq/lantern-api/internal/app/storage"
)

// Session records a logged-in legacy token so logout can revoke it
// before its JWT expiry. Sessions are keyed by a hash of the token;
// the token itself is never stored.
type Session struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore tracks active legacy sessions.
type SessionStore interface {
	Save(ctx context.Context, token string, session Session) error
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

func sessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MemorySessionStore implementation ------------------------------------------

// MemorySessionStore holds sessions in process memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

func (s *MemorySessionStore) Save(_ context.Context, token string, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionKey(token)] = session
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, token string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionKey(token)]
	s.mu.RUnlock()
	if !ok || time.Now().After(session.ExpiresAt) {
		return nil, fmt.Errorf("session not found: %w", storage.ErrNotFound)
	}
	clone := session
	return &clone, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey(token))
	return nil
}

func (s *MemorySessionStore) DeleteExpired(_ context.Context) (int64, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed, nil
}

// RedisSessionStore implementation -------------------------------------------

// RedisSessionStore persists sessions in Redis with a TTL, so revocation
// survives restarts and is shared across instances. Expiry is enforced by
// Redis itself.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

var _ SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: "lantern:session:"}
}

func (s *RedisSessionStore) Save(ctx context.Context, token string, session Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}
	return s.client.Set(ctx, s.prefix+sessionKey(token), payload, ttl).Err()
}

func (s *RedisSessionStore) Get(ctx context.Context, token string) (*Session, error) {
	payload, err := s.client.Get(ctx, s.prefix+sessionKey(token)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("session not found: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.prefix+sessionKey(token)).Err()
}

// DeleteExpired is a no-op: Redis evicts expired keys on its own.
func (s *RedisSessionStore) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}
