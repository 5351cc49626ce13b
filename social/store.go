package social

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// OTPChallenge is a pending email sign-in.
type OTPChallenge struct {
	Email     string    `json:"email"`
	CodeHash  string    `json:"code_hash"`
	Attempts  int       `json:"attempts"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore keeps the single local session token and pending OTP
// challenges. Load methods return a zero value and nil when nothing is stored.
type SessionStore interface {
	LoadSession(ctx context.Context) (string, error)
	SaveSession(ctx context.Context, token string, ttl time.Duration) error
	ClearSession(ctx context.Context) error

	LoadChallenge(ctx context.Context, email string) (*OTPChallenge, error)
	SaveChallenge(ctx context.Context, challenge OTPChallenge, ttl time.Duration) error
	DeleteChallenge(ctx context.Context, email string) error
}

type memoryEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e memoryEntry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process SessionStore.
type MemoryStore struct {
	mu         sync.Mutex
	session    *memoryEntry[string]
	challenges map[string]memoryEntry[OTPChallenge]
	now        func() time.Time
}

var _ SessionStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]memoryEntry[OTPChallenge]),
		now:        time.Now,
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (m *MemoryStore) LoadSession(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return "", nil
	}
	if m.session.expired(m.now()) {
		m.session = nil
		return "", nil
	}
	return m.session.value, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &memoryEntry[string]{value: token, expiresAt: expiry(m.now(), ttl)}
	return nil
}

func (m *MemoryStore) ClearSession(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

func (m *MemoryStore) LoadChallenge(_ context.Context, email string) (*OTPChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := challengeKey(email)
	entry, ok := m.challenges[key]
	if !ok {
		return nil, nil
	}
	if entry.expired(m.now()) {
		delete(m.challenges, key)
		return nil, nil
	}
	c := entry.value
	return &c, nil
}

func (m *MemoryStore) SaveChallenge(_ context.Context, challenge OTPChallenge, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[challengeKey(challenge.Email)] = memoryEntry[OTPChallenge]{
		value:     challenge,
		expiresAt: expiry(m.now(), ttl),
	}
	return nil
}

func (m *MemoryStore) DeleteChallenge(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.challenges, challengeKey(email))
	return nil
}

// DefaultRedisPrefix namespaces every key written by RedisStore.
const DefaultRedisPrefix = "nouriva:auth:"

// RedisStore is a SessionStore backed by Redis keys with TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ SessionStore = (*RedisStore)(nil)

// NewRedisStore wraps client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// ConnectRedis builds a client from a redis:// URL or a host:port address.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	var opts *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, withCause(ErrSessionStore, err, map[string]any{"operation": "parse_url"})
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr, Password: password, DB: db}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, withCause(ErrSessionStore, err, map[string]any{"operation": "ping"})
	}
	return client, nil
}

func (r *RedisStore) sessionKey() string {
	return r.prefix + "session"
}

func (r *RedisStore) challengeKey(email string) string {
	return r.prefix + "otp:" + challengeKey(email)
}

func (r *RedisStore) LoadSession(ctx context.Context) (string, error) {
	token, err := r.client.Get(ctx, r.sessionKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", withCause(ErrSessionStore, err, map[string]any{"operation": "load_session"})
	}
	return token, nil
}

func (r *RedisStore) SaveSession(ctx context.Context, token string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.sessionKey(), token, ttl).Err(); err != nil {
		return withCause(ErrSessionStore, err, map[string]any{"operation": "save_session"})
	}
	return nil
}

func (r *RedisStore) ClearSession(ctx context.Context) error {
	if err := r.client.Del(ctx, r.sessionKey()).Err(); err != nil {
		return withCause(ErrSessionStore, err, map[string]any{"operation": "clear_session"})
	}
	return nil
}

func (r *RedisStore) LoadChallenge(ctx context.Context, email string) (*OTPChallenge, error) {
	raw, err := r.client.Get(ctx, r.challengeKey(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, withCause(ErrSessionStore, err, map[string]any{"operation": "load_challenge"})
	}

	var out OTPChallenge
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "corrupt otp challenge")
	}
	return &out, nil
}

func (r *RedisStore) SaveChallenge(ctx context.Context, challenge OTPChallenge, ttl time.Duration) error {
	raw, err := json.Marshal(challenge)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to encode otp challenge")
	}
	if err := r.client.Set(ctx, r.challengeKey(challenge.Email), raw, ttl).Err(); err != nil {
		return withCause(ErrSessionStore, err, map[string]any{"operation": "save_challenge"})
	}
	return nil
}

func (r *RedisStore) DeleteChallenge(ctx context.Context, email string) error {
	if err := r.client.Del(ctx, r.challengeKey(email)).Err(); err != nil {
		return withCause(ErrSessionStore, err, map[string]any{"operation": "delete_challenge"})
	}
	return nil
}

func challengeKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
