package session

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/example/roadside-assist/internal/models"
)

type MemoryStore struct {
	mu sync.RWMutex
	c  Credentials
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(ctx context.Context) (Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.c, nil
}

func (m *MemoryStore) Save(ctx context.Context, c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = c
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = Credentials{}
	return nil
}

// HashClient is the subset of go-redis used by RedisStore.
type HashClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps credentials in one hash so several agent processes on a
// host can share a sign-in.
type RedisStore struct {
	client HashClient
	key    string
}

func NewRedisStore(addr, password, key string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, key: key}
}

func NewRedisStoreWithClient(c HashClient, key string) *RedisStore {
	return &RedisStore{client: c, key: key}
}

func (r *RedisStore) Load(ctx context.Context) (Credentials, error) {
	m, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Token: m["auth_token"], Role: models.ParseRole(m["user_role"]), Email: m["user_email"]}, nil
}

func (r *RedisStore) Save(ctx context.Context, c Credentials) error {
	return r.client.HSet(ctx, r.key, map[string]interface{}{
		"auth_token": c.Token,
		"user_role":  string(c.Role),
		"user_email": c.Email,
	}).Err()
}

func (r *RedisStore) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}
