package auth

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const nonceKeyPrefix = "nonce:ledger:"

// NonceStore records signature nonces. Claim reports whether key was unseen
// and, if so, remembers it for ttl.
type NonceStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryNonceStore keeps nonces in process. It suits a single instance.
type MemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{seen: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryNonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, expires := range m.seen {
		if !now.Before(expires) {
			delete(m.seen, k)
		}
	}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = now.Add(ttl)
	return true, nil
}

// RedisNonceStore shares nonces between instances through SET NX.
type RedisNonceStore struct {
	client goredis.UniversalClient
}

func NewRedisNonceStore(client goredis.UniversalClient) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

func (r *RedisNonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, nonceKeyPrefix+key, 1, ttl).Result()
}

var (
	_ NonceStore = (*MemoryNonceStore)(nil)
	_ NonceStore = (*RedisNonceStore)(nil)
)
