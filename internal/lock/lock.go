// Package lock provides a lease-based distributed lock on Redis, used to
// keep background jobs single-flight across process instances.
package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the lock key only if it still holds our token, so
// a process can never release a lock another process has since acquired.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Client is the slice of the Redis API the lock manager needs. Satisfied
// by *redis.Client.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Manager acquires and releases named distributed locks.
type Manager struct {
	client Client
}

// NewManager creates a lock manager on the given Redis client.
func NewManager(client Client) *Manager {
	return &Manager{client: client}
}

// Lease is a held lock. Only the holder of the possession token can
// release it.
type Lease struct {
	client Client
	key    string
	token  string
}

// Key returns the Redis key the lease holds.
func (l *Lease) Key() string {
	return l.key
}

// JobKey builds the lock key for a named background job.
func JobKey(name string) string {
	return "job:" + strings.TrimSpace(name)
}

// Acquire attempts a non-blocking acquire of the named lock for the given
// TTL. Returns (nil, nil) when the lock is already held elsewhere; the
// caller is expected to skip its run and try again next tick.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.New().String()

	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}

	return &Lease{client: m.client, key: key, token: token}, nil
}

// Release frees the lock if this lease still owns it. Returns false when
// the lease had already expired and someone else holds the key.
func (l *Lease) Release(ctx context.Context) (bool, error) {
	res, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Result()
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}

	deleted, ok := res.(int64)
	return ok && deleted == 1, nil
}
