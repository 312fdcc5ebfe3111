package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// ErrLockTimeout is returned when a named lock cannot be acquired before
// the acquire deadline.
var ErrLockTimeout = errors.New("store: lock acquisition timed out")

// KV is the external key/value store all durable records live in. Values
// are opaque strings; interpretation is up to the typed stores.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Locker provides mutual exclusion per named resource. WithLock runs fn
// while holding the lock and releases it afterwards, whether or not fn
// failed. Two concurrent calls for the same name are serialized; calls for
// different names are independent.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func() error) error
}

const (
	lockTTL            = 30 * time.Second
	lockAcquireTimeout = 10 * time.Second
	lockRetryInterval  = 50 * time.Millisecond
)

// Digest derives a fixed-length storage key component from an identifier so
// raw user ids and hostnames never appear in key names.
func Digest(value string) string {
	sum := blake2b.Sum256([]byte(value))
	return hex.EncodeToString(sum[:16])
}

// Storage key namespaces: u/ user records, o/u/ observed-keys mirrors,
// o/h/ host observer data.
func userDataKey(userID string) string   { return "u/" + Digest(userID) }
func mirrorDataKey(userID string) string { return "o/u/" + Digest(userID) }
func hostDataKey(host string) string     { return "o/h/" + Digest(host) }

// UserLockName is the named lock serializing mutations of one user's
// record and mirror.
func UserLockName(userID string) string { return "lock/u/" + Digest(userID) }

// HostLockName is the named lock serializing mutations of one host's
// observer index.
func HostLockName(host string) string { return "lock/h/" + Digest(host) }

// RedisStore backs the KV and Locker interfaces with Redis. Locks are
// plain SET NX keys with a TTL so a crashed holder cannot wedge the node.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(opts *redis.Options) *RedisStore {
	return &RedisStore{client: redis.NewClient(opts)}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

// Release must only delete the lock if we still hold it, so the stored
// token is compared atomically.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (s *RedisStore) WithLock(ctx context.Context, name string, fn func() error) error {
	token, err := lockToken()
	if err != nil {
		return err
	}
	deadline := time.Now().Add(lockAcquireTimeout)
	for {
		ok, err := s.client.SetNX(ctx, name, token, lockTTL).Result()
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
	defer unlockScript.Run(context.WithoutCancel(ctx), s.client, []string{name}, token)
	return fn()
}

func lockToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
