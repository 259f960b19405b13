package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idem:"

// redisReserveScript claims KEYS[1] for a new request or returns the stored record.
// ARGV[1] = fingerprint, ARGV[2] = pending record JSON, ARGV[3] = ttl in milliseconds.
var redisReserveScript = redis.NewScript(`
local existing = redis.call("HGET", KEYS[1], "record")
if existing then
    return existing
end
redis.call("HSET", KEYS[1], "fingerprint", ARGV[1], "record", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return ""
`)

// redisSaveScript stores the completed record unless the key belongs to another fingerprint.
// ARGV[1] = fingerprint, ARGV[2] = completed record JSON, ARGV[3] = ttl in milliseconds.
var redisSaveScript = redis.NewScript(`
local fingerprint = redis.call("HGET", KEYS[1], "fingerprint")
if fingerprint and fingerprint ~= ARGV[1] then
    return 0
end
redis.call("HSET", KEYS[1], "fingerprint", ARGV[1], "record", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// RedisStore implements Store and EventLedger on Redis. Keys expire through Redis TTLs so
// CleanupExpired has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption customises the RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key written by the store.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	store := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// NewRedisClient opens a client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (s *RedisStore) recordKey(key string) string { return s.prefix + "key:" + documentID(key) }
func (s *RedisStore) eventKey(id string) string   { return s.prefix + "event:" + id }

// Reserve implements Store.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record := newPendingRecord(key, fingerprint, now.UTC(), ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, err
	}

	res, err := redisReserveScript.Run(ctx, s.client, []string{s.recordKey(key)}, fingerprint, payload, ttl.Milliseconds()).Text()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: redis reserve: %w", err)
	}
	if res == "" {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	var existing Record
	if err := json.Unmarshal([]byte(res), &existing); err != nil {
		return Reservation{}, fmt.Errorf("idempotency: decode redis record: %w", err)
	}
	return reservationFor(existing, fingerprint)
}

// SaveResponse implements Store.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	record := completeRecord(Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}, resp, now, ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	ok, err := redisSaveScript.Run(ctx, s.client, []string{s.recordKey(key)}, fingerprint, payload, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("idempotency: redis save: %w", err)
	}
	if ok == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	return s.client.Del(ctx, s.recordKey(key)).Err()
}

// CleanupExpired implements Store. Redis expires keys on its own.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// MarkProcessed implements EventLedger.
func (s *RedisStore) MarkProcessed(ctx context.Context, eventID string, now time.Time, ttl time.Duration) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, errEmptyEventID
	}
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	first, err := s.client.SetNX(ctx, s.eventKey(eventID), now.UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: redis mark event: %w", err)
	}
	return first, nil
}

// Forget implements EventLedger.
func (s *RedisStore) Forget(ctx context.Context, eventID string) error {
	return s.client.Del(ctx, s.eventKey(strings.TrimSpace(eventID))).Err()
}

var (
	_ Store       = (*RedisStore)(nil)
	_ EventLedger = (*RedisStore)(nil)
)
