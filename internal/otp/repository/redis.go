package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"message-feed/backend/internal/otp/domain"
)

const (
	redisRecordPrefix = "otp:rec:"
	redisActivePrefix = "otp:active:"
	// DefaultRedisRetention keeps records readable this long past expiry so that late
	// attempts are answered as expired rather than unknown.
	DefaultRedisRetention = time.Hour
)

// replaceScript supersedes the identity's current record (if unconsumed) and writes the new one.
// KEYS[1] active pointer, KEYS[2] new record. ARGV: id, identity_id, code_hash, created_at, expires_at, ttl_ms, record prefix.
var replaceScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
if prev then
  local pk = ARGV[7] .. prev
  if redis.call('EXISTS', pk) == 1 and redis.call('HGET', pk, 'consumed') == '0' then
    redis.call('HSET', pk, 'superseded', '1')
  end
end
redis.call('HSET', KEYS[2],
  'id', ARGV[1], 'identity_id', ARGV[2], 'code_hash', ARGV[3],
  'created_at', ARGV[4], 'expires_at', ARGV[5],
  'consumed', '0', 'consumed_at', '0', 'superseded', '0', 'failed_attempts', '0')
redis.call('PEXPIRE', KEYS[2], ARGV[6])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[6])
return 1
`)

// consumeScript flips consumed iff the record exists and is neither consumed nor superseded.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local v = redis.call('HMGET', KEYS[1], 'consumed', 'superseded')
if v[1] ~= '0' or v[2] ~= '0' then
  return 0
end
redis.call('HSET', KEYS[1], 'consumed', '1', 'consumed_at', ARGV[1])
return 1
`)

// failureScript counts a wrong code and supersedes the record once ARGV[1] is reached.
// It returns the new count, or 0 when the record is missing or no longer redeemable.
var failureScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local v = redis.call('HMGET', KEYS[1], 'consumed', 'superseded')
if v[1] ~= '0' or v[2] ~= '0' then
  return 0
end
local n = redis.call('HINCRBY', KEYS[1], 'failed_attempts', 1)
if n >= tonumber(ARGV[1]) then
  redis.call('HSET', KEYS[1], 'superseded', '1')
end
return n
`)

// RedisStore keeps OTP records as Redis hashes; Replace and Consume run as Lua scripts.
// Records expire through key TTLs, so PurgeExpired has nothing to do.
//
// replaceScript reaches the superseded record through a key read from the active
// pointer rather than one declared in KEYS, and the keys of one identity do not
// share a hash slot. The store therefore needs a single-node or Sentinel-managed
// server and takes a *redis.Client, never a cluster client.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore returns a Redis-backed store. retention <= 0 selects DefaultRedisRetention.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRedisRetention
	}
	return &RedisStore{client: client, retention: retention}
}

// NewRedisClient parses url and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Replace supersedes the identity's active record and stores rec.
func (s *RedisStore) Replace(ctx context.Context, rec *domain.Record) error {
	ttl := rec.ExpiresAt.Sub(rec.CreatedAt) + s.retention
	if ttl <= 0 {
		ttl = s.retention
	}
	keys := []string{redisActivePrefix + rec.IdentityID, redisRecordPrefix + rec.ID}
	err := replaceScript.Run(ctx, s.client, keys,
		rec.ID, rec.IdentityID, rec.CodeHash,
		rec.CreatedAt.UnixNano(), rec.ExpiresAt.UnixNano(),
		ttl.Milliseconds(), redisRecordPrefix,
	).Err()
	if err != nil {
		return fmt.Errorf("redis replace: %w", err)
	}
	return nil
}

// Get returns the record for id, or nil if not found.
func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	m, err := s.client.HGetAll(ctx, redisRecordPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	created, err := parseUnixNano(m["created_at"])
	if err != nil {
		return nil, err
	}
	expires, err := parseUnixNano(m["expires_at"])
	if err != nil {
		return nil, err
	}
	r := &domain.Record{
		ID:         m["id"],
		IdentityID: m["identity_id"],
		CodeHash:   m["code_hash"],
		CreatedAt:  created,
		ExpiresAt:  expires,
		Consumed:   m["consumed"] == "1",
		Superseded: m["superseded"] == "1",
	}
	if v := m["failed_attempts"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("redis record: bad failed_attempts %q: %w", v, err)
		}
		r.FailedAttempts = n
	}
	if r.Consumed && m["consumed_at"] != "0" {
		at, err := parseUnixNano(m["consumed_at"])
		if err != nil {
			return nil, err
		}
		r.ConsumedAt = &at
	}
	return r, nil
}

// Consume marks id consumed iff it is neither consumed nor superseded.
func (s *RedisStore) Consume(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{redisRecordPrefix + id}, at.UnixNano()).Int()
	if err != nil {
		return false, fmt.Errorf("redis consume: %w", err)
	}
	return n == 1, nil
}

// RecordFailure counts a wrong code against id and supersedes it at limit.
func (s *RedisStore) RecordFailure(ctx context.Context, id string, limit int) (int, error) {
	n, err := failureScript.Run(ctx, s.client, []string{redisRecordPrefix + id}, limit).Int()
	if err != nil {
		return 0, fmt.Errorf("redis record failure: %w", err)
	}
	return n, nil
}

// PurgeExpired is a no-op; key TTLs evict records.
func (s *RedisStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func parseUnixNano(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis record: bad timestamp %q: %w", s, err)
	}
	return time.Unix(0, n).UTC(), nil
}
