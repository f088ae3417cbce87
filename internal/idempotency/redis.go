package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "botler:idem:"

// admitScript performs the whole admission decision atomically server-side.
// Record values encode "<status>:<started-at unix ms>". KEYS[1] is the record
// key; ARGV[1] now (ms), ARGV[2] retention (ms), ARGV[3] liveness timeout (ms).
var admitScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  redis.call('SET', KEYS[1], 'processing:' .. ARGV[1], 'PX', ARGV[2])
  return 'admitted'
end
local status = string.match(v, '^(%a+):')
if status == 'completed' or status == 'failed' then
  return 'duplicate'
end
local started = tonumber(string.match(v, ':(%d+)$')) or 0
if tonumber(ARGV[1]) - started > tonumber(ARGV[3]) then
  redis.call('SET', KEYS[1], 'processing:' .. ARGV[1], 'PX', ARGV[2])
  return 'admitted'
end
return 'in_progress'
`)

// RedisStore is a Store shared across worker instances.
type RedisStore struct {
	client *redis.Client
	policy Policy
	log    *slog.Logger
}

// NewRedisStore creates a Redis-backed admission ledger.
func NewRedisStore(log *slog.Logger, client *redis.Client, policy Policy) *RedisStore {
	return &RedisStore{
		client: client,
		policy: policy,
		log:    log.With(slog.String("service", "idempotency")),
	}
}

// Admit implements Store.
func (s *RedisStore) Admit(ctx context.Context, key string) (Outcome, error) {
	res, err := admitScript.Run(ctx, s.client,
		[]string{redisKeyPrefix + key},
		time.Now().UnixMilli(),
		s.policy.Retention.Milliseconds(),
		s.policy.ProcessingTimeout.Milliseconds(),
	).Text()
	if err != nil {
		return "", fmt.Errorf("admit %s: %w", key, err)
	}
	switch Outcome(res) {
	case Admitted, Duplicate, InProgress:
		return Outcome(res), nil
	}
	return "", fmt.Errorf("admit %s: unexpected outcome %q", key, res)
}

// Mark implements Store. XX prevents resurrecting a record that already
// expired between Admit and Mark.
func (s *RedisStore) Mark(ctx context.Context, key string, status Status) error {
	value := fmt.Sprintf("%s:%d", status, time.Now().UnixMilli())
	err := s.client.SetArgs(ctx, redisKeyPrefix+key, value, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Err()
	if err == redis.Nil {
		s.log.Warn("mark on expired record", slog.String("key", key), slog.String("status", string(status)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", key, status, err)
	}
	return nil
}

// Sweep implements Store. Redis expires records via per-key TTL, so there is
// nothing to collect here.
func (s *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}
