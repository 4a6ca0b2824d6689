package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayState classifies a callback against previously recorded outcomes.
type ReplayState string

const (
	ReplayStateMiss     ReplayState = "miss"
	ReplayStateReplay   ReplayState = "replay"
	ReplayStateConflict ReplayState = "conflict"
)

// ReplayResult is the outcome of a replay-cache lookup. Payload is only set
// for ReplayStateReplay and holds the serialized response of the first
// delivery.
type ReplayResult struct {
	State   ReplayState
	Payload []byte
}

// The check script compares the caller's nonce against the recorded one in a
// single round trip. A nonce mismatch on an existing key means a different
// callback is reusing the token.
var replayCheckScript = redis.NewScript(`
local key = KEYS[1]
local nonce = ARGV[1]

if redis.call("EXISTS", key) == 0 then
  return {"miss"}
end

if redis.call("HGET", key, "nonce") ~= nonce then
  return {"conflict"}
end

return {"replay", redis.call("HGET", key, "payload") or ""}
`)

var replayRecordScript = redis.NewScript(`
local key = KEYS[1]
local nonce = ARGV[1]
local payload = ARGV[2]
local ttl_ms = ARGV[3]

if redis.call("EXISTS", key) == 1 then
  return 0
end

redis.call("HSET", key, "nonce", nonce, "payload", payload)
redis.call("PEXPIRE", key, ttl_ms)
return 1
`)

// RedisReplayCache remembers the outcome of each resolved callback, keyed by
// external token, so replays can be answered without touching PostgreSQL.
// The session row remains the source of truth; this cache is a fast path.
type RedisReplayCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisReplayCache(client redis.UniversalClient, ttl time.Duration) *RedisReplayCache {
	return &RedisReplayCache{client: client, ttl: ttl}
}

func (c *RedisReplayCache) key(externalToken string) string {
	return "proofgate:callback:" + externalToken
}

// Check classifies an incoming callback by external token and nonce.
func (c *RedisReplayCache) Check(ctx context.Context, externalToken, nonce string) (ReplayResult, error) {
	raw, err := replayCheckScript.Run(ctx, c.client, []string{c.key(externalToken)}, nonce).Result()
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay check: %w", err)
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) == 0 {
		return ReplayResult{}, fmt.Errorf("unexpected replay check result type %T", raw)
	}

	switch state := ReplayState(asString(values[0])); state {
	case ReplayStateMiss, ReplayStateConflict:
		return ReplayResult{State: state}, nil
	case ReplayStateReplay:
		if len(values) < 2 {
			return ReplayResult{}, fmt.Errorf("replay hit without payload")
		}
		return ReplayResult{State: ReplayStateReplay, Payload: []byte(asString(values[1]))}, nil
	default:
		return ReplayResult{}, fmt.Errorf("unknown replay state %q", state)
	}
}

// Record stores the outcome of the first delivery. An already-recorded token
// is left untouched so the first write wins.
func (c *RedisReplayCache) Record(ctx context.Context, externalToken, nonce string, payload []byte) error {
	err := replayRecordScript.Run(ctx, c.client,
		[]string{c.key(externalToken)},
		nonce,
		payload,
		int(c.ttl/time.Millisecond),
	).Err()
	if err != nil {
		return fmt.Errorf("replay record: %w", err)
	}
	return nil
}

func asString(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(v)
	}
}
