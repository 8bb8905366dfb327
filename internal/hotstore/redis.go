package hotstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sovrn-protocol/relay/internal/domain"
)

// releaseScript compare-and-deletes a lock only if the caller's token still
// holds it, so release is atomic and a stale caller can never release
// someone else's lock (§3 DistributedLock; §4.2).
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisStore implements Store against a real Redis instance, namespacing
// every key with prefix so multiple relay deployments can share a cluster
// (§6 "Hot-store keys use a single namespace prefix").
type RedisStore struct {
	client   *redis.Client
	prefix   string
	release  *redis.Script
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		release: redis.NewScript(releaseScript),
	}
}

// RedisClient exposes the underlying client for the one-shot admin
// key-migration utility, which operates below the Store interface.
func (r *RedisStore) RedisClient() *redis.Client { return r.client }

func (r *RedisStore) key(parts ...string) string {
	k := r.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// ---- Quotes ----

func (r *RedisStore) SetQuote(ctx context.Context, q *domain.Quote, ttl time.Duration) error {
	b, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key("quote", q.ID), b, ttl).Err()
}

func (r *RedisStore) GetQuote(ctx context.Context, id string) (*domain.Quote, error) {
	b, err := r.client.Get(ctx, r.key("quote", id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var q domain.Quote
	if err := json.Unmarshal(b, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *RedisStore) DeleteQuote(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key("quote", id)).Err()
}

// ---- Anti-replay ----

func (r *RedisStore) ClaimAntiReplay(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key("replay", fingerprint), 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisStore) ReleaseAntiReplay(ctx context.Context, fingerprint string) error {
	return r.client.Del(ctx, r.key("replay", fingerprint)).Err()
}

// ---- Rolling counters ----

func (r *RedisStore) IncrCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := r.key("counter", key)
	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, k, window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// ---- Sorted sets ----

func (r *RedisStore) ZIncrBy(ctx context.Context, setKey, member string, delta float64) error {
	return r.client.ZIncrBy(ctx, r.key("zset", setKey), delta, member).Err()
}

func (r *RedisStore) ZRevRank(ctx context.Context, setKey, member string) (int64, bool, error) {
	rank, err := r.client.ZRevRank(ctx, r.key("zset", setKey), member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rank, true, nil
}

func (r *RedisStore) ZRangeWithScores(ctx context.Context, setKey string, start, stop int64) ([]ZEntry, error) {
	zs, err := r.client.ZRevRangeWithScores(ctx, r.key("zset", setKey), start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ZEntry, len(zs))
	for i, z := range zs {
		out[i] = ZEntry{Member: fmt.Sprint(z.Member), Score: z.Score}
	}
	return out, nil
}

// ---- Lists ----

func (r *RedisStore) ListPush(ctx context.Context, listKey string, value string, cap int64) error {
	k := r.key("list", listKey)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, k, value)
	if cap > 0 {
		pipe.LTrim(ctx, k, 0, cap-1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) ListRange(ctx context.Context, listKey string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, r.key("list", listKey), start, stop).Result()
}

// ---- Statistics hash ----

func (r *RedisStore) HIncrByMap(ctx context.Context, hashKey string, deltas map[string]int64) error {
	k := r.key("hash", hashKey)
	pipe := r.client.TxPipeline()
	for field, delta := range deltas {
		pipe.HIncrBy(ctx, k, field, delta)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) HGetAll(ctx context.Context, hashKey string) (map[string]int64, error) {
	m, err := r.client.HGetAll(ctx, r.key("hash", hashKey)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		var n int64
		fmt.Sscan(v, &n)
		out[k] = n
	}
	return out, nil
}

func (r *RedisStore) HSetAll(ctx context.Context, hashKey string, values map[string]int64) error {
	k := r.key("hash", hashKey)
	args := make(map[string]interface{}, len(values))
	for field, v := range values {
		args[field] = v
	}
	return r.client.HSet(ctx, k, args).Err()
}

// ---- Distributed lock ----

func (r *RedisStore) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := newToken()
	ok, err := r.client.SetNX(ctx, r.key("lock", name), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *RedisStore) ReleaseLock(ctx context.Context, name, token string) (bool, error) {
	res, err := r.release.Run(ctx, r.client, []string{r.key("lock", name)}, token).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *RedisStore) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) (interface{}, error)) (LockOutcome, interface{}, error) {
	token, held, err := r.AcquireLock(ctx, name, ttl)
	if err != nil {
		return LockExecutionError, nil, err
	}
	if !held {
		return LockHeldElsewhere, nil, nil
	}
	defer r.ReleaseLock(ctx, name, token)
	result, err := fn(ctx)
	if err != nil {
		return LockExecutionError, nil, err
	}
	return LockOK, result, nil
}

// ---- Velocity buckets ----

func (r *RedisStore) VelocityBucketIncr(ctx context.Context, account string, cost int64, ttlMargin time.Duration) error {
	minute := time.Now().UTC().Format("200601021504")
	k := r.key("velocity", account, minute)
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, k, "count", 1)
	pipe.HIncrBy(ctx, k, "cost", cost)
	pipe.Expire(ctx, k, 61*time.Minute+ttlMargin)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) VelocityBucketsRead(ctx context.Context, account string, minutes int) ([]VelocityBucket, error) {
	now := time.Now().UTC()
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, minutes)
	keys := make([]string, minutes)
	for i := 0; i < minutes; i++ {
		minute := now.Add(-time.Duration(i) * time.Minute).Format("200601021504")
		keys[i] = minute
		cmds[i] = pipe.HGetAll(ctx, r.key("velocity", account, minute))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	buckets := make([]VelocityBucket, 0, minutes)
	for i, cmd := range cmds {
		m, err := cmd.Result()
		if err != nil || len(m) == 0 {
			continue
		}
		var count, cost int64
		fmt.Sscan(m["count"], &count)
		fmt.Sscan(m["cost"], &cost)
		buckets = append(buckets, VelocityBucket{MinuteKey: keys[i], Count: count, CostNative: cost})
	}
	return buckets, nil
}

// ---- Jupiter cache ----

func (r *RedisStore) JupiterCacheGet(ctx context.Context, input, output, bucket string) (*JupiterQuote, bool, error) {
	b, err := r.client.Get(ctx, r.key("jupiter", input, output, bucket)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var q JupiterQuote
	if err := json.Unmarshal(b, &q); err != nil {
		return nil, false, err
	}
	return &q, true, nil
}

func (r *RedisStore) JupiterCacheSet(ctx context.Context, input, output, bucket string, q *JupiterQuote, ttl time.Duration) error {
	b, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key("jupiter", input, output, bucket), b, ttl).Err()
}
