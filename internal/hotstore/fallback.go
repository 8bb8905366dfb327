package hotstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sovrn-protocol/relay/internal/domain"
)

// FallbackStore wraps a RedisStore with an in-memory MemoryStore that is
// used only when AllowFallback is true (development, per §4.2) and Redis is
// unreachable. In staging/production AllowFallback is false and a Redis
// outage propagates as an error instead of silently degrading (§4.2
// "Failure semantics").
type FallbackStore struct {
	primary       *RedisStore
	fallback      *MemoryStore
	allowFallback bool
	inFallback    atomic.Bool
	logger        *zap.Logger
}

// NewFallbackStore builds the composite store. Pass allowFallback=false in
// staging/production.
func NewFallbackStore(primary *RedisStore, fallback *MemoryStore, allowFallback bool, logger *zap.Logger) *FallbackStore {
	return &FallbackStore{primary: primary, fallback: fallback, allowFallback: allowFallback, logger: logger}
}

// InFallback reports whether the store is currently degraded to memory.
func (f *FallbackStore) InFallback() bool { return f.inFallback.Load() }

// Fallback exposes the underlying memory store for C10's drain-on-reconnect.
func (f *FallbackStore) Fallback() *MemoryStore { return f.fallback }

// Primary exposes the underlying Redis store for C10's seed/merge.
func (f *FallbackStore) Primary() *RedisStore { return f.primary }

// RedisClient exposes the primary's underlying client, or nil while
// currently degraded to the in-memory fallback, for the one-shot admin
// key-migration utility.
func (f *FallbackStore) RedisClient() *redis.Client {
	if f.inFallback.Load() {
		return nil
	}
	return f.primary.RedisClient()
}

func (f *FallbackStore) active(ctx context.Context) Store {
	if !f.allowFallback {
		return f.primary
	}
	if f.inFallback.Load() {
		// No probe here: memory stays active until C10 has merged back
		// into Redis and called MarkRecovered, to avoid inconsistent reads
		// mid-merge.
		return f.fallback
	}
	if err := f.primary.Ping(ctx); err != nil {
		if f.logger != nil {
			f.logger.Warn("hotstore: redis unreachable, degrading to memory fallback", zap.Error(err))
		}
		f.inFallback.Store(true)
		return f.fallback
	}
	return f.primary
}

// MarkRecovered clears the fallback flag once C10 has merged accumulated
// deltas back into Redis.
func (f *FallbackStore) MarkRecovered() { f.inFallback.Store(false) }

func (f *FallbackStore) Ping(ctx context.Context) error { return f.active(ctx).Ping(ctx) }

func (f *FallbackStore) SetQuote(ctx context.Context, q *domain.Quote, ttl time.Duration) error {
	return f.active(ctx).SetQuote(ctx, q, ttl)
}

func (f *FallbackStore) GetQuote(ctx context.Context, id string) (*domain.Quote, error) {
	return f.active(ctx).GetQuote(ctx, id)
}

func (f *FallbackStore) DeleteQuote(ctx context.Context, id string) error {
	return f.active(ctx).DeleteQuote(ctx, id)
}

func (f *FallbackStore) ClaimAntiReplay(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	return f.active(ctx).ClaimAntiReplay(ctx, fingerprint, ttl)
}

func (f *FallbackStore) ReleaseAntiReplay(ctx context.Context, fingerprint string) error {
	return f.active(ctx).ReleaseAntiReplay(ctx, fingerprint)
}

func (f *FallbackStore) IncrCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return f.active(ctx).IncrCounter(ctx, key, window)
}

func (f *FallbackStore) ZIncrBy(ctx context.Context, setKey, member string, delta float64) error {
	return f.active(ctx).ZIncrBy(ctx, setKey, member, delta)
}

func (f *FallbackStore) ZRevRank(ctx context.Context, setKey, member string) (int64, bool, error) {
	return f.active(ctx).ZRevRank(ctx, setKey, member)
}

func (f *FallbackStore) ZRangeWithScores(ctx context.Context, setKey string, start, stop int64) ([]ZEntry, error) {
	return f.active(ctx).ZRangeWithScores(ctx, setKey, start, stop)
}

func (f *FallbackStore) ListPush(ctx context.Context, listKey string, value string, cap int64) error {
	return f.active(ctx).ListPush(ctx, listKey, value, cap)
}

func (f *FallbackStore) ListRange(ctx context.Context, listKey string, start, stop int64) ([]string, error) {
	return f.active(ctx).ListRange(ctx, listKey, start, stop)
}

func (f *FallbackStore) HIncrByMap(ctx context.Context, hashKey string, deltas map[string]int64) error {
	return f.active(ctx).HIncrByMap(ctx, hashKey, deltas)
}

func (f *FallbackStore) HGetAll(ctx context.Context, hashKey string) (map[string]int64, error) {
	return f.active(ctx).HGetAll(ctx, hashKey)
}

func (f *FallbackStore) HSetAll(ctx context.Context, hashKey string, values map[string]int64) error {
	return f.active(ctx).HSetAll(ctx, hashKey, values)
}

func (f *FallbackStore) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	return f.active(ctx).AcquireLock(ctx, name, ttl)
}

func (f *FallbackStore) ReleaseLock(ctx context.Context, name, token string) (bool, error) {
	return f.active(ctx).ReleaseLock(ctx, name, token)
}

func (f *FallbackStore) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) (interface{}, error)) (LockOutcome, interface{}, error) {
	return f.active(ctx).WithLock(ctx, name, ttl, fn)
}

func (f *FallbackStore) VelocityBucketIncr(ctx context.Context, account string, cost int64, ttlMargin time.Duration) error {
	return f.active(ctx).VelocityBucketIncr(ctx, account, cost, ttlMargin)
}

func (f *FallbackStore) VelocityBucketsRead(ctx context.Context, account string, minutes int) ([]VelocityBucket, error) {
	return f.active(ctx).VelocityBucketsRead(ctx, account, minutes)
}

func (f *FallbackStore) JupiterCacheGet(ctx context.Context, input, output, bucket string) (*JupiterQuote, bool, error) {
	return f.active(ctx).JupiterCacheGet(ctx, input, output, bucket)
}

func (f *FallbackStore) JupiterCacheSet(ctx context.Context, input, output, bucket string, q *JupiterQuote, ttl time.Duration) error {
	return f.active(ctx).JupiterCacheSet(ctx, input, output, bucket, q, ttl)
}

var _ Store = (*FallbackStore)(nil)
var _ Store = (*RedisStore)(nil)
var _ Store = (*MemoryStore)(nil)
