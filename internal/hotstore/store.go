// Package hotstore implements the hot key-value tier (C2): quotes, the
// anti-replay slot, rolling-window counters, sorted-set leaderboards,
// capped lists, atomic statistics hashes, distributed locks, velocity
// buckets and the swap-quote cache. Grounded on the teacher's
// api/cache/trust_cache.go for the TTL-map/sweep shape of the in-memory
// fallback, generalized here to a full Store interface backed by Redis in
// staging/production.
package hotstore

import (
	"context"
	"errors"
	"time"

	"github.com/sovrn-protocol/relay/internal/domain"
)

// ErrNotFound is returned by Get-style operations when the key is absent
// or has expired.
var ErrNotFound = errors.New("hotstore: not found")

// ZEntry is one row of a bounded sorted-set range fetch.
type ZEntry struct {
	Member string
	Score  float64
}

// VelocityBucket is one minute-granularity bucket (§3 VelocityBuckets).
type VelocityBucket struct {
	MinuteKey   string
	Count       int64
	CostNative  int64
}

// JupiterQuote is the cached swap-oracle response for an (input, output,
// amount-bucket) key (§4.2's "Jupiter-quote cache").
type JupiterQuote struct {
	InputAmount  int64
	OutputAmount int64
}

// LockOutcome is the result of WithLock.
type LockOutcome int

const (
	LockHeldElsewhere LockOutcome = iota
	LockOK
	LockExecutionError
)

// Store is the full hot-tier contract. Both RedisStore and MemoryStore
// implement it so C6-C9 depend on the interface, never a backend.
type Store interface {
	// Quotes
	SetQuote(ctx context.Context, q *domain.Quote, ttl time.Duration) error
	GetQuote(ctx context.Context, id string) (*domain.Quote, error)
	DeleteQuote(ctx context.Context, id string) error

	// Anti-replay
	ClaimAntiReplay(ctx context.Context, fingerprint string, ttl time.Duration) (claimed bool, err error)
	ReleaseAntiReplay(ctx context.Context, fingerprint string) error

	// Rolling counters (rate limiting §4.2, anomaly detection §4.12)
	IncrCounter(ctx context.Context, key string, window time.Duration) (count int64, err error)

	// Sorted-set leaderboard
	ZIncrBy(ctx context.Context, setKey, member string, delta float64) error
	ZRevRank(ctx context.Context, setKey, member string) (rank int64, found bool, err error)
	ZRangeWithScores(ctx context.Context, setKey string, start, stop int64) ([]ZEntry, error)

	// Capped lists (treasury events, audit log, burn-proof stream)
	ListPush(ctx context.Context, listKey string, value string, cap int64) error
	ListRange(ctx context.Context, listKey string, start, stop int64) ([]string, error)

	// Atomic statistics hash
	HIncrByMap(ctx context.Context, hashKey string, deltas map[string]int64) error
	HGetAll(ctx context.Context, hashKey string) (map[string]int64, error)
	HSetAll(ctx context.Context, hashKey string, values map[string]int64) error

	// Distributed lock
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (token string, held bool, err error)
	ReleaseLock(ctx context.Context, name, token string) (released bool, err error)
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) (interface{}, error)) (LockOutcome, interface{}, error)

	// Velocity buckets (C9 backing store)
	VelocityBucketIncr(ctx context.Context, account string, cost int64, ttlMargin time.Duration) error
	VelocityBucketsRead(ctx context.Context, account string, minutes int) ([]VelocityBucket, error)

	// Swap-oracle cache
	JupiterCacheGet(ctx context.Context, input, output, bucket string) (*JupiterQuote, bool, error)
	JupiterCacheSet(ctx context.Context, input, output, bucket string, q *JupiterQuote, ttl time.Duration) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// AmountBucket places an amount into a fixed-magnitude bucket so the
// swap-oracle cache has bounded cardinality (§4.2, §8 boundary behavior).
// Buckets are powers-of-ten deciles: 1, 2, 5, 10, 20, 50, 100... times a
// power of ten, matched to the nearest bucket boundary not exceeding the
// amount's order of magnitude.
func AmountBucket(amount int64) string {
	if amount <= 0 {
		return "0"
	}
	// Find the decade (power of ten) at or below amount, then pick the
	// largest boundary among {1,2,5} x decade that does not exceed amount.
	decade := int64(1)
	for decade*10 <= amount {
		decade *= 10
	}
	best := decade
	for _, mult := range []int64{1, 2, 5} {
		b := decade * mult
		if b <= amount && b > best {
			best = b
		}
	}
	return formatBucket(best)
}

func formatBucket(v int64) string {
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 0, 20)
	n := v
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	return string(buf)
}
