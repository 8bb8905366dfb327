package hotstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sovrn-protocol/relay/internal/domain"
)

func TestMemoryStoreQuoteRoundTrip(t *testing.T) {
	m := NewMemoryStore(time.Hour)
	defer m.Close()
	ctx := context.Background()

	q := &domain.Quote{ID: "q1", UserAccount: "u1", FeeAmount: 100}
	require.NoError(t, m.SetQuote(ctx, q, 50*time.Millisecond))

	got, err := m.GetQuote(ctx, "q1")
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserAccount)

	time.Sleep(80 * time.Millisecond)
	_, err = m.GetQuote(ctx, "q1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreAntiReplayClaimOnce(t *testing.T) {
	m := NewMemoryStore(time.Hour)
	defer m.Close()
	ctx := context.Background()

	claimed, err := m.ClaimAntiReplay(ctx, "fp1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = m.ClaimAntiReplay(ctx, "fp1", time.Minute)
	require.NoError(t, err)
	require.False(t, claimed)

	require.NoError(t, m.ReleaseAntiReplay(ctx, "fp1"))
	claimed, err = m.ClaimAntiReplay(ctx, "fp1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestMemoryStoreLockMutualExclusion(t *testing.T) {
	m := NewMemoryStore(time.Hour)
	defer m.Close()
	ctx := context.Background()

	token, held, err := m.AcquireLock(ctx, "burn", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	_, held2, err := m.AcquireLock(ctx, "burn", time.Minute)
	require.NoError(t, err)
	require.False(t, held2)

	released, err := m.ReleaseLock(ctx, "burn", "wrong-token")
	require.NoError(t, err)
	require.False(t, released)

	released, err = m.ReleaseLock(ctx, "burn", token)
	require.NoError(t, err)
	require.True(t, released)
}

func TestMemoryStoreWithLockHeldElsewhere(t *testing.T) {
	m := NewMemoryStore(time.Hour)
	defer m.Close()
	ctx := context.Background()

	token, held, err := m.AcquireLock(ctx, "burn", time.Minute)
	require.NoError(t, err)
	require.True(t, held)
	defer m.ReleaseLock(ctx, "burn", token)

	outcome, _, err := m.WithLock(ctx, "burn", time.Minute, func(ctx context.Context) (interface{}, error) {
		return "should not run", nil
	})
	require.NoError(t, err)
	require.Equal(t, LockHeldElsewhere, outcome)
}

func TestMemoryStoreSortedSetLeaderboard(t *testing.T) {
	m := NewMemoryStore(time.Hour)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.ZIncrBy(ctx, "leaderboard", "alice", 10))
	require.NoError(t, m.ZIncrBy(ctx, "leaderboard", "bob", 30))
	require.NoError(t, m.ZIncrBy(ctx, "leaderboard", "alice", 25))

	rank, found, err := m.ZRevRank(ctx, "leaderboard", "alice")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(0), rank)

	entries, err := m.ZRangeWithScores(ctx, "leaderboard", 0, -1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "alice", entries[0].Member)
}

func TestMemoryStoreListPushTrim(t *testing.T) {
	m := NewMemoryStore(time.Hour)
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.ListPush(ctx, "audit", string(rune('a'+i)), 3))
	}
	vals, err := m.ListRange(ctx, "audit", 0, -1)
	require.NoError(t, err)
	require.Len(t, vals, 3)
	require.Equal(t, "e", vals[0])
}

func TestMemoryStoreVelocityBuckets(t *testing.T) {
	m := NewMemoryStore(time.Hour)
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.VelocityBucketIncr(ctx, "acct1", 1000, time.Minute))
	}
	buckets, err := m.VelocityBucketsRead(ctx, "acct1", 60)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	require.Equal(t, int64(3), buckets[0].Count)
	require.Equal(t, int64(3000), buckets[0].CostNative)
}

func TestAmountBucketEquivalence(t *testing.T) {
	require.Equal(t, AmountBucket(1234), AmountBucket(1999))
	require.NotEqual(t, AmountBucket(1999), AmountBucket(2001))
}
