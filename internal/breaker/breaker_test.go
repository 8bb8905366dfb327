package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, ResetTimeout: 50 * time.Millisecond, HalfOpenTrials: 1})

	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		b.Report(errors.New("boom"))
	}
	require.Equal(t, Closed, b.State())

	require.True(t, b.Allow())
	b.Report(errors.New("boom"))
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow())
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	b := New(Config{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond, HalfOpenTrials: 1})

	require.True(t, b.Allow())
	b.Report(errors.New("boom"))
	require.Equal(t, Open, b.State())

	time.Sleep(30 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, HalfOpen, b.State())

	b.Report(nil)
	require.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond, HalfOpenTrials: 1})

	require.True(t, b.Allow())
	b.Report(errors.New("boom"))
	time.Sleep(30 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, HalfOpen, b.State())

	b.Report(errors.New("still broken"))
	require.Equal(t, Open, b.State())
	require.InDelta(t, 40*time.Millisecond, b.resetTimeout, float64(time.Millisecond))
}

func TestBreakerClassifierFiltersNonQualifyingErrors(t *testing.T) {
	b := New(Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		HalfOpenTrials:   1,
		Classify: func(err error) bool {
			return err.Error() != "ignore-me"
		},
	})

	b.Allow()
	b.Report(errors.New("ignore-me"))
	require.Equal(t, Closed, b.State())

	b.Allow()
	b.Report(errors.New("counts"))
	require.Equal(t, Open, b.State())
}

func TestBreakerRetryAfterCountsDownToZero(t *testing.T) {
	b := New(Config{FailureThreshold: 1, ResetTimeout: 100 * time.Millisecond, HalfOpenTrials: 1})
	b.Allow()
	b.Report(errors.New("boom"))
	require.Greater(t, b.RetryAfter(), 0)
}
