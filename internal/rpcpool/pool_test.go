package rpcpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecuteWithFailoverPrefersPriority(t *testing.T) {
	p := New(Config{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenTrials: 1},
		nil,
		Endpoint{Name: "secondary", URL: "https://secondary", Priority: 2},
		Endpoint{Name: "primary", URL: "https://primary", Priority: 1},
	)

	var called []string
	_, name, err := p.ExecuteWithFailover(context.Background(), func(ctx context.Context, e Endpoint) (interface{}, error) {
		called = append(called, e.Name)
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "primary", name)
	require.Equal(t, []string{"primary"}, called)
}

func TestExecuteWithFailoverSkipsOpenCircuit(t *testing.T) {
	p := New(Config{FailureThreshold: 1, ResetTimeout: time.Hour, HalfOpenTrials: 1},
		nil,
		Endpoint{Name: "primary", URL: "https://primary", Priority: 1},
		Endpoint{Name: "public", URL: "https://public", Priority: 2},
	)

	_, _, err := p.ExecuteWithFailover(context.Background(), func(ctx context.Context, e Endpoint) (interface{}, error) {
		if e.Name == "primary" {
			return nil, errors.New("boom")
		}
		return "ok", nil
	})
	require.NoError(t, err) // primary fails and trips; public answers in the same call

	_, name, err := p.ExecuteWithFailover(context.Background(), func(ctx context.Context, e Endpoint) (interface{}, error) {
		if e.Name == "primary" {
			return nil, errors.New("boom")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "public", name)
}

func TestExecuteWithFailoverTriesPrimaryWhenAllOpen(t *testing.T) {
	p := New(Config{FailureThreshold: 1, ResetTimeout: time.Hour, HalfOpenTrials: 1},
		nil,
		Endpoint{Name: "primary", URL: "https://primary", Priority: 1},
	)

	_, _, err := p.ExecuteWithFailover(context.Background(), func(ctx context.Context, e Endpoint) (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, breakerStateOpen(p), true)

	attempted := false
	_, _, err = p.ExecuteWithFailover(context.Background(), func(ctx context.Context, e Endpoint) (interface{}, error) {
		attempted = true
		return nil, errors.New("still broken")
	})
	require.Error(t, err)
	require.True(t, attempted)
}

func breakerStateOpen(p *Pool) bool {
	statuses := p.Status()
	for _, s := range statuses {
		if s.CircuitState == "open" {
			return true
		}
	}
	return false
}

func TestLatencyWindowAverages(t *testing.T) {
	w := newLatencyWindow(3)
	w.Record(30 * time.Millisecond)
	w.Record(60 * time.Millisecond)
	w.Record(90 * time.Millisecond)
	require.Equal(t, 60*time.Millisecond, w.Average())

	w.Record(120 * time.Millisecond)
	require.Equal(t, 90*time.Millisecond, w.Average())
}

func TestBlockhashCacheInvalidation(t *testing.T) {
	p := New(Config{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenTrials: 1, BlockhashTTL: time.Minute}, nil,
		Endpoint{Name: "primary", URL: "https://primary", Priority: 1})

	_, ok := p.CachedBlockhash()
	require.False(t, ok)

	p.SetCachedBlockhash("abc123")
	v, ok := p.CachedBlockhash()
	require.True(t, ok)
	require.Equal(t, "abc123", v)

	p.InvalidateBlockhash()
	_, ok = p.CachedBlockhash()
	require.False(t, ok)
}
