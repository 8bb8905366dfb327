package feepayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sovrn-protocol/relay/internal/domain"
)

type fakeSigner string

func (f fakeSigner) Pubkey() string { return string(f) }

func newTestPool(t *testing.T) *Pool {
	now := time.Now()
	payers := []*domain.FeePayer{
		{Pubkey: "payerA", Priority: 1, LastBalance: 1000, LastBalanceAt: now},
		{Pubkey: "payerB", Priority: 2, LastBalance: 5000, LastBalanceAt: now},
	}
	signers := map[string]Signer{"payerA": fakeSigner("payerA"), "payerB": fakeSigner("payerB")}
	return New(Config{
		FailureThreshold:  2,
		ResetTimeout:      50 * time.Millisecond,
		HalfOpenTrials:    1,
		MinHealthyBalance: 100,
		MaxBalanceAge:     time.Hour,
	}, nil, payers, signers)
}

func TestReservePicksFirstHealthyByPriority(t *testing.T) {
	p := newTestPool(t)
	pubkey, ok := p.Reserve(context.Background(), "q1", 500)
	require.True(t, ok)
	require.Equal(t, "payerA", pubkey)
}

func TestReserveIdempotentOnSameQuoteID(t *testing.T) {
	p := newTestPool(t)
	pk1, ok := p.Reserve(context.Background(), "q1", 500)
	require.True(t, ok)
	pk2, ok := p.Reserve(context.Background(), "q1", 500)
	require.True(t, ok)
	require.Equal(t, pk1, pk2)

	snap := p.Snapshot()
	require.Equal(t, int64(500), 1000-snap[0].UnreservedBalance)
}

func TestReserveFallsBackWhenInsufficientBalance(t *testing.T) {
	p := newTestPool(t)
	pubkey, ok := p.Reserve(context.Background(), "q1", 2000)
	require.True(t, ok)
	require.Equal(t, "payerB", pubkey)
}

func TestReserveRefusedWhenNoCapacity(t *testing.T) {
	p := newTestPool(t)
	_, ok := p.Reserve(context.Background(), "q1", 10000)
	require.False(t, ok)
}

func TestReleaseFreesCapacity(t *testing.T) {
	p := newTestPool(t)
	_, ok := p.Reserve(context.Background(), "q1", 900)
	require.True(t, ok)
	p.Release("q1")

	pubkey, ok := p.Reserve(context.Background(), "q2", 900)
	require.True(t, ok)
	require.Equal(t, "payerA", pubkey)
}

func TestReportFailureTripsBreakerAndExcludesAccount(t *testing.T) {
	p := newTestPool(t)
	p.ReportFailure("payerA", FailureTimeout)
	p.ReportFailure("payerA", FailureTimeout)

	pubkey, ok := p.Reserve(context.Background(), "q1", 500)
	require.True(t, ok)
	require.Equal(t, "payerB", pubkey)
}

func TestReportFailureIgnoresNonQualifyingKind(t *testing.T) {
	p := newTestPool(t)
	p.ReportFailure("payerA", FailureOther)
	p.ReportFailure("payerA", FailureOther)

	pubkey, ok := p.Reserve(context.Background(), "q1", 500)
	require.True(t, ok)
	require.Equal(t, "payerA", pubkey)
}

func TestIsCircuitOpenAll(t *testing.T) {
	p := newTestPool(t)
	require.False(t, p.IsCircuitOpenAll())

	p.ReportFailure("payerA", FailureTimeout)
	p.ReportFailure("payerA", FailureTimeout)
	p.ReportFailure("payerB", FailureTimeout)
	p.ReportFailure("payerB", FailureTimeout)

	require.True(t, p.IsCircuitOpenAll())
}

func TestGetForSigningRequiresKnownPubkey(t *testing.T) {
	p := newTestPool(t)
	_, ok := p.GetForSigning("unknown")
	require.False(t, ok)

	signer, ok := p.GetForSigning("payerA")
	require.True(t, ok)
	require.Equal(t, "payerA", signer.Pubkey())
}

func TestRefreshBalancesUpdatesBalance(t *testing.T) {
	p := newTestPool(t)
	before := p.Snapshot()[0].UnreservedBalance

	p.RefreshBalances(context.Background(), 2, func(ctx context.Context, pubkey string) (int64, error) {
		if pubkey == "payerA" {
			return 2000, nil
		}
		return 0, errors.New("rpc down")
	})

	after := p.Snapshot()
	require.Greater(t, after[0].UnreservedBalance, before)
}
