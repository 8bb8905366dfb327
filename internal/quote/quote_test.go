package quote

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sovrn-protocol/relay/internal/collaborators"
	"github.com/sovrn-protocol/relay/internal/domain"
	"github.com/sovrn-protocol/relay/internal/feepayer"
	"github.com/sovrn-protocol/relay/internal/hotstore"
)

type stubSigner string

func (s stubSigner) Pubkey() string { return string(s) }

func newTestService(t *testing.T, cfg Config) (*Service, hotstore.Store) {
	store := hotstore.NewMemoryStore(time.Hour)
	t.Cleanup(func() { store.Close() })

	payers := feepayer.New(feepayer.Config{
		FailureThreshold:  3,
		ResetTimeout:      time.Minute,
		HalfOpenTrials:    1,
		MinHealthyBalance: 100,
		MaxBalanceAge:     time.Hour,
	}, nil, []*domain.FeePayer{
		{Pubkey: "payerA", Priority: 1, LastBalance: 1_000_000, LastBalanceAt: time.Now()},
	}, map[string]feepayer.Signer{"payerA": stubSigner("payerA")})

	oracle := collaborators.NewMockVerificationOracle([]string{"EcoMint"}, 1_000_000)
	dex := collaborators.NewMockDEXAggregator(map[string]float64{"native:EcoMint": 50})

	svc := New(cfg, store, payers, oracle, dex, nil, func(mint string) (string, error) {
		return "treasury-" + mint, nil
	})
	return svc, store
}

func baseConfig() Config {
	return Config{
		BaseFeeNative:    5000,
		FeeMarkup:        decimal.NewFromFloat(1.1),
		NetworkFeeNative: 5000,
		QuoteTTL:         30 * time.Second,
		BufferNative:     1000,
	}
}

func TestQuoteHappyPathDiamondToken(t *testing.T) {
	svc, _ := newTestService(t, baseConfig())
	resp, err := svc.Quote(context.Background(), Request{
		UserAccount:           "user1",
		PaymentToken:          "EcoMint",
		EstimatedComputeUnits: 50000,
	})
	require.Nil(t, err)
	require.NotNil(t, resp)
	require.Equal(t, "payerA", resp.FeePayerAccount)
	require.Equal(t, "treasury-EcoMint", resp.TreasuryAddress)
	require.Greater(t, resp.Quote.FeeAmount, int64(0))
	require.Greater(t, resp.Quote.FeeNative, int64(0))
}

func TestQuoteRejectsTierFailure(t *testing.T) {
	svc, _ := newTestService(t, baseConfig())
	_, err := svc.Quote(context.Background(), Request{
		UserAccount:  "user1",
		PaymentToken: "",
	})
	require.NotNil(t, err)
	require.Equal(t, "TIER_REJECTED", string(err.Code))
}

func TestQuoteServiceUnavailableWhenAllCircuitsOpen(t *testing.T) {
	cfg := baseConfig()
	svc, _ := newTestService(t, cfg)
	svc.feepayers.ReportFailure("payerA", feepayer.FailureTimeout)
	svc.feepayers.ReportFailure("payerA", feepayer.FailureTimeout)
	svc.feepayers.ReportFailure("payerA", feepayer.FailureTimeout)

	_, err := svc.Quote(context.Background(), Request{UserAccount: "user1", PaymentToken: "EcoMint"})
	require.NotNil(t, err)
	require.Equal(t, "CIRCUIT_BREAKER_OPEN", string(err.Code))
}

func TestQuoteAppliesBreakEvenFloorForLowFee(t *testing.T) {
	cfg := baseConfig()
	cfg.BaseFeeNative = 1
	cfg.NetworkFeeNative = 200_000
	svc, _ := newTestService(t, cfg)

	resp, err := svc.Quote(context.Background(), Request{UserAccount: "user1", PaymentToken: "EcoMint", EstimatedComputeUnits: 1})
	require.Nil(t, err)
	require.True(t, resp.Quote.HolderTierSnapshot.IsAtBreakEven)
}

func TestSwapOracleAmountRescalesOnCacheHit(t *testing.T) {
	svc, store := newTestService(t, baseConfig())
	ctx := context.Background()

	require.NoError(t, store.JupiterCacheSet(ctx, "native", "EcoMint", hotstore.AmountBucket(1000), &hotstore.JupiterQuote{
		InputAmount: 1000, OutputAmount: 50000,
	}, time.Minute))

	amount, err := svc.swapOracleAmount(ctx, "EcoMint", 1200)
	require.Nil(t, err)
	require.InDelta(t, 60000, amount, 1)
}
