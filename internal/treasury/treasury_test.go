package treasury

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sovrn-protocol/relay/internal/collaborators"
	"github.com/sovrn-protocol/relay/internal/domain"
	"github.com/sovrn-protocol/relay/internal/feepayer"
	"github.com/sovrn-protocol/relay/internal/hotstore"
	"github.com/sovrn-protocol/relay/internal/velocity"
)

type fakeChain struct {
	balances map[string]int64 // account -> balance
	accounts map[string]string // mint -> account
	sendErr  error
	sent     [][]byte
}

func newFakeChain() *fakeChain {
	return &fakeChain{balances: map[string]int64{}, accounts: map[string]string{}}
}

func (f *fakeChain) LatestBlockhash(ctx context.Context, rpcURL string) (string, error) { return "hash", nil }
func (f *fakeChain) SimulateTransaction(ctx context.Context, rpcURL string, raw []byte) error {
	return nil
}
func (f *fakeChain) SendTransaction(ctx context.Context, rpcURL string, raw []byte) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, raw)
	return fmt.Sprintf("sig-%d", len(f.sent)), nil
}
func (f *fakeChain) ConfirmTransaction(ctx context.Context, rpcURL, signature string, timeout time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeChain) CoSign(raw []byte, feePayerPubkey string) ([]byte, error) { return raw, nil }
func (f *fakeChain) VerifyUserSignature(raw []byte, userAccount string) (bool, error) {
	return true, nil
}
func (f *fakeChain) IsFeePayerSigned(raw []byte, feePayerPubkey string) (bool, error) {
	return false, nil
}
func (f *fakeChain) ExtractFeePayer(raw []byte) (string, error) { return "", nil }
func (f *fakeChain) TokenAccountBalance(ctx context.Context, rpcURL, account string) (int64, error) {
	return f.balances[account], nil
}
func (f *fakeChain) EnsureTokenAccount(ctx context.Context, rpcURL, owner, mint string) (string, error) {
	acct, ok := f.accounts[mint]
	if !ok {
		acct = "acct-" + mint
		f.accounts[mint] = acct
	}
	return acct, nil
}

func newTestWorker(t *testing.T, chain *fakeChain, dex *collaborators.MockDEXAggregator, oracle *collaborators.MockVerificationOracle, cfg Config) (*Worker, hotstore.Store) {
	store := hotstore.NewMemoryStore(time.Hour)
	t.Cleanup(func() { store.Close() })

	payers := feepayer.New(feepayer.Config{
		FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenTrials: 1,
		MinHealthyBalance: 100, MaxBalanceAge: time.Hour,
	}, nil, []*domain.FeePayer{
		{Pubkey: "payerA", Priority: 1, LastBalance: 1_000_000, LastBalanceAt: time.Now()},
	}, nil)

	vel := velocity.New(store)

	if cfg.EcosystemMint == "" {
		cfg.EcosystemMint = "EcoMint"
	}
	if cfg.TreasuryOwner == "" {
		cfg.TreasuryOwner = "treasury-owner"
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = time.Second
	}

	w := New(cfg, store, nil, payers, chain, dex, oracle, vel, nil, nil)
	return w, store
}

func TestScanAndFilterDiscardsDustAndSortsByUSD(t *testing.T) {
	chain := newFakeChain()
	chain.balances["acct-EcoMint"] = 1000
	chain.balances["acct-TokenA"] = 50
	chain.balances["acct-TokenB"] = 600

	dex := collaborators.NewMockDEXAggregator(map[string]float64{
		"TokenA:native": 0.01, // 50 * 0.01 = 0.5 USD, below floor
		"TokenB:native": 2,    // 600 * 2 = 1200 USD
		"EcoMint:native": 1,   // 1000 * 1 = 1000 USD
	})
	oracle := collaborators.NewMockVerificationOracle(nil, 1_000_000)

	w, _ := newTestWorker(t, chain, dex, oracle, Config{
		USDValueFloor: 10,
		TrackedMints:  []string{"TokenA", "TokenB"},
	})

	balances, err := w.scanAndFilter(context.Background())
	require.NoError(t, err)

	var mints []string
	for _, b := range balances {
		mints = append(mints, b.TokenMint)
	}
	require.NotContains(t, mints, "TokenA")
	require.Contains(t, mints, "TokenB")
	require.Contains(t, mints, "EcoMint")
	// Descending USD order: TokenB (~1200) before EcoMint (~1000); the mock
	// DEX's +/-0.5% jitter cannot swap them. TokenA is excluded.
	require.Equal(t, []string{"TokenB", "EcoMint"}, mints)
	require.Len(t, balances, 2)
}

func TestProcessAndBurnEcosystemTokenDirectBurn(t *testing.T) {
	chain := newFakeChain()
	dex := collaborators.NewMockDEXAggregator(nil)
	oracle := collaborators.NewMockVerificationOracle(nil, 1_000_000)

	w, _ := newTestWorker(t, chain, dex, oracle, Config{EcosystemMint: "EcoMint"})

	balances := []domain.TreasuryTokenBalance{{TokenMint: "EcoMint", Balance: 5000, IsEcosystem: true}}
	proofs, err := w.processAndBurn(context.Background(), balances)
	require.NoError(t, err)
	require.Len(t, proofs, 1)
	require.Equal(t, domain.BurnDirect, proofs[0].Kind)
	require.Equal(t, int64(5000), proofs[0].AmountEcotoken)
}

func TestProcessAndBurnNonEcosystemSplitsAndSwaps(t *testing.T) {
	chain := newFakeChain()
	dex := collaborators.NewMockDEXAggregator(map[string]float64{"TokenA:EcoMint": 2})
	oracle := collaborators.NewMockVerificationOracle(nil, 1_000_000)
	oracle.SetDualBurnPct(0.1)

	// One instruction per batch, so each proof keeps its own burn kind
	// instead of a single combined batch proof.
	w, _ := newTestWorker(t, chain, dex, oracle, Config{EcosystemMint: "EcoMint", MaxBatchInstructions: 1})

	balances := []domain.TreasuryTokenBalance{{TokenMint: "TokenA", Balance: 10000, IsEcosystem: false}}
	proofs, err := w.processAndBurn(context.Background(), balances)
	require.NoError(t, err)
	require.NotEmpty(t, proofs)

	var sawEcosystemBurn, sawSwapBurn bool
	var total int64
	for _, p := range proofs {
		total += p.AmountEcotoken
		switch p.Kind {
		case domain.BurnEcosystem:
			sawEcosystemBurn = true
			require.InDelta(t, 1000, p.AmountEcotoken, 1) // 10% dual-burn pct
		case domain.BurnSwap:
			sawSwapBurn = true
		}
	}
	require.True(t, sawEcosystemBurn)
	require.True(t, sawSwapBurn)
	require.Greater(t, total, int64(0))
}

func TestRunCycleSkipsQuietlyWhenLockHeldElsewhere(t *testing.T) {
	chain := newFakeChain()
	chain.balances["acct-EcoMint"] = 1000
	dex := collaborators.NewMockDEXAggregator(nil)
	oracle := collaborators.NewMockVerificationOracle(nil, 1_000_000)

	w, store := newTestWorker(t, chain, dex, oracle, Config{USDValueFloor: 0})

	_, held, err := store.AcquireLock(context.Background(), burnLockName, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	err = w.RunCycle(context.Background())
	require.NoError(t, err)
}

func TestTwoWaySplitClampsDualBurnPct(t *testing.T) {
	plan := TwoWaySplit{}.Split(1000, 0.5)
	require.Equal(t, int64(500), plan.EcosystemBurn)
	require.Equal(t, int64(500), plan.ToSwap)

	plan = TwoWaySplit{}.Split(1000, 1.5)
	require.Equal(t, int64(1000), plan.EcosystemBurn)
	require.Equal(t, int64(0), plan.ToSwap)
}
