package collaborators

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// MockVerificationOracle is a development stand-in for the real
// holder-verification/price oracle (§1 Non-goals). It is deliberately
// simple — a static diamond set plus synthetic share percentages — the
// way api/billing.PriceOracle mocks an exchange-rate feed with
// in-process rates instead of a real integration.
type MockVerificationOracle struct {
	mu sync.RWMutex

	diamondSet  map[string]bool
	shares      map[string]float64
	supply      float64
	dualBurnPct float64

	supplyFetchedAt time.Time
	supplyTTL       time.Duration
}

// NewMockVerificationOracle builds a mock oracle. diamondSet lists mint
// addresses accepted without a network round-trip (§4.4 step 2).
func NewMockVerificationOracle(diamondSet []string, circulatingSupply float64) *MockVerificationOracle {
	set := make(map[string]bool, len(diamondSet))
	for _, m := range diamondSet {
		set[strings.ToLower(m)] = true
	}
	return &MockVerificationOracle{
		diamondSet: set,
		shares:     make(map[string]float64),
		supply:     circulatingSupply,
		supplyTTL:  5 * time.Minute,
	}
}

func (m *MockVerificationOracle) CheckTokenAcceptance(ctx context.Context, mint string) (*TokenAcceptance, error) {
	if m.diamondSet[strings.ToLower(mint)] {
		return &TokenAcceptance{Accepted: true, Tier: "diamond", Score: 1.0}, nil
	}
	if mint == "" {
		return &TokenAcceptance{Accepted: false, Reason: "empty mint"}, nil
	}
	// Deterministic pseudo-score from the mint string so tests are
	// reproducible without a real price feed.
	score := 1.0 + float64(len(mint)%5)*0.25
	if score > 2.0 {
		return &TokenAcceptance{Accepted: false, Tier: "unverified", Score: score, Reason: "below acceptance tier"}, nil
	}
	return &TokenAcceptance{Accepted: true, Tier: "standard", Score: score}, nil
}

// SetHolderShare lets callers (tests, admin tooling) seed a synthetic
// share for a user account.
func (m *MockVerificationOracle) SetHolderShare(userAccount string, sharePercent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shares[userAccount] = sharePercent
}

func (m *MockVerificationOracle) GetHolderShare(ctx context.Context, userAccount string) (*HolderShare, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	share, ok := m.shares[userAccount]
	if !ok {
		share = 0.001 // default: negligible holder, near-zero discount
	}
	return &HolderShare{SharePercent: share, FetchedAt: time.Now()}, nil
}

// SetDualBurnPct lets callers seed the ecosystem dual-burn fraction
// returned by DualBurnPct (tests, admin tooling).
func (m *MockVerificationOracle) SetDualBurnPct(pct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dualBurnPct = pct
}

func (m *MockVerificationOracle) DualBurnPct(ctx context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dualBurnPct, nil
}

// ListAcceptedTokens lists the mock's static diamond set. Tokens outside
// the diamond set are still accepted by CheckTokenAcceptance at a
// computed tier, but aren't enumerable without a real token registry, so
// the listing only surfaces what's known up front.
func (m *MockVerificationOracle) ListAcceptedTokens(ctx context.Context) ([]TokenInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TokenInfo, 0, len(m.diamondSet))
	for mint := range m.diamondSet {
		out = append(out, TokenInfo{Mint: mint, Tier: "diamond"})
	}
	return out, nil
}

func (m *MockVerificationOracle) CirculatingSupply(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.supply <= 0 {
		return 0, fmt.Errorf("collaborators: circulating supply not configured")
	}
	return m.supply, nil
}

// MockDEXAggregator is a development stand-in for the real DEX aggregator
// (§1 Non-goals). It returns a price derived from a configurable
// per-token-pair rate table with small synthetic jitter, enough to
// exercise C6/C8's swap-amount paths without a live integration.
type MockDEXAggregator struct {
	mu    sync.RWMutex
	rates map[string]float64 // "inputMint:outputMint" -> outputUnitsPerInputUnit
	rng   *rand.Rand
}

// NewMockDEXAggregator builds an aggregator with the given base rates.
func NewMockDEXAggregator(rates map[string]float64) *MockDEXAggregator {
	return &MockDEXAggregator{
		rates: rates,
		rng:   rand.New(rand.NewSource(1)),
	}
}

func pairKey(in, out string) string { return in + ":" + out }

func (d *MockDEXAggregator) GetQuote(ctx context.Context, inputMint, outputMint string, amountIn int64) (*SwapQuote, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rate, ok := d.rates[pairKey(inputMint, outputMint)]
	if !ok {
		return nil, fmt.Errorf("collaborators: no quote route for %s->%s", inputMint, outputMint)
	}
	jitter := 1 + (d.rng.Float64()-0.5)*0.01 // +/-0.5%
	amountOut := int64(float64(amountIn) * rate * jitter)
	return &SwapQuote{
		InputMint:  inputMint,
		OutputMint: outputMint,
		AmountIn:   amountIn,
		AmountOut:  amountOut,
		QuotedAt:   time.Now(),
	}, nil
}

func (d *MockDEXAggregator) BuildSwapTransaction(ctx context.Context, quote *SwapQuote, signerPubkey string) ([]byte, error) {
	if quote == nil {
		return nil, fmt.Errorf("collaborators: nil quote")
	}
	return []byte(fmt.Sprintf("swap:%s:%s:%d:%d:%s", quote.InputMint, quote.OutputMint, quote.AmountIn, quote.AmountOut, signerPubkey)), nil
}

// NoopAdminNotifier discards notifications; used when no real alerting
// channel (Slack, PagerDuty, ...) is configured.
type NoopAdminNotifier struct{}

func (NoopAdminNotifier) Notify(ctx context.Context, severity, message string, fields map[string]interface{}) error {
	return nil
}
