// Package collaborators declares the external interfaces the core
// consumes but does not implement itself: the DEX aggregator, the
// holder-verification/price oracle, the chain client, and the admin
// notifier (§1 Non-goals: "the DEX aggregator (assumed)", "the
// holder-verification oracle"). Each ships a default implementation in
// the style of api/billing's PriceOracle — an explicitly mock, in-process
// stand-in good enough to exercise the rest of the system end to end, but
// documented as a placeholder for a real integration.
package collaborators

import (
	"context"
	"time"
)

// SwapQuote is a DEX aggregator's answer to "how much outputMint do I get
// for amountIn of inputMint".
type SwapQuote struct {
	InputMint  string
	OutputMint string
	AmountIn   int64
	AmountOut  int64
	QuotedAt   time.Time
}

// DEXAggregator is the swap-quote collaborator (§4.4 step 6, §4.6 step 4).
type DEXAggregator interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amountIn int64) (*SwapQuote, error)
	BuildSwapTransaction(ctx context.Context, quote *SwapQuote, signerPubkey string) ([]byte, error)
}

// TokenAcceptance is the token-gate predicate result (§4.4 step 2).
type TokenAcceptance struct {
	Accepted bool
	Tier     string
	Score    float64 // multiplier, >=1 for riskier tokens
	Reason   string  // populated when Accepted is false
}

// HolderShare is the verification oracle's answer for the discount
// calculation (§4.4.1).
type HolderShare struct {
	SharePercent float64 // 0..100, user's holding relative to circulating supply
	FetchedAt    time.Time
}

// TokenInfo is one row of the accepted-token listing (§6 "GET /v1/tokens").
type TokenInfo struct {
	Mint string
	Tier string
}

// VerificationOracle gates payment tokens and reports holder share.
type VerificationOracle interface {
	CheckTokenAcceptance(ctx context.Context, mint string) (*TokenAcceptance, error)
	GetHolderShare(ctx context.Context, userAccount string) (*HolderShare, error)
	CirculatingSupply(ctx context.Context) (float64, error)

	// DualBurnPct reports the fraction of a non-ecosystem treasury balance
	// to route to direct ecosystem-token burn instead of swap-then-burn
	// (§4.6 step 5), in [0, 1/phi^2]. Defaults to 0 when unconfigured.
	DualBurnPct(ctx context.Context) (float64, error)

	// ListAcceptedTokens enumerates the tokens known to the gate, for the
	// public /v1/tokens listing.
	ListAcceptedTokens(ctx context.Context) ([]TokenInfo, error)
}

// ChainClient is the assumed blockchain client: serialize/sign/RPC happen
// outside the core (§1 Non-goals), this interface is the seam C7 calls
// through.
type ChainClient interface {
	LatestBlockhash(ctx context.Context, rpcURL string) (string, error)
	SimulateTransaction(ctx context.Context, rpcURL string, raw []byte) error
	SendTransaction(ctx context.Context, rpcURL string, raw []byte) (signature string, err error)
	ConfirmTransaction(ctx context.Context, rpcURL string, signature string, timeout time.Duration) (bool, error)
	CoSign(raw []byte, feePayerPubkey string) ([]byte, error)
	// IsFeePayerSigned reports whether raw already carries a fee-payer
	// signature, so the service can reject a transaction the caller has
	// no business pre-signing (§4.5 step 2) before it ever reaches CoSign.
	IsFeePayerSigned(raw []byte, feePayerPubkey string) (bool, error)
	VerifyUserSignature(raw []byte, userAccount string) (bool, error)
	ExtractFeePayer(raw []byte) (string, error)
	TokenAccountBalance(ctx context.Context, rpcURL, account string) (int64, error)
	EnsureTokenAccount(ctx context.Context, rpcURL, owner, mint string) (string, error)
}

// AdminNotifier is the outbound alert seam (anomaly WARNs, burn failures).
type AdminNotifier interface {
	Notify(ctx context.Context, severity string, message string, fields map[string]interface{}) error
}
