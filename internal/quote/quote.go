// Package quote implements the quote service (C6): token-gate, fee
// calculation with the token-score multiplier and holder-tier discount,
// swap-oracle lookup through the amount-bucketed cache, fee-payer
// reservation, and TTL-bound persistence (§4.4). Modelled on the
// teacher's api/billing.BillingGateway.PurchaseUnits — a single
// request/response method threading through price lookup, discount
// application, and ledger write — generalized from a fiat purchase to a
// token-fee quote.
package quote

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sovrn-protocol/relay/internal/collaborators"
	"github.com/sovrn-protocol/relay/internal/domain"
	"github.com/sovrn-protocol/relay/internal/feepayer"
	"github.com/sovrn-protocol/relay/internal/hotstore"
	"github.com/sovrn-protocol/relay/internal/numeric"
	"github.com/sovrn-protocol/relay/internal/relayerrors"
)

// Request is the inbound quote request (§4.4).
type Request struct {
	UserAccount           string
	PaymentToken          string
	EstimatedComputeUnits int64
	Sponsored             bool // supplemented feature, off unless SPONSORED_QUOTES_ENABLED
	SponsorAccount        string
}

// Response is what C11 returns to the caller.
type Response struct {
	Quote                *domain.Quote
	FeePayerAccount      string
	TreasuryAddress      string
	TreasuryTokenAccount string
}

// Config parameterizes fee math and TTL.
type Config struct {
	BaseFeeNative   int64
	FeeMarkup       decimal.Decimal
	NetworkFeeNative int64
	QuoteTTL        time.Duration
	BufferNative    int64 // small tx-fee buffer added to the reservation (§4.4 step 7)
	SponsoredQuotesEnabled bool
}

// Service is C6.
type Service struct {
	cfg       Config
	store     hotstore.Store
	feepayers *feepayer.Pool
	oracle    collaborators.VerificationOracle
	dex       collaborators.DEXAggregator
	logger    *zap.Logger
	treasuryAddress func(mint string) (account string, err error)
}

// New builds the quote service. treasuryTokenAccount resolves (creating if
// absent) the treasury's per-token receiving account, per §4.4's "Returns
// ... the treasury's per-token receiving account, creating it if absent."
func New(cfg Config, store hotstore.Store, payers *feepayer.Pool, oracle collaborators.VerificationOracle, dex collaborators.DEXAggregator, logger *zap.Logger, treasuryTokenAccount func(mint string) (string, error)) *Service {
	return &Service{cfg: cfg, store: store, feepayers: payers, oracle: oracle, dex: dex, logger: logger, treasuryAddress: treasuryTokenAccount}
}

// holderDiscount implements §4.4.1: discount = clamp(0, 0.95, (log10(share)+5)/3).
func holderDiscount(sharePercent float64) float64 {
	if sharePercent <= 0 {
		return 0
	}
	raw := (math.Log10(sharePercent) + 5) / 3
	return numeric.Clamp(raw, 0, 0.95)
}

func tierLabel(sharePercent float64) string {
	switch {
	case sharePercent >= 1.0:
		return "whale"
	case sharePercent >= 0.1:
		return "holder"
	case sharePercent > 0:
		return "minnow"
	default:
		return "none"
	}
}

// Quote runs the full C6 algorithm.
func (s *Service) Quote(ctx context.Context, req Request) (*Response, *relayerrors.Error) {
	if s.feepayers.IsCircuitOpenAll() {
		retryAfter := s.feepayers.MinRetryAfter()
		if retryAfter == 0 {
			retryAfter = 30
		}
		return nil, relayerrors.CircuitBreakerOpen(retryAfter)
	}

	acceptance, err := s.oracle.CheckTokenAcceptance(ctx, req.PaymentToken)
	if err != nil {
		return nil, relayerrors.VerificationFailed(fmt.Sprintf("token verification failed: %v", err))
	}
	if !acceptance.Accepted {
		reason := acceptance.Reason
		if reason == "" {
			reason = "payment token below acceptance tier"
		}
		return nil, relayerrors.TierRejected(reason)
	}

	baseFee, ferr := numeric.CalculateFee(req.EstimatedComputeUnits, s.cfg.BaseFeeNative, s.cfg.FeeMarkup)
	if ferr != nil {
		return nil, ferr
	}

	scored := decimal.NewFromInt(baseFee).Mul(decimal.NewFromFloat(acceptance.Score))
	feeNative := scored.Ceil().IntPart()

	breakEven, ferr := numeric.CeilDiv(s.cfg.NetworkFeeNative, numeric.DefaultTreasuryRatio())
	if ferr != nil {
		return nil, ferr
	}

	share, err := s.oracle.GetHolderShare(ctx, req.UserAccount)
	if err != nil {
		return nil, relayerrors.VerificationFailed(fmt.Sprintf("holder share lookup failed: %v", err))
	}
	discount := holderDiscount(share.SharePercent)
	discounted := decimal.NewFromInt(feeNative).Mul(decimal.NewFromFloat(1 - discount)).Ceil().IntPart()

	atBreakEven := false
	finalFeeNative := discounted
	if finalFeeNative < breakEven {
		finalFeeNative = breakEven
		atBreakEven = true
	}

	paymentAmount, ferr := s.swapOracleAmount(ctx, req.PaymentToken, finalFeeNative)
	if ferr != nil {
		return nil, ferr
	}

	reservation := finalFeeNative + s.cfg.BufferNative
	quoteID := uuid.New().String()
	pubkey, ok := s.feepayers.Reserve(ctx, quoteID, reservation)
	if !ok {
		return nil, relayerrors.NoPayerCapacity(30)
	}

	treasuryAccount, err := s.treasuryAddress(req.PaymentToken)
	if err != nil {
		s.feepayers.Release(quoteID)
		return nil, relayerrors.VerificationFailed(fmt.Sprintf("resolving treasury account: %v", err))
	}

	q := &domain.Quote{
		ID:              quoteID,
		UserAccount:     req.UserAccount,
		PaymentToken:    req.PaymentToken,
		FeePayerAccount: pubkey,
		FeeAmount:       paymentAmount,
		FeeNative:       finalFeeNative,
		ExpiresAt:       time.Now().Add(s.cfg.QuoteTTL),
		PaymentTokenMeta: domain.TokenMeta{
			Tier:  acceptance.Tier,
			Score: acceptance.Score,
		},
		HolderTierSnapshot: domain.HolderTierSnapshot{
			DiscountPct:   discount,
			IsAtBreakEven: atBreakEven,
			TierLabel:     tierLabel(share.SharePercent),
			SharePercent:  share.SharePercent,
		},
		Type:                 domain.QuoteStandard,
		TreasuryAddress:      treasuryAccount,
		TreasuryTokenAccount: treasuryAccount,
	}

	if req.Sponsored && s.cfg.SponsoredQuotesEnabled {
		q.SponsorAccount = req.SponsorAccount
	}

	if err := s.store.SetQuote(ctx, q, s.cfg.QuoteTTL); err != nil {
		s.feepayers.Release(quoteID)
		return nil, relayerrors.Internal("persisting quote", err)
	}

	return &Response{
		Quote:                q,
		FeePayerAccount:      pubkey,
		TreasuryAddress:      treasuryAccount,
		TreasuryTokenAccount: treasuryAccount,
	}, nil
}

// swapOracleAmount resolves the payment-token amount for feeNative using
// the bucketed Jupiter cache (§4.4 step 6, §6 "amount bucketing"). On a
// cache hit the cached quote is proportionally rescaled to the exact
// requested amount rather than reused verbatim, since the bucket only
// guarantees a nearby cached amount, not an exact one.
func (s *Service) swapOracleAmount(ctx context.Context, paymentToken string, feeNative int64) (int64, *relayerrors.Error) {
	bucket := hotstore.AmountBucket(feeNative)
	const nativeMint = "native"

	cached, hit, err := s.store.JupiterCacheGet(ctx, nativeMint, paymentToken, bucket)
	if err == nil && hit && cached.InputAmount > 0 {
		ratio := float64(feeNative) / float64(cached.InputAmount)
		rescaled := int64(math.Ceil(float64(cached.OutputAmount) * ratio))
		if rescaled > 0 {
			return rescaled, nil
		}
	}

	swap, dexErr := s.dex.GetQuote(ctx, nativeMint, paymentToken, feeNative)
	if dexErr != nil {
		return 0, relayerrors.VerificationFailed(fmt.Sprintf("swap oracle lookup failed: %v", dexErr))
	}

	_ = s.store.JupiterCacheSet(ctx, nativeMint, paymentToken, bucket, &hotstore.JupiterQuote{
		InputAmount:  swap.AmountIn,
		OutputAmount: swap.AmountOut,
	}, 10*time.Second)

	return swap.AmountOut, nil
}
