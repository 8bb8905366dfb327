package httpapi

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sovrn-protocol/relay/internal/domain"
	"github.com/sovrn-protocol/relay/internal/quote"
	"github.com/sovrn-protocol/relay/internal/relayerrors"
)

type quoteRequestBody struct {
	UserPubkey            string `json:"userPubkey"`
	PaymentToken          string `json:"paymentToken"`
	EstimatedComputeUnits int64  `json:"estimatedComputeUnits,omitempty"`
	SponsorAccount        string `json:"sponsorAccount,omitempty"`
}

type tokenMetaView struct {
	Symbol   string  `json:"symbol,omitempty"`
	Decimals int32   `json:"decimals,omitempty"`
	Tier     string  `json:"tier"`
	Score    float64 `json:"score"`
}

type holderTierView struct {
	DiscountPct   float64 `json:"discountPct"`
	IsAtBreakEven bool    `json:"isAtBreakEven"`
	TierLabel     string  `json:"tierLabel"`
	SharePercent  float64 `json:"sharePercent"`
}

type quoteResponseBody struct {
	ID                   string          `json:"id"`
	UserAccount          string          `json:"userAccount"`
	PaymentToken         string          `json:"paymentToken"`
	FeePayerAccount      string          `json:"feePayerAccount"`
	FeeAmount            string          `json:"feeAmount"`
	FeeFormatted         string          `json:"feeFormatted"`
	FeeNative            string          `json:"feeNative"`
	ExpiresAt            time.Time       `json:"expiresAt"`
	TTLSeconds           int             `json:"ttlSeconds"`
	PaymentTokenMeta     tokenMetaView   `json:"paymentTokenMeta"`
	HolderTier           holderTierView  `json:"holderTier"`
	Type                 domain.QuoteType `json:"type"`
	TreasuryAddress      string          `json:"treasuryAddress"`
	TreasuryTokenAccount string          `json:"treasuryTokenAccount"`
	IgnitionDestination  string          `json:"ignitionDestination,omitempty"`
	IgnitionAmount       string          `json:"ignitionAmount,omitempty"`
}

// formatTokenAmount renders a smallest-unit integer amount as a decimal
// string with its symbol, per §8 scenario S1 ("0.005000 X"). Decimals
// default to 0 (raw integer display) when the oracle hasn't supplied a
// token-decimals figure, since C6's acceptance check doesn't carry one.
func formatTokenAmount(amount int64, decimals int32, symbol string) string {
	d := decimal.NewFromInt(amount)
	if decimals > 0 {
		d = d.Shift(-decimals)
	}
	if symbol == "" {
		return d.String()
	}
	return d.StringFixed(decimals) + " " + symbol
}

func viewFromQuote(q *domain.Quote) quoteResponseBody {
	body := quoteResponseBody{
		ID:              q.ID,
		UserAccount:     q.UserAccount,
		PaymentToken:    q.PaymentToken,
		FeePayerAccount: q.FeePayerAccount,
		FeeAmount:       decimal.NewFromInt(q.FeeAmount).String(),
		FeeFormatted:    formatTokenAmount(q.FeeAmount, q.PaymentTokenMeta.Decimals, q.PaymentTokenMeta.Symbol),
		FeeNative:       decimal.NewFromInt(q.FeeNative).String(),
		ExpiresAt:       q.ExpiresAt,
		TTLSeconds:      int(time.Until(q.ExpiresAt).Round(time.Second).Seconds()),
		PaymentTokenMeta: tokenMetaView{
			Symbol: q.PaymentTokenMeta.Symbol, Decimals: q.PaymentTokenMeta.Decimals,
			Tier: q.PaymentTokenMeta.Tier, Score: q.PaymentTokenMeta.Score,
		},
		HolderTier: holderTierView{
			DiscountPct: q.HolderTierSnapshot.DiscountPct, IsAtBreakEven: q.HolderTierSnapshot.IsAtBreakEven,
			TierLabel: q.HolderTierSnapshot.TierLabel, SharePercent: q.HolderTierSnapshot.SharePercent,
		},
		Type:                 q.Type,
		TreasuryAddress:      q.TreasuryAddress,
		TreasuryTokenAccount: q.TreasuryTokenAccount,
	}
	if q.Type == domain.QuoteIgnition {
		body.IgnitionDestination = q.IgnitionDestination
		body.IgnitionAmount = decimal.NewFromInt(q.IgnitionAmount).String()
	}
	return body
}

func (s *Server) validateQuoteBody(body quoteRequestBody) *relayerrors.Error {
	var problems []string
	if body.UserPubkey == "" {
		problems = append(problems, "userPubkey is required")
	}
	if body.PaymentToken == "" {
		problems = append(problems, "paymentToken is required")
	}
	if body.EstimatedComputeUnits < 0 {
		problems = append(problems, "estimatedComputeUnits must not be negative")
	}
	if body.SponsorAccount != "" && !s.cfg.SponsoredQuotesEnabled {
		problems = append(problems, "sponsorAccount requires sponsored quotes to be enabled")
	}
	if len(problems) > 0 {
		return relayerrors.Validation("invalid quote request", problems...)
	}
	return nil
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var body quoteRequestBody
	if verr := decodeJSON(r, &body); verr != nil {
		writeError(w, verr)
		return
	}
	if verr := s.validateQuoteBody(body); verr != nil {
		writeError(w, verr)
		return
	}

	req := quote.Request{
		UserAccount:           body.UserPubkey,
		PaymentToken:          body.PaymentToken,
		EstimatedComputeUnits: body.EstimatedComputeUnits,
		Sponsored:             body.SponsorAccount != "",
		SponsorAccount:        body.SponsorAccount,
	}
	resp, qerr := s.quoteSvc.Quote(r.Context(), req)
	if qerr != nil {
		writeError(w, qerr)
		return
	}
	writeJSON(w, http.StatusOK, viewFromQuote(resp.Quote))
}

func (s *Server) handleIgnitionQuote(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.IgnitionEnabled {
		writeError(w, relayerrors.New(relayerrors.KindServiceUnavailable, relayerrors.CodeIgnitionDisabled, "ignition quotes are disabled"))
		return
	}
	if !s.cfg.ignitionConfigured() {
		writeError(w, relayerrors.New(relayerrors.KindServiceUnavailable, relayerrors.CodeIgnitionNotConfigured, "ignition destination/amount not configured").WithRetryAfter(60))
		return
	}

	var body quoteRequestBody
	if verr := decodeJSON(r, &body); verr != nil {
		writeError(w, verr)
		return
	}
	if verr := s.validateQuoteBody(body); verr != nil {
		writeError(w, verr)
		return
	}

	req := quote.Request{
		UserAccount:           body.UserPubkey,
		PaymentToken:          body.PaymentToken,
		EstimatedComputeUnits: body.EstimatedComputeUnits,
	}
	resp, qerr := s.quoteSvc.Quote(r.Context(), req)
	if qerr != nil {
		writeError(w, qerr)
		return
	}

	// quote.Service is ignition-unaware; promote the freshly issued
	// standard quote to the ignition variant and re-persist it under the
	// same TTL before returning it.
	resp.Quote.Type = domain.QuoteIgnition
	resp.Quote.IgnitionDestination = s.cfg.IgnitionDestination
	resp.Quote.IgnitionAmount = s.cfg.IgnitionAmount
	remaining := time.Until(resp.Quote.ExpiresAt)
	if remaining <= 0 {
		writeError(w, relayerrors.Expired("quote expired before ignition promotion"))
		return
	}
	if err := s.store.SetQuote(r.Context(), resp.Quote, remaining); err != nil {
		writeError(w, relayerrors.Internal("persisting ignition quote", err))
		return
	}

	writeJSON(w, http.StatusOK, viewFromQuote(resp.Quote))
}
