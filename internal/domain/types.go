// Package domain holds the data model shared across the core subsystems
// (§3): Quote, FeePayer, BurnProof, AuditEntry, DailyAggregate and the
// supporting value types. Keeping these in one leaf package lets hotstore,
// coldstore, feepayer, quote, submit and treasury all refer to the same
// shapes without import cycles, the way the teacher keeps its wire structs
// (SovereignWallet, WalletTransaction, ExchangeRate, ...) in the package
// that owns them and lets siblings import that package.
package domain

import "time"

// QuoteType distinguishes the standard flow from the experimental ignition
// variant (Open Question 2: off by default, treated as experimental).
type QuoteType string

const (
	QuoteStandard  QuoteType = "standard"
	QuoteIgnition  QuoteType = "ignition"
)

// TokenMeta describes the payment token attached to a quote.
type TokenMeta struct {
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
	Tier     string `json:"tier"`
	Score    float64 `json:"score"`
}

// HolderTierSnapshot captures the discount applied at quote time.
type HolderTierSnapshot struct {
	DiscountPct   float64 `json:"discount_pct"`
	IsAtBreakEven bool    `json:"is_at_break_even"`
	TierLabel     string  `json:"tier_label"`
	SharePercent  float64 `json:"share_percent"`
}

// Quote is the server-issued, time-bounded co-sign offer (§3).
type Quote struct {
	ID                string             `json:"id"`
	UserAccount       string             `json:"user_account"`
	SponsorAccount    string             `json:"sponsor_account,omitempty"`
	PaymentToken      string             `json:"payment_token"`
	FeePayerAccount   string             `json:"fee_payer_account"`
	FeeAmount         int64              `json:"fee_amount"`
	FeeNative         int64              `json:"fee_native"`
	ExpiresAt         time.Time          `json:"expires_at"`
	PaymentTokenMeta  TokenMeta          `json:"payment_token_meta"`
	HolderTierSnapshot HolderTierSnapshot `json:"holder_tier_snapshot"`
	DualBurnBonus     float64            `json:"dual_burn_bonus"`
	Type              QuoteType          `json:"type"`

	// Ignition-variant-only fields (Open Question 2).
	IgnitionDestination string `json:"ignition_destination,omitempty"`
	IgnitionAmount      int64  `json:"ignition_amount,omitempty"`

	TreasuryAddress     string `json:"treasury_address"`
	TreasuryTokenAccount string `json:"treasury_token_account"`
}

// Expired reports whether the quote has passed its TTL as of now.
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// CircuitState is the three-state breaker state shared by C4's endpoints
// and C5's fee payers.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// FeePayer is a long-lived signing account owned exclusively by C5. Its
// circuit breaker lives alongside it in feepayer.Pool (internal/breaker),
// not as fields here, so this struct stays plain data.
type FeePayer struct {
	Pubkey           string
	Priority         int
	CapacityReserved int64
	LastBalance      int64
	LastBalanceAt    time.Time
}

// UnreservedBalance is last-observed balance minus reserved capacity.
func (f *FeePayer) UnreservedBalance() int64 {
	return f.LastBalance - f.CapacityReserved
}

// Healthy reports whether f can be selected for a new reservation (§3).
// circuitOpen is supplied by the caller's breaker lookup since FeePayer
// itself carries no circuit state.
func (f *FeePayer) Healthy(circuitOpen bool, minHealthyBalance int64, maxBalanceAge time.Duration, now time.Time) bool {
	if circuitOpen {
		return false
	}
	if f.UnreservedBalance() < minHealthyBalance {
		return false
	}
	if now.Sub(f.LastBalanceAt) >= maxBalanceAge {
		return false
	}
	return true
}

// BurnKind classifies a BurnProof (§3).
type BurnKind string

const (
	BurnDirect    BurnKind = "direct"
	BurnSwap      BurnKind = "swap"
	BurnEcosystem BurnKind = "ecosystem"
	BurnBatch     BurnKind = "batch"
)

// BurnProof is an append-only record of an executed burn.
type BurnProof struct {
	Signature        string    `json:"signature"`
	Kind             BurnKind  `json:"kind"`
	AmountEcotoken   int64     `json:"amount_ecotoken"`
	AmountNative     int64     `json:"amount_native"`
	TreasuryRetained int64     `json:"treasury_retained"`
	SourceToken      string    `json:"source_token,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	ExplorerURL      string    `json:"explorer_url,omitempty"`
}

// Severity of an AuditEntry.
type Severity string

const (
	SeverityInfo Severity = "INFO"
	SeverityWarn Severity = "WARN"
)

// AuditEntry is an append-only audit record (§3, §4.12).
type AuditEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Wallet    string                 `json:"wallet,omitempty"`
	IP        string                 `json:"ip,omitempty"`
	Severity  Severity               `json:"severity"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// DailyAggregate is the per-UTC-day delta record synced to the cold store.
type DailyAggregate struct {
	Day              string `json:"day"` // YYYY-MM-DD
	Burns            int64  `json:"burns"`
	Transactions     int64  `json:"transactions"`
	UniqueWallets    int64  `json:"unique_wallets"`
	FeesNative       int64  `json:"fees_native"`
	TreasuryBalance  int64  `json:"treasury_balance_end"`
}

// TransactionRecord is the durable record of a confirmed submit (C7 step 6).
type TransactionRecord struct {
	QuoteID         string    `json:"quote_id"`
	Signature       string    `json:"signature"`
	UserAccount     string    `json:"user_account"`
	FeePayerAccount string    `json:"fee_payer_account"`
	PaymentToken    string    `json:"payment_token"`
	FeeAmount       int64     `json:"fee_amount"`
	FeeNative       int64     `json:"fee_native"`
	Confirmed       bool      `json:"confirmed"`
	IgnitionSig     string    `json:"ignition_signature,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// TreasuryTokenBalance is a scanned treasury account used by C8.
type TreasuryTokenBalance struct {
	TokenMint  string
	Account    string
	Balance    int64
	USDValue   float64
	IsEcosystem bool
}
