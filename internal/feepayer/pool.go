// Package feepayer is the fee-payer pool (C5): an ordered set of signing
// accounts that reserve capacity for in-flight quotes, release it on
// expiry or completion, and carry one circuit breaker per account (§4.3).
// Structurally this mirrors the teacher's access_control allow-list
// pattern (a priority-ordered slice of named entries, each independently
// guarded) generalized to hold reservations and a breaker.Breaker rather
// than a boolean.
package feepayer

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sovrn-protocol/relay/internal/breaker"
	"github.com/sovrn-protocol/relay/internal/domain"
)

// FailureKind classifies a reported failure for the breaker predicate
// (§4.3: "timeout | connection refused | rate-limited | service
// unavailable"; anything else does not trip the circuit).
type FailureKind string

const (
	FailureTimeout            FailureKind = "timeout"
	FailureConnectionRefused  FailureKind = "connection_refused"
	FailureRateLimited        FailureKind = "rate_limited"
	FailureServiceUnavailable FailureKind = "service_unavailable"
	FailureOther              FailureKind = "other"
)

func qualifies(kind FailureKind) bool {
	switch kind {
	case FailureTimeout, FailureConnectionRefused, FailureRateLimited, FailureServiceUnavailable:
		return true
	default:
		return false
	}
}

// Signer is the minimal interface a fee payer exposes to C7 once reserved.
// Actual signing happens in the chain client collaborator; this is a
// handle, not an implementation.
type Signer interface {
	Pubkey() string
}

type account struct {
	payer    *domain.FeePayer
	breaker  *breaker.Breaker
	signer   Signer
	reserved map[string]int64 // quote_id -> amount_native
}

// Config parameterizes every account's breaker and the health thresholds.
type Config struct {
	FailureThreshold  int
	ResetTimeout      time.Duration
	HalfOpenTrials    int
	MinHealthyBalance int64
	MaxBalanceAge     time.Duration
}

// Pool is the live, in-process fee-payer registry. Never shared across
// processes (§5): each relay instance owns its own reservations.
type Pool struct {
	mu       sync.Mutex
	accounts []*account
	cfg      Config
	logger   *zap.Logger
}

// New builds a Pool from payer/signer pairs, sorted by ascending priority.
func New(cfg Config, logger *zap.Logger, payers []*domain.FeePayer, signers map[string]Signer) *Pool {
	p := &Pool{cfg: cfg, logger: logger}
	for _, fp := range payers {
		p.accounts = append(p.accounts, &account{
			payer: fp,
			breaker: breaker.New(breaker.Config{
				FailureThreshold: cfg.FailureThreshold,
				ResetTimeout:     cfg.ResetTimeout,
				HalfOpenTrials:   cfg.HalfOpenTrials,
				Classify:         func(err error) bool { return err != nil },
			}),
			signer:   signers[fp.Pubkey],
			reserved: make(map[string]int64),
		})
	}
	sort.SliceStable(p.accounts, func(i, j int) bool {
		return p.accounts[i].payer.Priority < p.accounts[j].payer.Priority
	})
	return p
}

// ErrNoCapacity is returned when no healthy account has enough unreserved
// balance; callers map this to NO_PAYER_CAPACITY with a 30s retry_after.
type ErrNoCapacity struct{}

func (ErrNoCapacity) Error() string { return "feepayer: no healthy account has sufficient capacity" }

// Reserve picks the first healthy account (priority order, tiebreak on
// highest unreserved balance among equal-priority accounts since they are
// already sorted by priority only, so the tiebreak applies within a
// priority tier) with enough unreserved balance and reserves amountNative
// against quoteID. Idempotent: re-calling with the same quoteID returns
// the same account without double-reserving (§4.3).
func (p *Pool) Reserve(ctx context.Context, quoteID string, amountNative int64) (pubkey string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, a := range p.accounts {
		if amt, exists := a.reserved[quoteID]; exists {
			_ = amt
			return a.payer.Pubkey, true
		}
	}

	candidates := p.healthyCandidates()
	for _, a := range candidates {
		if a.payer.UnreservedBalance() >= amountNative {
			a.reserved[quoteID] = amountNative
			a.payer.CapacityReserved += amountNative
			return a.payer.Pubkey, true
		}
	}
	return "", false
}

// healthyCandidates returns accounts passing domain.FeePayer.Healthy,
// already in priority order; within equal priority, highest unreserved
// balance first (§4.3 "Selection policy").
func (p *Pool) healthyCandidates() []*account {
	now := time.Now()
	var out []*account
	for _, a := range p.accounts {
		if a.payer.Healthy(a.breaker.State() != breaker.Closed, p.cfg.MinHealthyBalance, p.cfg.MaxBalanceAge, now) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].payer.Priority != out[j].payer.Priority {
			return out[i].payer.Priority < out[j].payer.Priority
		}
		return out[i].payer.UnreservedBalance() > out[j].payer.UnreservedBalance()
	})
	return out
}

// Release removes a quote's reservation; idempotent (§4.3).
func (p *Pool) Release(quoteID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		if amt, ok := a.reserved[quoteID]; ok {
			delete(a.reserved, quoteID)
			a.payer.CapacityReserved -= amt
			return
		}
	}
}

// GetForSigning exposes the signer handle for a reserved pubkey. Callers
// must only invoke this after a successful Reserve (§4.3).
func (p *Pool) GetForSigning(pubkey string) (Signer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		if a.payer.Pubkey == pubkey {
			return a.signer, a.signer != nil
		}
	}
	return nil, false
}

// ReportFailure feeds kind into pubkey's breaker if it qualifies.
func (p *Pool) ReportFailure(pubkey string, kind FailureKind) {
	p.mu.Lock()
	a := p.findLocked(pubkey)
	p.mu.Unlock()
	if a == nil || !qualifies(kind) {
		return
	}
	a.breaker.Report(errUnqualifiedButReal(kind))
	if p.logger != nil {
		p.logger.Warn("feepayer: reported failure", zap.String("pubkey", pubkey), zap.String("kind", string(kind)), zap.String("state", string(a.breaker.State())))
	}
}

func errUnqualifiedButReal(kind FailureKind) error { return feeFailureError(kind) }

type feeFailureError FailureKind

func (e feeFailureError) Error() string { return string(e) }

func (p *Pool) findLocked(pubkey string) *account {
	for _, a := range p.accounts {
		if a.payer.Pubkey == pubkey {
			return a
		}
	}
	return nil
}

// RefreshBalances updates LastBalance/LastBalanceAt for every account via
// readBalance, with boundedConcurrency reads outstanding at once (§4.3).
func (p *Pool) RefreshBalances(ctx context.Context, boundedConcurrency int, readBalance func(ctx context.Context, pubkey string) (int64, error)) {
	p.mu.Lock()
	accounts := append([]*account(nil), p.accounts...)
	p.mu.Unlock()

	if boundedConcurrency <= 0 {
		boundedConcurrency = 1
	}
	sem := make(chan struct{}, boundedConcurrency)
	var wg sync.WaitGroup
	for _, a := range accounts {
		a := a
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			bal, err := readBalance(ctx, a.payer.Pubkey)
			if err != nil {
				if p.logger != nil {
					p.logger.Warn("feepayer: balance refresh failed", zap.String("pubkey", a.payer.Pubkey), zap.Error(err))
				}
				return
			}
			p.mu.Lock()
			a.payer.LastBalance = bal
			a.payer.LastBalanceAt = time.Now()
			p.mu.Unlock()
		}()
	}
	wg.Wait()
}

// IsCircuitOpenAll reports whether every account's circuit is open (§4.3).
func (p *Pool) IsCircuitOpenAll() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.accounts) == 0 {
		return true
	}
	for _, a := range p.accounts {
		if a.breaker.State() != breaker.Open {
			return false
		}
	}
	return true
}

// MinRetryAfter returns the smallest RetryAfter among accounts currently
// Open, for the CIRCUIT_BREAKER_OPEN response's retryAfter hint (§6, §8 S4
// "retryAfter = ceil(time-until-first-half-open)"). Zero if no account is
// Open.
func (p *Pool) MinRetryAfter() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	best := 0
	for _, a := range p.accounts {
		if a.breaker.State() != breaker.Open {
			continue
		}
		secs := a.breaker.RetryAfter()
		if best == 0 || (secs > 0 && secs < best) {
			best = secs
		}
	}
	return best
}

// Snapshot exposes read-only per-account status for admin/diagnostics.
type Snapshot struct {
	Pubkey            string
	Priority          int
	UnreservedBalance int64
	CircuitState      breaker.State
}

func (p *Pool) Snapshot() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Snapshot, len(p.accounts))
	for i, a := range p.accounts {
		out[i] = Snapshot{
			Pubkey:            a.payer.Pubkey,
			Priority:          a.payer.Priority,
			UnreservedBalance: a.payer.UnreservedBalance(),
			CircuitState:      a.breaker.State(),
		}
	}
	return out
}
