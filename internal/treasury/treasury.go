// Package treasury implements the burn/treasury worker (C8): a periodic,
// distributed-locked pipeline that tops up the fee-payer's native balance
// from treasury reserves, then scans, classifies and burns treasury token
// balances. Scheduling follows the teacher's api/wallet/dividend_distributor.go
// (robfig/cron/v3, a Start/Stop pair around a *cron.Cron), generalized
// from a monthly calendar job to a fixed-interval worker with an initial
// delay. The burn/retain split is grounded on chain/economics/kernel.go's
// QuadraticSovereignSplit (remainder-absorbs-rounding, emit-one-event-per-run),
// narrowed here from a four-way split to the two-way burn/retain split
// spec.md describes, behind a SplitStrategy seam for a future third pool.
package treasury

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sovrn-protocol/relay/internal/coldstore"
	"github.com/sovrn-protocol/relay/internal/collaborators"
	"github.com/sovrn-protocol/relay/internal/domain"
	"github.com/sovrn-protocol/relay/internal/feepayer"
	"github.com/sovrn-protocol/relay/internal/hotstore"
	"github.com/sovrn-protocol/relay/internal/numeric"
	"github.com/sovrn-protocol/relay/internal/velocity"
)

const burnLockName = "treasury:burn-cycle"

// SplitPlan is the outcome of splitting one non-ecosystem token's balance
// (§4.6 step 5).
type SplitPlan struct {
	EcosystemBurn int64 // slated for direct ecosystem-token burn, no swap
	ToSwap        int64 // slated to be swapped into the ecosystem token
}

// SplitStrategy is the extension seam for the burn-worker's non-ecosystem
// split. The shipped implementation is the two-way split spec.md
// describes; a future third destination (infra/dividend pool) plugs in
// here without touching the scan/lock/execute pipeline.
type SplitStrategy interface {
	Split(balance int64, dualBurnPct float64) SplitPlan
}

// TwoWaySplit is the default SplitStrategy: dual_burn_pct of the balance
// goes to direct ecosystem burn, the remainder is queued for swap (§4.6
// step 5). Swap-side burn-vs-retain is computed later, after the swap
// quote is known, by swapProceedsSplit.
type TwoWaySplit struct{}

func (TwoWaySplit) Split(balance int64, dualBurnPct float64) SplitPlan {
	ecosystemBurn := int64(float64(balance) * numeric.Clamp(dualBurnPct, 0, 1))
	toSwap := balance - ecosystemBurn
	return SplitPlan{EcosystemBurn: ecosystemBurn, ToSwap: toSwap}
}

// swapProceedsSplit divides swap proceeds into (burn, retain) using the
// configured swap-burn ratio r = 1 - 1/phi^3 (§4.6 step 5, numeric.SwapBurnRatio).
func swapProceedsSplit(proceeds int64, ratio decimal.Decimal) (burn int64, retain int64) {
	if proceeds <= 0 {
		return 0, 0
	}
	burnDec := decimal.NewFromInt(proceeds).Mul(ratio).Floor()
	burn = burnDec.IntPart()
	retain = proceeds - burn
	return burn, retain
}

// Config parameterizes the worker's schedule and thresholds.
type Config struct {
	Interval     time.Duration // ~60s, §4.6
	InitialDelay time.Duration // ~10s, §4.6
	LockTTL      time.Duration // >= worst-case cycle duration, §4.6 step 3

	USDValueFloor float64 // discard treasury accounts below this, §4.6 step 2
	EcosystemMint string
	TreasuryOwner string   // pubkey owning the treasury's per-token accounts
	TrackedMints  []string // non-ecosystem mints the scan step checks

	HoursRunway    float64 // §4.7 required_buffer hours_runway
	MinBufferFloor int64   // §4.7 min_floor

	MaxBatchInstructions int
	RPCURL               string
}

// Worker is C8.
type Worker struct {
	cfg      Config
	store    hotstore.Store
	cold     *coldstore.Store
	payers   *feepayer.Pool
	chain    collaborators.ChainClient
	dex      collaborators.DEXAggregator
	oracle   collaborators.VerificationOracle
	velocity *velocity.Accountant
	notifier collaborators.AdminNotifier
	split    SplitStrategy
	logger   *zap.Logger

	cron *cron.Cron
}

// New builds a burn/treasury worker.
func New(cfg Config, store hotstore.Store, cold *coldstore.Store, payers *feepayer.Pool,
	chain collaborators.ChainClient, dex collaborators.DEXAggregator, oracle collaborators.VerificationOracle,
	vel *velocity.Accountant, notifier collaborators.AdminNotifier, logger *zap.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 45 * time.Second
	}
	if cfg.MaxBatchInstructions <= 0 {
		cfg.MaxBatchInstructions = 10
	}
	if notifier == nil {
		notifier = collaborators.NoopAdminNotifier{}
	}
	return &Worker{
		cfg: cfg, store: store, cold: cold, payers: payers, chain: chain, dex: dex, oracle: oracle,
		velocity: vel, notifier: notifier, split: TwoWaySplit{}, logger: logger,
		cron: cron.New(),
	}
}

// Start schedules the periodic cycle: one run after InitialDelay, then
// every Interval thereafter (§4.6).
func (w *Worker) Start(ctx context.Context) error {
	time.AfterFunc(w.cfg.InitialDelay, func() { w.runCycleSafely(ctx) })

	spec := fmt.Sprintf("@every %s", w.cfg.Interval)
	if _, err := w.cron.AddFunc(spec, func() { w.runCycleSafely(ctx) }); err != nil {
		return fmt.Errorf("treasury: schedule cycle: %w", err)
	}
	w.cron.Start()
	return nil
}

// Stop halts the scheduler. In-flight cycles finish; the lock TTL bounds
// how long a stuck one can block the next process's cycle.
func (w *Worker) Stop() {
	stopCtx := w.cron.Stop()
	<-stopCtx.Done()
}

func (w *Worker) runCycleSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil && w.logger != nil {
			w.logger.Error("treasury: cycle panicked", zap.Any("recover", r))
		}
	}()
	if err := w.RunCycle(ctx); err != nil && w.logger != nil {
		w.logger.Warn("treasury: cycle failed", zap.Error(err))
	}
}

// CurrentBalances exposes the scan step's result for the public treasury
// explorer (supplemented feature, `/v1/stats/treasury`) and the admin
// treasury view, without taking the burn lock or executing anything.
func (w *Worker) CurrentBalances(ctx context.Context) ([]domain.TreasuryTokenBalance, error) {
	return w.scanAndFilter(ctx)
}

// TriggerNow runs one cycle immediately, outside the worker's own
// schedule; used by the admin "trigger burn" endpoint.
func (w *Worker) TriggerNow(ctx context.Context) error {
	return w.RunCycle(ctx)
}

// RunCycle runs one full pipeline pass (§4.6 steps 1-7).
func (w *Worker) RunCycle(ctx context.Context) error {
	if err := w.preCheckRefill(ctx); err != nil && w.logger != nil {
		w.logger.Warn("treasury: pre-check refill failed", zap.Error(err))
	}

	balances, err := w.scanAndFilter(ctx)
	if err != nil {
		return fmt.Errorf("treasury: scan: %w", err)
	}
	if len(balances) == 0 {
		return nil
	}

	outcome, result, err := w.store.WithLock(ctx, burnLockName, w.cfg.LockTTL, func(lockCtx context.Context) (interface{}, error) {
		rescanned, rerr := w.scanAndFilter(lockCtx)
		if rerr != nil {
			return nil, rerr
		}
		return w.processAndBurn(lockCtx, rescanned)
	})
	if outcome == hotstore.LockHeldElsewhere {
		return nil // another process holds the cycle; exit quietly
	}
	if outcome == hotstore.LockExecutionError {
		return fmt.Errorf("treasury: cycle execution: %w", err)
	}
	if proofs, ok := result.([]*domain.BurnProof); ok && w.logger != nil {
		w.logger.Info("treasury: burn cycle complete", zap.Int("proofs", len(proofs)))
	}
	return nil
}

// preCheckRefill tops up the fee-payer's native balance from treasury
// ecosystem-token reserves when it's below the velocity-derived required
// threshold (§4.6 step 1, §4.7).
func (w *Worker) preCheckRefill(ctx context.Context) error {
	snapshots := w.payers.Snapshot()
	for _, snap := range snapshots {
		required, target, _, err := w.velocity.Buffers(ctx, snap.Pubkey, w.cfg.HoursRunway, w.cfg.MinBufferFloor)
		if err != nil {
			return err
		}
		if snap.UnreservedBalance >= required {
			continue
		}

		shortfall := target - snap.UnreservedBalance
		if shortfall <= 0 {
			continue
		}

		ecoAccount, err := w.chain.EnsureTokenAccount(ctx, w.cfg.RPCURL, w.cfg.TreasuryOwner, w.cfg.EcosystemMint)
		if err != nil {
			return fmt.Errorf("resolving ecosystem treasury account: %w", err)
		}
		ecoBalance, err := w.chain.TokenAccountBalance(ctx, w.cfg.RPCURL, ecoAccount)
		if err != nil {
			return fmt.Errorf("reading ecosystem treasury balance: %w", err)
		}
		if ecoBalance <= 0 {
			continue
		}

		quote, err := w.dex.GetQuote(ctx, w.cfg.EcosystemMint, "native", ecoBalance)
		if err != nil {
			return fmt.Errorf("quoting refill swap: %w", err)
		}

		// Swap only as much ecosystem token as needed to reach the
		// target, or all available reserves if that's short (§4.6 step 1).
		swapIn := ecoBalance
		if quote.AmountOut > shortfall && quote.AmountIn > 0 {
			ratio := float64(shortfall) / float64(quote.AmountOut)
			scaled := int64(float64(quote.AmountIn) * ratio)
			if scaled > 0 && scaled < ecoBalance {
				swapIn = scaled
			}
		}

		swapQuote, err := w.dex.GetQuote(ctx, w.cfg.EcosystemMint, "native", swapIn)
		if err != nil {
			return fmt.Errorf("quoting bounded refill swap: %w", err)
		}
		raw, err := w.dex.BuildSwapTransaction(ctx, swapQuote, snap.Pubkey)
		if err != nil {
			return fmt.Errorf("building refill swap: %w", err)
		}
		sig, err := w.chain.SendTransaction(ctx, w.cfg.RPCURL, raw)
		if err != nil {
			return fmt.Errorf("submitting refill swap: %w", err)
		}
		if w.logger != nil {
			w.logger.Info("treasury: refill swap submitted",
				zap.String("fee_payer", snap.Pubkey), zap.String("signature", sig),
				zap.Int64("swap_in", swapIn), zap.Int64("swap_out", swapQuote.AmountOut))
		}
	}
	return nil
}

// scanAndFilter reads every tracked treasury token account's balance and
// discards dust below the USD-value floor, descending by USD value
// (§4.6 step 2).
func (w *Worker) scanAndFilter(ctx context.Context) ([]domain.TreasuryTokenBalance, error) {
	mints := append([]string{w.cfg.EcosystemMint}, w.cfg.TrackedMints...)
	var out []domain.TreasuryTokenBalance
	for _, mint := range mints {
		account, err := w.chain.EnsureTokenAccount(ctx, w.cfg.RPCURL, w.cfg.TreasuryOwner, mint)
		if err != nil {
			if w.logger != nil {
				w.logger.Warn("treasury: ensure token account failed", zap.String("mint", mint), zap.Error(err))
			}
			continue
		}
		balance, err := w.chain.TokenAccountBalance(ctx, w.cfg.RPCURL, account)
		if err != nil {
			if w.logger != nil {
				w.logger.Warn("treasury: balance read failed", zap.String("mint", mint), zap.Error(err))
			}
			continue
		}
		if balance <= 0 {
			continue
		}
		usd, _ := w.usdValue(ctx, mint, balance)
		if usd < w.cfg.USDValueFloor {
			continue
		}
		out = append(out, domain.TreasuryTokenBalance{
			TokenMint:   mint,
			Account:     account,
			Balance:     balance,
			USDValue:    usd,
			IsEcosystem: mint == w.cfg.EcosystemMint,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].USDValue > out[j].USDValue })
	return out, nil
}

// usdValue estimates a token balance's worth via a native-coin quote;
// callers treat a failed quote as zero to keep the dust gate conservative.
func (w *Worker) usdValue(ctx context.Context, mint string, balance int64) (float64, error) {
	if mint == "native" {
		return float64(balance), nil
	}
	quote, err := w.dex.GetQuote(ctx, mint, "native", balance)
	if err != nil {
		return 0, err
	}
	return float64(quote.AmountOut), nil
}

// processAndBurn classifies each balance, builds the batched burn
// instruction set, executes it (with individual-instruction fallback),
// and persists proofs and statistics (§4.6 steps 5-7).
func (w *Worker) processAndBurn(ctx context.Context, balances []domain.TreasuryTokenBalance) ([]*domain.BurnProof, error) {
	var pending []pendingBurn
	var retained []domain.TreasuryTokenBalance

	dualBurnPct, err := w.oracle.DualBurnPct(ctx)
	if err != nil {
		dualBurnPct = 0
	}
	dualBurnPct = numeric.Clamp(dualBurnPct, 0, mustFloat(numeric.MaxDualBurnBonus()))

	for _, bal := range balances {
		if bal.IsEcosystem {
			raw, berr := w.buildBurnInstruction(bal.TokenMint, bal.Balance)
			if berr != nil {
				return nil, berr
			}
			pending = append(pending, pendingBurn{mint: bal.TokenMint, kind: domain.BurnDirect, amount: bal.Balance, raw: raw})
			continue
		}

		plan := w.split.Split(bal.Balance, dualBurnPct)
		if plan.EcosystemBurn > 0 {
			raw, berr := w.buildBurnInstruction(w.cfg.EcosystemMint, plan.EcosystemBurn)
			if berr != nil {
				return nil, berr
			}
			pending = append(pending, pendingBurn{mint: w.cfg.EcosystemMint, kind: domain.BurnEcosystem, amount: plan.EcosystemBurn, raw: raw})
		}
		if plan.ToSwap <= 0 {
			continue
		}

		quote, qerr := w.dex.GetQuote(ctx, bal.TokenMint, w.cfg.EcosystemMint, plan.ToSwap)
		if qerr != nil {
			if w.logger != nil {
				w.logger.Warn("treasury: swap quote failed, deferring token", zap.String("mint", bal.TokenMint), zap.Error(qerr))
			}
			continue
		}
		swapBurn, swapRetain := swapProceedsSplit(quote.AmountOut, numeric.SwapBurnRatio())
		if swapBurn > 0 {
			raw, berr := w.buildBurnInstruction(w.cfg.EcosystemMint, swapBurn)
			if berr != nil {
				return nil, berr
			}
			pending = append(pending, pendingBurn{mint: w.cfg.EcosystemMint, kind: domain.BurnSwap, amount: swapBurn, raw: raw})
		}
		if swapRetain > 0 {
			retained = append(retained, domain.TreasuryTokenBalance{TokenMint: w.cfg.EcosystemMint, Balance: swapRetain, IsEcosystem: true})
		}
	}

	if len(pending) == 0 {
		return nil, nil
	}

	var proofs []*domain.BurnProof
	batches := chunk(pending, w.cfg.MaxBatchInstructions)
	for _, batch := range batches {
		raws := make([][]byte, len(batch))
		for i, b := range batch {
			raws[i] = b.raw
		}
		sig, err := w.executeBatch(ctx, raws)
		if err != nil {
			// Batch failed: fall back to individual-instruction retries
			// so partial progress is preserved (§4.6 step 6).
			for _, b := range batch {
				indivSig, ierr := w.executeBatch(ctx, [][]byte{b.raw})
				if ierr != nil {
					if w.logger != nil {
						w.logger.Error("treasury: individual burn failed", zap.String("mint", b.mint), zap.Error(ierr))
					}
					continue
				}
				proofs = append(proofs, w.persistProof(ctx, indivSig, b.kind, b.amount, b.mint))
			}
			continue
		}
		combined := int64(0)
		for _, b := range batch {
			combined += b.amount
		}
		kind := domain.BurnBatch
		if len(batch) == 1 {
			kind = batch[0].kind
		}
		proofs = append(proofs, w.persistProof(ctx, sig, kind, combined, batch[0].mint))
	}

	return proofs, nil
}

func (w *Worker) buildBurnInstruction(mint string, amount int64) ([]byte, error) {
	return []byte(fmt.Sprintf("burn:%s:%d:%s", mint, amount, w.cfg.TreasuryOwner)), nil
}

func (w *Worker) executeBatch(ctx context.Context, raws [][]byte) (string, error) {
	combined := []byte{}
	for _, r := range raws {
		combined = append(combined, r...)
	}
	if err := w.chain.SimulateTransaction(ctx, w.cfg.RPCURL, combined); err != nil {
		return "", fmt.Errorf("simulating burn batch: %w", err)
	}
	return w.chain.SendTransaction(ctx, w.cfg.RPCURL, combined)
}

func (w *Worker) persistProof(ctx context.Context, signature string, kind domain.BurnKind, amount int64, sourceToken string) *domain.BurnProof {
	proof := &domain.BurnProof{
		Signature:      signature,
		Kind:           kind,
		AmountEcotoken: amount,
		SourceToken:    sourceToken,
		Timestamp:      time.Now(),
	}

	// C3 write first: a burn proof is durably recorded before its public
	// stats are incremented, so a crash in between never inflates C2
	// stats for a burn nothing can later prove happened (§5 ordering).
	if w.cold != nil {
		if err := w.cold.InsertBurn(ctx, proof); err != nil && w.logger != nil {
			w.logger.Warn("treasury: persisting burn proof failed", zap.String("signature", signature), zap.Error(err))
		}
	}

	_ = w.store.ListPush(ctx, "burns:recent", proof.Signature, 1000)
	_ = w.store.HIncrByMap(ctx, "stats:global", map[string]int64{"burn_total": amount, "tx_count": 1})

	return proof
}

// pendingBurn is one queued burn instruction awaiting batching.
type pendingBurn struct {
	mint   string
	kind   domain.BurnKind
	amount int64
	raw    []byte
}

func chunk(items []pendingBurn, size int) [][]pendingBurn {
	var out [][]pendingBurn
	for size > 0 && len(items) > 0 {
		if len(items) < size {
			size = len(items)
		}
		out = append(out, items[:size])
		items = items[size:]
	}
	return out
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
