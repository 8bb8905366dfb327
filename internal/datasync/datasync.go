// Package datasync implements the data-sync worker (C10): periodically
// folds hot-tier statistics deltas into the cold relational tier, seeds
// the hot tier from cold on a hot-wipe cold start, and reconciles the
// in-memory fallback's accumulated counters back into Redis once it
// reconnects (§4.10). Scheduling follows the same robfig/cron pattern as
// the burn worker (internal/treasury), grounded on the teacher's
// api/wallet/dividend_distributor.go.
package datasync

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sovrn-protocol/relay/internal/coldstore"
	"github.com/sovrn-protocol/relay/internal/domain"
	"github.com/sovrn-protocol/relay/internal/hotstore"
)

const globalStatsKey = "stats:global"

// Config parameterizes the sync interval.
type Config struct {
	Interval time.Duration // ~5 min, §4.10
}

// Worker is C10. fallback is optional: only a *hotstore.FallbackStore
// exposes the reconnect-fold hooks, so it's nil when the hot tier is a
// bare RedisStore/MemoryStore.
type Worker struct {
	cfg      Config
	store    hotstore.Store
	fallback *hotstore.FallbackStore
	cold     *coldstore.Store
	logger   *zap.Logger

	lastSynced map[string]int64
	cron       *cron.Cron
}

// New builds a data-sync worker. Pass fallback as nil unless store is
// backed by a hotstore.FallbackStore with AllowFallback enabled.
func New(cfg Config, store hotstore.Store, fallback *hotstore.FallbackStore, cold *coldstore.Store, logger *zap.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Worker{
		cfg: cfg, store: store, fallback: fallback, cold: cold, logger: logger,
		lastSynced: make(map[string]int64),
		cron:       cron.New(),
	}
}

// Start schedules the periodic sync (§4.10 "every ~5 min").
func (w *Worker) Start(ctx context.Context) error {
	spec := "@every " + w.cfg.Interval.String()
	_, err := w.cron.AddFunc(spec, func() { w.runSafely(ctx) })
	if err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

// Stop halts the scheduler; in-flight cycles are allowed to finish.
func (w *Worker) Stop() {
	stopCtx := w.cron.Stop()
	<-stopCtx.Done()
}

func (w *Worker) runSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil && w.logger != nil {
			w.logger.Error("datasync: cycle panicked", zap.Any("recover", r))
		}
	}()
	if err := w.SyncDeltas(ctx); err != nil && w.logger != nil {
		w.logger.Warn("datasync: delta sync failed", zap.Error(err))
	}
	if w.fallback != nil && w.fallback.InFallback() {
		if err := w.ReconcileAfterReconnect(ctx); err != nil && w.logger != nil {
			w.logger.Warn("datasync: reconnect fold failed", zap.Error(err))
		}
	}
}

// SyncDeltas reads the current hot-tier global statistics, diffs them
// against the last-synced snapshot, and upserts the delta into the cold
// tier's daily_stats row for today (UTC) (§4.10 step 1).
func (w *Worker) SyncDeltas(ctx context.Context) error {
	if w.cold == nil {
		return nil
	}
	current, err := w.store.HGetAll(ctx, globalStatsKey)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		return nil
	}

	delta := domain.DailyAggregate{}
	var anyDelta bool
	for field, value := range current {
		prev := w.lastSynced[field]
		d := value - prev
		if d == 0 {
			continue
		}
		anyDelta = true
		switch field {
		case "burn_total":
			delta.Burns += d
		case "tx_count":
			delta.Transactions += d
		case "unique_wallets":
			delta.UniqueWallets += d
		case "fees_native":
			delta.FeesNative += d
		case "treasury_balance_end":
			delta.TreasuryBalance = value // absolute, not additive
		}
	}
	if !anyDelta {
		return nil
	}

	day := time.Now().UTC().Format("2006-01-02")
	if err := w.cold.UpsertDailyAggregate(ctx, day, delta); err != nil {
		return err
	}

	for field, value := range current {
		w.lastSynced[field] = value
	}
	return nil
}

// SeedFromCold runs once at startup: if the hot tier's global statistics
// are empty (a hot-wipe) but the cold tier holds burn/transaction
// aggregates, it reseeds the hot hash so public counters don't reset to
// zero (§4.10 "On startup").
func (w *Worker) SeedFromCold(ctx context.Context) error {
	if w.cold == nil {
		return nil
	}
	current, err := w.store.HGetAll(ctx, globalStatsKey)
	if err != nil {
		return err
	}
	if len(current) > 0 {
		return nil
	}

	aggregates, err := w.cold.DailyAggregates(ctx, "1970-01-01")
	if err != nil {
		return err
	}
	if len(aggregates) == 0 {
		return nil
	}

	seed := map[string]int64{}
	for _, agg := range aggregates {
		seed["burn_total"] += agg.Burns
		seed["tx_count"] += agg.Transactions
		seed["unique_wallets"] += agg.UniqueWallets
		seed["fees_native"] += agg.FeesNative
	}
	if err := w.store.HSetAll(ctx, globalStatsKey, seed); err != nil {
		return err
	}
	for field, value := range seed {
		w.lastSynced[field] = value
	}
	if w.logger != nil {
		w.logger.Info("datasync: seeded hot tier from cold aggregates", zap.Int("days", len(aggregates)))
	}
	return nil
}

// ReconcileAfterReconnect folds the in-memory fallback's accumulated
// statistics and leaderboard entries back into the now-reachable primary
// store: additive merge for hash counters, union (score-additive) for the
// leaderboard sorted set (§4.10 "On reconnect"). Quotes, rate-limit
// counters and anti-replay slots are never part of this fold since
// DrainForMerge only surfaces durable hash/zset keys.
func (w *Worker) ReconcileAfterReconnect(ctx context.Context) error {
	if w.fallback == nil || !w.fallback.InFallback() {
		return nil
	}
	primary := w.fallback.Primary()
	if err := primary.Ping(ctx); err != nil {
		return err // still unreachable; stay in fallback mode
	}

	hashes, zsets := w.fallback.Fallback().DrainForMerge()
	for hashKey, fields := range hashes {
		if err := primary.HIncrByMap(ctx, hashKey, fields); err != nil {
			return err
		}
	}
	for setKey, members := range zsets {
		for member, score := range members {
			if err := primary.ZIncrBy(ctx, setKey, member, score); err != nil {
				return err
			}
		}
	}

	w.fallback.MarkRecovered()
	if w.logger != nil {
		w.logger.Info("datasync: reconnect fold complete", zap.Int("hashes", len(hashes)), zap.Int("zsets", len(zsets)))
	}
	return nil
}
