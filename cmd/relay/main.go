// Command relay runs the gasless-transaction relay HTTP service: it loads
// configuration from the environment, wires the core subsystems together,
// starts the background workers, and serves the HTTP surface until an
// interrupt or terminate signal arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sovrn-protocol/relay/internal/audit"
	"github.com/sovrn-protocol/relay/internal/coldstore"
	"github.com/sovrn-protocol/relay/internal/collaborators"
	"github.com/sovrn-protocol/relay/internal/config"
	"github.com/sovrn-protocol/relay/internal/datasync"
	"github.com/sovrn-protocol/relay/internal/domain"
	"github.com/sovrn-protocol/relay/internal/feepayer"
	"github.com/sovrn-protocol/relay/internal/hotstore"
	"github.com/sovrn-protocol/relay/internal/httpapi"
	"github.com/sovrn-protocol/relay/internal/quote"
	"github.com/sovrn-protocol/relay/internal/rpcpool"
	"github.com/sovrn-protocol/relay/internal/submit"
	"github.com/sovrn-protocol/relay/internal/treasury"
	"github.com/sovrn-protocol/relay/internal/velocity"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, fallback, err := buildHotStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building hot store: %w", err)
	}

	var cold *coldstore.Store
	if cfg.DatabaseURL != "" {
		if err := coldstore.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("applying cold-store migrations: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting cold store: %w", err)
		}
		defer pool.Close()
		cold = coldstore.New(pool, cfg.DatabaseURL, coldstore.Config{
			FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenTrials: 1,
		}, logger).WithRetry(coldstore.DefaultRetry(5 * time.Second))
		cold.StartReconnectLoop(ctx, 15*time.Second)
	}

	rpcPool := rpcpool.New(rpcpool.Config{
		FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenTrials: 2,
		LatencySamples: 50, BlockhashTTL: 5 * time.Second,
	}, logger, buildEndpoints(cfg)...)

	payers, signers := buildFeePayerPool(cfg, logger)

	chain := collaborators.NewMockChainClient(initialBalances(signers))
	oracle := collaborators.NewMockVerificationOracle(acceptedMints(cfg), 1_000_000_000)
	dex := collaborators.NewMockDEXAggregator(map[string]float64{"native:" + cfg.EcotokenMint: 50})

	vel := velocity.New(store)
	auditor := audit.New(audit.Config{Window: cfg.AnomalyWindow(), MinFloor: 10}, store, cold, logger)

	quoteSvc := quote.New(quote.Config{
		BaseFeeNative:          cfg.BaseFeeLamports,
		FeeMarkup:              decimal.NewFromFloat(cfg.FeeMarkup),
		NetworkFeeNative:       cfg.NetworkFeeLamports,
		QuoteTTL:               cfg.QuoteTTL(),
		BufferNative:           1000,
		SponsoredQuotesEnabled: cfg.SponsoredQuotesEnabled,
	}, store, payers, oracle, dex, logger, func(mint string) (string, error) {
		return "treasury-" + mint, nil
	})

	submitSvc := submit.New(submit.Config{
		AntiReplayTTL: 90 * time.Second, MaxRetries: 5, RetryMaxElapsed: 20 * time.Second,
		ConfirmTimeout: 30 * time.Second, IgnitionEnabled: cfg.IgnitionEnabled,
		IgnitionDestination: cfg.IgnitionDestination, IgnitionAmount: cfg.IgnitionAmount,
	}, store, cold, rpcPool, payers, chain, vel, auditor, logger)

	treasuryWorker := treasury.New(treasury.Config{
		Interval: time.Minute, InitialDelay: 10 * time.Second, LockTTL: 45 * time.Second,
		USDValueFloor: 1.0, EcosystemMint: cfg.EcotokenMint, TreasuryOwner: "treasury-owner",
		HoursRunway: 6, MinBufferFloor: 50_000, MaxBatchInstructions: 10, RPCURL: cfg.RPCURL,
	}, store, cold, payers, chain, dex, oracle, vel, nil, logger)

	// Built regardless of whether Redis fallback is configured: reconnect
	// reconciliation needs fallback, but cold-store seeding (below) only
	// needs store+cold, and a cold-store-backed dev config with no Redis
	// should still seed on boot.
	dataSyncWorker := datasync.New(datasync.Config{Interval: 5 * time.Minute}, store, fallback, cold, logger)

	if err := dataSyncWorker.SeedFromCold(ctx); err != nil {
		logger.Warn("relay: seeding hot counters from cold store failed", zap.Error(err))
	}

	if err := treasuryWorker.Start(ctx); err != nil {
		return fmt.Errorf("starting treasury worker: %w", err)
	}
	defer treasuryWorker.Stop()

	if err := dataSyncWorker.Start(ctx); err != nil {
		return fmt.Errorf("starting data-sync worker: %w", err)
	}
	defer dataSyncWorker.Stop()

	server := httpapi.New(httpapi.Config{
		AllowedOrigins:         cfg.AllowedOrigins,
		WalletQuoteLimit:       cfg.WalletQuoteLimit,
		WalletSubmitLimit:      cfg.WalletSubmitLimit,
		RPCURL:                 cfg.RPCURL,
		AdminAPIKey:            cfg.AdminAPIKey,
		SponsoredQuotesEnabled: cfg.SponsoredQuotesEnabled,
		IgnitionEnabled:        cfg.IgnitionEnabled,
		IgnitionDestination:    cfg.IgnitionDestination,
		IgnitionAmount:         cfg.IgnitionAmount,
		LegacyHotStoreKeys:     []string{"quote", "antireplay", "leaderboard"},
	}, quoteSvc, submitSvc, treasuryWorker, store, cold, rpcPool, payers, oracle, vel, auditor, logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay: listening", zap.Int("port", cfg.Port), zap.String("env", string(cfg.Env)))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("relay: shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func newLogger(env config.Env) (*zap.Logger, error) {
	if env == config.EnvProduction {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func buildHotStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (hotstore.Store, *hotstore.FallbackStore, error) {
	if cfg.RedisURL == "" {
		return hotstore.NewMemoryStore(time.Minute), nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	primary := hotstore.NewRedisStore(client, "relay")
	allowFallback := cfg.Env == config.EnvDevelopment
	fallback := hotstore.NewFallbackStore(primary, hotstore.NewMemoryStore(time.Minute), allowFallback, logger)
	return fallback, fallback, nil
}

func buildEndpoints(cfg *config.Config) []rpcpool.Endpoint {
	endpoints := []rpcpool.Endpoint{{Name: "primary", URL: cfg.RPCURL, Priority: 0}}
	if cfg.HeliusAPIKey != "" {
		endpoints = append(endpoints, rpcpool.Endpoint{Name: "helius", URL: "https://rpc.helius.xyz", Priority: 1})
	}
	if cfg.TritonAPIKey != "" {
		endpoints = append(endpoints, rpcpool.Endpoint{Name: "triton", URL: "https://rpc.triton.one", Priority: 2})
	}
	return endpoints
}

func buildFeePayerPool(cfg *config.Config, logger *zap.Logger) (*feepayer.Pool, map[string]feepayer.Signer) {
	var feePayers []*domain.FeePayer
	signers := make(map[string]feepayer.Signer)
	keys := cfg.FeePayerKeys
	if len(keys) == 0 && cfg.FeePayerPrivateKey != "" {
		keys = []string{cfg.FeePayerPrivateKey}
	}
	for i, key := range keys {
		pubkey := pubkeyFromSigner(key)
		feePayers = append(feePayers, &domain.FeePayer{Pubkey: pubkey, Priority: i, LastBalanceAt: time.Now()})
		signers[pubkey] = mockSigner(pubkey)
	}
	pool := feepayer.New(feepayer.Config{
		FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenTrials: 1,
		MinHealthyBalance: 50_000, MaxBalanceAge: 10 * time.Minute,
	}, logger, feePayers, signers)
	return pool, signers
}

// pubkeyFromSigner derives a display pubkey from configured key material.
// The real signer/keypair derivation is outside scope (§1 Non-goals: wallet
// signing); this mirrors the key verbatim since the mock signer doesn't
// need a real derivation.
func pubkeyFromSigner(key string) string { return key }

type mockSigner string

func (m mockSigner) Pubkey() string { return string(m) }

func initialBalances(signers map[string]feepayer.Signer) map[string]int64 {
	balances := make(map[string]int64, len(signers))
	for pubkey := range signers {
		balances[pubkey] = 10_000_000
	}
	return balances
}

func acceptedMints(cfg *config.Config) []string {
	if cfg.EcotokenMint == "" {
		return nil
	}
	return []string{cfg.EcotokenMint}
}
