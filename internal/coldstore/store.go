// Package coldstore is the durable relational record of the relay: burns,
// confirmed transactions, per-token statistics, the audit log, and daily
// aggregates (§3 ColdStore, §4.7). It follows the gateway style of
// api/billing (a small struct wrapping a connection plus typed request/
// response structs) but replaces billing's in-process maps with a real
// Postgres-backed pgxpool.Pool, since the relay's cold data must survive a
// process restart (§4.2 "ColdStore ... persisted, queryable").
package coldstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sovrn-protocol/relay/internal/breaker"
	"github.com/sovrn-protocol/relay/internal/domain"
)

// ErrUnavailable is returned by every operation while the store's breaker
// is open.
var ErrUnavailable = errors.New("coldstore: circuit open, database unavailable")

// Store is the cold relational persistence layer for C3.
type Store struct {
	mu   sync.RWMutex
	pool *pgxpool.Pool
	dsn  string // empty when built from a caller-owned pool with no reconnect loop

	breaker *breaker.Breaker
	logger  *zap.Logger
	retry   RetryFunc
}

// RetryFunc executes op with whatever backoff policy the caller wants
// (cenkalti/backoff/v5 in production, a no-op passthrough in tests).
type RetryFunc func(ctx context.Context, op func() error) error

// Config parameterizes the breaker guarding the pool.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenTrials   int
}

// isConstraintViolation matches the non-qualifying failure class (§4.9):
// a unique/check constraint failing is an expected outcome (e.g. duplicate
// burn proof), not an infrastructure failure, and must not trip the breaker.
func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23514", "23503":
			return true
		}
	}
	return false
}

func classify(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBurnNotFound) || errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	return !isConstraintViolation(err)
}

// New wraps an existing pgxpool.Pool opened from databaseURL. Retry
// defaults to a direct call (no backoff) until WithRetry installs a
// policy. databaseURL may be empty for a pool the caller manages entirely
// itself, in which case StartReconnectLoop is a no-op.
func New(pool *pgxpool.Pool, databaseURL string, cfg Config, logger *zap.Logger) *Store {
	return &Store{
		pool: pool,
		dsn:  databaseURL,
		breaker: breaker.New(breaker.Config{
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     cfg.ResetTimeout,
			HalfOpenTrials:   cfg.HalfOpenTrials,
			Classify:         classify,
		}),
		logger: logger,
		retry:  func(ctx context.Context, op func() error) error { return op() },
	}
}

// WithRetry installs a retry policy (e.g. backed by cenkalti/backoff/v5)
// used for transient failures inside withDB.
func (s *Store) WithRetry(r RetryFunc) *Store {
	s.retry = r
	return s
}

// currentPool returns the pool in effect right now, safe to call
// concurrently with StartReconnectLoop's swap.
func (s *Store) currentPool() *pgxpool.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

// StartReconnectLoop periodically replaces the underlying pool while the
// breaker has been open, so a connection-level failure that wedges every
// connection in the pool (rather than just a string of query failures)
// doesn't leave the store stuck retrying the same broken pool forever
// (§4.9 "a background reconnect timer replaces the pool on
// connection-level failures"). No-op if the store wasn't built with a
// databaseURL. Runs until ctx is cancelled.
func (s *Store) StartReconnectLoop(ctx context.Context, interval time.Duration) {
	if s.dsn == "" {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tryReconnect(ctx)
			}
		}
	}()
}

func (s *Store) tryReconnect(ctx context.Context) {
	if s.breaker.State() != breaker.Open {
		return
	}
	newPool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("coldstore: reconnect attempt failed", zap.Error(err))
		}
		return
	}
	if err := newPool.Ping(ctx); err != nil {
		newPool.Close()
		if s.logger != nil {
			s.logger.Warn("coldstore: reconnect ping failed", zap.Error(err))
		}
		return
	}

	s.mu.Lock()
	old := s.pool
	s.pool = newPool
	s.mu.Unlock()
	old.Close()

	if s.logger != nil {
		s.logger.Info("coldstore: pool replaced after sustained connection failure")
	}
}

// withDB is the C3 "op/retries/fallback" wrapper spec.md describes: it
// gates the call behind the breaker, retries transient failures, and
// reports the outcome back so repeated infra failures open the circuit.
func (s *Store) withDB(ctx context.Context, op func(ctx context.Context) error) error {
	if !s.breaker.Allow() {
		return ErrUnavailable
	}
	err := s.retry(ctx, func() error { return op(ctx) })
	s.breaker.Report(err)
	if err != nil && s.logger != nil && !isConstraintViolation(err) {
		s.logger.Warn("coldstore: operation failed", zap.Error(err), zap.String("breaker_state", string(s.breaker.State())))
	}
	return err
}

// Healthy reports whether the breaker currently admits traffic.
func (s *Store) Healthy() bool { return s.breaker.State() != breaker.Open }

// RetryAfter surfaces the breaker's cooldown for §7 error responses.
func (s *Store) RetryAfter() int { return s.breaker.RetryAfter() }

// Ping exercises the pool directly, bypassing the breaker's Allow gate so
// a health probe can distinguish "circuit open because of past failures"
// from "database actually still down right now."
func (s *Store) Ping(ctx context.Context) error {
	return s.currentPool().Ping(ctx)
}

// ---- Burns ----

func (s *Store) InsertBurn(ctx context.Context, b *domain.BurnProof) error {
	return s.withDB(ctx, func(ctx context.Context) error {
		_, err := s.currentPool().Exec(ctx, `
			INSERT INTO burns (signature, kind, amount_ecotoken, amount_native, treasury_retained, source_token, explorer_url, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (signature) DO NOTHING
		`, b.Signature, string(b.Kind), b.AmountEcotoken, b.AmountNative, b.TreasuryRetained, b.SourceToken, b.ExplorerURL, b.Timestamp)
		return err
	})
}

func (s *Store) BurnsSince(ctx context.Context, since time.Time) ([]domain.BurnProof, error) {
	var out []domain.BurnProof
	err := s.withDB(ctx, func(ctx context.Context) error {
		rows, err := s.currentPool().Query(ctx, `
			SELECT signature, kind, amount_ecotoken, amount_native, treasury_retained, source_token, explorer_url, created_at
			FROM burns WHERE created_at >= $1 ORDER BY created_at DESC
		`, since)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var b domain.BurnProof
			var kind string
			if err := rows.Scan(&b.Signature, &kind, &b.AmountEcotoken, &b.AmountNative, &b.TreasuryRetained, &b.SourceToken, &b.ExplorerURL, &b.Timestamp); err != nil {
				return err
			}
			b.Kind = domain.BurnKind(kind)
			out = append(out, b)
		}
		return rows.Err()
	})
	return out, err
}

// ErrBurnNotFound is returned by BurnBySignature when no row matches.
var ErrBurnNotFound = errors.New("coldstore: burn not found")

func (s *Store) BurnBySignature(ctx context.Context, signature string) (*domain.BurnProof, error) {
	var b domain.BurnProof
	err := s.withDB(ctx, func(ctx context.Context) error {
		var kind string
		scanErr := s.currentPool().QueryRow(ctx, `
			SELECT signature, kind, amount_ecotoken, amount_native, treasury_retained, source_token, explorer_url, created_at
			FROM burns WHERE signature = $1
		`, signature).Scan(&b.Signature, &kind, &b.AmountEcotoken, &b.AmountNative, &b.TreasuryRetained, &b.SourceToken, &b.ExplorerURL, &b.Timestamp)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return ErrBurnNotFound
			}
			return scanErr
		}
		b.Kind = domain.BurnKind(kind)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ---- Transactions ----

func (s *Store) InsertTransaction(ctx context.Context, tx *domain.TransactionRecord) error {
	return s.withDB(ctx, func(ctx context.Context) error {
		_, err := s.currentPool().Exec(ctx, `
			INSERT INTO transactions (quote_id, signature, user_account, fee_payer_account, payment_token, fee_amount, fee_native, confirmed, ignition_signature, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (signature) DO NOTHING
		`, tx.QuoteID, tx.Signature, tx.UserAccount, tx.FeePayerAccount, tx.PaymentToken, tx.FeeAmount, tx.FeeNative, tx.Confirmed, tx.IgnitionSig, tx.Timestamp)
		return err
	})
}

// TransactionsSince returns confirmed transactions from the given instant
// onward, most recent first, for the admin transaction history view.
func (s *Store) TransactionsSince(ctx context.Context, since time.Time) ([]domain.TransactionRecord, error) {
	var out []domain.TransactionRecord
	err := s.withDB(ctx, func(ctx context.Context) error {
		rows, err := s.currentPool().Query(ctx, `
			SELECT quote_id, signature, user_account, fee_payer_account, payment_token, fee_amount, fee_native, confirmed, ignition_signature, created_at
			FROM transactions WHERE created_at >= $1 ORDER BY created_at DESC
		`, since)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t domain.TransactionRecord
			if err := rows.Scan(&t.QuoteID, &t.Signature, &t.UserAccount, &t.FeePayerAccount, &t.PaymentToken, &t.FeeAmount, &t.FeeNative, &t.Confirmed, &t.IgnitionSig, &t.Timestamp); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// ---- Token statistics ----

func (s *Store) UpsertTokenStats(ctx context.Context, tokenMint string, deltaVolume, deltaBurned, deltaTreasury int64, txCount int64) error {
	return s.withDB(ctx, func(ctx context.Context) error {
		_, err := s.currentPool().Exec(ctx, `
			INSERT INTO token_stats (token_mint, total_volume, total_burned, total_treasury, tx_count, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (token_mint) DO UPDATE SET
				total_volume = token_stats.total_volume + EXCLUDED.total_volume,
				total_burned = token_stats.total_burned + EXCLUDED.total_burned,
				total_treasury = token_stats.total_treasury + EXCLUDED.total_treasury,
				tx_count = token_stats.tx_count + EXCLUDED.tx_count,
				updated_at = now()
		`, tokenMint, deltaVolume, deltaBurned, deltaTreasury, txCount)
		return err
	})
}

// TokenStatsRow is the per-token row surfaced to /v1/stats/treasury.
type TokenStatsRow struct {
	TokenMint     string
	TotalVolume   int64
	TotalBurned   int64
	TotalTreasury int64
	TxCount       int64
}

func (s *Store) TokenStats(ctx context.Context, tokenMint string) (*TokenStatsRow, error) {
	var row TokenStatsRow
	err := s.withDB(ctx, func(ctx context.Context) error {
		return s.currentPool().QueryRow(ctx, `
			SELECT token_mint, total_volume, total_burned, total_treasury, tx_count
			FROM token_stats WHERE token_mint = $1
		`, tokenMint).Scan(&row.TokenMint, &row.TotalVolume, &row.TotalBurned, &row.TotalTreasury, &row.TxCount)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ---- Audit log ----

func (s *Store) InsertAudit(ctx context.Context, e *domain.AuditEntry) error {
	return s.withDB(ctx, func(ctx context.Context) error {
		_, err := s.currentPool().Exec(ctx, `
			INSERT INTO audit_log (event_type, wallet, ip, severity, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.Type, e.Wallet, e.IP, string(e.Severity), toJSONB(e.Payload), e.Timestamp)
		return err
	})
}

// ---- Daily aggregates ----

func (s *Store) UpsertDailyAggregate(ctx context.Context, day string, d domain.DailyAggregate) error {
	return s.withDB(ctx, func(ctx context.Context) error {
		_, err := s.currentPool().Exec(ctx, `
			INSERT INTO daily_stats (day, burns, transactions, unique_wallets, fees_native, treasury_balance_end)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (day) DO UPDATE SET
				burns = daily_stats.burns + EXCLUDED.burns,
				transactions = daily_stats.transactions + EXCLUDED.transactions,
				unique_wallets = GREATEST(daily_stats.unique_wallets, EXCLUDED.unique_wallets),
				fees_native = daily_stats.fees_native + EXCLUDED.fees_native,
				treasury_balance_end = EXCLUDED.treasury_balance_end
		`, day, d.Burns, d.Transactions, d.UniqueWallets, d.FeesNative, d.TreasuryBalance)
		return err
	})
}

func (s *Store) DailyAggregates(ctx context.Context, sinceDay string) ([]domain.DailyAggregate, error) {
	var out []domain.DailyAggregate
	err := s.withDB(ctx, func(ctx context.Context) error {
		rows, err := s.currentPool().Query(ctx, `
			SELECT day, burns, transactions, unique_wallets, fees_native, treasury_balance_end
			FROM daily_stats WHERE day >= $1 ORDER BY day
		`, sinceDay)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var d domain.DailyAggregate
			if err := rows.Scan(&d.Day, &d.Burns, &d.Transactions, &d.UniqueWallets, &d.FeesNative, &d.TreasuryBalance); err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

func toJSONB(m map[string]interface{}) []byte {
	if m == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}
