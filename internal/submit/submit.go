// Package submit implements the submit service (C7): quote load and
// expiry check, transaction-structure validation, atomic anti-replay
// claim, co-sign, RPC submit with failover and classified retry, and
// confirmation recording across C3/C9/C12 (§4.5). Grounded on the
// teacher's api/billing multi_party_handlers.go's multi-step escrow flow
// (validate -> reserve -> execute -> record), generalized from a fiat
// escrow release to a chain transaction co-sign and submit.
package submit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/sovrn-protocol/relay/internal/audit"
	"github.com/sovrn-protocol/relay/internal/coldstore"
	"github.com/sovrn-protocol/relay/internal/collaborators"
	"github.com/sovrn-protocol/relay/internal/domain"
	"github.com/sovrn-protocol/relay/internal/feepayer"
	"github.com/sovrn-protocol/relay/internal/hotstore"
	"github.com/sovrn-protocol/relay/internal/relayerrors"
	"github.com/sovrn-protocol/relay/internal/rpcpool"
	"github.com/sovrn-protocol/relay/internal/velocity"
)

// Request is the inbound submit request.
type Request struct {
	QuoteID    string
	SignedTx   []byte
	RPCURL     string // used by the ChainClient collaborator for RPC reads
}

// Response is returned to the caller on confirmed submission.
type Response struct {
	Signature         string
	IgnitionSignature string
}

// Config parameterizes replay TTL and retry bounds.
type Config struct {
	AntiReplayTTL   time.Duration // ~ blockhash validity window, §3
	MaxRetries      uint
	RetryMaxElapsed time.Duration
	ConfirmTimeout  time.Duration

	IgnitionEnabled     bool
	IgnitionDestination string
	IgnitionAmount      int64
}

// Service is C7.
type Service struct {
	cfg       Config
	store     hotstore.Store
	cold      *coldstore.Store
	pool      *rpcpool.Pool
	payers    *feepayer.Pool
	chain     collaborators.ChainClient
	velocity  *velocity.Accountant
	auditor   *audit.Recorder
	logger    *zap.Logger
}

// New builds the submit service.
func New(cfg Config, store hotstore.Store, cold *coldstore.Store, pool *rpcpool.Pool, payers *feepayer.Pool, chain collaborators.ChainClient, vel *velocity.Accountant, auditor *audit.Recorder, logger *zap.Logger) *Service {
	return &Service{cfg: cfg, store: store, cold: cold, pool: pool, payers: payers, chain: chain, velocity: vel, auditor: auditor, logger: logger}
}

func fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// retryableSubmitError classifies the transient-error set from §4.5 step 5.
func retryableSubmitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	transientMarkers := []string{
		"blockhash not found", "blockhash expired", "simulation",
		"rate limit", "too many requests", "connection reset",
		"connection refused", "timeout", "unavailable",
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func isBlockhashError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "blockhash not found")
}

// Submit runs the full C7 algorithm.
func (s *Service) Submit(ctx context.Context, req Request) (*Response, *relayerrors.Error) {
	q, err := s.store.GetQuote(ctx, req.QuoteID)
	if err != nil {
		if errors.Is(err, hotstore.ErrNotFound) {
			return nil, relayerrors.NotFound("quote not found")
		}
		return nil, relayerrors.Internal("loading quote", err)
	}

	if q.Expired(time.Now()) {
		s.payers.Release(q.ID)
		_ = s.store.DeleteQuote(ctx, q.ID)
		return nil, relayerrors.Expired("quote has expired")
	}

	if verr := s.validateStructure(q, req.SignedTx); verr != nil {
		return nil, verr
	}

	fp := fingerprint(req.SignedTx)
	claimed, cerr := s.store.ClaimAntiReplay(ctx, fp, s.cfg.AntiReplayTTL)
	if cerr != nil {
		return nil, relayerrors.Internal("claiming anti-replay slot", cerr)
	}
	if !claimed {
		return nil, relayerrors.Replay("transaction already submitted")
	}

	signature, rerr := s.coSignAndSubmit(ctx, req.RPCURL, req.SignedTx, q.FeePayerAccount)
	if rerr != nil {
		_ = s.store.ReleaseAntiReplay(ctx, fp)
		s.payers.Release(q.ID)
		return nil, rerr
	}

	resp := &Response{Signature: signature}

	if q.Type == domain.QuoteIgnition && s.cfg.IgnitionEnabled {
		ignitionSig, ierr := s.runIgnitionTransfer(ctx, req.RPCURL, q)
		if ierr != nil && s.logger != nil {
			s.logger.Warn("submit: ignition transfer failed", zap.String("quote_id", q.ID), zap.Error(ierr))
		}
		resp.IgnitionSignature = ignitionSig
	}

	s.recordConfirmation(ctx, q, resp)
	return resp, nil
}

func (s *Service) validateStructure(q *domain.Quote, raw []byte) *relayerrors.Error {
	var reasons []string

	feePayer, err := s.chain.ExtractFeePayer(raw)
	if err != nil {
		reasons = append(reasons, "unable to extract fee payer: "+err.Error())
	} else if feePayer != q.FeePayerAccount {
		reasons = append(reasons, "fee-payer mismatch")
	}

	verified, err := s.chain.VerifyUserSignature(raw, q.UserAccount)
	if err != nil {
		reasons = append(reasons, "user signature verification error: "+err.Error())
	} else if !verified {
		reasons = append(reasons, "user signature missing or invalid")
	}

	signed, err := s.chain.IsFeePayerSigned(raw, q.FeePayerAccount)
	if err != nil {
		reasons = append(reasons, "fee-payer signature check error: "+err.Error())
	} else if signed {
		reasons = append(reasons, "fee payer must not be pre-signed")
	}

	if len(reasons) > 0 {
		return relayerrors.Validation("transaction structure invalid", reasons...)
	}
	return nil
}

func (s *Service) coSignAndSubmit(ctx context.Context, rpcURL string, raw []byte, feePayerPubkey string) (string, *relayerrors.Error) {
	blockhash, hashErr := s.currentBlockhash(ctx, rpcURL)
	if hashErr != nil {
		return "", relayerrors.ChainSubmit("fetching blockhash", hashErr)
	}
	_ = blockhash // attached by the chain-client collaborator during CoSign

	signed, signErr := s.chain.CoSign(raw, feePayerPubkey)
	if signErr != nil {
		return "", relayerrors.ChainSubmit("co-signing transaction", signErr)
	}

	var signature string
	op := func() (string, error) {
		result, endpointName, execErr := s.pool.ExecuteWithFailover(ctx, func(ctx context.Context, ep rpcpool.Endpoint) (interface{}, error) {
			return s.chain.SendTransaction(ctx, ep.URL, signed)
		})
		if execErr != nil {
			if isBlockhashError(execErr) {
				s.pool.InvalidateBlockhash()
			}
			if !retryableSubmitError(execErr) {
				return "", backoff.Permanent(execErr)
			}
			return "", execErr
		}
		sig, _ := result.(string)
		if s.logger != nil {
			s.logger.Debug("submit: sent transaction", zap.String("endpoint", endpointName), zap.String("signature", sig))
		}
		return sig, nil
	}

	result, retryErr := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.cfg.MaxRetries),
		backoff.WithMaxElapsedTime(s.cfg.RetryMaxElapsed),
	)
	if retryErr != nil {
		return "", relayerrors.ChainSubmit("transaction submission failed", retryErr)
	}
	signature = result

	confirmed, confErr := s.chain.ConfirmTransaction(ctx, rpcURL, signature, s.cfg.ConfirmTimeout)
	if confErr != nil || !confirmed {
		return "", relayerrors.ChainSubmit("transaction did not confirm", confErr)
	}
	return signature, nil
}

func (s *Service) currentBlockhash(ctx context.Context, rpcURL string) (string, error) {
	if cached, ok := s.pool.CachedBlockhash(); ok {
		return cached, nil
	}
	bh, err := s.chain.LatestBlockhash(ctx, rpcURL)
	if err != nil {
		return "", err
	}
	s.pool.SetCachedBlockhash(bh)
	return bh, nil
}

func (s *Service) runIgnitionTransfer(ctx context.Context, rpcURL string, q *domain.Quote) (string, error) {
	if q.IgnitionDestination == "" {
		return "", fmt.Errorf("submit: ignition quote missing destination")
	}
	raw := []byte(fmt.Sprintf("transfer:%s:%s:%d", q.FeePayerAccount, q.IgnitionDestination, q.IgnitionAmount))
	signed, err := s.chain.CoSign(raw, q.FeePayerAccount)
	if err != nil {
		return "", err
	}
	sig, err := s.chain.SendTransaction(ctx, rpcURL, signed)
	if err != nil {
		return "", err
	}
	confirmed, err := s.chain.ConfirmTransaction(ctx, rpcURL, sig, s.cfg.ConfirmTimeout)
	if err != nil || !confirmed {
		return "", fmt.Errorf("ignition transfer did not confirm")
	}
	return sig, nil
}

func (s *Service) recordConfirmation(ctx context.Context, q *domain.Quote, resp *Response) {
	now := time.Now()
	record := &domain.TransactionRecord{
		QuoteID:         q.ID,
		Signature:       resp.Signature,
		UserAccount:     q.UserAccount,
		FeePayerAccount: q.FeePayerAccount,
		PaymentToken:    q.PaymentToken,
		FeeAmount:       q.FeeAmount,
		FeeNative:       q.FeeNative,
		Confirmed:       true,
		IgnitionSig:     resp.IgnitionSignature,
		Timestamp:       now,
	}

	if s.cold != nil {
		if err := s.cold.InsertTransaction(ctx, record); err != nil && s.logger != nil {
			s.logger.Warn("submit: recording transaction failed", zap.String("signature", resp.Signature), zap.Error(err))
		}
		day := now.UTC().Format("2006-01-02")
		agg := domain.DailyAggregate{Transactions: 1, FeesNative: q.FeeNative}
		if err := s.cold.UpsertDailyAggregate(ctx, day, agg); err != nil && s.logger != nil {
			s.logger.Warn("submit: daily aggregate upsert failed", zap.Error(err))
		}
	}

	if s.auditor != nil {
		_ = s.auditor.Record(ctx, audit.Event{
			Type:   "submit_confirmed",
			Wallet: q.UserAccount,
			Fields: map[string]interface{}{"signature": resp.Signature, "fee_native": q.FeeNative},
		})
	}

	if s.velocity != nil {
		_ = s.velocity.Record(ctx, q.FeePayerAccount, q.FeeNative)
	}

	s.payers.Release(q.ID)
	_ = s.store.DeleteQuote(ctx, q.ID)
}
