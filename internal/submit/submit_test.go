package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sovrn-protocol/relay/internal/audit"
	"github.com/sovrn-protocol/relay/internal/domain"
	"github.com/sovrn-protocol/relay/internal/feepayer"
	"github.com/sovrn-protocol/relay/internal/hotstore"
	"github.com/sovrn-protocol/relay/internal/rpcpool"
	"github.com/sovrn-protocol/relay/internal/velocity"
)

type stubSigner string

func (s stubSigner) Pubkey() string { return string(s) }

type fakeChain struct {
	feePayer      string
	userVerified  bool
	preSigned     bool
	sendErr       error
	sendErrOnce   bool
	sent          bool
	confirmResult bool
	confirmErr    error
}

func (f *fakeChain) LatestBlockhash(ctx context.Context, rpcURL string) (string, error) {
	return "hash1", nil
}
func (f *fakeChain) SimulateTransaction(ctx context.Context, rpcURL string, raw []byte) error {
	return nil
}
func (f *fakeChain) SendTransaction(ctx context.Context, rpcURL string, raw []byte) (string, error) {
	if f.sendErr != nil && (!f.sendErrOnce || !f.sent) {
		f.sent = true
		return "", f.sendErr
	}
	return "sig123", nil
}
func (f *fakeChain) ConfirmTransaction(ctx context.Context, rpcURL, signature string, timeout time.Duration) (bool, error) {
	if f.confirmErr != nil {
		return false, f.confirmErr
	}
	return f.confirmResult, nil
}
func (f *fakeChain) CoSign(raw []byte, feePayerPubkey string) ([]byte, error) {
	return append([]byte("signed:"), raw...), nil
}
func (f *fakeChain) VerifyUserSignature(raw []byte, userAccount string) (bool, error) {
	return f.userVerified, nil
}
func (f *fakeChain) IsFeePayerSigned(raw []byte, feePayerPubkey string) (bool, error) {
	return f.preSigned, nil
}
func (f *fakeChain) ExtractFeePayer(raw []byte) (string, error) {
	return f.feePayer, nil
}
func (f *fakeChain) TokenAccountBalance(ctx context.Context, rpcURL, account string) (int64, error) {
	return 0, nil
}
func (f *fakeChain) EnsureTokenAccount(ctx context.Context, rpcURL, owner, mint string) (string, error) {
	return "", nil
}

func newTestSvc(t *testing.T, chain *fakeChain, cfg Config) (*Service, hotstore.Store, *feepayer.Pool) {
	store := hotstore.NewMemoryStore(time.Hour)
	t.Cleanup(func() { store.Close() })

	payers := feepayer.New(feepayer.Config{
		FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenTrials: 1,
		MinHealthyBalance: 100, MaxBalanceAge: time.Hour,
	}, nil, []*domain.FeePayer{
		{Pubkey: "payerA", Priority: 1, LastBalance: 1_000_000, LastBalanceAt: time.Now()},
	}, map[string]feepayer.Signer{"payerA": stubSigner("payerA")})

	pool := rpcpool.New(rpcpool.Config{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenTrials: 1}, zap.NewNop(),
		rpcpool.Endpoint{Name: "primary", URL: "https://primary", Priority: 1})

	vel := velocity.New(store)
	auditor := audit.New(audit.Config{Window: time.Minute, MinFloor: 100}, store, nil, nil)

	if cfg.AntiReplayTTL == 0 {
		cfg.AntiReplayTTL = 90 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryMaxElapsed == 0 {
		cfg.RetryMaxElapsed = 2 * time.Second
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = time.Second
	}

	svc := New(cfg, store, nil, pool, payers, chain, vel, auditor, nil)
	return svc, store, payers
}

func issueQuote(t *testing.T, store hotstore.Store, payers *feepayer.Pool, ttl time.Duration) *domain.Quote {
	q := &domain.Quote{
		ID:              "quote1",
		UserAccount:     "userA",
		PaymentToken:    "EcoMint",
		FeePayerAccount: "payerA",
		FeeAmount:       1000,
		FeeNative:       500,
		ExpiresAt:       time.Now().Add(ttl),
		Type:            domain.QuoteStandard,
	}
	_, ok := payers.Reserve(context.Background(), q.ID, q.FeeNative)
	require.True(t, ok)
	require.NoError(t, store.SetQuote(context.Background(), q, ttl))
	return q
}

func TestSubmitHappyPath(t *testing.T) {
	chain := &fakeChain{feePayer: "payerA", userVerified: true, confirmResult: true}
	svc, store, payers := newTestSvc(t, chain, Config{})
	issueQuote(t, store, payers, time.Minute)

	resp, err := svc.Submit(context.Background(), Request{QuoteID: "quote1", SignedTx: []byte("raw-tx"), RPCURL: "https://primary"})
	require.Nil(t, err)
	require.Equal(t, "sig123", resp.Signature)

	_, getErr := store.GetQuote(context.Background(), "quote1")
	require.ErrorIs(t, getErr, hotstore.ErrNotFound)
}

func TestSubmitQuoteNotFound(t *testing.T) {
	chain := &fakeChain{feePayer: "payerA", userVerified: true, confirmResult: true}
	svc, _, _ := newTestSvc(t, chain, Config{})

	_, err := svc.Submit(context.Background(), Request{QuoteID: "missing", SignedTx: []byte("raw")})
	require.NotNil(t, err)
	require.Equal(t, "QUOTE_NOT_FOUND", string(err.Code))
}

func TestSubmitQuoteExpiredReleasesReservation(t *testing.T) {
	chain := &fakeChain{feePayer: "payerA", userVerified: true, confirmResult: true}
	svc, store, payers := newTestSvc(t, chain, Config{})
	issueQuote(t, store, payers, -time.Second)

	_, err := svc.Submit(context.Background(), Request{QuoteID: "quote1", SignedTx: []byte("raw")})
	require.NotNil(t, err)
	require.Equal(t, "QUOTE_EXPIRED", string(err.Code))

	pubkey, ok := payers.Reserve(context.Background(), "other-quote", 500)
	require.True(t, ok)
	require.Equal(t, "payerA", pubkey)
}

func TestSubmitValidationErrorOnFeePayerMismatch(t *testing.T) {
	chain := &fakeChain{feePayer: "wrong-payer", userVerified: true, confirmResult: true}
	svc, store, payers := newTestSvc(t, chain, Config{})
	issueQuote(t, store, payers, time.Minute)

	_, err := svc.Submit(context.Background(), Request{QuoteID: "quote1", SignedTx: []byte("raw")})
	require.NotNil(t, err)
	require.Equal(t, "VALIDATION_ERROR", string(err.Code))
}

func TestSubmitValidationErrorOnPreSignedFeePayer(t *testing.T) {
	chain := &fakeChain{feePayer: "payerA", userVerified: true, preSigned: true, confirmResult: true}
	svc, store, payers := newTestSvc(t, chain, Config{})
	issueQuote(t, store, payers, time.Minute)

	_, err := svc.Submit(context.Background(), Request{QuoteID: "quote1", SignedTx: []byte("raw")})
	require.NotNil(t, err)
	require.Equal(t, "VALIDATION_ERROR", string(err.Code))
}

func TestSubmitReplayDetectedOnSecondCall(t *testing.T) {
	chain := &fakeChain{feePayer: "payerA", userVerified: true, confirmResult: true}
	svc, store, payers := newTestSvc(t, chain, Config{})
	issueQuote(t, store, payers, time.Minute)

	raw := []byte("raw-tx")
	_, err := svc.Submit(context.Background(), Request{QuoteID: "quote1", SignedTx: raw})
	require.Nil(t, err)

	q2 := &domain.Quote{ID: "quote2", UserAccount: "userA", FeePayerAccount: "payerA", FeeNative: 500, ExpiresAt: time.Now().Add(time.Minute)}
	_, ok := payers.Reserve(context.Background(), q2.ID, q2.FeeNative)
	require.True(t, ok)
	require.NoError(t, store.SetQuote(context.Background(), q2, time.Minute))

	_, err = svc.Submit(context.Background(), Request{QuoteID: "quote2", SignedTx: raw})
	require.NotNil(t, err)
	require.Equal(t, "REPLAY_DETECTED", string(err.Code))
}

func TestSubmitNonRetryableFailureReleasesReservation(t *testing.T) {
	chain := &fakeChain{feePayer: "payerA", userVerified: true, sendErr: errors.New("invalid instruction")}
	svc, store, payers := newTestSvc(t, chain, Config{RetryMaxElapsed: 500 * time.Millisecond})
	issueQuote(t, store, payers, time.Minute)

	_, err := svc.Submit(context.Background(), Request{QuoteID: "quote1", SignedTx: []byte("raw-tx")})
	require.NotNil(t, err)
	require.Equal(t, "TRANSACTION_ERROR", string(err.Code))

	pubkey, ok := payers.Reserve(context.Background(), "other-quote", 500)
	require.True(t, ok)
	require.Equal(t, "payerA", pubkey)
}

func TestSubmitRetriesTransientFailureThenSucceeds(t *testing.T) {
	chain := &fakeChain{feePayer: "payerA", userVerified: true, confirmResult: true, sendErr: errors.New("rate limited"), sendErrOnce: true}
	svc, store, payers := newTestSvc(t, chain, Config{RetryMaxElapsed: 3 * time.Second})
	issueQuote(t, store, payers, time.Minute)

	resp, err := svc.Submit(context.Background(), Request{QuoteID: "quote1", SignedTx: []byte("raw-tx")})
	require.Nil(t, err)
	require.Equal(t, "sig123", resp.Signature)
}
