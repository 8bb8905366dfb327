package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sovrn-protocol/relay/internal/collaborators"
	"github.com/sovrn-protocol/relay/internal/domain"
	"github.com/sovrn-protocol/relay/internal/feepayer"
	"github.com/sovrn-protocol/relay/internal/hotstore"
	"github.com/sovrn-protocol/relay/internal/quote"
)

type stubSigner string

func (s stubSigner) Pubkey() string { return string(s) }

func newTestServer(t *testing.T, cfg Config) (*Server, hotstore.Store) {
	store := hotstore.NewMemoryStore(time.Hour)
	t.Cleanup(func() { store.Close() })

	payers := feepayer.New(feepayer.Config{
		FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenTrials: 1,
		MinHealthyBalance: 100, MaxBalanceAge: time.Hour,
	}, nil, []*domain.FeePayer{
		{Pubkey: "payerA", Priority: 1, LastBalance: 1_000_000, LastBalanceAt: time.Now()},
	}, map[string]feepayer.Signer{"payerA": stubSigner("payerA")})

	oracle := collaborators.NewMockVerificationOracle([]string{"EcoMint"}, 1_000_000)
	dex := collaborators.NewMockDEXAggregator(map[string]float64{"native:EcoMint": 50})

	quoteSvc := quote.New(quote.Config{
		BaseFeeNative: 5000, FeeMarkup: decimal.NewFromFloat(1.1),
		NetworkFeeNative: 5000, QuoteTTL: 30 * time.Second, BufferNative: 1000,
		SponsoredQuotesEnabled: cfg.SponsoredQuotesEnabled,
	}, store, payers, oracle, dex, nil, func(mint string) (string, error) {
		return "treasury-" + mint, nil
	})

	srv := New(cfg, quoteSvc, nil, nil, store, nil, nil, payers, oracle, nil, nil, nil)
	return srv, store
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleQuoteHappyPath(t *testing.T) {
	srv, _ := newTestServer(t, Config{WalletQuoteLimit: 100, WalletSubmitLimit: 100})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/quote", quoteRequestBody{
		UserPubkey: "user1", PaymentToken: "EcoMint", EstimatedComputeUnits: 50000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body quoteResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "EcoMint", body.PaymentToken)
	require.Equal(t, "treasury-EcoMint", body.TreasuryAddress)
	require.NotEmpty(t, rec.Header().Get(correlationIDHeader))
}

func TestHandleQuoteRejectsMissingFields(t *testing.T) {
	srv, _ := newTestServer(t, Config{WalletQuoteLimit: 100, WalletSubmitLimit: 100})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/quote", quoteRequestBody{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "VALIDATION_ERROR", body.Code)
}

func TestHandleIgnitionQuoteDisabledByDefault(t *testing.T) {
	srv, _ := newTestServer(t, Config{WalletQuoteLimit: 100, WalletSubmitLimit: 100})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/ignition/quote", quoteRequestBody{
		UserPubkey: "user1", PaymentToken: "EcoMint",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "IGNITION_DISABLED", body.Code)
}

func TestHandleIgnitionQuoteNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, Config{WalletQuoteLimit: 100, WalletSubmitLimit: 100, IgnitionEnabled: true})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/ignition/quote", quoteRequestBody{
		UserPubkey: "user1", PaymentToken: "EcoMint",
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "IGNITION_NOT_CONFIGURED", body.Code)
}

func TestHandleIgnitionQuotePromotesType(t *testing.T) {
	srv, store := newTestServer(t, Config{
		WalletQuoteLimit: 100, WalletSubmitLimit: 100,
		IgnitionEnabled: true, IgnitionDestination: "dest1", IgnitionAmount: 500,
	})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/ignition/quote", quoteRequestBody{
		UserPubkey: "user1", PaymentToken: "EcoMint",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body quoteResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, domain.QuoteIgnition, body.Type)
	require.Equal(t, "dest1", body.IgnitionDestination)

	stored, err := store.GetQuote(context.Background(), body.ID)
	require.NoError(t, err)
	require.Equal(t, domain.QuoteIgnition, stored.Type)
}

func TestHandleTokensListsAccepted(t *testing.T) {
	srv, _ := newTestServer(t, Config{WalletQuoteLimit: 100, WalletSubmitLimit: 100})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/v1/tokens", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealthReportsOKWithHotStoreOnly(t *testing.T) {
	srv, _ := newTestServer(t, Config{WalletQuoteLimit: 100, WalletSubmitLimit: 100})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestAdminRouteRejectsWhenUnconfigured(t *testing.T) {
	srv, _ := newTestServer(t, Config{WalletQuoteLimit: 100, WalletSubmitLimit: 100})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/admin/burn/trigger", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminRouteRejectsWrongKey(t *testing.T) {
	srv, _ := newTestServer(t, Config{WalletQuoteLimit: 100, WalletSubmitLimit: 100, AdminAPIKey: "secret"})
	req := httptest.NewRequest(http.MethodPost, "/admin/burn/trigger", nil)
	req.Header.Set(adminKeyHeader, "wrong")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRouteRejectsQueryStringKey(t *testing.T) {
	srv, _ := newTestServer(t, Config{WalletQuoteLimit: 100, WalletSubmitLimit: 100, AdminAPIKey: "secret"})
	req := httptest.NewRequest(http.MethodPost, "/admin/burn/trigger?x-admin-key=secret", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitedRejectsOverCap(t *testing.T) {
	srv, _ := newTestServer(t, Config{WalletQuoteLimit: 1, WalletSubmitLimit: 1, RateLimitWindow: time.Minute})
	h := srv.Handler()

	first := doRequest(t, h, http.MethodPost, "/v1/quote", quoteRequestBody{UserPubkey: "user1", PaymentToken: "EcoMint"})
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(t, h, http.MethodPost, "/v1/quote", quoteRequestBody{UserPubkey: "user1", PaymentToken: "EcoMint"})
	require.Equal(t, http.StatusTooManyRequests, second.Code)
}
