// Package httpapi is the external interface surface (C11): HTTP routing,
// request validation, per-wallet/IP rate limiting, correlation-id
// propagation, and admin auth (§4.11, §6). Grounded on the teacher's
// api/transparency_oracle/handlers.go (one small handler per route,
// wired into a router by a single Register* function) and
// api/supply_explorer for the read-only public-stats texture, with
// gorilla/mux for path params and rs/cors for the CORS middleware since
// neither teacher package reaches for an in-process framework beyond the
// standard library's http.ServeMux.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/sovrn-protocol/relay/internal/audit"
	"github.com/sovrn-protocol/relay/internal/coldstore"
	"github.com/sovrn-protocol/relay/internal/collaborators"
	"github.com/sovrn-protocol/relay/internal/feepayer"
	"github.com/sovrn-protocol/relay/internal/hotstore"
	"github.com/sovrn-protocol/relay/internal/quote"
	"github.com/sovrn-protocol/relay/internal/relayerrors"
	"github.com/sovrn-protocol/relay/internal/rpcpool"
	"github.com/sovrn-protocol/relay/internal/submit"
	"github.com/sovrn-protocol/relay/internal/treasury"
	"github.com/sovrn-protocol/relay/internal/velocity"
)

const correlationIDHeader = "X-Correlation-Id"

// Config parameterizes the surface (§6).
type Config struct {
	AllowedOrigins []string

	WalletQuoteLimit  int
	WalletSubmitLimit int
	RateLimitWindow   time.Duration // default 60s, §6 "per-wallet/minute caps"

	RPCURL string // default RPC URL attached to chain-facing requests

	AdminAPIKey string

	SponsoredQuotesEnabled bool

	IgnitionEnabled     bool
	IgnitionDestination string
	IgnitionAmount      int64

	LegacyHotStoreKeys []string // keys the one-shot admin migration renames under the prefix
}

func (c Config) ignitionConfigured() bool {
	return c.IgnitionDestination != "" && c.IgnitionAmount > 0
}

// Server wires the core services into an http.Handler.
type Server struct {
	cfg Config

	quoteSvc  *quote.Service
	submitSvc *submit.Service
	treasury  *treasury.Worker

	store   hotstore.Store
	cold    *coldstore.Store
	rpcPool *rpcpool.Pool
	payers  *feepayer.Pool
	oracle  collaborators.VerificationOracle
	vel     *velocity.Accountant
	auditor *audit.Recorder

	logger          *zap.Logger
	metrics         *metrics
	metricsRegistry *prometheus.Registry
}

// New builds the HTTP surface. Any of cold/treasury/rpcPool may be nil in
// a minimal development wiring; routes that depend on a nil collaborator
// degrade gracefully rather than panicking: /health leaves that check out
// of its report, and the burn, treasury and admin routes answer 503.
func New(
	cfg Config,
	quoteSvc *quote.Service,
	submitSvc *submit.Service,
	treasuryWorker *treasury.Worker,
	store hotstore.Store,
	cold *coldstore.Store,
	rpcPool *rpcpool.Pool,
	payers *feepayer.Pool,
	oracle collaborators.VerificationOracle,
	vel *velocity.Accountant,
	auditor *audit.Recorder,
	logger *zap.Logger,
) *Server {
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = 60 * time.Second
	}
	registry := prometheus.NewRegistry()
	return &Server{
		cfg: cfg, quoteSvc: quoteSvc, submitSvc: submitSvc, treasury: treasuryWorker,
		store: store, cold: cold, rpcPool: rpcPool, payers: payers, oracle: oracle,
		vel: vel, auditor: auditor, logger: logger,
		metrics: newMetrics(registry), metricsRegistry: registry,
	}
}

// Handler builds the full route table wrapped in CORS and correlation-id
// middleware, ready to pass to http.Server.Handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.correlationIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.metricsMiddleware)

	r.Handle("/v1/quote", s.rateLimited(quoteLimit, http.HandlerFunc(s.handleQuote))).Methods(http.MethodPost)
	r.Handle("/v1/submit", s.rateLimited(submitLimit, http.HandlerFunc(s.handleSubmit))).Methods(http.MethodPost)
	r.Handle("/v1/ignition/quote", s.rateLimited(quoteLimit, http.HandlerFunc(s.handleIgnitionQuote))).Methods(http.MethodPost)
	r.Handle("/v1/ignition/submit", s.rateLimited(submitLimit, http.HandlerFunc(s.handleIgnitionSubmit))).Methods(http.MethodPost)

	r.HandleFunc("/v1/tokens", s.handleTokens).Methods(http.MethodGet)
	r.HandleFunc("/v1/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/v1/stats/wallet/{account}", s.handleStatsWallet).Methods(http.MethodGet)
	r.HandleFunc("/v1/stats/leaderboard", s.handleStatsLeaderboard).Methods(http.MethodGet)
	r.HandleFunc("/v1/stats/burns", s.handleStatsBurns).Methods(http.MethodGet)
	r.HandleFunc("/v1/stats/burns/{sig}", s.handleStatsBurnBySig).Methods(http.MethodGet)
	r.HandleFunc("/v1/stats/treasury", s.handleStatsTreasury).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.adminAuthMiddleware)
	admin.HandleFunc("/burn/trigger", s.handleAdminTriggerBurn).Methods(http.MethodPost)
	admin.HandleFunc("/treasury", s.handleAdminTreasury).Methods(http.MethodGet)
	admin.HandleFunc("/burns", s.handleAdminBurnHistory).Methods(http.MethodGet)
	admin.HandleFunc("/transactions", s.handleAdminTxHistory).Methods(http.MethodGet)
	admin.HandleFunc("/migrate", s.handleAdminMigrate).Methods(http.MethodPost)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", "x-admin-key", correlationIDHeader},
		ExposedHeaders:   []string{correlationIDHeader},
		AllowCredentials: false,
	})
	return corsMiddleware.Handler(r)
}

func (s *Server) correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(correlationIDHeader, id)
		ctx := context.WithValue(r.Context(), correlationIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type correlationIDKey struct{}

func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.logger != nil {
			s.logger.Debug("httpapi: request",
				zap.String("method", r.Method), zap.String("path", r.URL.Path),
				zap.String("correlation_id", correlationIDFrom(r.Context())),
				zap.Duration("elapsed", time.Since(start)))
		}
	})
}

// ---- shared response helpers ----

type errorBody struct {
	Error      string   `json:"error"`
	Code       string   `json:"code"`
	StatusCode int      `json:"statusCode"`
	Details    []string `json:"details,omitempty"`
	RetryAfter int      `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err *relayerrors.Error) {
	status := relayerrors.StatusFor(err.Code)
	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", time.Duration(err.RetryAfter*int(time.Second)).String())
	}
	writeJSON(w, status, errorBody{
		Error:      err.Message,
		Code:       string(err.Code),
		StatusCode: status,
		Details:    err.Details,
		RetryAfter: err.RetryAfter,
	})
}

func decodeJSON(r *http.Request, dst interface{}) *relayerrors.Error {
	if r.Body == nil {
		return relayerrors.Validation("request body required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return relayerrors.Validation("malformed request body", err.Error())
	}
	return nil
}
