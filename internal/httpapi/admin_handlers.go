package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sovrn-protocol/relay/internal/hotstore"
	"github.com/sovrn-protocol/relay/internal/relayerrors"
)

const adminKeyHeader = "x-admin-key"

// adminAuthMiddleware enforces a constant-time comparison against the
// configured admin key (§4.11 "admin auth"). A key supplied as a query
// parameter is rejected outright, never compared, since query strings end
// up in access logs and browser history.
func (s *Server) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminAPIKey == "" {
			writeError(w, relayerrors.New(relayerrors.KindServiceUnavailable, relayerrors.CodeAdminNotConfigured, "admin API key not configured"))
			return
		}
		if r.URL.Query().Get(adminKeyHeader) != "" {
			writeError(w, relayerrors.New(relayerrors.KindValidation, relayerrors.CodeInvalidAPIKey, "admin key must not be passed as a query parameter"))
			return
		}
		supplied := r.Header.Get(adminKeyHeader)
		if supplied == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(s.cfg.AdminAPIKey)) != 1 {
			writeError(w, relayerrors.New(relayerrors.KindValidation, relayerrors.CodeInvalidAPIKey, "invalid admin key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAdminTriggerBurn(w http.ResponseWriter, r *http.Request) {
	if s.treasury == nil {
		writeError(w, relayerrors.ServiceUnavailable("treasury worker not configured", 0))
		return
	}
	if err := s.treasury.TriggerNow(r.Context()); err != nil {
		writeError(w, relayerrors.Internal("triggering burn cycle", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}

func (s *Server) handleAdminTreasury(w http.ResponseWriter, r *http.Request) {
	s.handleStatsTreasury(w, r)
}

func (s *Server) handleAdminBurnHistory(w http.ResponseWriter, r *http.Request) {
	s.handleStatsBurns(w, r)
}

func (s *Server) handleAdminTxHistory(w http.ResponseWriter, r *http.Request) {
	if s.cold == nil {
		writeError(w, relayerrors.ServiceUnavailable("cold store not configured", 0))
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		if parsed, perr := time.Parse(time.RFC3339, raw); perr == nil {
			since = parsed
		}
	}
	txs, err := s.cold.TransactionsSince(r.Context(), since)
	if err != nil {
		writeError(w, relayerrors.Internal("reading transaction history", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

// handleAdminMigrate runs the one-shot legacy hot-store key migration
// (§6). It only operates when the hot store's underlying client is a real
// Redis client; a FallbackStore currently running on its in-memory leg has
// nothing to migrate.
func (s *Server) handleAdminMigrate(w http.ResponseWriter, r *http.Request) {
	redisProvider, ok := s.store.(interface{ RedisClient() *redis.Client })
	if !ok {
		writeError(w, relayerrors.ServiceUnavailable("hot store has no redis client to migrate", 0))
		return
	}
	client := redisProvider.RedisClient()
	if client == nil {
		writeError(w, relayerrors.ServiceUnavailable("redis is not currently reachable", 30))
		return
	}
	migrated, err := hotstore.MigrateLegacyKeys(r.Context(), client, "relay", s.cfg.LegacyHotStoreKeys)
	if err != nil {
		writeError(w, relayerrors.Internal("migrating legacy hot-store keys", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"migrated": migrated})
}
