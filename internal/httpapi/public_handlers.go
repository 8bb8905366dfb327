package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sovrn-protocol/relay/internal/breaker"
	"github.com/sovrn-protocol/relay/internal/relayerrors"
)

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.oracle.ListAcceptedTokens(r.Context())
	if err != nil {
		writeError(w, relayerrors.Internal("listing accepted tokens", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": tokens})
}

// handleStats is the global counters view (§4.12 statistics hash).
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totals, err := s.store.HGetAll(r.Context(), "stats:global")
	if err != nil {
		writeError(w, relayerrors.Internal("reading global stats", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"totals": totals})
}

func (s *Server) handleStatsWallet(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	totals, err := s.store.HGetAll(r.Context(), "stats:wallet:"+account)
	if err != nil {
		writeError(w, relayerrors.Internal("reading wallet stats", err))
		return
	}
	rank, found, rerr := s.store.ZRevRank(r.Context(), "leaderboard:burns", account)
	if rerr != nil {
		writeError(w, relayerrors.Internal("reading wallet rank", rerr))
		return
	}
	body := map[string]interface{}{"account": account, "totals": totals}
	if found {
		body["leaderboardRank"] = rank
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStatsLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ZRangeWithScores(r.Context(), "leaderboard:burns", 0, 99)
	if err != nil {
		writeError(w, relayerrors.Internal("reading leaderboard", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

func (s *Server) handleStatsBurns(w http.ResponseWriter, r *http.Request) {
	if s.cold == nil {
		writeError(w, relayerrors.ServiceUnavailable("cold store not configured", 0))
		return
	}
	since := time.Now().Add(-30 * 24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		if parsed, perr := time.Parse(time.RFC3339, raw); perr == nil {
			since = parsed
		}
	}
	burns, err := s.cold.BurnsSince(r.Context(), since)
	if err != nil {
		writeError(w, relayerrors.Internal("reading burn history", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"burns": burns})
}

func (s *Server) handleStatsBurnBySig(w http.ResponseWriter, r *http.Request) {
	if s.cold == nil {
		writeError(w, relayerrors.ServiceUnavailable("cold store not configured", 0))
		return
	}
	sig := mux.Vars(r)["sig"]
	burn, err := s.cold.BurnBySignature(r.Context(), sig)
	if err != nil {
		writeError(w, relayerrors.NotFound("burn proof not found for signature"))
		return
	}
	writeJSON(w, http.StatusOK, burn)
}

// handleStatsTreasury is the supplemented per-token treasury balance
// explorer, backed by the same scan the burn worker runs each cycle.
func (s *Server) handleStatsTreasury(w http.ResponseWriter, r *http.Request) {
	if s.treasury == nil {
		writeError(w, relayerrors.ServiceUnavailable("treasury worker not configured", 0))
		return
	}
	balances, err := s.treasury.CurrentBalances(r.Context())
	if err != nil {
		writeError(w, relayerrors.Internal("scanning treasury balances", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balances": balances})
}

type healthCheck struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]healthCheck{}

	hotErr := s.store.Ping(r.Context())
	checks["hot_store"] = healthCheck{Healthy: hotErr == nil, Detail: errDetail(hotErr)}

	if s.cold != nil {
		coldErr := s.cold.Ping(r.Context())
		checks["cold_store"] = healthCheck{Healthy: coldErr == nil && s.cold.Healthy(), Detail: errDetail(coldErr)}
	}

	if s.rpcPool != nil {
		allOpen := true
		for _, ep := range s.rpcPool.Status() {
			if ep.CircuitState != breaker.Open {
				allOpen = false
				break
			}
		}
		checks["rpc_pool"] = healthCheck{Healthy: !allOpen}
	}

	if s.payers != nil {
		checks["fee_payer_pool"] = healthCheck{Healthy: !s.payers.IsCircuitOpenAll()}
	}

	status := "ok"
	criticalDown := !checks["hot_store"].Healthy
	anyDown := false
	for _, c := range checks {
		if !c.Healthy {
			anyDown = true
		}
	}
	switch {
	case criticalDown:
		status = "down"
	case anyDown:
		status = "degraded"
	}

	httpStatus := http.StatusOK
	if status == "down" {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]interface{}{"status": status, "checks": checks})
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
