package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"

	"github.com/sovrn-protocol/relay/internal/relayerrors"
)

type limitKind int

const (
	quoteLimit limitKind = iota
	submitLimit
)

// walletFromBody peeks a request's JSON body for a wallet-identifying
// field without consuming it, so the downstream handler can still decode
// the full body (§4.12 "separate surface concern" from the audit
// counters, keyed per wallet where available and per IP otherwise).
func walletFromBody(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	var probe struct {
		UserPubkey string `json:"userPubkey"`
	}
	if json.Unmarshal(raw, &probe) == nil && probe.UserPubkey != "" {
		return probe.UserPubkey
	}
	return ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimited enforces the per-wallet (falling back to per-IP) request cap
// over the configured window using the hot store's rolling counter
// (§4.12). This is a distinct concern from audit.Recorder's anomaly
// detection: this middleware rejects, the auditor only observes.
func (s *Server) rateLimited(kind limitKind, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := walletFromBody(r)
		if identity == "" {
			identity = "ip:" + clientIP(r)
		} else {
			identity = "wallet:" + identity
		}

		limit := s.cfg.WalletQuoteLimit
		if kind == submitLimit {
			limit = s.cfg.WalletSubmitLimit
		}
		if limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := "ratelimit:" + r.URL.Path + ":" + identity
		count, err := s.store.IncrCounter(r.Context(), key, s.cfg.RateLimitWindow)
		if err != nil {
			writeError(w, relayerrors.Internal("checking rate limit", err))
			return
		}
		if count > int64(limit) {
			writeError(w, relayerrors.RateLimit(int(s.cfg.RateLimitWindow.Seconds())))
			return
		}
		next.ServeHTTP(w, r)
	})
}
