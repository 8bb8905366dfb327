package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/sovrn-protocol/relay/internal/relayerrors"
	"github.com/sovrn-protocol/relay/internal/submit"
)

type submitRequestBody struct {
	QuoteID         string `json:"quoteId"`
	SignedTx        string `json:"signedTransaction"`
	UserPubkey      string `json:"userPubkey"`
}

type submitResponseBody struct {
	Signature         string `json:"signature"`
	IgnitionSignature string `json:"ignitionSignature,omitempty"`
}

func decodeSubmitRequest(r *http.Request) (submit.Request, *relayerrors.Error) {
	var body submitRequestBody
	if verr := decodeJSON(r, &body); verr != nil {
		return submit.Request{}, verr
	}
	var problems []string
	if body.QuoteID == "" {
		problems = append(problems, "quoteId is required")
	}
	if body.SignedTx == "" {
		problems = append(problems, "signedTransaction is required")
	}
	if body.UserPubkey == "" {
		problems = append(problems, "userPubkey is required")
	}
	if len(problems) > 0 {
		return submit.Request{}, relayerrors.Validation("invalid submit request", problems...)
	}

	raw, err := base64.StdEncoding.DecodeString(body.SignedTx)
	if err != nil {
		return submit.Request{}, relayerrors.Validation("signedTransaction is not valid base64", err.Error())
	}

	return submit.Request{QuoteID: body.QuoteID, SignedTx: raw}, nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, verr := decodeSubmitRequest(r)
	if verr != nil {
		writeError(w, verr)
		return
	}
	req.RPCURL = s.cfg.RPCURL

	resp, serr := s.submitSvc.Submit(r.Context(), req)
	if serr != nil {
		writeError(w, serr)
		return
	}
	writeJSON(w, http.StatusOK, submitResponseBody{Signature: resp.Signature, IgnitionSignature: resp.IgnitionSignature})
}

func (s *Server) handleIgnitionSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.IgnitionEnabled {
		writeError(w, relayerrors.New(relayerrors.KindServiceUnavailable, relayerrors.CodeIgnitionDisabled, "ignition submit is disabled"))
		return
	}
	if !s.cfg.ignitionConfigured() {
		writeError(w, relayerrors.New(relayerrors.KindServiceUnavailable, relayerrors.CodeIgnitionNotConfigured, "ignition destination/amount not configured").WithRetryAfter(60))
		return
	}

	req, verr := decodeSubmitRequest(r)
	if verr != nil {
		writeError(w, verr)
		return
	}
	req.RPCURL = s.cfg.RPCURL

	resp, serr := s.submitSvc.Submit(r.Context(), req)
	if serr != nil {
		writeError(w, serr)
		return
	}
	writeJSON(w, http.StatusOK, submitResponseBody{Signature: resp.Signature, IgnitionSignature: resp.IgnitionSignature})
}
