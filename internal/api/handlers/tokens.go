package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/narvanalabs/agent-gateway/internal/api/middleware"
	"github.com/narvanalabs/agent-gateway/internal/auth"
)

// TokensHandler mints delegation tokens.
type TokensHandler struct {
	codec  *auth.TokenCodec
	ttl    time.Duration
	logger *slog.Logger
}

// NewTokensHandler creates a new tokens handler. ttl is advisory; the
// codec does not embed or enforce it.
func NewTokensHandler(codec *auth.TokenCodec, ttl time.Duration, logger *slog.Logger) *TokensHandler {
	return &TokensHandler{
		codec:  codec,
		ttl:    ttl,
		logger: logger,
	}
}

type mintResponse struct {
	Token      string `json:"token"`
	Provenance string `json:"provenance"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

// Mint handles POST /v1/tokens. The token seals the call's own resolved
// credential; there is no way to mint for someone else's key.
func (h *TokensHandler) Mint(w http.ResponseWriter, r *http.Request) {
	cred, ok := middleware.GetCredential(r.Context())
	if !ok {
		WriteUnauthorized(w, "No usable credential")
		return
	}

	token, err := h.codec.Mint(cred.Key)
	if err != nil {
		h.logger.Error("minting token failed", "error", err)
		WriteInternalError(w, "Minting token failed")
		return
	}

	resp := mintResponse{Token: token, Provenance: cred.Provenance}
	if h.ttl > 0 {
		resp.TTLSeconds = int64(h.ttl.Seconds())
	}
	WriteJSON(w, http.StatusOK, resp)
}
