package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/narvanalabs/agent-gateway/internal/journal"
)

// HistoryHandler serves the journaled invocation history.
type HistoryHandler struct {
	store  journal.Store
	logger *slog.Logger
}

// NewHistoryHandler creates a new history handler. store may be nil
// when journaling is disabled.
func NewHistoryHandler(store journal.Store, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		store:  store,
		logger: logger,
	}
}

// Get handles GET /v1/history.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteNotFound(w, "Journal is disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			WriteBadRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}

	invs, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing journal failed", "error", err)
		WriteInternalError(w, "Listing journal failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"invocations": invs})
}
