package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/narvanalabs/agent-gateway/internal/agent"
	"github.com/narvanalabs/agent-gateway/internal/api/middleware"
	"github.com/narvanalabs/agent-gateway/internal/tools"
)

// maxToolInput bounds the size of a tool call body.
const maxToolInput = 1 << 20

// ToolsHandler serves the tool listing and tool dispatch endpoints.
type ToolsHandler struct {
	registry *tools.Registry
	client   *agent.Client
	logger   *slog.Logger
}

// NewToolsHandler creates a new tools handler.
func NewToolsHandler(registry *tools.Registry, client *agent.Client, logger *slog.Logger) *ToolsHandler {
	return &ToolsHandler{
		registry: registry,
		client:   client,
		logger:   logger,
	}
}

// List handles GET /v1/tools.
func (h *ToolsHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"tools": h.registry.List()})
}

// Call handles POST /v1/tools/{tool}. The body is the tool input; the
// credential was resolved by the middleware.
func (h *ToolsHandler) Call(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "tool")
	cred, ok := middleware.GetCredential(r.Context())
	if !ok {
		WriteUnauthorized(w, "No usable credential")
		return
	}

	input, err := io.ReadAll(io.LimitReader(r.Body, maxToolInput))
	if err != nil {
		WriteBadRequest(w, "Reading request body failed")
		return
	}

	scope := h.client.Scope(cred.Key)
	res, err := h.registry.Dispatch(r.Context(), scope, cred.Provenance, name, json.RawMessage(input))
	if err != nil {
		h.writeDispatchError(w, name, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// writeDispatchError maps dispatch failures onto the API error shape.
// Upstream failures surface as 502 so callers can tell the gateway's
// own validation apart from the agent service being unhappy.
func (h *ToolsHandler) writeDispatchError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		WriteNotFound(w, "Unknown tool: "+name)
	case errors.Is(err, tools.ErrInvalidInput):
		WriteBadRequest(w, err.Error())
	case errors.Is(err, agent.ErrTaskNotFound):
		WriteNotFound(w, "Task not found")
	case errors.Is(err, agent.ErrUpstreamAuth):
		WriteError(w, http.StatusBadGateway, ErrCodeUpstreamAuth, "Upstream rejected the resolved credential")
	case errors.Is(err, agent.ErrUpstream):
		WriteError(w, http.StatusBadGateway, ErrCodeUpstreamError, "Upstream request failed")
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusGatewayTimeout, ErrCodeUpstreamError, "Upstream request timed out")
	default:
		h.logger.Error("tool dispatch failed", "tool", name, "error", err)
		WriteInternalError(w, "Tool dispatch failed")
	}
}
