package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/narvanalabs/agent-gateway/internal/agent"
	"github.com/narvanalabs/agent-gateway/internal/api/middleware"
	"github.com/narvanalabs/agent-gateway/internal/models"
	"github.com/narvanalabs/agent-gateway/internal/poll"
)

// pingInterval is how often streams emit a keepalive while the watched
// task is quiet.
const pingInterval = 15 * time.Second

// EventsHandler streams task status transitions over SSE and WebSocket.
type EventsHandler struct {
	client  *agent.Client
	watcher *poll.Watcher
	logger  *slog.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(client *agent.Client, watcher *poll.Watcher, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		client:  client,
		watcher: watcher,
		logger:  logger,
	}
}

type watchOutcome struct {
	task *models.Task
	err  error
}

// watch polls the task until a terminal status. Status transitions
// arrive on the first channel, the final outcome on the second; the
// producer stops when ctx is cancelled.
func (h *EventsHandler) watch(ctx context.Context, scope *agent.Scope, taskID string) (<-chan *models.Task, <-chan watchOutcome) {
	updates := make(chan *models.Task, 16)
	outcome := make(chan watchOutcome, 1)

	go func() {
		task, err := h.watcher.Wait(ctx,
			func(ctx context.Context) (*models.Task, error) { return scope.GetTask(ctx, taskID) },
			poll.Terminal,
			func(t *models.Task) {
				select {
				case updates <- t:
				case <-ctx.Done():
				}
			},
		)
		outcome <- watchOutcome{task: task, err: err}
	}()

	return updates, outcome
}

// streamErrorMessage maps a watch failure to a client-safe message.
func streamErrorMessage(err error) string {
	switch {
	case errors.Is(err, agent.ErrTaskNotFound):
		return "task not found"
	case errors.Is(err, agent.ErrUpstreamAuth):
		return "upstream rejected the resolved credential"
	default:
		return "upstream fetch failed"
	}
}

// Stream handles GET /v1/tasks/{taskID}/events - task transitions as
// Server-Sent Events. EventSource clients carry the credential in the
// token query parameter.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	cred, ok := middleware.GetCredential(r.Context())
	if !ok {
		WriteUnauthorized(w, "No usable credential")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteInternalError(w, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	h.logger.Info("event stream started",
		"task_id", taskID,
		"provenance", cred.Provenance,
	)

	ctx := r.Context()
	h.sendEvent(w, flusher, "connected", map[string]string{"task_id": taskID})

	scope := h.client.Scope(cred.Key)
	updates, outcome := h.watch(ctx, scope, taskID)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("event stream closed by client", "task_id", taskID)
			return
		case <-ping.C:
			h.sendEvent(w, flusher, "ping", map[string]int64{"time": time.Now().Unix()})
		case task := <-updates:
			h.sendEvent(w, flusher, "status", task)
		case out := <-outcome:
			for len(updates) > 0 {
				h.sendEvent(w, flusher, "status", <-updates)
			}
			switch {
			case errors.Is(out.err, poll.ErrTimeout):
				h.sendEvent(w, flusher, "timeout", out.task)
			case errors.Is(out.err, context.Canceled):
			case out.err != nil:
				h.logger.Warn("event stream watch failed", "task_id", taskID, "error", out.err)
				h.sendEvent(w, flusher, "error", map[string]string{"message": streamErrorMessage(out.err)})
			default:
				h.sendEvent(w, flusher, "done", out.task)
			}
			return
		}
	}
}

// sendEvent sends a Server-Sent Event.
func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal event data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}

// wsEvent is one frame on a WebSocket event stream.
type wsEvent struct {
	Type    string       `json:"type"`
	TaskID  string       `json:"task_id,omitempty"`
	Task    *models.Task `json:"task,omitempty"`
	Message string       `json:"message,omitempty"`
	Time    int64        `json:"time,omitempty"`
}

// StreamWS handles GET /v1/tasks/{taskID}/events/ws - the same stream
// over a WebSocket.
func (h *EventsHandler) StreamWS(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	cred, ok := middleware.GetCredential(r.Context())
	if !ok {
		WriteUnauthorized(w, "No usable credential")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", "error", err)
		return
	}
	defer conn.Close()

	h.logger.Info("websocket event stream started",
		"task_id", taskID,
		"provenance", cred.Provenance,
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read loop exists to notice the client going away; the stream
	// itself is one-way.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	if err := conn.WriteJSON(wsEvent{Type: "connected", TaskID: taskID}); err != nil {
		return
	}

	scope := h.client.Scope(cred.Key)
	updates, outcome := h.watch(ctx, scope, taskID)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("websocket event stream closed by client", "task_id", taskID)
			return
		case <-ping.C:
			if err := conn.WriteJSON(wsEvent{Type: "ping", Time: time.Now().Unix()}); err != nil {
				return
			}
		case task := <-updates:
			if err := conn.WriteJSON(wsEvent{Type: "status", Task: task}); err != nil {
				return
			}
		case out := <-outcome:
			for len(updates) > 0 {
				if err := conn.WriteJSON(wsEvent{Type: "status", Task: <-updates}); err != nil {
					return
				}
			}
			switch {
			case errors.Is(out.err, poll.ErrTimeout):
				conn.WriteJSON(wsEvent{Type: "timeout", Task: out.task})
			case errors.Is(out.err, context.Canceled):
			case out.err != nil:
				h.logger.Warn("websocket event stream watch failed", "task_id", taskID, "error", out.err)
				conn.WriteJSON(wsEvent{Type: "error", Message: streamErrorMessage(out.err)})
			default:
				conn.WriteJSON(wsEvent{Type: "done", Task: out.task})
			}
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
