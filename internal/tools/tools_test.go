package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/narvanalabs/agent-gateway/internal/agent"
	"github.com/narvanalabs/agent-gateway/internal/journal"
	"github.com/narvanalabs/agent-gateway/internal/models"
	"github.com/narvanalabs/agent-gateway/internal/poll"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastWatcher() *poll.Watcher {
	return poll.New(poll.Config{
		Interval:    time.Millisecond,
		MaxInterval: 2 * time.Millisecond,
		Timeout:     2 * time.Second,
	}, quietLogger())
}

func newTestScope(t *testing.T, h http.HandlerFunc) *agent.Scope {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	client := agent.New(agent.ClientConfig{BaseURL: server.URL, Timeout: 5 * time.Second}, quietLogger())
	return client.Scope("key_0123456789abcdefghij")
}

func openTestJournal(t *testing.T) journal.Store {
	t.Helper()
	store, err := journal.OpenSQLite(filepath.Join(t.TempDir(), "journal.db"), quietLogger())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func writeTaskJSON(w http.ResponseWriter, task models.Task) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(task)
}

func TestListOrder(t *testing.T) {
	reg := NewRegistry(fastWatcher(), nil, quietLogger())

	want := []string{
		NameCreateTask, NameGetTask, NameListTasks, NameTaskMessages,
		NameReplyTask, NameCancelTask, NameWaitTask,
	}
	defs := reg.List()
	if len(defs) != len(want) {
		t.Fatalf("List() returned %d tools, want %d", len(defs), len(want))
	}
	for i, def := range defs {
		if def.Name != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, def.Name, want[i])
		}
	}
	if reg.Has(NameHistory) {
		t.Error("history registered without a journal store")
	}
}

func TestHistoryRegisteredWithStore(t *testing.T) {
	reg := NewRegistry(fastWatcher(), openTestJournal(t), quietLogger())

	defs := reg.List()
	if len(defs) != 8 {
		t.Fatalf("List() returned %d tools, want 8", len(defs))
	}
	if defs[len(defs)-1].Name != NameHistory {
		t.Errorf("last tool = %q, want %q", defs[len(defs)-1].Name, NameHistory)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	store := openTestJournal(t)
	reg := NewRegistry(fastWatcher(), store, quietLogger())
	scope := newTestScope(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream called for unknown tool")
	})

	_, err := reg.Dispatch(context.Background(), scope, "token", "no_such_tool", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("Dispatch() error = %v, want ErrUnknownTool", err)
	}

	invs, err := store.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(invs) != 0 {
		t.Errorf("unknown tool was journaled: %d entries", len(invs))
	}
}

func TestInputValidation(t *testing.T) {
	reg := NewRegistry(fastWatcher(), nil, quietLogger())
	scope := newTestScope(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("upstream called with invalid input: %s %s", r.Method, r.URL.Path)
	})

	tests := []struct {
		name  string
		tool  string
		input string
	}{
		{"create_task missing prompt", NameCreateTask, `{"repository":"org/repo"}`},
		{"create_task missing repository", NameCreateTask, `{"prompt":"fix the bug"}`},
		{"create_task malformed json", NameCreateTask, `{"prompt":`},
		{"get_task missing task_id", NameGetTask, `{}`},
		{"task_messages missing task_id", NameTaskMessages, `{}`},
		{"reply_task missing message", NameReplyTask, `{"task_id":"task-1"}`},
		{"reply_task missing task_id", NameReplyTask, `{"message":"yes"}`},
		{"cancel_task missing task_id", NameCancelTask, `{}`},
		{"wait_task missing task_id", NameWaitTask, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Dispatch(context.Background(), scope, "token", tt.tool, json.RawMessage(tt.input))
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Dispatch(%s, %s) error = %v, want ErrInvalidInput", tt.tool, tt.input, err)
			}
		})
	}
}

func TestDispatchJournalsOutcomes(t *testing.T) {
	store := openTestJournal(t)
	reg := NewRegistry(fastWatcher(), store, quietLogger())
	scope := newTestScope(t, func(w http.ResponseWriter, r *http.Request) {
		writeTaskJSON(w, models.Task{ID: "task-42", Status: models.TaskStatusQueued})
	})

	res, err := reg.Dispatch(context.Background(), scope, "header", NameCreateTask,
		json.RawMessage(`{"prompt":"add tests","repository":"org/repo"}`))
	if err != nil {
		t.Fatalf("Dispatch(create_task) error = %v", err)
	}
	if !strings.Contains(res.Text, "task-42") {
		t.Errorf("result text %q does not mention the task id", res.Text)
	}

	_, err = reg.Dispatch(context.Background(), scope, "header", NameGetTask, json.RawMessage(`{}`))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Dispatch(get_task) error = %v, want ErrInvalidInput", err)
	}

	invs, err := store.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(invs) != 2 {
		t.Fatalf("journal has %d entries, want 2", len(invs))
	}

	// Newest first.
	if invs[0].Tool != NameGetTask || invs[0].Outcome != models.OutcomeError {
		t.Errorf("entry 0 = %s/%s, want %s/%s", invs[0].Tool, invs[0].Outcome, NameGetTask, models.OutcomeError)
	}
	if !strings.Contains(invs[0].Detail, "task_id is required") {
		t.Errorf("error detail %q does not name the missing field", invs[0].Detail)
	}
	if invs[1].Tool != NameCreateTask || invs[1].Outcome != models.OutcomeOK {
		t.Errorf("entry 1 = %s/%s, want %s/%s", invs[1].Tool, invs[1].Outcome, NameCreateTask, models.OutcomeOK)
	}
	if invs[1].TaskID != "task-42" {
		t.Errorf("entry 1 task id = %q, want %q", invs[1].TaskID, "task-42")
	}
	for _, inv := range invs {
		if inv.Provenance != "header" {
			t.Errorf("provenance = %q, want %q", inv.Provenance, "header")
		}
	}
}

func TestCreateTaskForwardsFields(t *testing.T) {
	reg := NewRegistry(fastWatcher(), nil, quietLogger())
	scope := newTestScope(t, func(w http.ResponseWriter, r *http.Request) {
		var req agent.CreateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding upstream request: %v", err)
		}
		writeTaskJSON(w, models.Task{
			ID:         "task-7",
			Prompt:     req.Prompt,
			Repository: req.Repository,
			Branch:     req.Branch,
			Model:      req.Model,
			Status:     models.TaskStatusQueued,
		})
	})

	input := json.RawMessage(`{"prompt":"p","repository":"org/repo","branch":"main","model":"fast"}`)
	res, err := reg.Dispatch(context.Background(), scope, "token", NameCreateTask, input)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	task, ok := res.Data.(*models.Task)
	if !ok {
		t.Fatalf("result data is %T, want *models.Task", res.Data)
	}
	if task.Branch != "main" || task.Model != "fast" {
		t.Errorf("branch/model = %q/%q, want main/fast", task.Branch, task.Model)
	}
}

func TestListTasksClampsLimit(t *testing.T) {
	reg := NewRegistry(fastWatcher(), nil, quietLogger())
	scope := newTestScope(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "200" {
			t.Errorf("upstream limit = %q, want 200", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string][]models.Task{
			"tasks": {{ID: "task-1", Status: models.TaskStatusRunning}},
		})
	})

	res, err := reg.Dispatch(context.Background(), scope, "token", NameListTasks, json.RawMessage(`{"limit":1000}`))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !strings.Contains(res.Text, "task-1") {
		t.Errorf("result text %q does not list the task", res.Text)
	}
}

func TestWaitTaskSettles(t *testing.T) {
	calls := 0
	reg := NewRegistry(fastWatcher(), nil, quietLogger())
	scope := newTestScope(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := models.TaskStatusRunning
		if calls >= 3 {
			status = models.TaskStatusAwaitingInput
		}
		writeTaskJSON(w, models.Task{ID: "task-9", Status: status})
	})

	res, err := reg.Dispatch(context.Background(), scope, "token", NameWaitTask, json.RawMessage(`{"task_id":"task-9"}`))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	out, ok := res.Data.(waitTaskOutput)
	if !ok {
		t.Fatalf("result data is %T, want waitTaskOutput", res.Data)
	}
	if out.TimedOut {
		t.Error("TimedOut = true for a settled task")
	}
	if out.Task == nil || out.Task.Status != models.TaskStatusAwaitingInput {
		t.Errorf("task = %+v, want awaiting_input", out.Task)
	}
}

func TestWaitTaskTimesOut(t *testing.T) {
	store := openTestJournal(t)
	watcher := poll.New(poll.Config{
		Interval:    time.Millisecond,
		MaxInterval: 2 * time.Millisecond,
		Timeout:     30 * time.Millisecond,
	}, quietLogger())
	reg := NewRegistry(watcher, store, quietLogger())
	scope := newTestScope(t, func(w http.ResponseWriter, r *http.Request) {
		writeTaskJSON(w, models.Task{ID: "task-9", Status: models.TaskStatusRunning})
	})

	res, err := reg.Dispatch(context.Background(), scope, "token", NameWaitTask, json.RawMessage(`{"task_id":"task-9"}`))
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil on timeout", err)
	}
	out, ok := res.Data.(waitTaskOutput)
	if !ok {
		t.Fatalf("result data is %T, want waitTaskOutput", res.Data)
	}
	if !out.TimedOut {
		t.Error("TimedOut = false after the watcher deadline")
	}
	if out.Task == nil || out.Task.Status != models.TaskStatusRunning {
		t.Errorf("task = %+v, want last observed running state", out.Task)
	}
	if !strings.Contains(res.Text, "Timed out") {
		t.Errorf("result text %q does not mention the timeout", res.Text)
	}

	invs, err := store.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(invs) != 1 || invs[0].Outcome != models.OutcomeOK {
		t.Errorf("timeout journaled as %+v, want one ok entry", invs)
	}
}

func TestHistoryTool(t *testing.T) {
	store := openTestJournal(t)
	reg := NewRegistry(fastWatcher(), store, quietLogger())
	scope := newTestScope(t, func(w http.ResponseWriter, r *http.Request) {
		writeTaskJSON(w, models.Task{ID: "task-3", Status: models.TaskStatusQueued})
	})

	if _, err := reg.Dispatch(context.Background(), scope, "global-fallback", NameCreateTask,
		json.RawMessage(`{"prompt":"p","repository":"org/repo"}`)); err != nil {
		t.Fatalf("Dispatch(create_task) error = %v", err)
	}

	res, err := reg.Dispatch(context.Background(), scope, "token", NameHistory, nil)
	if err != nil {
		t.Fatalf("Dispatch(history) error = %v", err)
	}
	if !strings.Contains(res.Text, NameCreateTask) {
		t.Errorf("history text %q does not mention the earlier call", res.Text)
	}
	if !strings.Contains(res.Text, "global-fallback") {
		t.Errorf("history text %q does not carry the provenance label", res.Text)
	}
}

func TestUpstreamErrorJournaled(t *testing.T) {
	store := openTestJournal(t)
	reg := NewRegistry(fastWatcher(), store, quietLogger())
	scope := newTestScope(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"not_found","message":"no such task"}}`))
	})

	_, err := reg.Dispatch(context.Background(), scope, "token", NameGetTask, json.RawMessage(`{"task_id":"task-404"}`))
	if !errors.Is(err, agent.ErrTaskNotFound) {
		t.Fatalf("Dispatch() error = %v, want ErrTaskNotFound", err)
	}

	invs, err := store.ListRecent(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(invs) != 1 {
		t.Fatalf("journal has %d entries, want 1", len(invs))
	}
	if invs[0].Outcome != models.OutcomeError {
		t.Errorf("outcome = %q, want error", invs[0].Outcome)
	}
	if invs[0].TaskID != "task-404" {
		t.Errorf("task id = %q, want task-404 even when the call fails", invs[0].TaskID)
	}
}
