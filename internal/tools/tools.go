// Package tools defines the gateway's tool set: the registry served by
// every transport and the dispatch path that runs one tool for one
// resolved credential.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/agent-gateway/internal/agent"
	"github.com/narvanalabs/agent-gateway/internal/journal"
	"github.com/narvanalabs/agent-gateway/internal/models"
	"github.com/narvanalabs/agent-gateway/internal/poll"
)

// Errors returned by dispatch.
var (
	ErrUnknownTool  = errors.New("unknown tool")
	ErrInvalidInput = errors.New("invalid tool input")
)

// Tool names.
const (
	NameCreateTask   = "create_task"
	NameGetTask      = "get_task"
	NameListTasks    = "list_tasks"
	NameTaskMessages = "task_messages"
	NameReplyTask    = "reply_task"
	NameCancelTask   = "cancel_task"
	NameWaitTask     = "wait_task"
	NameHistory      = "history"
)

// Param describes one tool input field for listings.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// Definition describes one tool for listings.
type Definition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
}

// Result is the outcome of one tool call: the structured payload plus a
// rendering fit for humans.
type Result struct {
	Data interface{} `json:"data"`
	Text string      `json:"text"`

	// taskID feeds the journal; not part of the payload.
	taskID string
}

type handler func(ctx context.Context, scope *agent.Scope, input json.RawMessage) (*Result, error)

type tool struct {
	def Definition
	run handler
}

// Registry holds the tool set and its collaborators. It is immutable
// after construction and safe for concurrent dispatch.
type Registry struct {
	watcher *poll.Watcher
	journal journal.Store
	logger  *slog.Logger
	tools   map[string]*tool
	order   []string
}

// NewRegistry builds the tool set. store may be nil, in which case
// journaling is disabled and the history tool is not registered.
func NewRegistry(watcher *poll.Watcher, store journal.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		watcher: watcher,
		journal: store,
		logger:  logger,
		tools:   make(map[string]*tool),
	}

	r.register(Definition{
		Name:        NameCreateTask,
		Description: "Start a new background coding task.",
		Params: []Param{
			{Name: "prompt", Type: "string", Required: true, Description: "What the agent should do"},
			{Name: "repository", Type: "string", Required: true, Description: "Repository the task works in (owner/name)"},
			{Name: "branch", Type: "string", Description: "Base branch; the upstream default when empty"},
			{Name: "model", Type: "string", Description: "Model override for this task"},
		},
	}, r.createTask)

	r.register(Definition{
		Name:        NameGetTask,
		Description: "Fetch the current state of a task.",
		Params: []Param{
			{Name: "task_id", Type: "string", Required: true, Description: "Task identifier"},
		},
	}, r.getTask)

	r.register(Definition{
		Name:        NameListTasks,
		Description: "List recent tasks, newest first.",
		Params: []Param{
			{Name: "limit", Type: "integer", Description: "Maximum number of tasks to return"},
		},
	}, r.listTasks)

	r.register(Definition{
		Name:        NameTaskMessages,
		Description: "Fetch a task's conversation transcript.",
		Params: []Param{
			{Name: "task_id", Type: "string", Required: true, Description: "Task identifier"},
			{Name: "limit", Type: "integer", Description: "Maximum number of messages to return"},
		},
	}, r.taskMessages)

	r.register(Definition{
		Name:        NameReplyTask,
		Description: "Answer a task that is awaiting input.",
		Params: []Param{
			{Name: "task_id", Type: "string", Required: true, Description: "Task identifier"},
			{Name: "message", Type: "string", Required: true, Description: "Reply to send to the agent"},
		},
	}, r.replyTask)

	r.register(Definition{
		Name:        NameCancelTask,
		Description: "Cancel a queued or running task.",
		Params: []Param{
			{Name: "task_id", Type: "string", Required: true, Description: "Task identifier"},
		},
	}, r.cancelTask)

	r.register(Definition{
		Name:        NameWaitTask,
		Description: "Block until a task finishes or asks for input.",
		Params: []Param{
			{Name: "task_id", Type: "string", Required: true, Description: "Task identifier"},
			{Name: "timeout_seconds", Type: "integer", Description: "Give up after this many seconds"},
		},
	}, r.waitTask)

	if store != nil {
		r.register(Definition{
			Name:        NameHistory,
			Description: "List recently journaled tool invocations.",
			Params: []Param{
				{Name: "limit", Type: "integer", Description: "Maximum number of entries to return"},
			},
		}, r.history)
	}

	return r
}

func (r *Registry) register(def Definition, run handler) {
	r.tools[def.Name] = &tool{def: def, run: run}
	r.order = append(r.order, def.Name)
}

// List returns all tool definitions in registration order.
func (r *Registry) List() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Has reports whether a tool with that name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Dispatch runs one tool call and journals its outcome. provenance is
// the resolved credential's provenance label; it is journaled, the
// credential itself never is.
func (r *Registry) Dispatch(ctx context.Context, scope *agent.Scope, provenance, name string, input json.RawMessage) (*Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	start := time.Now()
	res, err := t.run(ctx, scope, input)
	elapsed := time.Since(start)

	inv := &models.Invocation{
		Tool:       name,
		Provenance: provenance,
		Outcome:    models.OutcomeOK,
		Duration:   elapsed.Milliseconds(),
	}
	if res != nil {
		inv.TaskID = res.taskID
	}
	if err != nil {
		inv.Outcome = models.OutcomeError
		inv.Detail = truncateDetail(err.Error())
	}
	r.record(inv)

	return res, err
}

// record journals one invocation. Journal failures are logged and never
// surface to the caller; the tool call already happened.
func (r *Registry) record(inv *models.Invocation) {
	if r.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.journal.Record(ctx, inv); err != nil {
		r.logger.Warn("journaling invocation failed",
			"tool", inv.Tool,
			"error", err,
		)
	}
}

const maxDetailLen = 200

func truncateDetail(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	return s[:maxDetailLen]
}
