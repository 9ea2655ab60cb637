package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/narvanalabs/agent-gateway/internal/agent"
	"github.com/narvanalabs/agent-gateway/internal/models"
	"github.com/narvanalabs/agent-gateway/internal/poll"
	"github.com/narvanalabs/agent-gateway/internal/render"
)

// maxListLimit caps caller-supplied limits on listing tools.
const maxListLimit = 200

func decodeInput(input json.RawMessage, v interface{}) error {
	if len(input) == 0 {
		input = []byte("{}")
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit < 0 {
		return 0
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

type createTaskInput struct {
	Prompt     string `json:"prompt"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Model      string `json:"model"`
}

func (r *Registry) createTask(ctx context.Context, scope *agent.Scope, input json.RawMessage) (*Result, error) {
	var in createTaskInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if in.Repository == "" {
		return nil, fmt.Errorf("%w: repository is required", ErrInvalidInput)
	}

	task, err := scope.CreateTask(ctx, agent.CreateTaskRequest{
		Prompt:     in.Prompt,
		Repository: in.Repository,
		Branch:     in.Branch,
		Model:      in.Model,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: task, Text: render.Task(task), taskID: task.ID}, nil
}

type taskIDInput struct {
	TaskID string `json:"task_id"`
}

func (in *taskIDInput) validate() error {
	if in.TaskID == "" {
		return fmt.Errorf("%w: task_id is required", ErrInvalidInput)
	}
	return nil
}

func (r *Registry) getTask(ctx context.Context, scope *agent.Scope, input json.RawMessage) (*Result, error) {
	var in taskIDInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	task, err := scope.GetTask(ctx, in.TaskID)
	if err != nil {
		return &Result{taskID: in.TaskID}, err
	}
	return &Result{Data: task, Text: render.Task(task), taskID: task.ID}, nil
}

type listTasksInput struct {
	Limit int `json:"limit"`
}

func (r *Registry) listTasks(ctx context.Context, scope *agent.Scope, input json.RawMessage) (*Result, error) {
	var in listTasksInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	tasks, err := scope.ListTasks(ctx, clampLimit(in.Limit))
	if err != nil {
		return nil, err
	}
	return &Result{
		Data: map[string]interface{}{"tasks": tasks},
		Text: render.TaskList(tasks),
	}, nil
}

type taskMessagesInput struct {
	TaskID string `json:"task_id"`
	Limit  int    `json:"limit"`
}

func (r *Registry) taskMessages(ctx context.Context, scope *agent.Scope, input json.RawMessage) (*Result, error) {
	var in taskMessagesInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.TaskID == "" {
		return nil, fmt.Errorf("%w: task_id is required", ErrInvalidInput)
	}

	msgs, err := scope.ListMessages(ctx, in.TaskID, clampLimit(in.Limit))
	if err != nil {
		return &Result{taskID: in.TaskID}, err
	}
	return &Result{
		Data:   map[string]interface{}{"task_id": in.TaskID, "messages": msgs},
		Text:   render.Messages(msgs),
		taskID: in.TaskID,
	}, nil
}

type replyTaskInput struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

func (r *Registry) replyTask(ctx context.Context, scope *agent.Scope, input json.RawMessage) (*Result, error) {
	var in replyTaskInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.TaskID == "" {
		return nil, fmt.Errorf("%w: task_id is required", ErrInvalidInput)
	}
	if in.Message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}

	task, err := scope.Reply(ctx, in.TaskID, in.Message)
	if err != nil {
		return &Result{taskID: in.TaskID}, err
	}
	return &Result{Data: task, Text: render.Task(task), taskID: task.ID}, nil
}

func (r *Registry) cancelTask(ctx context.Context, scope *agent.Scope, input json.RawMessage) (*Result, error) {
	var in taskIDInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	task, err := scope.CancelTask(ctx, in.TaskID)
	if err != nil {
		return &Result{taskID: in.TaskID}, err
	}
	return &Result{Data: task, Text: render.Task(task), taskID: task.ID}, nil
}

type waitTaskInput struct {
	TaskID         string `json:"task_id"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type waitTaskOutput struct {
	Task     *models.Task `json:"task"`
	TimedOut bool         `json:"timed_out"`
}

func (r *Registry) waitTask(ctx context.Context, scope *agent.Scope, input json.RawMessage) (*Result, error) {
	var in waitTaskInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.TaskID == "" {
		return nil, fmt.Errorf("%w: task_id is required", ErrInvalidInput)
	}

	if in.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(in.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	task, err := r.watcher.Wait(ctx,
		func(ctx context.Context) (*models.Task, error) { return scope.GetTask(ctx, in.TaskID) },
		poll.Settled,
		nil,
	)
	if errors.Is(err, poll.ErrTimeout) {
		// Not an error for the caller: report the last known state.
		out := waitTaskOutput{Task: task, TimedOut: true}
		text := "Timed out waiting for task " + in.TaskID + "."
		if task != nil {
			text += "\n" + render.Task(task)
		}
		return &Result{Data: out, Text: text, taskID: in.TaskID}, nil
	}
	if err != nil {
		return &Result{taskID: in.TaskID}, err
	}
	return &Result{
		Data:   waitTaskOutput{Task: task},
		Text:   render.Task(task),
		taskID: task.ID,
	}, nil
}

type historyInput struct {
	Limit int `json:"limit"`
}

func (r *Registry) history(ctx context.Context, scope *agent.Scope, input json.RawMessage) (*Result, error) {
	var in historyInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	invs, err := r.journal.ListRecent(ctx, clampLimit(in.Limit))
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return &Result{
		Data: map[string]interface{}{"invocations": invs},
		Text: render.Invocations(invs),
	}, nil
}
