package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/narvanalabs/agent-gateway/internal/models"
)

// Scope is the per-call view of the upstream API. All request methods
// live here so the Authorization header is always the scope's own
// credential, set per request. Scopes share the client's transport but
// never mutate it.
type Scope struct {
	client *Client
	apiKey string
}

// CreateTaskRequest holds the fields for starting a new task.
type CreateTaskRequest struct {
	Prompt     string `json:"prompt"`
	Repository string `json:"repository"`
	Branch     string `json:"branch,omitempty"`
	Model      string `json:"model,omitempty"`
}

type taskListResponse struct {
	Tasks []models.Task `json:"tasks"`
}

type messageListResponse struct {
	Messages []models.TaskMessage `json:"messages"`
}

type replyRequest struct {
	Message string `json:"message"`
}

// CreateTask starts a new background task.
func (s *Scope) CreateTask(ctx context.Context, req CreateTaskRequest) (*models.Task, error) {
	var task models.Task
	if err := s.do(ctx, http.MethodPost, "/v1/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches the current state of a task.
func (s *Scope) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	if err := s.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskID), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks lists the caller's tasks, most recent first.
func (s *Scope) ListTasks(ctx context.Context, limit int) ([]models.Task, error) {
	path := "/v1/tasks"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var list taskListResponse
	if err := s.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Tasks, nil
}

// ListMessages fetches a task's conversation transcript.
func (s *Scope) ListMessages(ctx context.Context, taskID string, limit int) ([]models.TaskMessage, error) {
	path := "/v1/tasks/" + url.PathEscape(taskID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var list messageListResponse
	if err := s.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Messages, nil
}

// Reply sends a message to a task that is awaiting input.
func (s *Scope) Reply(ctx context.Context, taskID, message string) (*models.Task, error) {
	var task models.Task
	path := "/v1/tasks/" + url.PathEscape(taskID) + "/reply"
	if err := s.do(ctx, http.MethodPost, path, replyRequest{Message: message}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask cancels a queued or running task.
func (s *Scope) CancelTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	path := "/v1/tasks/" + url.PathEscape(taskID) + "/cancel"
	if err := s.do(ctx, http.MethodPost, path, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// do performs one authorized request against the upstream API.
func (s *Scope) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.client.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.client.userAgent)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return s.errorFromResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
		}
	}
	return nil
}

// upstreamError is the error envelope the Agents API returns.
type upstreamError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Scope) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	msg := ""
	var envelope upstreamError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	} else if len(body) > 0 {
		msg = string(body)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		s.client.logger.Debug("upstream auth failure", "status", resp.StatusCode)
		if msg != "" {
			return fmt.Errorf("%w: %s", ErrUpstreamAuth, msg)
		}
		return ErrUpstreamAuth
	case http.StatusNotFound:
		return ErrTaskNotFound
	default:
		if msg != "" {
			return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg)
		}
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
}
