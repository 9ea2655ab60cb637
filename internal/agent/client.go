// Package agent provides the client for the upstream Agents API. The
// client itself carries no credential; every call goes through a Scope
// bound to the credential resolved for that one inbound call.
package agent

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Errors returned by upstream calls.
var (
	// ErrUpstreamAuth means the upstream rejected the credential the
	// gateway presented (401 or 403).
	ErrUpstreamAuth = errors.New("upstream rejected the credential")
	// ErrTaskNotFound means the upstream has no task with that id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrUpstream covers every other upstream failure.
	ErrUpstream = errors.New("upstream error")
)

// ClientConfig holds upstream client configuration.
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client is the shared, credential-free upstream client. The embedded
// http.Client is safe for concurrent use and never holds credential
// state; authorization is set per request by Scope.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an upstream client.
func New(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "agent-gateway"
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Scope binds the client to one resolved credential for the duration of
// one inbound call. Scopes are cheap values; build one per call and let
// it go.
func (c *Client) Scope(apiKey string) *Scope {
	return &Scope{client: c, apiKey: apiKey}
}
