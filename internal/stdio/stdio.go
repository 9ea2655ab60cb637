// Package stdio implements the pipe transport: one JSON request per
// line on stdin, one JSON response per line on stdout. Diagnostics go
// to the logger, never to the pipe.
//
// The protocol mirrors the HTTP API. A request carries its credential
// in params ("token" for a sealed gateway token, "api_key" for a direct
// key), resolution runs exactly once per request with the same
// precedence as HTTP, and error codes match the HTTP error codes so
// callers can share handling across transports.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/narvanalabs/agent-gateway/internal/agent"
	"github.com/narvanalabs/agent-gateway/internal/auth"
	"github.com/narvanalabs/agent-gateway/internal/tools"
)

// Error codes carried in error responses.
const (
	codeParseError     = "parse_error"
	codeInvalidRequest = "invalid_request"
	codeUnknownMethod  = "unknown_method"
	codeUnauthorized   = "unauthorized"
	codeNotFound       = "not_found"
	codeUpstreamAuth   = "upstream_auth"
	codeUpstreamError  = "upstream_error"
	codeInternalError  = "internal_error"
)

// request is one inbound line. The ID is echoed verbatim in the
// response, so callers may use strings, numbers, or anything else that
// survives a round trip through JSON.
type request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// response is one outbound line. Exactly one of Result or Error is set.
type response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestParams carries every field a request may supply. Methods
// ignore the fields they have no use for; the credential fields are
// shared by all of them.
type requestParams struct {
	// Token is a sealed gateway token, checked before APIKey in the
	// same order the HTTP carriers are.
	Token string `json:"token,omitempty"`
	// APIKey is a direct key, the pipe's equivalent of the HTTP body
	// carrier.
	APIKey string `json:"api_key,omitempty"`

	// Tool and Input select and feed the tool for tools/call.
	Tool  string          `json:"tool,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// mintResult mirrors the HTTP mint response.
type mintResult struct {
	Token      string `json:"token"`
	Provenance string `json:"provenance"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

// Deps holds the server's dependencies.
type Deps struct {
	Client   *agent.Client
	Resolver *auth.Resolver
	Codec    *auth.TokenCodec
	Registry *tools.Registry
}

// Server answers gateway requests over a byte pipe.
type Server struct {
	deps     Deps
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewServer creates a pipe transport server. tokenTTL is the advisory
// lifetime surfaced by tokens/mint; zero omits it from the response.
func NewServer(deps Deps, tokenTTL time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, tokenTTL: tokenTTL, logger: logger}
}

// Serve runs the request loop on os.Stdin and os.Stdout. This is the
// entry point for the gateway-stdio binary.
func (s *Server) Serve(ctx context.Context) error {
	return s.Run(ctx, os.Stdin, os.Stdout)
}

// Run processes newline-delimited JSON requests from input and writes
// one response line per request to output, until input reaches EOF or
// the context is cancelled. A line that fails to parse produces an
// error response and does not stop the loop; only a read error or a
// broken output pipe does.
func (s *Server) Run(ctx context.Context, input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	// Tool inputs can be large (prompts with embedded context).
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	encoder := json.NewEncoder(output)
	encoder.SetEscapeHTML(false)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			if writeErr := writeError(encoder, nil, codeParseError, "parse error: "+err.Error()); writeErr != nil {
				return fmt.Errorf("writing parse error response: %w", writeErr)
			}
			continue
		}

		if err := s.dispatch(ctx, encoder, &req); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// dispatch resolves the request's credential and routes it to the
// method handler. Resolution happens exactly once per request, before
// any method logic, and an unresolved credential rejects every method.
func (s *Server) dispatch(ctx context.Context, encoder *json.Encoder, req *request) error {
	var params requestParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return writeError(encoder, req.ID, codeInvalidRequest, "invalid params: "+err.Error())
		}
	}

	resolved := s.deps.Resolver.Resolve(auth.Carriers{
		Token: params.Token,
		Body:  params.APIKey,
	})
	if !resolved.Authenticated() {
		s.logger.Debug("request rejected", "method", req.Method, "provenance", resolved.Provenance)
		return writeError(encoder, req.ID, codeUnauthorized, "No usable credential")
	}

	switch req.Method {
	case "tools/list":
		return writeResult(encoder, req.ID, map[string]any{"tools": s.deps.Registry.List()})
	case "tools/call":
		return s.handleToolsCall(ctx, encoder, req.ID, resolved, &params)
	case "tokens/mint":
		return s.handleTokensMint(encoder, req.ID, resolved)
	default:
		return writeError(encoder, req.ID, codeUnknownMethod, "unknown method: "+req.Method)
	}
}

func (s *Server) handleToolsCall(ctx context.Context, encoder *json.Encoder, id json.RawMessage, cred auth.Resolved, params *requestParams) error {
	if params.Tool == "" {
		return writeError(encoder, id, codeInvalidRequest, "tool is required")
	}

	scope := s.deps.Client.Scope(cred.Key)
	res, err := s.deps.Registry.Dispatch(ctx, scope, cred.Provenance, params.Tool, params.Input)
	if err != nil {
		return s.writeDispatchError(encoder, id, params.Tool, err)
	}
	return writeResult(encoder, id, res)
}

// writeDispatchError maps dispatch failures onto the wire error shape
// with the same taxonomy the HTTP API uses.
func (s *Server) writeDispatchError(encoder *json.Encoder, id json.RawMessage, name string, err error) error {
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return writeError(encoder, id, codeNotFound, "Unknown tool: "+name)
	case errors.Is(err, tools.ErrInvalidInput):
		return writeError(encoder, id, codeInvalidRequest, err.Error())
	case errors.Is(err, agent.ErrTaskNotFound):
		return writeError(encoder, id, codeNotFound, "Task not found")
	case errors.Is(err, agent.ErrUpstreamAuth):
		return writeError(encoder, id, codeUpstreamAuth, "Upstream rejected the resolved credential")
	case errors.Is(err, agent.ErrUpstream):
		return writeError(encoder, id, codeUpstreamError, "Upstream request failed")
	case errors.Is(err, context.DeadlineExceeded):
		return writeError(encoder, id, codeUpstreamError, "Upstream request timed out")
	default:
		s.logger.Error("tool dispatch failed", "tool", name, "error", err)
		return writeError(encoder, id, codeInternalError, "Tool dispatch failed")
	}
}

func (s *Server) handleTokensMint(encoder *json.Encoder, id json.RawMessage, cred auth.Resolved) error {
	token, err := s.deps.Codec.Mint(cred.Key)
	if err != nil {
		s.logger.Error("minting token failed", "error", err, "provenance", cred.Provenance)
		return writeError(encoder, id, codeInternalError, "Minting token failed")
	}

	res := mintResult{Token: token, Provenance: cred.Provenance}
	if s.tokenTTL > 0 {
		res.TTLSeconds = int64(s.tokenTTL.Seconds())
	}
	return writeResult(encoder, id, res)
}

// writeResult sends a success response. A nil id renders as null.
func writeResult(encoder *json.Encoder, id json.RawMessage, result any) error {
	return encoder.Encode(response{ID: id, Result: result})
}

// writeError sends an error response. A nil id renders as null.
func writeError(encoder *json.Encoder, id json.RawMessage, code, message string) error {
	return encoder.Encode(response{ID: id, Error: &rpcError{Code: code, Message: message}})
}
