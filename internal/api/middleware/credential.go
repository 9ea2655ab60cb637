package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/narvanalabs/agent-gateway/internal/auth"
)

// Context keys for resolved credential information.
type contextKey string

// CredentialKey is the context key for the resolved credential.
const CredentialKey contextKey = "resolved_credential"

// maxBodyPeek bounds how much of a request body the carrier extraction
// will read looking for an api_key field.
const maxBodyPeek = 1 << 20

// GetCredential extracts the resolved credential from the request context.
func GetCredential(ctx context.Context) (auth.Resolved, bool) {
	if v := ctx.Value(CredentialKey); v != nil {
		return v.(auth.Resolved), true
	}
	return auth.Resolved{}, false
}

// Credential resolves the caller's credential once per request and
// stores the result in the request context.
type Credential struct {
	resolver     *auth.Resolver
	apiKeyHeader string
	logger       *slog.Logger
}

// NewCredential creates the credential middleware. apiKeyHeader is the
// primary direct-key header name, configurable per deployment.
func NewCredential(resolver *auth.Resolver, apiKeyHeader string, logger *slog.Logger) *Credential {
	if apiKeyHeader == "" {
		apiKeyHeader = auth.DefaultKeyHeader
	}
	return &Credential{
		resolver:     resolver,
		apiKeyHeader: apiKeyHeader,
		logger:       logger,
	}
}

// Resolve is a middleware that runs credential resolution and rejects
// requests that resolve to no credential. Handlers downstream read the
// result with GetCredential; resolution never runs twice.
func (m *Credential) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resolved := m.resolver.Resolve(m.carriersFrom(r))
		if !resolved.Authenticated() {
			m.logger.Debug("credential resolution failed",
				"provenance", resolved.Provenance,
				"path", r.URL.Path,
			)
			writeUnauthorized(w, "No usable credential")
			return
		}

		ctx := context.WithValue(r.Context(), CredentialKey, resolved)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// carriersFrom collects every credential carrier the request presents.
// The token can arrive in a header or, for EventSource and browser
// WebSocket clients that cannot set headers, a query parameter.
func (m *Credential) carriersFrom(r *http.Request) auth.Carriers {
	token := r.Header.Get(auth.TokenHeader)
	if token == "" {
		token = r.URL.Query().Get(auth.TokenQueryField)
	}
	return auth.Carriers{
		Token:           token,
		Bearer:          auth.ExtractBearerToken(r.Header.Get("Authorization")),
		PrimaryHeader:   r.Header.Get(m.apiKeyHeader),
		SecondaryHeader: r.Header.Get(auth.SecondaryKeyHeader),
		Query:           r.URL.Query().Get(auth.KeyQueryField),
		Body:            m.bodyKey(r),
	}
}

// bodyKey peeks into a JSON request body for a top-level api_key field
// and puts the body back for the handler. Anything that is not a JSON
// object with a string api_key counts as an absent carrier.
func (m *Credential) bodyKey(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return ""
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyPeek))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
	if err != nil {
		return ""
	}

	var peek struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return ""
	}
	return peek.APIKey
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"code":"unauthorized","message":"` + escapeJSON(message) + `"}`))
}

func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
