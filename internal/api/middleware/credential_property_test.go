package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/agent-gateway/internal/auth"
)

func TestCredentialMiddlewareProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	m, codec := newMiddleware(t, "")

	properties.Property("a minted token authenticates whatever rides along", prop.ForAll(
		func(junkBearer, junkHeader, junkQuery string) bool {
			token, err := codec.Mint(testKey)
			if err != nil {
				return false
			}

			var c capture
			req := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
			req.Header.Set(auth.TokenHeader, token)
			req.Header.Set("Authorization", "Bearer "+junkBearer)
			req.Header.Set(auth.DefaultKeyHeader, junkHeader)
			q := req.URL.Query()
			q.Set(auth.KeyQueryField, junkQuery)
			req.URL.RawQuery = q.Encode()

			rec := httptest.NewRecorder()
			m.Resolve(captureHandler(&c)).ServeHTTP(rec, req)

			return rec.Code == http.StatusOK &&
				c.resolved.Key == testKey &&
				c.resolved.Provenance == auth.ProvenanceToken
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("the handler sees exactly the body the client sent", prop.ForAll(
		func(body string) bool {
			var c capture
			req := httptest.NewRequest(http.MethodPost, "/v1/tools/create_task", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(auth.DefaultKeyHeader, testKey)

			rec := httptest.NewRecorder()
			m.Resolve(captureHandler(&c)).ServeHTTP(rec, req)

			return rec.Code == http.StatusOK && c.body == body
		},
		gen.AnyString(),
	))

	properties.Property("query-carried direct keys authenticate with query provenance", prop.ForAll(
		func(key string) bool {
			var c capture
			req := httptest.NewRequest(http.MethodGet, "/v1/tools?"+auth.KeyQueryField+"="+key, nil)

			rec := httptest.NewRecorder()
			m.Resolve(captureHandler(&c)).ServeHTTP(rec, req)

			return rec.Code == http.StatusOK &&
				c.resolved.Key == key &&
				c.resolved.Provenance == auth.ProvenanceQuery
		},
		gen.RegexMatch("key_[a-zA-Z0-9]{20,40}"),
	))

	properties.TestingRun(t)
}
