package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/narvanalabs/agent-gateway/internal/agent"
	"github.com/narvanalabs/agent-gateway/internal/auth"
	"github.com/narvanalabs/agent-gateway/internal/journal"
	"github.com/narvanalabs/agent-gateway/internal/models"
	"github.com/narvanalabs/agent-gateway/internal/poll"
	"github.com/narvanalabs/agent-gateway/internal/tools"
	"github.com/narvanalabs/agent-gateway/pkg/config"
)

const (
	testKey       = "key_0123456789abcdefghij"
	testSecretHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeUpstream stands in for the agent service.
type fakeUpstream struct {
	mu         sync.Mutex
	lastAuth   string
	taskStatus models.TaskStatus
}

func (f *fakeUpstream) authSeen() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func (f *fakeUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		status := f.taskStatus
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/tasks":
			json.NewEncoder(w).Encode(models.Task{ID: "task-1", Status: models.TaskStatusQueued})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/tasks/"):
			id := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
			json.NewEncoder(w).Encode(models.Task{ID: id, Status: status})
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":"not_found","message":"no such resource"}}`))
		}
	}
}

func newGateway(t *testing.T, defaultKey string, store journal.Store) (*httptest.Server, *fakeUpstream, *auth.TokenCodec) {
	t.Helper()

	up := &fakeUpstream{taskStatus: models.TaskStatusSucceeded}
	upstream := httptest.NewServer(up.handler())
	t.Cleanup(upstream.Close)

	provider := auth.NewKeyProvider(testSecretHex)
	material, err := provider.Secret()
	if err != nil {
		t.Fatalf("Secret() error = %v", err)
	}
	codec, err := auth.NewTokenCodec(material)
	if err != nil {
		t.Fatalf("NewTokenCodec() error = %v", err)
	}

	logger := quietLogger()
	client := agent.New(agent.ClientConfig{BaseURL: upstream.URL, Timeout: 5 * time.Second}, logger)
	watcher := poll.New(poll.Config{
		Interval:    time.Millisecond,
		MaxInterval: 2 * time.Millisecond,
		Timeout:     2 * time.Second,
	}, logger)

	cfg := &config.Config{
		APIKeyHeader:    auth.DefaultKeyHeader,
		TokenTTL:        30 * 24 * time.Hour,
		ShutdownTimeout: time.Second,
	}
	srv := NewServer(cfg, Deps{
		Client:   client,
		Resolver: auth.NewResolver(codec, auth.ResolverConfig{DefaultKey: defaultKey}),
		Codec:    codec,
		Registry: tools.NewRegistry(watcher, store, logger),
		Watcher:  watcher,
		Journal:  store,
	}, logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, up, codec
}

func doJSON(t *testing.T, method, url string, headers map[string]string, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return resp, data
}

func TestHealthUnauthenticated(t *testing.T) {
	ts, _, _ := newGateway(t, "", nil)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", resp.StatusCode)
	}

	var health struct {
		Status     string `json:"status"`
		Components map[string]struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"components"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("health body is not JSON: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("health status = %q, want healthy", health.Status)
	}
	if health.Components["journal"].Message != "disabled" {
		t.Errorf("journal component = %+v, want disabled", health.Components["journal"])
	}
}

func TestV1RequiresCredential(t *testing.T) {
	ts, _, _ := newGateway(t, "", nil)

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/v1/tools", ""},
		{http.MethodPost, "/v1/tools/create_task", `{"prompt":"p","repository":"org/repo"}`},
		{http.MethodPost, "/v1/tokens", ""},
		{http.MethodGet, "/v1/history", ""},
		{http.MethodGet, "/v1/tasks/task-1/events", ""},
	}
	for _, tt := range tests {
		resp, body := doJSON(t, tt.method, ts.URL+tt.path, nil, tt.body)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", tt.method, tt.path, resp.StatusCode)
			continue
		}
		var apiErr struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code != "unauthorized" {
			t.Errorf("%s %s body = %s, want unauthorized JSON error", tt.method, tt.path, body)
		}
	}
}

func TestToolsList(t *testing.T) {
	ts, _, _ := newGateway(t, "", nil)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/tools",
		map[string]string{auth.DefaultKeyHeader: testKey}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/tools status = %d, want 200: %s", resp.StatusCode, body)
	}

	var list struct {
		Tools []tools.Definition `json:"tools"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("tools body is not JSON: %v", err)
	}
	if len(list.Tools) != 7 {
		t.Errorf("tool count = %d, want 7 without a journal", len(list.Tools))
	}
	if list.Tools[0].Name != tools.NameCreateTask {
		t.Errorf("first tool = %q, want %q", list.Tools[0].Name, tools.NameCreateTask)
	}
}

func TestToolCallProxiesCredential(t *testing.T) {
	ts, up, _ := newGateway(t, "", nil)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/tools/create_task",
		map[string]string{auth.DefaultKeyHeader: testKey},
		`{"prompt":"fix the bug","repository":"org/repo"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, body)
	}
	if got := up.authSeen(); got != "Bearer "+testKey {
		t.Errorf("upstream Authorization = %q, want the caller's key", got)
	}

	var res struct {
		Data models.Task `json:"data"`
		Text string      `json:"text"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if res.Data.ID != "task-1" || res.Text == "" {
		t.Errorf("result = %+v, want task-1 with rendered text", res)
	}
}

func TestToolCallWithBodyKey(t *testing.T) {
	ts, up, _ := newGateway(t, "", nil)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/tools/create_task", nil,
		`{"api_key":"`+testKey+`","prompt":"p","repository":"org/repo"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, body)
	}
	if got := up.authSeen(); got != "Bearer "+testKey {
		t.Errorf("upstream Authorization = %q, want the body-carried key", got)
	}
}

func TestMintedTokenRoundTrip(t *testing.T) {
	ts, up, _ := newGateway(t, "", nil)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/tokens",
		map[string]string{auth.DefaultKeyHeader: testKey}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mint status = %d, want 200: %s", resp.StatusCode, body)
	}
	var mint struct {
		Token      string `json:"token"`
		Provenance string `json:"provenance"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	if err := json.Unmarshal(body, &mint); err != nil {
		t.Fatalf("mint body is not JSON: %v", err)
	}
	if mint.Token == "" || mint.Provenance != auth.ProvenanceHeader {
		t.Fatalf("mint = %+v, want a token minted from the header credential", mint)
	}
	if mint.TTLSeconds != int64((30 * 24 * time.Hour).Seconds()) {
		t.Errorf("ttl_seconds = %d, want the configured advisory TTL", mint.TTLSeconds)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/v1/tools/get_task",
		map[string]string{auth.TokenHeader: mint.Token},
		`{"task_id":"task-5"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get_task via token status = %d, want 200: %s", resp.StatusCode, body)
	}
	if got := up.authSeen(); got != "Bearer "+testKey {
		t.Errorf("upstream Authorization = %q, want the key sealed in the token", got)
	}
}

func TestInvalidTokenStopsResolution(t *testing.T) {
	ts, _, _ := newGateway(t, testKey, nil)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/tools",
		map[string]string{
			auth.TokenHeader:      "corrupted-token-value-aaaaaaaaaaaaaaaaaa",
			auth.DefaultKeyHeader: testKey,
		}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401: an invalid token must not fall back", resp.StatusCode)
	}
}

func TestQueryKeyCarrier(t *testing.T) {
	ts, _, _ := newGateway(t, "", nil)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/tools?api_key="+testKey, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 via the query carrier", resp.StatusCode)
	}
}

func TestUnknownToolIs404(t *testing.T) {
	ts, _, _ := newGateway(t, "", nil)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/tools/definitely_not_a_tool",
		map[string]string{auth.DefaultKeyHeader: testKey}, `{}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", resp.StatusCode, body)
	}
	var apiErr struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code != "not_found" {
		t.Errorf("body = %s, want not_found JSON error", body)
	}
}

func TestInvalidInputIs400(t *testing.T) {
	ts, _, _ := newGateway(t, "", nil)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/tools/create_task",
		map[string]string{auth.DefaultKeyHeader: testKey}, `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", resp.StatusCode, body)
	}
	var apiErr struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code != "invalid_request" {
		t.Errorf("body = %s, want invalid_request JSON error", body)
	}
}

func TestHistoryDisabledIs404(t *testing.T) {
	ts, _, _ := newGateway(t, "", nil)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/history",
		map[string]string{auth.DefaultKeyHeader: testKey}, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when journaling is disabled", resp.StatusCode)
	}
}

func TestHistoryListsJournaledCalls(t *testing.T) {
	store, err := journal.OpenSQLite(t.TempDir()+"/journal.db", quietLogger())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ts, _, _ := newGateway(t, "", store)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/tools/create_task",
		map[string]string{auth.DefaultKeyHeader: testKey},
		`{"prompt":"p","repository":"org/repo"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create_task status = %d, want 200", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/history",
		map[string]string{auth.DefaultKeyHeader: testKey}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want 200: %s", resp.StatusCode, body)
	}

	var hist struct {
		Invocations []models.Invocation `json:"invocations"`
	}
	if err := json.Unmarshal(body, &hist); err != nil {
		t.Fatalf("history body is not JSON: %v", err)
	}
	if len(hist.Invocations) != 1 {
		t.Fatalf("history has %d entries, want 1", len(hist.Invocations))
	}
	inv := hist.Invocations[0]
	if inv.Tool != tools.NameCreateTask || inv.Provenance != auth.ProvenanceHeader || inv.Outcome != models.OutcomeOK {
		t.Errorf("journaled entry = %+v, want ok create_task via header", inv)
	}
}

func TestSSEStreamCompletes(t *testing.T) {
	ts, _, codec := newGateway(t, "", nil)
	token, err := codec.Mint(testKey)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	resp, err := http.Get(ts.URL + "/v1/tasks/task-9/events?token=" + token)
	if err != nil {
		t.Fatalf("GET events error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// The task is already terminal upstream, so the stream finishes on
	// its own after the first observation.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	stream := string(body)
	for _, want := range []string{"event: connected", "event: status", "event: done", `"status":"succeeded"`} {
		if !strings.Contains(stream, want) {
			t.Errorf("stream missing %q:\n%s", want, stream)
		}
	}
}

func TestWebSocketStreamCompletes(t *testing.T) {
	ts, _, codec := newGateway(t, "", nil)
	token, err := codec.Mint(testKey)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/tasks/task-3/events/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	var types []string
	for {
		var ev struct {
			Type string       `json:"type"`
			Task *models.Task `json:"task"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		types = append(types, ev.Type)
		if ev.Type == "done" {
			if ev.Task == nil || ev.Task.Status != models.TaskStatusSucceeded {
				t.Errorf("done event task = %+v, want succeeded", ev.Task)
			}
			break
		}
	}

	joined := strings.Join(types, ",")
	if !strings.Contains(joined, "connected") || !strings.Contains(joined, "done") {
		t.Errorf("event sequence = %v, want connected then done", types)
	}
}
