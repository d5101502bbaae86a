package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakebot/internal/intake"
	"intakebot/internal/metrics"
	"intakebot/internal/realtime"
	"intakebot/internal/storage"
	"intakebot/pkg/logx"
)

type fakeRelayer struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeRelayer) Relay(_ context.Context, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return 1, nil
}

type testEnv struct {
	srv    *httptest.Server
	svc    *intake.Service
	hub    *realtime.Hub
	relay  *fakeRelayer
	public string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	m := metrics.New()
	hub := realtime.NewHub(realtime.Config{WriteTimeout: time.Second}, logx.Nop(), m)
	svc := intake.New(st, hub, logx.Nop(), m)
	relay := &fakeRelayer{}

	public := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(public, "index.html"), []byte("<h1>intake</h1>"), 0o644))

	r := NewRouter(public, Deps{Requests: svc, Relay: relay, ServeWS: hub.ServeWS, Metrics: m, Log: logx.Nop()})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return &testEnv{srv: srv, svc: svc, hub: hub, relay: relay, public: public}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func (e *testEnv) listRequests(t *testing.T) []map[string]any {
	t.Helper()
	resp, body := e.do(t, http.MethodGet, "/requests", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(body, &list))
	return list
}

func TestRequestLifecycle(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, env.listRequests(t))

	resp, body := env.do(t, http.MethodPost, "/requests", `{"title":"fix sink"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]any
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "fix sink", created["title"])
	idf, ok := created["id"].(float64)
	require.True(t, ok, "id must be numeric: %v", created["id"])
	id := int64(idf)

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev map[string]any
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, realtime.TypeNewRequest, ev["type"])
	data, _ := ev["data"].(map[string]any)
	assert.Equal(t, created, data)

	list := env.listRequests(t)
	require.Len(t, list, 1)
	assert.Equal(t, idf, list[0]["id"])

	resp, _ = env.do(t, http.MethodDelete, "/requests/"+strconv.FormatInt(id, 10), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	ev = nil
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, realtime.TypeDeleteRequest, ev["type"])
	assert.Equal(t, idf, ev["id"])

	assert.Empty(t, env.listRequests(t))
}

func TestDeleteUnknownIDIsNoContent(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/requests", `{"title":"keep"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/requests/1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Len(t, env.listRequests(t), 1)
}

func TestBadInputIsRejected(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"non-integer id", http.MethodDelete, "/requests/abc", ""},
		{"array body", http.MethodPost, "/requests", `[1,2]`},
		{"null body", http.MethodPost, "/requests", `null`},
		{"malformed body", http.MethodPost, "/requests", `{"title":`},
		{"empty username", http.MethodPost, "/register-user", `{"username":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, env.listRequests(t))
}

func TestRegisterUserIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 2; i++ {
		resp, body := env.do(t, http.MethodPost, "/register-user", `{"username":"alice"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "OK", string(body))
	}
	users, err := env.svc.Users(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}

func TestNotifyRelaysText(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/notify", `{"text":"water leak on floor 3"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.relay.mu.Lock()
	defer env.relay.mu.Unlock()
	assert.Equal(t, []string{"water leak on floor 3"}, env.relay.texts)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req, err := http.NewRequest(http.MethodOptions, env.srv.URL+"/requests", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "content-type", resp.Header.Get("Access-Control-Allow-Headers"))
}

func TestStaticFilesAndHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "<h1>intake</h1>")

	resp, body = env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "intake_realtime_connections")
}

func TestRequestIDEchoedAndLogged(t *testing.T) {
	var logs bytes.Buffer
	r := NewRouter("", Deps{Log: logx.NewWriter(&logs, "debug")})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "rid-123")
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rid-123", rec.Header().Get(requestIDHeader))
	assert.Contains(t, logs.String(), `"rid":"rid-123"`)
	assert.Contains(t, logs.String(), `"path":"/healthz"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Len(t, rec.Header().Get(requestIDHeader), 36, "generated id must be a UUID")
}
