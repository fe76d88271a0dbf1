package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiger4589/cqrs-lib"
	busmemory "github.com/tiger4589/cqrs-lib/bus/memory"
	"github.com/tiger4589/cqrs-lib/internal/user"
	"github.com/tiger4589/cqrs-lib/internal/user/storage/memory"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T, register func(*cqrs.Builder)) *httptest.Server {
	t.Helper()

	log := zaptest.NewLogger(t)
	b := cqrs.NewBuilder()
	register(b)
	reg, err := b.Build()
	require.NoError(t, err)

	s := NewServer(DefaultServerConfig(), cqrs.NewDispatcher(reg, cqrs.WithLogger(log)), log)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func userServer(t *testing.T) *httptest.Server {
	return newTestServer(t, func(b *cqrs.Builder) {
		user.Register(b, user.Dependencies{
			Repository: memory.New(),
			Events:     busmemory.New(zaptest.NewLogger(t)),
			Log:        zaptest.NewLogger(t),
		})
	})
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestHealth(t *testing.T) {
	ts := userServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestUserLifecycle(t *testing.T) {
	ts := userServer(t)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/user", `{"name":"Ada","email":"ada@example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id, err := uuid.Parse(body["id"].(string))
	require.NoError(t, err)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/user?id="+id.String(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "Ada", body["name"])
	assert.Equal(t, "ada@example.com", body["email"])

	resp, body = do(t, http.MethodGet, ts.URL+"/api/users", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["users"], 1)

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/user", `{"id":"`+id.String()+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/user?id="+id.String(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/user", `{"id":"`+id.String()+`"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBadRequests(t *testing.T) {
	ts := userServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed id", http.MethodGet, "/api/user?id=nope", "", http.StatusBadRequest},
		{"missing id", http.MethodGet, "/api/user", "", http.StatusBadRequest},
		{"unknown id", http.MethodGet, "/api/user?id=" + uuid.NewString(), "", http.StatusNotFound},
		{"invalid json", http.MethodPost, "/api/user", `{`, http.StatusBadRequest},
		{"empty name", http.MethodPost, "/api/user", `{"name":""}`, http.StatusBadRequest},
		{"bad email", http.MethodPost, "/api/user", `{"name":"Ada","email":"x"}`, http.StatusBadRequest},
		{"delete nil id", http.MethodDelete, "/api/user", `{}`, http.StatusBadRequest},
		{"wrong method", http.MethodPut, "/api/user", `{}`, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, tt.method, ts.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestUnregisteredHandlerIsInternalError(t *testing.T) {
	ts := newTestServer(t, func(*cqrs.Builder) {})

	resp, body := do(t, http.MethodGet, ts.URL+"/api/users", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal error", body["message"])
}
