package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/orneryd/attend/pkg/cycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestServer(t *testing.T, inbox *cycle.Inbox) (*Server, *cycle.Scheduler) {
	t.Helper()
	var opts []cycle.Option
	if inbox != nil {
		opts = append(opts, cycle.WithInbox(inbox))
	}
	sched, err := cycle.New(cycle.DefaultConfig(), nil, opts...)
	require.NoError(t, err)

	srv, err := New(sched, "test-version", nil)
	require.NoError(t, err)
	return srv, sched
}

func do(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

// =============================================================================
// Tests
// =============================================================================

func TestNewRequiresScheduler(t *testing.T) {
	_, err := New(nil, "v", nil)
	assert.ErrorIs(t, err, ErrNoScheduler)
}

func TestHealth(t *testing.T) {
	srv, sched := setupTestServer(t, nil)
	sched.Tick(context.Background())

	w, body := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-version", body["version"])
	assert.Equal(t, 1.0, body["tick"])
}

func TestSubmitInputsAndReadConcepts(t *testing.T) {
	srv, sched := setupTestServer(t, nil)

	w, body := do(t, srv, http.MethodPost, "/inputs",
		`{"inputs": ["$0.9;0.5;0.9$ bird", "bird --> animal", "a b"]}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 2.0, body["accepted"])

	results := body["results"].([]any)
	require.Len(t, results, 3)
	first := results[0].(map[string]any)
	assert.Equal(t, "bird", first["key"])
	assert.NotEmpty(t, first["id"])
	assert.Equal(t, "<bird --> animal>", results[1].(map[string]any)["key"])
	assert.Contains(t, results[2].(map[string]any)["error"], "invalid input")

	sched.Tick(context.Background())

	w, body = do(t, srv, http.MethodGet, "/concepts", "")
	require.Equal(t, http.StatusOK, w.Code)
	items := body["items"].([]any)
	require.Len(t, items, 3, "bird, the statement and its predicate")
	top := items[0].(map[string]any)
	assert.Equal(t, "bird", top["key"])
	assert.InDelta(t, 0.94, top["priority"], 1e-9, "activated again as a component")

	_, body = do(t, srv, http.MethodGet, "/concepts?limit=1", "")
	assert.Len(t, body["items"].([]any), 1)

	_, body = do(t, srv, http.MethodGet, "/pending", "")
	assert.Empty(t, body["items"].([]any))
}

func TestInputErrors(t *testing.T) {
	tests := []struct {
		name   string
		inbox  *cycle.Inbox
		body   string
		status int
	}{
		{"bad json", nil, `{"inputs": [`, http.StatusBadRequest},
		{"empty", nil, `{"inputs": []}`, http.StatusBadRequest},
		{"unparsable", nil, `{"inputs": ["a b"]}`, http.StatusBadRequest},
		{"full", cycle.NewInbox(cycle.InboxOptions{Size: 1}), `{"inputs": ["a", "b"]}`, http.StatusAccepted},
		{"rate limited", cycle.NewInbox(cycle.InboxOptions{Rate: 0.001, Burst: 1}), `{"inputs": ["a"]}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := setupTestServer(t, tt.inbox)
			w, body := do(t, srv, http.MethodPost, "/inputs", tt.body)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusAccepted {
				assert.Equal(t, 1.0, body["accepted"])
			} else if tt.name != "unparsable" {
				assert.Equal(t, true, body["error"])
			} else {
				assert.Equal(t, 0.0, body["accepted"])
			}
		})
	}

	t.Run("refusals map to status", func(t *testing.T) {
		srv, _ := setupTestServer(t, cycle.NewInbox(cycle.InboxOptions{Size: 1}))
		w, _ := do(t, srv, http.MethodPost, "/inputs", `{"inputs": ["a"]}`)
		require.Equal(t, http.StatusAccepted, w.Code)

		w, body := do(t, srv, http.MethodPost, "/inputs", `{"inputs": ["b"]}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, 0.0, body["accepted"])
	})

	t.Run("stopped", func(t *testing.T) {
		srv, sched := setupTestServer(t, nil)
		sched.Stop()
		w, _ := do(t, srv, http.MethodPost, "/inputs", `{"inputs": ["a"]}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("too many", func(t *testing.T) {
		srv, _ := setupTestServer(t, nil)
		srv.config.MaxInputs = 1
		w, _ := do(t, srv, http.MethodPost, "/inputs", `{"inputs": ["a", "b"]}`)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestLimitValidation(t *testing.T) {
	srv, _ := setupTestServer(t, nil)
	w, body := do(t, srv, http.MethodGet, "/concepts?limit=-2", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 400.0, body["code"])
}

func TestStats(t *testing.T) {
	srv, sched := setupTestServer(t, nil)
	do(t, srv, http.MethodPost, "/inputs", `{"inputs": ["x"]}`)
	sched.Tick(context.Background())

	w, body := do(t, srv, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["tick"])

	scheduler := body["scheduler"].(map[string]any)
	assert.Equal(t, 1.0, scheduler["tasks_fired"])
	inbox := body["inbox"].(map[string]any)
	assert.Equal(t, 1.0, inbox["submitted"])
	concepts := body["concepts"].(map[string]any)
	assert.Equal(t, 1.0, concepts["size"])
	server := body["server"].(map[string]any)
	assert.GreaterOrEqual(t, server["request_count"].(float64), 2.0)
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := setupTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/concepts", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStartStop(t *testing.T) {
	sched, err := cycle.New(cycle.DefaultConfig(), nil)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	srv, err := New(sched, "v", cfg)
	require.NoError(t, err)

	require.NoError(t, srv.Start())
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Post("http://"+srv.Addr()+"/inputs", "application/json",
		bytes.NewBufferString(`{"inputs": ["remote"]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, sched.Inbox().Len())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, srv.Stop(ctx))
	assert.ErrorIs(t, srv.Start(), ErrServerClosed)
}
