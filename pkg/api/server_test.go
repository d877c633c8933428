package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortsforge/shortsforge/pkg/artifact"
	"github.com/shortsforge/shortsforge/pkg/config"
	"github.com/shortsforge/shortsforge/pkg/dashboard"
	"github.com/shortsforge/shortsforge/pkg/masking"
	"github.com/shortsforge/shortsforge/pkg/metrics"
	"github.com/shortsforge/shortsforge/pkg/queue"
	"github.com/shortsforge/shortsforge/pkg/stage"
	"github.com/shortsforge/shortsforge/pkg/state"
	"github.com/shortsforge/shortsforge/pkg/supervisor"
)

func newTestServer(t *testing.T) (*Server, *state.DB) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.RootDir = t.TempDir()

	db, err := state.Open(filepath.Join(t.TempDir(), "items.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := artifact.NewStore(t.TempDir(), artifact.NewItemLocks())
	require.NoError(t, err)

	dash := dashboard.NewFake()
	machine := state.NewMachine(state.DefaultMachineConfig(), db, dash, store, masking.NewService())
	registry := stage.NewRegistry()
	pool := queue.NewPool(cfg.Queue, registry, supervisor.NewDispatcher(machine, registry))
	sup := supervisor.New(cfg, machine, registry, pool, dash, nil, nil, nil)

	return NewServer(sup, db, metrics.New().Handler()), db
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	w := get(t, srv, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body["version"], "shortsforge/")
}

func TestStatusReportsItemCounts(t *testing.T) {
	srv, db := newTestServer(t)
	it := &state.Item{
		ID: "I1", Title: "t", State: state.StateApproved,
		StageAttempts: map[string]int{},
		CreatedAt:     time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, db.Put(context.Background(), it))

	w := get(t, srv, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Health supervisor.Health `json:"health"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Health.Items["approved"])
}

func TestItemEndpoints(t *testing.T) {
	srv, db := newTestServer(t)
	it := &state.Item{
		ID: "I1", Source: state.SourceAIIdeation, Title: "t",
		State:         state.StateFailed,
		LastError:     &state.ErrorInfo{Kind: "auth", Message: "key rejected"},
		StageAttempts: map[string]int{},
		CreatedAt:     time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, db.Put(context.Background(), it))

	w := get(t, srv, "/items")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []itemView `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "failed", list.Items[0].State)
	assert.Equal(t, "key rejected", list.Items[0].Error)

	w = get(t, srv, "/items/I1")
	require.Equal(t, http.StatusOK, w.Code)

	w = get(t, srv, "/items/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	w := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
