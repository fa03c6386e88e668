package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodePapayas/a-life-cs461/internal/autosave"
	"github.com/CodePapayas/a-life-cs461/internal/engine"
	"github.com/CodePapayas/a-life-cs461/internal/persistence/persistencetest"
	"github.com/CodePapayas/a-life-cs461/internal/snapshot"
)

const testKey = "secret"

func newTestServer(t *testing.T, burst int) (*Server, http.Handler) {
	t.Helper()
	ctx := context.Background()
	saves, err := snapshot.New(ctx, persistencetest.OpenSQLite(t))
	require.NoError(t, err)
	sched, err := autosave.New(ctx, saves, false)
	require.NoError(t, err)
	require.NoError(t, sched.Configure(ctx, autosave.Config{
		IntervalTicks: 1000, MaxAutoSaves: 3, Enabled: true, SlotPrefix: "auto",
	}))

	opts := engine.DefaultOptions()
	opts.Width, opts.Height = 16, 16
	opts.Agents, opts.Resources = 8, 20
	opts.HistoryCapacity = 8
	sim, err := engine.NewSimulation(opts, saves, sched)
	require.NoError(t, err)

	eng := engine.NewEngine()
	eng.OnTick = sim.Tick

	s := &Server{Sim: sim, Eng: eng, AdminKey: testKey, RateLimit: 100, Burst: burst}
	return s, s.Handler()
}

func step(s *Server, n int) {
	for i := 0; i < n; i++ {
		s.Eng.Step(context.Background())
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestStatusAndHistory(t *testing.T) {
	s, h := newTestServer(t, 10)
	step(s, 12)

	rec := do(t, h, http.MethodGet, "/api/v1/status", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)["status"].(map[string]any)
	assert.Equal(t, 12.0, status["tick"])
	assert.Equal(t, 8.0, status["history_len"])

	rec = do(t, h, http.MethodGet, "/api/v1/history", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 8.0, body["capacity"])
	points := body["points"].([]any)
	require.Len(t, points, 8)
	assert.Equal(t, 5.0, points[0].(map[string]any)["tick"])

	rec = do(t, h, http.MethodGet, "/api/v1/history?back=2", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10.0, decode(t, rec)["tick"])

	rec = do(t, h, http.MethodGet, "/api/v1/history?back=8", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/history?back=x", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	s, h := newTestServer(t, 10)

	rec := do(t, h, http.MethodPost, "/api/v1/saves", `{"name":"a"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	s.AdminKey = ""
	h = s.Handler()
	rec = do(t, h, http.MethodPost, "/api/v1/saves", `{"name":"a"}`, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/saves", "", false)
	assert.Equal(t, http.StatusOK, rec.Code, "reads stay public")
}

func TestSaveListShowDelete(t *testing.T) {
	s, h := newTestServer(t, 10)
	step(s, 3)

	rec := do(t, h, http.MethodPost, "/api/v1/saves", `{"name":"checkpoint","description":"first"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 3.0, decode(t, rec)["tick"])

	rec = do(t, h, http.MethodPost, "/api/v1/saves", `{"description":"no name"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/saves", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "checkpoint", list[0]["slot"])
	assert.Equal(t, false, list[0]["auto_save"])

	rec = do(t, h, http.MethodGet, "/api/v1/saves/checkpoint", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode(t, rec)
	assert.Equal(t, "first", detail["description"])
	assert.Equal(t, 3.0, detail["history"])
	assert.Equal(t, s.Sim.RunID, detail["run_id"])

	rec = do(t, h, http.MethodDelete, "/api/v1/saves/checkpoint", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/v1/saves/checkpoint", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/v1/saves/checkpoint", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/saves/checkpoint", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAutoSaveEndpoints(t *testing.T) {
	s, h := newTestServer(t, 10)
	step(s, 2)

	rec := do(t, h, http.MethodGet, "/api/v1/autosave", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode(t, rec)["config"].(map[string]any)
	assert.Equal(t, 1000.0, cfg["interval_ticks"])

	rec = do(t, h, http.MethodPost, "/api/v1/autosave", `{"max_auto_saves":0}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/autosave", `{"interval_ticks":4,"slot_prefix":"bg"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg = decode(t, rec)["config"].(map[string]any)
	assert.Equal(t, 4.0, cfg["interval_ticks"])
	assert.Equal(t, 3.0, cfg["max_auto_saves"])
	assert.Equal(t, "bg", cfg["slot_prefix"])

	rec = do(t, h, http.MethodPost, "/api/v1/autosave/force", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, decode(t, rec)["tick"])

	rec = do(t, h, http.MethodGet, "/api/v1/autosave", "", false)
	body := decode(t, rec)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, 2.0, stats["last_auto_save_tick"])
	assert.Equal(t, true, stats["last_save_succeeded"])
	saves := body["saves"].([]any)
	require.Len(t, saves, 1)
	assert.Equal(t, "bg_0", saves[0].(map[string]any)["slot"])
}

func TestRestore(t *testing.T) {
	s, h := newTestServer(t, 10)
	step(s, 3)
	rec := do(t, h, http.MethodPost, "/api/v1/saves", `{"name":"early"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	step(s, 5)
	require.Equal(t, uint64(8), s.Eng.Tick())

	rec = do(t, h, http.MethodPost, "/api/v1/restore", `{"slot":"early"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(3), s.Eng.Tick())
	assert.Equal(t, uint64(3), s.Sim.LastTick)
	assert.Equal(t, uint64(4), s.Eng.Step(context.Background()))

	rec = do(t, h, http.MethodPost, "/api/v1/restore", `{"slot":"nope"}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, uint64(4), s.Eng.Tick())

	rec = do(t, h, http.MethodPost, "/api/v1/restore", `{"latest":true}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no auto-saves yet")

	rec = do(t, h, http.MethodPost, "/api/v1/restore", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpeed(t *testing.T) {
	s, h := newTestServer(t, 10)
	rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":2.5}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.5, s.Eng.Speed())

	rec = do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":-1}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, h := newTestServer(t, 10)
	step(s, 1)
	rec := do(t, h, http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alife_simulation_tick")
}

func TestWritesAreRateLimited(t *testing.T) {
	s, _ := newTestServer(t, 1)
	s.RateLimit = 0.01
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/autosave/force", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/autosave/force", "", true)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = do(t, h, http.MethodGet, "/api/v1/saves", "", false)
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not limited")
}
