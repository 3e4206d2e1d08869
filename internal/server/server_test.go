package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ScreenLogAI/internal/config"
	"ScreenLogAI/internal/storage"
	"ScreenLogAI/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	state   models.PersistentServiceState
	running bool
	failOn  string
}

func (f *fakeService) respond(ok bool, msg string) models.ServiceResponse {
	st := f.state
	return models.ServiceResponse{Success: ok, Message: msg, State: &st}
}

func (f *fakeService) Start() models.ServiceResponse {
	if f.failOn == "start" {
		return f.respond(false, "启动截屏失败: no display")
	}
	f.state.Status = models.StatusRunning
	f.running = true
	return f.respond(true, "服务已启动")
}

func (f *fakeService) Stop() models.ServiceResponse {
	f.state.Status = models.StatusStopped
	f.running = false
	return f.respond(true, "服务已停止")
}

func (f *fakeService) Status() models.ServiceResponse { return f.respond(true, "状态查询成功") }
func (f *fakeService) Running() bool                  { return f.running }

type fakeWindows struct {
	history []models.WindowSwitchEvent
}

func (f *fakeWindows) CurrentWindow() *models.WindowFocusSample {
	return &models.WindowFocusSample{AppName: "Code", WindowTitle: "main.go"}
}

func (f *fakeWindows) Stats() models.WindowSwitchStats {
	return models.WindowSwitchStats{TotalSwitches: len(f.history), MostUsedApps: []models.AppUsage{{AppName: "Code", DurationMs: 17000}}}
}

func (f *fakeWindows) SwitchHistory(limit int) []models.WindowSwitchEvent {
	if limit > 0 && limit < len(f.history) {
		return f.history[len(f.history)-limit:]
	}
	return f.history
}

func (f *fakeWindows) Sessions() []models.WindowSession { return []models.WindowSession{{AppName: "Code"}} }
func (f *fakeWindows) AppUsage() []models.AppUsage       { return []models.AppUsage{{AppName: "Code", DurationMs: 17000}} }

type fixture struct {
	srv     *Server
	service *fakeService
	store   *storage.Manager
	cfg     *config.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := models.DefaultConfig()
	cfg.AI.APIKey = "secret"
	cfgMgr := config.NewStaticManager(cfg)

	svc := &fakeService{state: models.DefaultServiceState("abc123")}
	windows := &fakeWindows{history: []models.WindowSwitchEvent{
		{ToApp: "A"}, {FromApp: "A", ToApp: "B"}, {FromApp: "B", ToApp: "A"},
	}}

	srv := NewServer(Deps{
		Service: svc,
		Windows: windows,
		Logs:    store,
		Config:  cfgMgr,
		Screens: func() []models.ScreenInfo { return []models.ScreenInfo{{Index: 0, Width: 1920, Height: 1080, IsPrimary: true}} },
	}, "test")

	return &fixture{srv: srv, service: svc, store: store, cfg: cfgMgr}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestServiceEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/service/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.ServiceResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.State)
	assert.Equal(t, models.StatusRunning, resp.State.Status)

	rec = f.do(t, http.MethodGet, "/api/service/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Success    bool                          `json:"success"`
		State      models.PersistentServiceState `json:"state"`
		LoopActive bool                          `json:"loop_active"`
	}
	decode(t, rec, &status)
	assert.True(t, status.Success)
	assert.True(t, status.LoopActive)
	assert.Equal(t, "abc123", status.State.ConfigFingerprint)

	rec = f.do(t, http.MethodPost, "/api/service/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.service.running)
}

func TestStartFailureReturnsError(t *testing.T) {
	f := newFixture(t)
	f.service.failOn = "start"

	rec := f.do(t, http.MethodPost, "/api/service/start", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp models.ServiceResponse
	decode(t, rec, &resp)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "no display")
}

func TestWindowEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/window/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current struct {
		Window models.WindowFocusSample `json:"window"`
	}
	decode(t, rec, &current)
	assert.Equal(t, "Code", current.Window.AppName)

	rec = f.do(t, http.MethodGet, "/api/window/history?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.WindowSwitchEvent
	decode(t, rec, &history)
	require.Len(t, history, 2)
	assert.Equal(t, "B", history[0].ToApp)

	rec = f.do(t, http.MethodGet, "/api/window/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/window/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.WindowSwitchStats
	decode(t, rec, &stats)
	assert.Equal(t, 3, stats.TotalSwitches)

	for _, path := range []string{"/api/window/sessions", "/api/window/usage"} {
		rec = f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestLogEndpoints(t *testing.T) {
	f := newFixture(t)

	at := time.Date(2024, 6, 8, 16, 0, 0, 0, time.Local)
	require.NoError(t, f.store.AppendActivity(&models.ActivityLog{Timestamp: at, Description: "【编程】【Code】写代码"}))
	require.NoError(t, f.store.AppendActivity(&models.ActivityLog{Timestamp: at.Add(time.Minute), Description: "【沟通】【Slack】回复消息"}))

	rec := f.do(t, http.MethodGet, "/api/logs/2024-06-08", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var day struct {
		Date  string               `json:"date"`
		Count int                  `json:"count"`
		Logs  []models.ActivityLog `json:"logs"`
	}
	decode(t, rec, &day)
	assert.Equal(t, 2, day.Count)
	assert.Equal(t, "【编程】【Code】写代码", day.Logs[0].Description)

	rec = f.do(t, http.MethodGet, "/api/logs/06-08-2024", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var days []storage.DayCount
	decode(t, rec, &days)
	require.Len(t, days, 1)
	assert.Equal(t, int64(2), days[0].Count)

	rec = f.do(t, http.MethodGet, "/api/stats/storage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.StorageStats
	decode(t, rec, &stats)
	assert.Equal(t, int64(2), stats.TotalEntries)
}

func TestConfigEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg models.AppConfig
	decode(t, rec, &cfg)
	assert.Equal(t, maskedKey, cfg.AI.APIKey)

	cfg.Capture.Interval = 120
	rec = f.do(t, http.MethodPut, "/api/config", cfg)
	require.Equal(t, http.StatusOK, rec.Code)

	current := f.cfg.Get()
	assert.Equal(t, 120, current.Capture.Interval)
	assert.Equal(t, "secret", current.AI.APIKey)

	cfg.Capture.Interval = 0
	rec = f.do(t, http.MethodPut, "/api/config", cfg)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/screens", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var screens []models.ScreenInfo
	decode(t, rec, &screens)
	require.Len(t, screens, 1)
	assert.True(t, screens[0].IsPrimary)
}

func TestConfigUpdateKeepsEnvironmentKeyOffDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("SILICONFLOW_API_KEY", "sk-env-only")

	cfgMgr, err := config.NewManager(path)
	require.NoError(t, err)
	f := newFixture(t)
	f.srv = NewServer(Deps{Service: f.service, Logs: f.store, Config: cfgMgr}, "test")

	rec := f.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg models.AppConfig
	decode(t, rec, &cfg)
	require.Equal(t, maskedKey, cfg.AI.APIKey)

	cfg.Capture.Interval = 30
	rec = f.do(t, http.MethodPut, "/api/config", cfg)
	require.Equal(t, http.StatusOK, rec.Code)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-env-only")
	assert.Equal(t, "sk-env-only", cfgMgr.GetAI().APIKey)
	assert.Equal(t, 30, cfgMgr.GetCapture().Interval)
}

func TestAIConnection(t *testing.T) {
	f := newFixture(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"Qwen/Qwen2-VL-7B-Instruct","owned_by":"qwen"}]}`))
	}))
	defer upstream.Close()

	rec := f.do(t, http.MethodPost, "/api/ai/test-connection", map[string]string{"base_url": upstream.URL, "api_key": maskedKey})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Success bool `json:"success"`
		Models  []struct {
			ID string `json:"id"`
		} `json:"models"`
	}
	decode(t, rec, &body)
	assert.True(t, body.Success)
	require.Len(t, body.Models, 1)
	assert.Equal(t, "Qwen/Qwen2-VL-7B-Instruct", body.Models[0].ID)

	rec = f.do(t, http.MethodPost, "/api/ai/test-connection", map[string]string{"provider": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
