package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-scheduler/config"
	"llm-scheduler/internal/profile"
	"llm-scheduler/internal/scheduler"
)

func newTestServer(t *testing.T) (*WebServer, *scheduler.Registry) {
	t.Helper()

	cfg := &config.Config{
		MultiAccount: config.MultiAccountConfig{
			Enabled:   true,
			Strategy:  "hybrid",
			Providers: []string{"anthropic"},
		},
		Web: config.WebConfig{Enabled: true, Host: "localhost", Port: 0},
		Providers: []config.ProviderConfig{
			{
				Name: "anthropic",
				Profiles: []config.ProfileConfig{
					{ID: "work", Tier: "ultra"},
					{ID: "personal", Tier: "free"},
				},
			},
			{
				Name:     "openai",
				Profiles: []config.ProfileConfig{{ID: "default", Tier: "unknown"}},
			},
		},
	}

	store := profile.NewConfigStore(cfg)
	registry := scheduler.NewRegistry(store, nil)
	resolver := scheduler.NewResolver(registry, func() *config.Config { return cfg }, nil)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ws := NewWebServer(cfg, registry, resolver, store, nil, nil, logger, time.Now())
	return ws, registry
}

func doRequest(ws *WebServer, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	ws.engine.ServeHTTP(w, req)
	return w
}

func TestHandleProviders(t *testing.T) {
	ws, _ := newTestServer(t)

	w := doRequest(ws, http.MethodGet, "/api/v1/providers")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Providers []struct {
			Name         string `json:"name"`
			Profiles     int    `json:"profiles"`
			MultiAccount bool   `json:"multi_account"`
			Active       bool   `json:"active"`
		} `json:"providers"`
		Strategy string `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "hybrid", body.Strategy)
	require.Len(t, body.Providers, 2)
	assert.Equal(t, "anthropic", body.Providers[0].Name)
	assert.Equal(t, 2, body.Providers[0].Profiles)
	assert.True(t, body.Providers[0].MultiAccount)
	assert.False(t, body.Providers[0].Active)
	assert.False(t, body.Providers[1].MultiAccount)
}

func TestHandleProviderProfiles(t *testing.T) {
	ws, registry := newTestServer(t)

	registry.Manager("anthropic").OnFailure("work", "model-x", scheduler.ErrorQuotaExhausted)

	w := doRequest(ws, http.MethodGet, "/api/v1/providers/anthropic/profiles")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Provider string                    `json:"provider"`
		Profiles []scheduler.ProfileStatus `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "anthropic", body.Provider)
	require.Len(t, body.Profiles, 2)
	for _, p := range body.Profiles {
		if p.ProfileID == "work" {
			assert.Less(t, p.Score, 100)
			assert.Len(t, p.Pairs, 1)
		}
	}
}

func TestHandleProviderProfilesNotFound(t *testing.T) {
	ws, _ := newTestServer(t)

	w := doRequest(ws, http.MethodGet, "/api/v1/providers/ghost/profiles")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleOrderPreview(t *testing.T) {
	ws, registry := newTestServer(t)

	registry.Manager("anthropic").OnFailure("work", "model-x", scheduler.ErrorQuotaExhausted)

	w := doRequest(ws, http.MethodGet, "/api/v1/providers/anthropic/order?model=model-x")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Provider string   `json:"provider"`
		Order    []string `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	// work 处于冷却，应排在 personal 之后
	require.Equal(t, []string{"personal", "work"}, body.Order)

	// 指定优先账号强制排首位
	w = doRequest(ws, http.MethodGet, "/api/v1/providers/anthropic/order?model=model-x&preferred=work")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, []string{"work", "personal"}, body.Order)

	w = doRequest(ws, http.MethodGet, "/api/v1/providers/ghost/order?model=model-x")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleProfileReset(t *testing.T) {
	ws, registry := newTestServer(t)

	manager := registry.Manager("anthropic")
	manager.OnFailure("work", "model-x", scheduler.ErrorQuotaExhausted)
	require.Greater(t, manager.CooldownRemaining("work", "model-x"), time.Duration(0))

	w := doRequest(ws, http.MethodPost, "/api/v1/providers/anthropic/profiles/work/reset")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, time.Duration(0), manager.CooldownRemaining("work", "model-x"))
}

func TestHandleProfileResetNotFound(t *testing.T) {
	ws, _ := newTestServer(t)

	w := doRequest(ws, http.MethodPost, "/api/v1/providers/anthropic/profiles/ghost/reset")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// 尚未产生调度状态时重置天然成立
func TestHandleProfileResetWithoutManager(t *testing.T) {
	ws, _ := newTestServer(t)

	w := doRequest(ws, http.MethodPost, "/api/v1/providers/anthropic/profiles/work/reset")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleStats(t *testing.T) {
	ws, registry := newTestServer(t)
	registry.Manager("anthropic")

	w := doRequest(ws, http.MethodGet, "/api/v1/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "uptime")
	assert.Contains(t, body, "providers")
}

func TestHandleUsageSummaryWithoutTracking(t *testing.T) {
	ws, _ := newTestServer(t)

	w := doRequest(ws, http.MethodGet, "/api/v1/usage/summary?provider=anthropic")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	ws, _ := newTestServer(t)

	w := doRequest(ws, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}
