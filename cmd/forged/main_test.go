package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/softwareforge/forge/internal/config"
	"github.com/softwareforge/forge/internal/telemetry"
)

func testConfig(t *testing.T, serverURL string) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FORGE_TFS_SERVER_URL", serverURL)
	t.Setenv("FORGE_TFS_PAT", "test-pat")
	t.Setenv("FORGE_TFS_REQUEST_TIMEOUT", "2s")
	t.Setenv("FORGE_DATABASE_DSN", ":memory:")

	cfg, err := config.LoadWithFile("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewApp_ServesHealthWhenServerRejectsCredentials(t *testing.T) {
	tfsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer tfsServer.Close()

	cfg := testConfig(t, tfsServer.URL+"/tfs")
	tel, err := telemetry.New(context.Background(), telemetry.FromSettings(cfg.Telemetry, "test"))
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg, zap.NewNop(), tel)
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.controller.HasAuthenticated())

	rec := httptest.NewRecorder()
	a.http.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status        string `json:"status"`
		Authenticated bool   `json:"authenticated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.False(t, health.Authenticated)

	rec = httptest.NewRecorder()
	a.http.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "forge_tfs_calls_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestInitLogger(t *testing.T) {
	cfg := testConfig(t, "http://localhost:8080/tfs")

	logger, err := initLogger(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, logger.Underlying())

	cfg.Logging.Level = "loud"
	_, err = initLogger(cfg, nil)
	assert.Error(t, err)
}

func TestInitLogger_BridgesToTelemetry(t *testing.T) {
	cfg := testConfig(t, "http://localhost:8080/tfs")
	tel := telemetry.NewTestTelemetry()

	logger, err := initLogger(cfg, tel.LoggerProvider())
	require.NoError(t, err)
	logger.Underlying().Info("collection created", zap.String("collection", "Alpha"))

	assert.Contains(t, tel.LogMessages(), "collection created")
}
