package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(context.Context) error {
	return s.err
}

func serve(h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthHandler_Healthy(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("state", stubChecker{})

	rec := serve(manager.HealthHandler, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "healthy", resp.Checks["state"])
}

func TestHealthHandler_UnhealthyReturns503WithChecks(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("livy", stubChecker{err: errors.New("connection refused")})
	manager.RegisterChecker("state", stubChecker{})

	rec := serve(manager.ReadinessHandler, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)

	checks, ok := resp.Error.Details["checks"].(map[string]any)
	require.True(t, ok, "expected checks in error details")
	assert.Equal(t, "unhealthy", checks["livy"])
	assert.Equal(t, "healthy", checks["state"])
}

func TestLivenessIgnoresCheckers(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("livy", stubChecker{err: errors.New("down")})

	assert.Equal(t, http.StatusOK, serve(manager.LivenessHandler, "/health/live").Code)
	assert.Equal(t, http.StatusOK, serve(manager.StartupHandler, "/health/startup").Code)
}

func TestCheckerTimeoutIsDegraded(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("slow", HealthCheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// a cancelled parent is not a timeout
	assert.Equal(t, "unhealthy", manager.runChecks(ctx)["slow"])

	assert.Equal(t, "degraded", manager.determineOverallStatus(map[string]string{"db": "timeout"}))
	assert.Equal(t, "unhealthy", manager.determineOverallStatus(map[string]string{"a": "timeout", "b": "unhealthy"}))
	assert.Equal(t, "healthy", manager.determineOverallStatus(nil))
}

func TestGlobalHandlers(t *testing.T) {
	original := globalHealthManager
	defer func() { globalHealthManager = original }()

	handlers := map[string]http.HandlerFunc{
		"HealthHandler":    HealthHandler,
		"LivenessHandler":  LivenessHandler,
		"ReadinessHandler": ReadinessHandler,
		"StartupHandler":   StartupHandler,
	}

	globalHealthManager = nil
	assert.Nil(t, GetHealthManager())
	for name, h := range handlers {
		assert.Equal(t, http.StatusServiceUnavailable, serve(h, "/health").Code, name)
	}

	InitHealthManager("test-version")
	require.NotNil(t, GetHealthManager())
	for name, h := range handlers {
		assert.Equal(t, http.StatusOK, serve(h, "/health").Code, name)
	}
}

func TestVersionHandler(t *testing.T) {
	SetVersionInfo("1.0.0", "abc123", "2026-03-01")
	defer SetVersionInfo("dev", "unknown", "unknown")

	rec := serve(VersionHandler, "/version")
	require.Equal(t, http.StatusOK, rec.Code)

	var info VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, "abc123", info.Commit)
	assert.NotEmpty(t, info.GoVersion)
}
