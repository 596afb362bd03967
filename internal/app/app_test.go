package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flooringops/opsdesk/internal/auth"
	"github.com/flooringops/opsdesk/internal/observability"
	"github.com/flooringops/opsdesk/internal/shared"
	"github.com/flooringops/opsdesk/jobs"
	_ "github.com/flooringops/opsdesk/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 14, cfg.InvoicePaymentTermsDays)
	assert.Equal(t, 7, cfg.QuoteFollowUpDays)
	assert.Equal(t, 10, cfg.JobStartProgress)
	assert.Equal(t, 5*time.Minute, cfg.ReportCacheTTL)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadProgress(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("JOB_START_PROGRESS", "100")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn", AppEnv: "test"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "opsdesk", line["app"])
	assert.Equal(t, "test", line["env"])
}

func newTestRouter(t *testing.T) (http.Handler, *auth.Service) {
	t.Helper()
	authSvc := auth.NewService("secret", "opsdesk")
	router := NewRouter(RouterParams{
		Config:      &Config{AppEnv: "test", RateLimitPerMinute: 1000},
		AuthHandler: auth.NewHandler(nil, authSvc),
		JobHandler:  jobs.NewHandler(nil, nil),
		Metrics:     observability.NewMetrics(),
	})
	return router, authSvc
}

func get(router http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouterPublicEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := get(router, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	assert.Equal(t, http.StatusOK, get(router, "/jobs/health", "").Code)

	rec = get(router, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `opsdesk_http_requests_total{code="200",method="GET",route="/healthz"}`)
}

func TestRouterAPIRequiresBearer(t *testing.T) {
	router, authSvc := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, get(router, "/api/me", "").Code)

	token, err := authSvc.Issue(shared.Actor{ID: "inst-1", Role: shared.RoleInstaller}, time.Hour)
	require.NoError(t, err)
	rec := get(router, "/api/me", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"installer"`)
}

func TestTestModeFollowsEnvironment(t *testing.T) {
	t.Setenv(testModeEnv, "true")
	assert.True(t, RefreshTestMode())
	assert.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	assert.False(t, RefreshTestMode())
	assert.False(t, InTestMode())

	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
}

func TestRateLimiterReturnsProblem(t *testing.T) {
	router := NewRouter(RouterParams{
		Config:      &Config{AppEnv: "test", RateLimitPerMinute: 1},
		AuthHandler: auth.NewHandler(nil, auth.NewService("secret", "opsdesk")),
	})

	require.Equal(t, http.StatusOK, get(router, "/healthz", "").Code)
	rec := get(router, "/healthz", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
