package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/health"
)

var (
	up   = health.PingerFunc(func(context.Context) error { return nil })
	down = health.PingerFunc(func(context.Context) error { return errors.New("connection refused") })
)

func serve(t *testing.T, checker *health.Checker, path string) (int, health.Response) {
	t.Helper()
	e := echo.New()
	checker.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp health.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestChecker_Check(t *testing.T) {
	tests := []struct {
		name     string
		database health.Pinger
		redis    health.Pinger
		fallback bool
		want     health.Status
	}{
		{name: "all healthy", database: up, redis: up, want: health.StatusHealthy},
		{name: "database down", database: down, redis: up, want: health.StatusUnhealthy},
		{name: "database down with fallback", database: down, redis: up, fallback: true, want: health.StatusDegraded},
		{name: "redis down", database: up, redis: down, want: health.StatusDegraded},
		{name: "cache disabled", database: up, want: health.StatusDegraded},
		{name: "database not configured", redis: up, want: health.StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := health.NewChecker(tt.database, tt.redis, tt.fallback, "test")
			checks := checker.Check(context.Background())
			assert.Equal(t, tt.want, health.OverallStatus(checks))
		})
	}
}

func TestChecker_Routes(t *testing.T) {
	checker := health.NewChecker(up, up, false, "1.2.3")

	code, resp := serve(t, checker, "/api/v1/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1.2.3", resp.Version)

	code, resp = serve(t, checker, "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, resp.Checks, "startup")

	checker.SetReady(true)
	code, resp = serve(t, checker, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusHealthy, resp.Status)

	code, resp = serve(t, checker, "/api/v1/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusHealthy, resp.Checks["database"].Status)
}

func TestChecker_UnhealthyReturns503(t *testing.T) {
	checker := health.NewChecker(down, up, false, "test")
	checker.SetReady(true)

	code, resp := serve(t, checker, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "connection refused", resp.Checks["database"].Message)

	checker = health.NewChecker(down, up, true, "test")
	code, resp = serve(t, checker, "/api/v1/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusDegraded, resp.Status)
}
