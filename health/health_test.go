package health_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devrev/docmap/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChecker_NoClientConfiguredReportsUnhealthy(t *testing.T) {
	c := health.NewChecker(nil, health.Config{Interval: time.Hour, Timeout: time.Second}, zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	c.ReadinessHandler(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChecker_LivenessAlwaysOKUntilSet(t *testing.T) {
	c := health.NewChecker(nil, health.Config{}, zap.NewNop())
	assert.True(t, c.IsLive())

	rec := httptest.NewRecorder()
	c.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChecker_SetReadinessOverridesForShutdown(t *testing.T) {
	c := health.NewChecker(nil, health.Config{}, zap.NewNop())
	c.SetReadiness(false)
	assert.False(t, c.IsReady())
}

func TestServer_StartStop(t *testing.T) {
	c := health.NewChecker(nil, health.Config{}, zap.NewNop())
	srv := health.NewServer("127.0.0.1:0", c, nil, zap.NewNop())
	srv.Start()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, srv.Stop(context.Background()))
}
