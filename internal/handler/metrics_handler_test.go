package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/identity-api/internal/service"
)

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := NewMetricsHandler(nil, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	failing := NewMetricsHandler(nil, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp 10.0.0.9:6379: refused") },
	})

	r := gin.New()
	r.GET("/ready", healthy.Ready)
	r.GET("/ready-failing", failing.Ready)

	rec, _ := doJSON(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"up"}}`, rec.Body.String())

	rec, _ = doJSON(r, http.MethodGet, "/ready-failing", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"postgres":"up","redis":"down"}}`, rec.Body.String())
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	metrics.RecordLoginAttempt(service.LoginOutcomeBlocked)

	r := gin.New()
	r.GET("/metrics", NewMetricsHandler(metrics, nil).Prometheus)

	rec, _ := doJSON(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `auth_login_attempts_total{outcome="blocked"} 1`)
}
