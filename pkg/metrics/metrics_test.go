package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestServer_Readyz(t *testing.T) {
	t.Run("зависимости доступны", func(t *testing.T) {
		s := NewServer(":0", "payment-api", WithReadinessCheck(func(ctx context.Context) error { return nil }))

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())
	})

	t.Run("база недоступна", func(t *testing.T) {
		s := NewServer(":0", "payment-api", WithReadinessCheck(func(ctx context.Context) error {
			return errors.New("mysql ping: timeout")
		}))

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.NotContains(t, w.Body.String(), "mysql")
	})
}

func TestServer_Healthz(t *testing.T) {
	s := NewServer(":0", "payment-api")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGinMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMetricsMiddleware("metrics-test"))
	r.GET("/api/v1/payment-links/:token", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/payment-links/abc", nil))

	got := testutil.ToFloat64(RequestsTotal.WithLabelValues("metrics-test", "/api/v1/payment-links/:token", "error"))
	assert.Equal(t, 1.0, got)
}
