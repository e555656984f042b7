package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/beka-birhanu/xplode-api/api/i"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
)

type pingController struct{}

func (pingController) RegisterPublic(route *gin.RouterGroup) {
	route.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
}

func (pingController) RegisterProtected(route *gin.RouterGroup) {
	route.GET("/secret", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "router_test_total"}))

	h := NewRouter(Config{
		BaseURL:     "/api",
		Controllers: []i.Controller{pingController{}},
		AuthorizationMiddleware: func(c *gin.Context) {
			if c.GetHeader("Authorization") == "" {
				c.AbortWithStatus(http.StatusUnauthorized)
			}
		},
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	handler := h.Handler()

	get := func(path string, auth bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if auth {
			req.Header.Set("Authorization", "Bearer x")
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("Public route", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get("/api/v1/ping", false).Code)
	})

	t.Run("Protected route", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get("/api/v1/secret", false).Code)
		assert.Equal(t, http.StatusOK, get("/api/v1/secret", true).Code)
	})

	t.Run("Metrics", func(t *testing.T) {
		w := get("/metrics", false)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "router_test_total")
	})
}
