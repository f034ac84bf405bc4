package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func whitelistRouter(ips []string) *gin.Engine {
	r := gin.New()
	r.Use(IPWhitelist(ips))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func pingFrom(r *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Real-IP", ip)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestIPWhitelistDisabledWhenEmpty(t *testing.T) {
	r := whitelistRouter(nil)
	assert.Equal(t, http.StatusOK, pingFrom(r, "203.0.113.9"))
}

func TestIPWhitelistEnforced(t *testing.T) {
	r := whitelistRouter([]string{"10.0.0.1", "10.0.0.2"})

	assert.Equal(t, http.StatusOK, pingFrom(r, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, pingFrom(r, "10.0.0.2"))
	assert.Equal(t, http.StatusForbidden, pingFrom(r, "10.0.0.3"))
}

func TestIPWhitelistRejectionBody(t *testing.T) {
	r := whitelistRouter([]string{"10.0.0.1"})
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Real-IP", "198.51.100.7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
}
