package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func traceRouter() *gin.Engine {
	r := gin.New()
	r.Use(TraceID())
	r.GET("/echo", func(c *gin.Context) {
		c.String(http.StatusOK, GetTraceID(c))
	})
	return r
}

func doTrace(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	if header != "" {
		req.Header.Set(TraceIDHeader, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTraceIDMinted(t *testing.T) {
	w := doTrace(traceRouter(), "")
	require.Equal(t, http.StatusOK, w.Code)

	id := w.Body.String()
	assert.Len(t, id, 36) // uuid text form
	assert.Equal(t, id, w.Header().Get(TraceIDHeader))
}

func TestTraceIDPropagatedFromClient(t *testing.T) {
	w := doTrace(traceRouter(), "client-supplied-id")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "client-supplied-id", w.Body.String())
	assert.Equal(t, "client-supplied-id", w.Header().Get(TraceIDHeader))
}

func TestTraceIDDistinctAcrossRequests(t *testing.T) {
	r := traceRouter()
	first := doTrace(r, "").Body.String()
	second := doTrace(r, "").Body.String()
	assert.NotEqual(t, first, second)
}

func TestGetTraceIDOutsideRequest(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, GetTraceID(c))
}
