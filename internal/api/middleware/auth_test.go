package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newEngine(cfg AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestTracing(), APIKeyAuth(cfg, zap.NewNop()))
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })
	return r
}

func TestAPIKeyAuth(t *testing.T) {
	r := newEngine(AuthConfig{Enabled: true, APIKeys: []string{"secret-key-123"}})

	tests := []struct {
		name   string
		header map[string]string
		code   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"invalid", map[string]string{"X-API-Key": "nope"}, http.StatusForbidden},
		{"header", map[string]string{"X-API-Key": "secret-key-123"}, http.StatusOK},
		{"bearer", map[string]string{"Authorization": "Bearer secret-key-123"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			assert.Equal(t, tt.code, rr.Code)
		})
	}
}

func TestAuthDisabledAndRequestID(t *testing.T) {
	r := newEngine(AuthConfig{Enabled: false})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, rr.Header().Get("X-Request-ID"), rr.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "fixed")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, "fixed", rr.Body.String())
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", maskAPIKey("short"))
	assert.Equal(t, "abcd****6789", maskAPIKey("abcdef0123456789"))
}
