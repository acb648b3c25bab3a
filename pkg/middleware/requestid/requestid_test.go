package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(headers map[string]string) (*httptest.ResponseRecorder, string) {
	gin.SetMode(gin.TestMode)
	var seen string
	r := gin.New()
	r.Use(Middleware())
	r.GET("/", func(c *gin.Context) {
		seen = Value(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec, seen
}

func TestMiddlewareReusesCallerID(t *testing.T) {
	rec, seen := serve(map[string]string{HeaderKey: "abc-123"})

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(HeaderKey))
}

func TestMiddlewareAcceptsLegacyHeader(t *testing.T) {
	_, seen := serve(map[string]string{LegacyHeaderKey: "legacy"})

	assert.Equal(t, "legacy", seen)
}

func TestMiddlewareGeneratesWhenMissingOrUnsafe(t *testing.T) {
	rec, seen := serve(map[string]string{HeaderKey: strings.Repeat("x", 200)})

	assert.Len(t, seen, 32)
	assert.Equal(t, seen, rec.Header().Get(HeaderKey))

	_, other := serve(nil)
	assert.NotEqual(t, seen, other)
}
