package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/identity-api/internal/models"
	"github.com/noah-isme/identity-api/internal/service"
)

type stubValidator map[string]*models.AccessClaims

func (s stubValidator) ValidateAccessToken(token string) (*models.AccessClaims, bool) {
	claims, ok := s[token]
	return claims, ok
}

var testValidator = stubValidator{
	"admin-token": {Roles: []string{models.RoleAdmin}, RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-1"}},
	"user-token":  {Roles: []string{models.RoleUser}, RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}},
}

func newProtectedRouter(allowed ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/users/:id", JWT(testValidator), RBAC(allowed...), func(c *gin.Context) {
		claims, _ := ClaimsFromContext(c)
		c.String(http.StatusOK, claims.Subject)
	})
	return r
}

func get(r http.Handler, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestJWTRejectsMissingAndInvalidTokens(t *testing.T) {
	r := newProtectedRouter(models.RoleAdmin)

	missing := get(r, "/users/x", "")
	assert.Equal(t, http.StatusUnauthorized, missing.Code)
	assert.Contains(t, missing.Body.String(), "UNAUTHORIZED")

	malformed := get(r, "/users/x", "Token admin-token")
	assert.Equal(t, http.StatusUnauthorized, malformed.Code)

	invalid := get(r, "/users/x", "Bearer forged")
	assert.Equal(t, http.StatusUnauthorized, invalid.Code)
	assert.Contains(t, invalid.Body.String(), "INVALID_OR_EXPIRED_TOKEN")
}

func TestRBACAllowsRoleOrSelf(t *testing.T) {
	r := newProtectedRouter(models.RoleAdmin, SelfAccess)

	admin := get(r, "/users/someone", "Bearer admin-token")
	assert.Equal(t, http.StatusOK, admin.Code)
	assert.Equal(t, "admin-1", admin.Body.String())

	self := get(r, "/users/user-1", "bearer user-token")
	assert.Equal(t, http.StatusOK, self.Code)

	other := get(r, "/users/someone", "Bearer user-token")
	assert.Equal(t, http.StatusForbidden, other.Code)
}

func TestRBACWithoutJWTIsUnauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, get(r, "/admin", "").Code)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	get(r, "/users/42", "")

	count, err := testutil.GatherAndCount(metrics.Registry(), "http_requests_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}
