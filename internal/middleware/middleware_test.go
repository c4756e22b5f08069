package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

type observedRequest struct {
	method, path string
	status       int
}

type recordingObserver struct {
	seen []observedRequest
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, _ time.Duration) {
	r.seen = append(r.seen, observedRequest{method: method, path: path, status: status})
}

func newRouter(role models.UserRole, observer *recordingObserver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(observer))
	claims := &models.JWTClaims{UserID: "acc-1", Role: role}
	admin := r.Group("/admin", JWT(stubValidator{claims: claims}), RequireRoles(models.RoleAdmin))
	admin.GET("/dashboard/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func serve(r *gin.Engine, path, auth string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestJWTAndRoles(t *testing.T) {
	observer := &recordingObserver{}
	admin := newRouter(models.RoleAdmin, observer)
	assert.Equal(t, http.StatusOK, serve(admin, "/admin/dashboard/1", "Bearer good"))
	assert.Equal(t, http.StatusUnauthorized, serve(admin, "/admin/dashboard/1", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(admin, "/admin/dashboard/1", "Token good"))
	assert.Equal(t, http.StatusUnauthorized, serve(admin, "/admin/dashboard/1", "Bearer bad"))

	student := newRouter(models.RoleStudent, observer)
	assert.Equal(t, http.StatusForbidden, serve(student, "/admin/dashboard/1", "Bearer good"))
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	observer := &recordingObserver{}
	r := newRouter(models.RoleAdmin, observer)
	serve(r, "/admin/dashboard/42", "Bearer good")
	serve(r, "/nowhere", "")

	assert.Equal(t, []observedRequest{
		{method: http.MethodGet, path: "/admin/dashboard/:id", status: http.StatusOK},
		{method: http.MethodGet, path: "unmatched", status: http.StatusNotFound},
	}, observer.seen)
}
