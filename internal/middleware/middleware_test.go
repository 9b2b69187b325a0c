package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvp-casino-backend/internal/config"
	"pvp-casino-backend/internal/lib/logger/sl"
	"pvp-casino-backend/internal/middleware"
	"pvp-casino-backend/internal/models"
	"pvp-casino-backend/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) (*gin.Engine, *services.JWTService) {
	t.Helper()

	jwtService := services.NewJWTService(&config.Config{JWTSecret: "middleware-secret"})

	r := gin.New()
	r.Use(middleware.Logger(sl.Discard()))

	api := r.Group("/api", middleware.AuthMiddleware(jwtService))
	api.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": middleware.CurrentUser(c).ID})
	})
	api.POST("/entries",
		middleware.RateLimitMiddleware(sl.Discard(), middleware.NewMemoryRateLimiter(), "entry", 2, time.Minute),
		func(c *gin.Context) { c.Status(http.StatusNoContent) })
	api.GET("/admin", middleware.RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	return r, jwtService
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r, jwtService := newRouter(t)

	token, err := jwtService.GenerateToken("alice", "", time.Hour)
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/api/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Token "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/api/me", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/api/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"alice"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(r, http.MethodGet, "/api/me?token="+token, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	r, jwtService := newRouter(t)

	player, err := jwtService.GenerateToken("alice", "", time.Hour)
	require.NoError(t, err)
	admin, err := jwtService.GenerateToken("ops", models.RoleAdmin, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/api/admin", player).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/api/admin", admin).Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	r, jwtService := newRouter(t)

	alice, err := jwtService.GenerateToken("alice", "", time.Hour)
	require.NoError(t, err)
	bob, err := jwtService.GenerateToken("bob", "", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/api/entries", alice).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/api/entries", alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodPost, "/api/entries", alice).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/api/entries", bob).Code)
}

func TestMemoryRateLimiter(t *testing.T) {
	l := middleware.NewMemoryRateLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.CheckRateLimit(ctx, "alice", "entry", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.CheckRateLimit(ctx, "alice", "entry", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.CheckRateLimit(ctx, "alice", "entry", 3, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "window is fixed by the first hit")
}
