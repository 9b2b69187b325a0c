package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pvp-casino-backend/internal/models"
	"pvp-casino-backend/internal/services"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

func AuthMiddleware(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		var tokenString string

		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
				return
			}
			tokenString = parts[1]
		} else {
			// Browsers cannot set headers on a websocket upgrade.
			tokenString = c.Query("token")
			if tokenString == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
				return
			}
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxRole, claims.Role)

		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CurrentUser(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the identity set by AuthMiddleware; the zero User when
// the request is anonymous.
func CurrentUser(c *gin.Context) models.User {
	return models.User{ID: c.GetString(ctxUserID), Role: c.GetString(ctxRole)}
}
