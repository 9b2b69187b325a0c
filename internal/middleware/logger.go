package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

const headerRequestID = "X-Request-ID"

// Logger writes one structured record per request.
func Logger(log *slog.Logger) gin.HandlerFunc {
	log = log.With(slog.String("component", "middleware/logger"))

	log.Info("logger middleware enabled")

	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(headerRequestID, requestID)

		entry := log.With(
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("remote_addr", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.String("request_id", requestID),
		)

		t1 := time.Now()
		c.Next()

		attrs := []any{
			slog.Int("status", c.Writer.Status()),
			slog.Int("bytes", c.Writer.Size()),
			slog.String("duration", time.Since(t1).String()),
		}
		if userID := c.GetString(ctxUserID); userID != "" {
			attrs = append(attrs, slog.String("user_id", userID))
		}

		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request completed", attrs...)
		default:
			entry.Info("request completed", attrs...)
		}
	}
}
