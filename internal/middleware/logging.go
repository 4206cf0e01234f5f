package middleware

import (
	"context"
	"strings"
	"time"

	"atum-server/internal/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// traceID prefers the Cloud Run trace header, then X-Trace-ID, then a fresh UUID.
func traceID(c *gin.Context) string {
	if header := c.GetHeader("X-Cloud-Trace-Context"); header != "" {
		// Format: "TRACE_ID/SPAN_ID;o=TRACE_TRUE"
		id, _, _ := strings.Cut(header, "/")
		if id != "" {
			return id
		}
	}
	if id := c.GetHeader("X-Trace-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

// RequestLogging assigns a trace ID to every request and logs its start and completion.
func RequestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := traceID(c)
		c.Set("trace_id", id)
		c.Header("X-Trace-ID", id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), log.TraceIDKey, id))

		start := time.Now()
		log.WithContext(c).Debug("Request started",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"user_agent", c.Request.UserAgent(),
			"remote_addr", c.ClientIP(),
		)

		c.Next()

		// Re-read the context: authentication may have attached the user by now
		log.WithContext(c).Info("Request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}
