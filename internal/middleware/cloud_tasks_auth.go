package middleware

import (
	"crypto/subtle"
	"net/http"

	"atum-server/internal/log"

	"github.com/gin-gonic/gin"
)

// JobSecretHeader carries the shared secret attached to every enqueued job.
const JobSecretHeader = "X-Cloud-Tasks-Secret"

// JobSecretAuth admits job deliveries that present the shared secret.
func JobSecretAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		provided := c.GetHeader(JobSecretHeader)
		if provided == "" {
			log.Error(ctx, "Missing job secret header", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			log.Error(ctx, "Invalid job secret provided", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		log.Debug(ctx, "Job secret verified")
		c.Next()
	}
}
