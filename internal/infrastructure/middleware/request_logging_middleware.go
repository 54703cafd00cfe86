package middleware

import (
	"time"

	"meshvoice/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestLoggingMiddleware tags each request with an ID, carried in the
// request context for downstream loggers, and logs the request once done.
func RequestLoggingMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		ctx := logger.WithRequestID(c.Request.Context(), id)
		if addr := c.Param("address"); addr != "" {
			ctx = logger.WithPeerAddress(ctx, addr)
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		cl.LogRequest(c.Request.Context(), c.Request.Method, path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
