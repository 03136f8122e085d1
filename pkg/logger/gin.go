package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const headerTraceID = "X-Request-Id"

// Middleware returns a Gin middleware that tags each HTTP exchange with a trace id and logs a
// one-line summary. The trace id is logged as trace_id; request_id is reserved for the
// confirmation request a log line is about.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		tid := c.GetHeader(headerTraceID)
		if tid == "" {
			tid = uuid.NewString()
		}
		c.Writer.Header().Set(headerTraceID, tid)

		reqLogger := l.With("trace_id", tid)
		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		dur := time.Since(start)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", float64(dur.Milliseconds()),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
			reqLogger.Error("http", attrs...)
			return
		}
		if c.Writer.Status() >= 500 {
			reqLogger.Warn("http", attrs...)
			return
		}
		reqLogger.Info("http", attrs...)
	}
}

// FromGin pulls the request-scoped logger from Gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
