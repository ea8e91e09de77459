package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/voxel-terrain/internal/logging"
)

// TraceIDKey: ключ trace-ID в gin.Context и заголовок ответа.
const TraceIDKey = "trace_id"

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи.
type RequestLogger struct {
	log *logging.Logger
}

// NewRequestLogger создаёт middleware. nil: логгер компонента api.
func NewRequestLogger(log *logging.Logger) *RequestLogger {
	if log == nil {
		log = logging.GetAPILogger()
	}
	return &RequestLogger{log: log}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Пытаемся извлечь trace-id из OpenTelemetry, если уже создан.
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set(TraceIDKey, traceID)
		c.Header("X-Trace-Id", traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		rl.log.Debug("[HTTP] ▶ %s %s ip=%s trace=%s", method, path, c.ClientIP(), traceID)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= 500 {
			rl.log.Warn("[HTTP] ◀ %s %s %d %s trace=%s errors=%s", method, path, status, latency, traceID, c.Errors.String())
			return
		}
		rl.log.Info("[HTTP] ◀ %s %s %d %s trace=%s", method, path, status, latency, traceID)
	}
}
