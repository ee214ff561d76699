package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/telekom/tenant-control-plane/pkg/system"
	"github.com/telekom/tenant-control-plane/pkg/telemetry"
)

// tracingMiddleware opens a server span per routed request. Store spans
// started by the handlers become its children.
func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			c.Next()
			return
		}
		ctx, span := telemetry.StartSpan(c.Request.Context(), c.Request.Method+" "+route,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.String("request.id", c.GetString(system.RequestIDKey)),
		)
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		var err error
		if status >= 500 {
			err = fmt.Errorf("http status %d", status)
		}
		telemetry.EndSpan(span, err)
	}
}
