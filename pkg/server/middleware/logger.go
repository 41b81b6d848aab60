package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stamphq/iam-service/pkg/server/framework"
)

// Logger logs request info before and after a handler runs. Each request gets
// a trace id unless the tracing middleware already assigned one.
func Logger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID, ok := c.Value(framework.TraceIDKey.String()).(string)
		if !ok {
			traceID = uuid.NewString()
			c.Set(framework.TraceIDKey.String(), traceID)
		}
		start := time.Now()

		log.WithFields(logrus.Fields{
			"traceID": traceID,
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"remote":  c.Request.RemoteAddr,
		}).Debug("request started")

		c.Next()

		log.WithFields(logrus.Fields{
			"traceID": traceID,
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"remote":  c.Request.RemoteAddr,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("request completed")
	}
}
