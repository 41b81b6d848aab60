package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stamphq/iam-service/pkg/server/framework"
)

// Errors handles errors coming out of the call stack. Handlers respond to the
// client themselves; this middleware logs whatever they attached to the
// context so failures appear once per request with the trace id.
func Errors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		ginErrors := c.Errors.ByType(gin.ErrorTypeAny)
		if len(ginErrors) == 0 {
			return
		}

		traceID, _ := c.Value(framework.TraceIDKey.String()).(string)
		for _, e := range ginErrors {
			logrus.WithError(e.Err).WithFields(logrus.Fields{
				"traceID": traceID,
				"path":    c.Request.URL.Path,
			}).Error("request error")
		}
	}
}
