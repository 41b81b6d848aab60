package framework

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Respond converts a Go value to JSON and sends it to the client.
func Respond(c *gin.Context, data any, statusCode int) {
	// if there's no payload to marshal, set the status code of the response and return
	if statusCode == http.StatusNoContent || data == nil {
		c.Status(statusCode)
		return
	}

	c.JSON(statusCode, data)
}

// LoggingRespondError sends an error response back to the client and logs it.
// A *SafeError's own status and fields win over the given status code.
func LoggingRespondError(c *gin.Context, err error, statusCode int) {
	logrus.WithError(err).Error("request failed")
	_ = c.Error(err)

	var safeErr *SafeError
	if errors.As(errors.Cause(err), &safeErr) {
		Respond(c, ErrorResponse{Error: safeErr.Err.Error(), Fields: safeErr.Fields}, safeErr.StatusCode)
		return
	}
	Respond(c, ErrorResponse{Error: err.Error()}, statusCode)
}

// LoggingRespondErrMsg sends an error message back to the client and logs it.
func LoggingRespondErrMsg(c *gin.Context, errMsg string, statusCode int) {
	LoggingRespondError(c, errors.New(errMsg), statusCode)
}

// LoggingRespondErrWithMsg sends the given message back to the client while
// logging the underlying error.
func LoggingRespondErrWithMsg(c *gin.Context, err error, errMsg string, statusCode int) {
	logrus.WithError(err).Error(errMsg)
	_ = c.Error(errors.Wrap(err, errMsg))
	Respond(c, ErrorResponse{Error: errMsg}, statusCode)
}
