package framework

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Respond convert a Go value to JSON and sends it to the client.
func Respond(c *gin.Context, data any, statusCode int) error {
	// if there's no payload to marshal, set the status code of the response and return
	if statusCode == http.StatusNoContent {
		c.Status(statusCode)
		return nil
	}

	// respond with pretty JSON
	c.IndentedJSON(statusCode, data)
	return nil
}

// RespondError sends an error response back to the client. If the error is a `SafeError`,
// the error message and fields are sent back to the client. If the error is not a
// `SafeError`, a generic error message is sent back to the client.
func RespondError(c *gin.Context, err error) {
	var webErr *SafeError
	if errors.As(err, &webErr) {
		c.AbortWithStatusJSON(webErr.StatusCode, ErrorResponse{
			Error:  webErr.Err.Error(),
			Fields: webErr.Fields,
		})
		return
	}

	// if the error isn't a `SafeError`, it's not safe to send back the error
	// message as is because it may contain sensitive data. Send back a generic
	// 500.
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Error: http.StatusText(http.StatusInternalServerError),
	})
}

// LoggingRespondErrWithMsg logs err, answers the client and returns the error that was sent.
// Server side failures only expose errMsg; client errors carry the cause too.
func LoggingRespondErrWithMsg(c *gin.Context, err error, errMsg string, statusCode int) error {
	requestErr := newLoggedRequestError(c, err, errMsg, statusCode)
	RespondError(c, requestErr)
	return requestErr
}

// LoggingRespondErrMsg is LoggingRespondErrWithMsg without an underlying error.
func LoggingRespondErrMsg(c *gin.Context, errMsg string, statusCode int) error {
	return LoggingRespondErrWithMsg(c, nil, errMsg, statusCode)
}

func newLoggedRequestError(c *gin.Context, err error, errMsg string, statusCode int) error {
	traceID := c.GetString(TraceIDKey.String())
	entry := logrus.WithField("status", statusCode)
	if traceID != "" {
		entry = entry.WithField("traceID", traceID)
	}

	var safe *SafeError
	switch {
	case err == nil:
		entry.Error(errMsg)
		return NewRequestError(errors.New(errMsg), statusCode)
	case errors.As(err, &safe):
		entry.WithError(err).Error(errMsg)
		return &SafeError{Err: errors.Wrap(safe.Err, errMsg), StatusCode: safe.StatusCode, Fields: safe.Fields}
	case statusCode >= http.StatusInternalServerError:
		entry.WithError(err).Error(errMsg)
		return NewRequestError(errors.New(errMsg), statusCode)
	}
	entry.WithError(err).Warn(errMsg)
	return NewRequestError(errors.Wrap(err, errMsg), statusCode)
}
