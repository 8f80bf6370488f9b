package middleware

import (
	"os"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/opsecid/traceability-service/pkg/server/framework"
)

// Errors handles errors coming out of the call stack. It detects safe application
// errors (aka SafeError) that are used to respond to the requester in a
// normalized way. Errors nobody answered yet are answered here, and shutdown
// errors signal the server to stop.
func Errors(shutdown chan os.Signal) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		errs := c.Errors.ByType(gin.ErrorTypeAny)
		if len(errs) == 0 {
			return
		}

		// check if there's a shutdown-worthy error
		for _, e := range errs {
			if framework.IsShutdown(e.Err) {
				c.Set(framework.ShutdownErrorKey.String(), e.Err)
				select {
				case shutdown <- syscall.SIGTERM:
				default:
				}
				return
			}
		}

		logrus.WithField("traceID", c.GetString(framework.TraceIDKey.String())).
			Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, errs.Errors())
		if !c.Writer.Written() {
			framework.RespondError(c, errs.Last().Err)
		}
	}
}
