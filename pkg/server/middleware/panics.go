package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opsecid/traceability-service/pkg/server/framework"
)

// Panics recovers from panics and converts the panic into a 500.
func Panics() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				traceID := c.GetString(framework.TraceIDKey.String())
				logrus.Errorf("%s: PANIC: %v\n%s", traceID, r, debug.Stack())
				framework.RespondError(c, errors.Errorf("panic: %v", r))
			}
		}()
		c.Next()
	}
}
