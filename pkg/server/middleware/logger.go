package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/opsecid/traceability-service/internal/util"
	"github.com/opsecid/traceability-service/pkg/server/framework"
)

// Logger logs request info before and after a handler runs, in the format
//
//	TraceID : (StatusCode) HTTPMethod Path -> IPAddr (latency)
//	e.g. 12345 : (200) GET /v1/organizations -> 192.168.1.0 (4ms)
func Logger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := util.SanitizeLog(c.Request.URL.Path)
		logger.Debugf("started : %s %s -> %s", c.Request.Method, path, c.ClientIP())

		c.Next()

		logger.Infof("%s : (%d) %s %s -> %s (%s)",
			c.GetString(framework.TraceIDKey.String()),
			c.Writer.Status(),
			c.Request.Method, path, c.ClientIP(),
			time.Since(start),
		)
	}
}
