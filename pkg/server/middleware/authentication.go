package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opsecid/traceability-service/pkg/server/framework"
)

const bearerPrefix = "Bearer "

// AuthMiddleware checks the bearer token of the request against tokenHash, the hex SHA-256 of the expected
// token. An empty tokenHash disables the check.
func AuthMiddleware(tokenHash string) gin.HandlerFunc {
	expected := strings.ToLower(tokenHash)

	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}

		token := c.GetHeader("Authorization")
		if !strings.HasPrefix(token, bearerPrefix) {
			_ = framework.LoggingRespondErrMsg(c, "authorization is required", http.StatusUnauthorized)
			return
		}

		hash := sha256.Sum256([]byte(strings.TrimPrefix(token, bearerPrefix)))
		if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(hash[:])), []byte(expected)) != 1 {
			_ = framework.LoggingRespondErrMsg(c, "invalid authorization token", http.StatusUnauthorized)
			return
		}

		c.Next()
	}
}
