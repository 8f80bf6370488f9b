package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// sha256 hash of "hunter2"
const hunter2Hash = "f52fbd32b2b3b86ff88ef6c490628285f482af15ddcb29541f94bcf526a3f6c7"

func newAuthEngine(tokenHash string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(tokenHash))
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	r := newAuthEngine(hunter2Hash)

	tests := []struct {
		name          string
		authorization string
		want          int
	}{
		{name: "valid token", authorization: "Bearer hunter2", want: http.StatusOK},
		{name: "wrong token", authorization: "Bearer nonsense", want: http.StatusUnauthorized},
		{name: "not a bearer token", authorization: "Basic aHVudGVyMg==", want: http.StatusUnauthorized},
		{name: "no header", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authorization != "" {
				req.Header.Add("Authorization", tt.authorization)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuthMiddlewareUpperCaseHash(t *testing.T) {
	r := newAuthEngine("F52FBD32B2B3B86FF88EF6C490628285F482AF15DDCB29541F94BCF526A3F6C7")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Add("Authorization", "Bearer hunter2")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNoAuthMiddleware(t *testing.T) {
	// no token hash so things just work
	r := newAuthEngine("")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
