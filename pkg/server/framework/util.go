package framework

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// GetParam gets a path parameter, falling back to the query string. Nil when absent.
func GetParam(c *gin.Context, param string) *string {
	if got := c.Param(param); got != "" {
		return &got
	}
	return GetQueryValue(c, param)
}

// GetQueryValue is a utility to get a parameter value from the query string, nil if not found
func GetQueryValue(c *gin.Context, param string) *string {
	got, ok := c.GetQuery(param)
	if !ok || got == "" {
		return nil
	}
	return &got
}

// PeekRequestBody reads a request's body and puts it back for the handler.
func PeekRequestBody(r *http.Request) (string, error) {
	if r.Body == nil {
		return "", nil
	}
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return "", errors.Wrap(err, "could not read request body")
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	return string(bodyBytes), nil
}
