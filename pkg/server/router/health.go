package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsecid/traceability-service/pkg/server/framework"
)

const (
	HealthOK string = "OK"
)

type GetHealthCheckResponse struct {
	// Status is always equal to `OK`.
	Status string `json:"status" example:"OK"`
}

// Health is a simple handler that always responds with a 200 OK
func Health(c *gin.Context) error {
	return framework.Respond(c, GetHealthCheckResponse{Status: HealthOK}, http.StatusOK)
}
