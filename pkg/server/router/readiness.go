package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsecid/traceability-service/pkg/server/framework"
	svcframework "github.com/opsecid/traceability-service/pkg/service/framework"
)

type GetReadinessResponse struct {
	Status          svcframework.ServiceStatus                       `json:"status"`
	ServiceStatuses map[svcframework.Type]svcframework.ServiceStatus `json:"serviceStatuses"`
}

// Readiness runs a number of application specific checks to see if all the
// relied upon services are healthy. Answers 503 if not ready.
func Readiness(services []svcframework.Service) framework.Handler {
	return func(c *gin.Context) error {
		numServices := len(services)
		readyServices := 0
		statuses := make(map[svcframework.Type]svcframework.ServiceStatus, numServices)
		for _, s := range services {
			status := s.Status()
			statuses[s.Type()] = status
			if status.Status == svcframework.StatusReady {
				readyServices++
			}
		}

		response := GetReadinessResponse{
			Status: svcframework.ServiceStatus{
				Status:  svcframework.StatusReady,
				Message: "all services ready",
			},
			ServiceStatuses: statuses,
		}
		if readyServices < numServices {
			response.Status = svcframework.ServiceStatus{
				Status:  svcframework.StatusNotReady,
				Message: fmt.Sprintf("out of [%d] services, [%d] are ready", numServices, readyServices),
			}
			return framework.Respond(c, response, http.StatusServiceUnavailable)
		}
		return framework.Respond(c, response, http.StatusOK)
	}
}
