package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/opsecid/traceability-service/internal/agent"
	statusint "github.com/opsecid/traceability-service/internal/status"
	"github.com/opsecid/traceability-service/pkg/server/framework"
	"github.com/opsecid/traceability-service/pkg/service/credential"
	"github.com/opsecid/traceability-service/pkg/service/organization"
)

var errorStatuses = []struct {
	err    error
	status int
}{
	{statusint.ErrNotFound, http.StatusNotFound},
	{organization.ErrOrganizationNotFound, http.StatusNotFound},
	{credential.ErrCredentialNotFound, http.StatusNotFound},

	{statusint.ErrNotInitialized, http.StatusConflict},
	{statusint.ErrAlreadyInitialized, http.StatusConflict},
	{statusint.ErrCapacityExhausted, http.StatusConflict},
	{statusint.ErrConflictRetryExceeded, http.StatusConflict},
	{organization.ErrOrganizationExists, http.StatusConflict},
	{credential.ErrCredentialExists, http.StatusConflict},

	{statusint.ErrIndexOutOfRange, http.StatusBadRequest},
	{statusint.ErrInvalidReference, http.StatusBadRequest},
	{statusint.ErrStatusTypeMismatch, http.StatusBadRequest},
	{organization.ErrInvalidLabel, http.StatusBadRequest},
	{credential.ErrInvalidCredential, http.StatusBadRequest},
	{credential.ErrInvalidIssuer, http.StatusBadRequest},

	{statusint.ErrSigner, http.StatusBadGateway},
	{agent.ErrAgent, http.StatusBadGateway},
}

// errorStatus picks the HTTP status of a service error. Anything unknown, ErrDecoding included, is a 500.
func errorStatus(err error) int {
	for _, candidate := range errorStatuses {
		if errors.Is(err, candidate.err) {
			return candidate.status
		}
	}
	return http.StatusInternalServerError
}

func respondServiceErr(c *gin.Context, err error, errMsg string) error {
	return framework.LoggingRespondErrWithMsg(c, err, errMsg, errorStatus(err))
}
