package router

import (
	"fmt"
	"net/http"
	"strings"

	credsdk "github.com/TBD54566975/ssi-sdk/credential"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/opsecid/traceability-service/pkg/server/framework"
	"github.com/opsecid/traceability-service/pkg/server/pagination"
	"github.com/opsecid/traceability-service/pkg/service/credential"
	svcframework "github.com/opsecid/traceability-service/pkg/service/framework"
)

const (
	IDParam string = "id"
)

type CredentialRouter struct {
	service *credential.Service
}

func NewCredentialRouter(s svcframework.Service) (*CredentialRouter, error) {
	if s == nil {
		return nil, errors.New("service cannot be nil")
	}
	credService, ok := s.(*credential.Service)
	if !ok {
		return nil, fmt.Errorf("could not create credential router with service type: %s", s.Type())
	}
	return &CredentialRouter{service: credService}, nil
}

type IssueCredentialRequest struct {
	// The unsigned credential. Its issuer must be the organization's DID. The id and issuanceDate are filled in
	// when absent.
	Credential credsdk.VerifiableCredential `json:"credential"`

	// Options.CredentialStatus asks for a status entry, e.g. {"type": "StatusList2021", "statusPurpose": "suspension"}.
	Options credential.IssuanceOptions `json:"options"`
}

type IssueCredentialResponse struct {
	VerifiableCredential *credsdk.VerifiableCredential `json:"verifiableCredential"`
}

// IssueCredential godoc
//
// @Summary     Issue Credential
// @Description Signs a credential as the organization, optionally with a credentialStatus entry
// @Tags        CredentialAPI
// @Accept      json
// @Produce     json
// @Param       label   path     string                 true "organization label"
// @Param       request body     IssueCredentialRequest true "request body"
// @Success     201     {object} IssueCredentialResponse
// @Failure     400     {string} string "Bad request"
// @Failure     404     {string} string "Unknown organization"
// @Failure     409     {string} string "Duplicate id or status list full"
// @Failure     502     {string} string "Signer failure"
// @Router      /v1/organizations/{label}/credentials [put]
func (cr CredentialRouter) IssueCredential(c *gin.Context) error {
	label := framework.GetParam(c, LabelParam)
	if label == nil {
		return framework.LoggingRespondErrMsg(c, "cannot issue a credential without an organization label", http.StatusBadRequest)
	}
	var request IssueCredentialRequest
	if err := framework.Decode(c.Request, &request); err != nil {
		return framework.LoggingRespondErrWithMsg(c, err, "invalid issue credential request", http.StatusBadRequest)
	}

	resp, err := cr.service.IssueCredential(c, credential.IssueCredentialRequest{
		Label:      *label,
		Credential: request.Credential,
		Options:    request.Options,
	})
	if err != nil {
		return respondServiceErr(c, err, "could not issue credential")
	}
	return framework.Respond(c, IssueCredentialResponse{VerifiableCredential: resp.VerifiableCredential}, http.StatusCreated)
}

type GetCredentialResponse struct {
	VerifiableCredential *credsdk.VerifiableCredential `json:"verifiableCredential"`
}

// GetCredential godoc
//
// @Summary     Get Credential
// @Tags        CredentialAPI
// @Produce     json
// @Param       label path     string true "organization label"
// @Param       id    path     string true "credential id"
// @Success     200   {object} GetCredentialResponse
// @Failure     404   {string} string "Not found"
// @Router      /v1/organizations/{label}/credentials/{id} [get]
func (cr CredentialRouter) GetCredential(c *gin.Context) error {
	label := framework.GetParam(c, LabelParam)
	id := framework.GetParam(c, IDParam)
	if label == nil || id == nil {
		return framework.LoggingRespondErrMsg(c, "cannot get credential without an organization label and id", http.StatusBadRequest)
	}

	resp, err := cr.service.GetCredential(c, credential.GetCredentialRequest{Label: *label, ID: *id})
	if err != nil {
		return respondServiceErr(c, err, fmt.Sprintf("could not get credential %s", *id))
	}
	return framework.Respond(c, GetCredentialResponse{VerifiableCredential: resp.VerifiableCredential}, http.StatusOK)
}

type ListCredentialsResponse struct {
	Credentials []*credsdk.VerifiableCredential `json:"credentials"`

	// Pagination token to retrieve the next page of results. Empty on the last page.
	NextPageToken string `json:"nextPageToken,omitempty"`
}

// ListCredentials godoc
//
// @Summary     List Credentials
// @Description Credentials issued by the organization, ordered by id
// @Tags        CredentialAPI
// @Produce     json
// @Param       label     path     string true  "organization label"
// @Param       pageSize  query    number false "page size"
// @Param       pageToken query    string false "page token"
// @Success     200       {object} ListCredentialsResponse
// @Failure     404       {string} string "Unknown organization"
// @Router      /v1/organizations/{label}/credentials [get]
func (cr CredentialRouter) ListCredentials(c *gin.Context) error {
	label := framework.GetParam(c, LabelParam)
	if label == nil {
		return framework.LoggingRespondErrMsg(c, "cannot list credentials without an organization label", http.StatusBadRequest)
	}
	var pageRequest pagination.PageRequest
	if err := pagination.ParsePaginationParams(c, &pageRequest); err != nil {
		return err
	}

	resp, err := cr.service.ListCredentials(c, *label)
	if err != nil {
		return respondServiceErr(c, err, "could not list credentials")
	}
	page, next, err := pagination.Page(c, resp.Credentials, pageRequest)
	if err != nil {
		return err
	}
	return framework.Respond(c, ListCredentialsResponse{Credentials: page, NextPageToken: next}, http.StatusOK)
}

type UpdateCredentialStatusRequest struct {
	CredentialID string `json:"credentialId" validate:"required"`

	// One update per credentialStatus entry to change, e.g. {"type": "StatusList2021", "status": "1"}.
	CredentialStatus []credential.StatusUpdate `json:"credentialStatus" validate:"required,min=1"`
}

type UpdateCredentialStatusResponse struct {
	Changes []credential.StatusChange `json:"changes"`
}

// UpdateCredentialStatus godoc
//
// @Summary     Update Credential Status
// @Description Sets or clears the status bits of an issued credential and re-signs the affected lists
// @Tags        CredentialAPI
// @Accept      json
// @Produce     json
// @Param       label   path     string                        true "organization label"
// @Param       request body     UpdateCredentialStatusRequest true "request body"
// @Success     200     {object} UpdateCredentialStatusResponse
// @Failure     400     {string} string "Bad request"
// @Failure     404     {string} string "Not found"
// @Failure     502     {string} string "Signer failure"
// @Router      /v1/organizations/{label}/credentials/status [put]
func (cr CredentialRouter) UpdateCredentialStatus(c *gin.Context) error {
	label := framework.GetParam(c, LabelParam)
	if label == nil {
		return framework.LoggingRespondErrMsg(c, "cannot update a credential status without an organization label", http.StatusBadRequest)
	}
	invalidRequest := "invalid update credential status request"
	var request UpdateCredentialStatusRequest
	if err := framework.Decode(c.Request, &request); err != nil {
		return framework.LoggingRespondErrWithMsg(c, err, invalidRequest, http.StatusBadRequest)
	}
	if err := framework.ValidateRequest(request); err != nil {
		return framework.LoggingRespondErrWithMsg(c, err, invalidRequest, http.StatusBadRequest)
	}

	resp, err := cr.service.UpdateCredentialStatus(c, credential.UpdateCredentialStatusRequest{
		Label:            *label,
		CredentialID:     request.CredentialID,
		CredentialStatus: request.CredentialStatus,
	})
	if err != nil {
		errMsg := "could not update credential status"
		if resp != nil && len(resp.Changes) > 0 {
			applied := make([]string, 0, len(resp.Changes))
			for _, change := range resp.Changes {
				applied = append(applied, change.Type)
			}
			errMsg = fmt.Sprintf("%s, already applied: %s", errMsg, strings.Join(applied, ", "))
		}
		return respondServiceErr(c, err, errMsg)
	}
	return framework.Respond(c, UpdateCredentialStatusResponse{Changes: resp.Changes}, http.StatusOK)
}

type VerifyCredentialRequest struct {
	VerifiableCredential *credsdk.VerifiableCredential `json:"verifiableCredential"`
}

type VerifyCredentialResponse struct {
	Verified bool     `json:"verified"`
	Checks   []string `json:"checks"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
}

// VerifyCredential godoc
//
// @Summary     Verify Credential
// @Description Checks the status, validity period and proof of a credential
// @Tags        CredentialAPI
// @Accept      json
// @Produce     json
// @Param       request body     VerifyCredentialRequest true "request body"
// @Success     200     {object} VerifyCredentialResponse
// @Failure     400     {string} string "Bad request"
// @Failure     502     {string} string "Verifier failure"
// @Router      /v1/credentials/verification [put]
func (cr CredentialRouter) VerifyCredential(c *gin.Context) error {
	var request VerifyCredentialRequest
	invalidRequest := "invalid verify credential request"
	if err := framework.Decode(c.Request, &request); err != nil {
		return framework.LoggingRespondErrWithMsg(c, err, invalidRequest, http.StatusBadRequest)
	}
	if request.VerifiableCredential == nil {
		return framework.LoggingRespondErrMsg(c, invalidRequest+": verifiableCredential required", http.StatusBadRequest)
	}

	resp, err := cr.service.VerifyCredential(c, credential.VerifyCredentialRequest{VerifiableCredential: request.VerifiableCredential})
	if err != nil {
		return respondServiceErr(c, err, "could not verify credential")
	}
	return framework.Respond(c, VerifyCredentialResponse{
		Verified: resp.Verified,
		Checks:   resp.Checks,
		Warnings: resp.Warnings,
		Errors:   resp.Errors,
	}, http.StatusOK)
}
