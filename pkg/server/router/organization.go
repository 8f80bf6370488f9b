package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/opsecid/traceability-service/pkg/server/framework"
	"github.com/opsecid/traceability-service/pkg/server/pagination"
	svcframework "github.com/opsecid/traceability-service/pkg/service/framework"
	"github.com/opsecid/traceability-service/pkg/service/organization"
)

const (
	LabelParam = "label"
)

type OrganizationRouter struct {
	service *organization.Service
}

func NewOrganizationRouter(s svcframework.Service) (*OrganizationRouter, error) {
	if s == nil {
		return nil, errors.New("service cannot be nil")
	}
	orgService, ok := s.(*organization.Service)
	if !ok {
		return nil, fmt.Errorf("could not create organization router with service type: %s", s.Type())
	}
	return &OrganizationRouter{service: orgService}, nil
}

type RegisterOrganizationRequest struct {
	// Optional. Becomes the last segment of the organization's did:web; a random one is picked when empty.
	Label string `json:"label,omitempty" example:"acme"`
}

type RegisterOrganizationResponse struct {
	Organization organization.StoredOrganization `json:"organization"`

	// URLs of the status lists published for the organization.
	StatusLists []string `json:"statusLists"`
}

// RegisterOrganization godoc
//
// @Summary     Register Organization
// @Description Mints a did:web and signing key for an organization and publishes its status lists
// @Tags        OrganizationAPI
// @Accept      json
// @Produce     json
// @Param       request body     RegisterOrganizationRequest true "request body"
// @Success     201     {object} RegisterOrganizationResponse
// @Failure     400     {string} string "Bad request"
// @Failure     409     {string} string "Label taken"
// @Failure     502     {string} string "Agent failure"
// @Router      /v1/organizations [put]
func (or OrganizationRouter) RegisterOrganization(c *gin.Context) error {
	var request RegisterOrganizationRequest
	if c.Request.ContentLength != 0 {
		if err := framework.Decode(c.Request, &request); err != nil {
			return framework.LoggingRespondErrWithMsg(c, err, "invalid register organization request", http.StatusBadRequest)
		}
	}

	resp, err := or.service.RegisterOrganization(c, organization.RegisterOrganizationRequest{Label: request.Label})
	if err != nil {
		return respondServiceErr(c, err, "could not register organization")
	}
	return framework.Respond(c, RegisterOrganizationResponse{Organization: resp.Organization, StatusLists: resp.StatusLists}, http.StatusCreated)
}

type GetOrganizationResponse struct {
	Organization organization.StoredOrganization `json:"organization"`
}

// GetOrganization godoc
//
// @Summary     Get Organization
// @Tags        OrganizationAPI
// @Produce     json
// @Param       label path     string true "organization label"
// @Success     200   {object} GetOrganizationResponse
// @Failure     404   {string} string "Not found"
// @Router      /v1/organizations/{label} [get]
func (or OrganizationRouter) GetOrganization(c *gin.Context) error {
	label := framework.GetParam(c, LabelParam)
	if label == nil {
		return framework.LoggingRespondErrMsg(c, "cannot get organization without a label", http.StatusBadRequest)
	}

	got, err := or.service.GetOrganization(c, *label)
	if err != nil {
		return respondServiceErr(c, err, fmt.Sprintf("could not get organization %s", *label))
	}
	return framework.Respond(c, GetOrganizationResponse{Organization: got.Organization}, http.StatusOK)
}

type ListOrganizationsResponse struct {
	Organizations []organization.StoredOrganization `json:"organizations"`

	// Pagination token to retrieve the next page of results. Empty on the last page.
	NextPageToken string `json:"nextPageToken,omitempty"`
}

// ListOrganizations godoc
//
// @Summary     List Organizations
// @Tags        OrganizationAPI
// @Produce     json
// @Param       pageSize  query    number false "page size"
// @Param       pageToken query    string false "page token"
// @Success     200       {object} ListOrganizationsResponse
// @Router      /v1/organizations [get]
func (or OrganizationRouter) ListOrganizations(c *gin.Context) error {
	var pageRequest pagination.PageRequest
	if err := pagination.ParsePaginationParams(c, &pageRequest); err != nil {
		return err
	}

	resp, err := or.service.ListOrganizations(c)
	if err != nil {
		return respondServiceErr(c, err, "could not list organizations")
	}
	page, next, err := pagination.Page(c, resp.Organizations, pageRequest)
	if err != nil {
		return err
	}
	return framework.Respond(c, ListOrganizationsResponse{Organizations: page, NextPageToken: next}, http.StatusOK)
}

// GetDIDDocument godoc
//
// @Summary     Resolve did:web
// @Description Serves the DID document of an organization at its did:web location
// @Tags        OrganizationAPI
// @Produce     json
// @Param       label path     string true "organization label"
// @Success     200   {object} did.Document
// @Failure     404   {string} string "Not found"
// @Router      /organizations/{label}/did.json [get]
func (or OrganizationRouter) GetDIDDocument(c *gin.Context) error {
	label := framework.GetParam(c, LabelParam)
	if label == nil {
		return framework.LoggingRespondErrMsg(c, "cannot resolve a DID without a label", http.StatusBadRequest)
	}

	doc, err := or.service.GetDIDDocument(c, *label)
	if err != nil {
		return respondServiceErr(c, err, fmt.Sprintf("could not get DID document of %s", *label))
	}
	return framework.Respond(c, doc, http.StatusOK)
}
