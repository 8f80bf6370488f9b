package router

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	statusint "github.com/opsecid/traceability-service/internal/status"
	"github.com/opsecid/traceability-service/pkg/server/framework"
	"github.com/opsecid/traceability-service/pkg/service/organization"
	"github.com/opsecid/traceability-service/pkg/service/status"
)

const (
	ListParam string = "list"
)

// StatusRouter publishes the status lists of the organizations.
type StatusRouter struct {
	status *status.Service
	orgs   *organization.Service
}

func NewStatusRouter(statusService *status.Service, orgs *organization.Service) (*StatusRouter, error) {
	if statusService == nil || orgs == nil {
		return nil, errors.New("status and organization services are required")
	}
	return &StatusRouter{status: statusService, orgs: orgs}, nil
}

// GetStatusListCredential godoc
//
// @Summary     Get Status List Credential
// @Description The signed status list credential an issued credential's statusListCredential points to
// @Tags        StatusAPI
// @Produce     json
// @Param       label path     string true "organization label"
// @Param       list  path     string true "revocation, suspension or revocationlist2020"
// @Success     200   {object} credential.VerifiableCredential
// @Failure     404   {string} string "Not found"
// @Router      /v1/organizations/{label}/credentials/status/{list} [get]
func (sr StatusRouter) GetStatusListCredential(c *gin.Context) error {
	label := framework.GetParam(c, LabelParam)
	list := framework.GetParam(c, ListParam)
	if label == nil || list == nil {
		return framework.LoggingRespondErrMsg(c, "cannot get a status list without an organization label and list", http.StatusBadRequest)
	}

	org, err := sr.orgs.GetOrganization(c, *label)
	if err != nil {
		return respondServiceErr(c, err, "could not get status list")
	}
	listType, err := statusint.ListTypeFromID(*list)
	if err != nil {
		return respondServiceErr(c, err, "could not get status list")
	}
	resp, err := sr.status.GetStatusListCredential(c, status.GetStatusListCredentialRequest{
		Issuer: org.Organization.DID,
		Type:   listType,
	})
	if err != nil {
		return respondServiceErr(c, err, fmt.Sprintf("could not get %s status list of %s", listType, org.Organization.Label))
	}
	return framework.Respond(c, resp.Credential, http.StatusOK)
}

type StatusListSummary struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Length uint   `json:"length"`
}

type ListStatusListsResponse struct {
	StatusLists []StatusListSummary `json:"statusLists"`
}

// ListStatusLists godoc
//
// @Summary     List Status Lists
// @Tags        StatusAPI
// @Produce     json
// @Param       label path     string true "organization label"
// @Success     200   {object} ListStatusListsResponse
// @Failure     404   {string} string "Unknown organization"
// @Router      /v1/organizations/{label}/credentials/status [get]
func (sr StatusRouter) ListStatusLists(c *gin.Context) error {
	label := framework.GetParam(c, LabelParam)
	if label == nil {
		return framework.LoggingRespondErrMsg(c, "cannot list status lists without an organization label", http.StatusBadRequest)
	}

	org, err := sr.orgs.GetOrganization(c, *label)
	if err != nil {
		return respondServiceErr(c, err, "could not list status lists")
	}
	resp, err := sr.status.ListStatusLists(c, org.Organization.DID)
	if err != nil {
		return respondServiceErr(c, err, "could not list status lists")
	}
	lists := make([]StatusListSummary, 0, len(resp.StatusLists))
	for _, l := range resp.StatusLists {
		lists = append(lists, StatusListSummary{Type: l.Type.String(), URL: l.URL, Length: l.Length})
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i].URL < lists[j].URL })
	return framework.Respond(c, ListStatusListsResponse{StatusLists: lists}, http.StatusOK)
}
