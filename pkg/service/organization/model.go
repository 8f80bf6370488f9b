package organization

import (
	"time"

	"github.com/TBD54566975/ssi-sdk/did"
)

// StoredOrganization is an issuer registered with this service. Its signing key lives in the agent; only the
// verkey is kept here.
type StoredOrganization struct {
	Label              string       `json:"label"`
	DID                string       `json:"did"`
	VerificationMethod string       `json:"verificationMethod"`
	VerificationKey    string       `json:"verificationKey"`
	Document           did.Document `json:"didDocument"`
	CreatedAt          time.Time    `json:"createdAt"`
}

type RegisterOrganizationRequest struct {
	// Label becomes the last segment of the organization's did:web. A random one is picked when empty.
	Label string `json:"label"`
}

type RegisterOrganizationResponse struct {
	Organization StoredOrganization `json:"organization"`
	StatusLists  []string           `json:"statusLists"`
}

type GetOrganizationResponse struct {
	Organization StoredOrganization `json:"organization"`
}

type ListOrganizationsResponse struct {
	Organizations []StoredOrganization `json:"organizations"`
}
