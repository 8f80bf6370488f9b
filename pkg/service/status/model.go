package status

import (
	"github.com/TBD54566975/ssi-sdk/credential"

	statusint "github.com/opsecid/traceability-service/internal/status"
)

type CreateStatusListRequest struct {
	Issuer             string             `json:"issuer" validate:"required"`
	Label              string             `json:"label" validate:"required"`
	Type               statusint.ListType `json:"type"`
	VerificationMethod string             `json:"verificationMethod" validate:"required"`
	VerificationKey    string             `json:"verificationKey" validate:"required"`
}

type CreateStatusListResponse struct {
	URL        string                           `json:"url"`
	Credential *credential.VerifiableCredential `json:"credential"`
}

type CreateEntryRequest struct {
	Issuer       string             `json:"issuer" validate:"required"`
	Type         statusint.ListType `json:"type"`
	CredentialID string             `json:"credentialId" validate:"required"`
}

type CreateEntryResponse struct {
	Reference statusint.Reference `json:"reference"`
}

type ChangeStatusRequest struct {
	Issuer    string              `json:"issuer" validate:"required"`
	Type      statusint.ListType  `json:"type"`
	Reference statusint.Reference `json:"reference"`
	Value     bool                `json:"value"`
}

type ChangeStatusResponse struct {
	// Changed is false when the bit already had the requested value.
	Changed    bool                             `json:"changed"`
	Credential *credential.VerifiableCredential `json:"credential"`
}

type GetStatusRequest struct {
	Reference statusint.Reference `json:"reference"`
}

type GetStatusResponse struct {
	Set bool `json:"set"`
}

type GetStatusListCredentialRequest struct {
	Issuer string             `json:"issuer" validate:"required"`
	Type   statusint.ListType `json:"type"`
}

type GetStatusListCredentialResponse struct {
	Credential *credential.VerifiableCredential `json:"credential"`
}

type ListStatusListsResponse struct {
	StatusLists []StoredStatusList `json:"statusLists"`
}
