package credential

import (
	"time"

	"github.com/TBD54566975/ssi-sdk/credential"
)

// StoredCredential is a credential issued by one of the organizations.
type StoredCredential struct {
	ID         string                           `json:"id"`
	Label      string                           `json:"label"`
	Issuer     string                           `json:"issuer"`
	Credential *credential.VerifiableCredential `json:"credential"`
	IssuedAt   time.Time                        `json:"issuedAt"`
}

// StatusOption asks for a credentialStatus entry of the given type. Type is a scheme ("StatusList2021",
// "RevocationList2020") or its entry type; the purpose defaults to revocation.
type StatusOption struct {
	Type          string `json:"type" validate:"required"`
	StatusPurpose string `json:"statusPurpose,omitempty"`
}

type IssuanceOptions struct {
	CredentialStatus *StatusOption `json:"credentialStatus,omitempty"`
}

type IssueCredentialRequest struct {
	Label      string                          `json:"label" validate:"required"`
	Credential credential.VerifiableCredential `json:"credential"`
	Options    IssuanceOptions                 `json:"options"`
}

type IssueCredentialResponse struct {
	VerifiableCredential *credential.VerifiableCredential `json:"verifiableCredential"`
}

type GetCredentialRequest struct {
	Label string `json:"label" validate:"required"`
	ID    string `json:"id" validate:"required"`
}

type GetCredentialResponse struct {
	VerifiableCredential *credential.VerifiableCredential `json:"verifiableCredential"`
}

type ListCredentialsResponse struct {
	Credentials []*credential.VerifiableCredential `json:"credentials"`
}

// StatusUpdate sets the bit behind one credentialStatus entry. Status is "1"/"0" or "true"/"false".
type StatusUpdate struct {
	Type          string `json:"type"`
	StatusPurpose string `json:"statusPurpose,omitempty"`
	Status        string `json:"status"`
}

type UpdateCredentialStatusRequest struct {
	Label            string         `json:"label" validate:"required"`
	CredentialID     string         `json:"credentialId" validate:"required"`
	CredentialStatus []StatusUpdate `json:"credentialStatus" validate:"required,min=1"`
}

type StatusChange struct {
	Type    string `json:"type"`
	Status  bool   `json:"status"`
	Changed bool   `json:"changed"`
}

type UpdateCredentialStatusResponse struct {
	Changes []StatusChange `json:"changes"`
}

type VerifyCredentialRequest struct {
	VerifiableCredential *credential.VerifiableCredential `json:"verifiableCredential"`
}

// VerifyCredentialResponse lists the checks that ran and what failed. Verified is true when nothing failed.
type VerifyCredentialResponse struct {
	Verified bool     `json:"verified"`
	Checks   []string `json:"checks"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
}

const (
	CheckStatus     = "STATUS"
	CheckIssuance   = "ISSUANCE"
	CheckExpiration = "EXPIRATION"
	CheckProof      = "PROOF"
)
