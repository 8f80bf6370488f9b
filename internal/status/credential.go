package status

import (
	"time"

	"github.com/TBD54566975/ssi-sdk/credential"
	"github.com/pkg/errors"
)

const (
	CredentialsContext       = "https://www.w3.org/2018/credentials/v1"
	VerifiableCredentialType = "VerifiableCredential"

	encodedListProperty   = "encodedList"
	statusPurposeProperty = "statusPurpose"
)

// NewListCredential builds the unsigned credential that publishes a status list at listURL.
func NewListCredential(listURL, issuer string, t ListType, encodedList string, issuedAt time.Time) *credential.VerifiableCredential {
	subject := credential.CredentialSubject{
		"id":                listURL + "#list",
		"type":              t.SubjectType(),
		encodedListProperty: encodedList,
	}
	if t.Purpose != "" {
		subject[statusPurposeProperty] = string(t.Purpose)
	}
	return &credential.VerifiableCredential{
		Context:           []any{CredentialsContext, t.Context()},
		ID:                listURL,
		Type:              []any{VerifiableCredentialType, t.CredentialType()},
		Issuer:            issuer,
		IssuanceDate:      issuedAt.UTC().Format(time.RFC3339),
		CredentialSubject: subject,
	}
}

// EncodedList returns the encodedList of a status list credential.
func EncodedList(vc *credential.VerifiableCredential) (string, error) {
	if vc == nil || vc.CredentialSubject == nil {
		return "", errors.Wrap(ErrDecoding, "credential has no subject")
	}
	encoded, ok := vc.CredentialSubject[encodedListProperty].(string)
	if !ok || encoded == "" {
		return "", errors.Wrap(ErrDecoding, "credential subject has no encodedList")
	}
	return encoded, nil
}

// WithEncodedList returns an unsigned copy of vc carrying encoded as its list.
func WithEncodedList(vc credential.VerifiableCredential, encoded string) *credential.VerifiableCredential {
	subject := make(credential.CredentialSubject, len(vc.CredentialSubject))
	for k, v := range vc.CredentialSubject {
		subject[k] = v
	}
	subject[encodedListProperty] = encoded
	vc.CredentialSubject = subject
	vc.Proof = nil
	return &vc
}

// ExpandCredential decodes the list of a status list credential. A zero length keeps all payload bits.
func ExpandCredential(vc *credential.VerifiableCredential, length uint) (*Bitstring, error) {
	encoded, err := EncodedList(vc)
	if err != nil {
		return nil, err
	}
	return Expand(encoded, length)
}
