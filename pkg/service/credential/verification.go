package credential

import (
	"context"
	"fmt"

	statussdk "github.com/TBD54566975/ssi-sdk/credential/status"
	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	credint "github.com/opsecid/traceability-service/internal/credential"
	statusint "github.com/opsecid/traceability-service/internal/status"
	"github.com/opsecid/traceability-service/internal/util"
	"github.com/opsecid/traceability-service/pkg/service/status"
)

// VerifyCredential runs the status, validity period and proof checks on a credential. Failed checks are
// reported in the response; an error means a check could not run at all.
func (s *Service) VerifyCredential(ctx context.Context, request VerifyCredentialRequest) (*VerifyCredentialResponse, error) {
	cred := request.VerifiableCredential
	if cred == nil {
		return nil, sdkutil.LoggingNewError("invalid verify credential request: verifiableCredential required")
	}
	logrus.Debugf("verifying credential %s", util.SanitizeLog(cred.ID))

	response := VerifyCredentialResponse{Checks: []string{}, Warnings: []string{}, Errors: []string{}}

	if cred.CredentialStatus != nil {
		response.Checks = append(response.Checks, CheckStatus)
		refs, err := statusint.ParseReferences(cred.CredentialStatus)
		if err != nil {
			response.Errors = append(response.Errors, fmt.Sprintf("invalid credentialStatus: %s", err))
		}
		for _, ref := range refs {
			got, err := s.status.GetStatus(ctx, status.GetStatusRequest{Reference: ref})
			if err != nil {
				response.Errors = append(response.Errors, fmt.Sprintf("status of %s unavailable: %s", ref.ListURL(), err))
				continue
			}
			if got.Set {
				response.Errors = append(response.Errors, statusError(ref.ListType()))
			}
		}
	}

	now := s.clock.Now()
	if cred.IssuanceDate != "" {
		response.Checks = append(response.Checks, CheckIssuance)
		issued, err := credint.ParseDate(cred.IssuanceDate)
		switch {
		case err != nil:
			response.Errors = append(response.Errors, "invalid issuanceDate")
		case issued.After(now):
			response.Errors = append(response.Errors, "not yet valid")
		}
	}
	if cred.ExpirationDate != "" {
		response.Checks = append(response.Checks, CheckExpiration)
		expires, err := credint.ParseDate(cred.ExpirationDate)
		switch {
		case err != nil:
			response.Errors = append(response.Errors, "invalid expirationDate")
		case expires.Before(now):
			response.Errors = append(response.Errors, "expired")
		}
	}

	response.Checks = append(response.Checks, CheckProof)
	if !credint.IsSigned(*cred) {
		response.Errors = append(response.Errors, "missing proof")
	} else {
		verified, err := s.signer.Verify(ctx, cred)
		if err != nil {
			return nil, errors.Wrapf(statusint.ErrSigner, "verifying proof of %s: %s", cred.ID, err)
		}
		if !verified.Verified {
			response.Errors = append(response.Errors, "invalid proof")
			response.Warnings = append(response.Warnings, verified.Errors...)
		}
	}

	response.Verified = len(response.Errors) == 0
	return &response, nil
}

func statusError(t statusint.ListType) string {
	if t.Purpose == statussdk.StatusSuspension {
		return "suspended"
	}
	return "revoked"
}
