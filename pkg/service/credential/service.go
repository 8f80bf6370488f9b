package credential

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/TBD54566975/ssi-sdk/credential"
	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opsecid/traceability-service/internal/agent"
	credint "github.com/opsecid/traceability-service/internal/credential"
	statusint "github.com/opsecid/traceability-service/internal/status"
	"github.com/opsecid/traceability-service/internal/util"
	"github.com/opsecid/traceability-service/pkg/service/framework"
	"github.com/opsecid/traceability-service/pkg/service/organization"
	"github.com/opsecid/traceability-service/pkg/service/status"
	"github.com/opsecid/traceability-service/pkg/storage"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExists   = errors.New("credential already exists")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrInvalidIssuer      = errors.New("credential issuer does not match the organization")
)

type Service struct {
	storage *Storage
	signer  agent.Signer
	status  *status.Service
	orgs    *organization.Service
	clock   clock.Clock
}

func (s *Service) Type() framework.Type {
	return framework.Credential
}

func (s *Service) Status() framework.ServiceStatus {
	ae := sdkutil.NewAppendError()
	if s.storage == nil {
		ae.AppendString("no storage configured")
	}
	if s.signer == nil {
		ae.AppendString("no signer configured")
	}
	if s.status == nil {
		ae.AppendString("no status service configured")
	}
	if s.orgs == nil {
		ae.AppendString("no organization service configured")
	}
	if !ae.IsEmpty() {
		return framework.ServiceStatus{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("credential service is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.ServiceStatus{Status: framework.StatusReady}
}

func NewCredentialService(db storage.ServiceStorage, signer agent.Signer, statusService *status.Service, orgs *organization.Service) (*Service, error) {
	credentialStorage, err := NewCredentialStorage(db)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate storage for the credential service")
	}
	service := Service{
		storage: credentialStorage,
		signer:  signer,
		status:  statusService,
		orgs:    orgs,
		clock:   clock.New(),
	}
	if serviceStatus := service.Status(); serviceStatus.Status != framework.StatusReady {
		return nil, errors.New(serviceStatus.Message)
	}
	return &service, nil
}

// IssueCredential signs the credential as the organization label. When a status is requested an entry is
// reserved in the organization's list of that type before signing.
func (s *Service) IssueCredential(ctx context.Context, request IssueCredentialRequest) (*IssueCredentialResponse, error) {
	if request.Label == "" {
		return nil, sdkutil.LoggingNewError("invalid issue credential request: label required")
	}
	org, err := s.orgs.GetOrganization(ctx, request.Label)
	if err != nil {
		return nil, err
	}
	issuer := org.Organization

	if request.Credential.Proof != nil {
		return nil, errors.Wrap(ErrInvalidCredential, "credential is already signed")
	}
	cred, err := credint.CopyCredential(request.Credential)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidCredential, err.Error())
	}
	if got := credint.IssuerID(*cred); got != issuer.DID {
		return nil, errors.Wrapf(ErrInvalidIssuer, "issuer %q, organization %s is %s", got, issuer.Label, issuer.DID)
	}
	if len(cred.CredentialSubject) == 0 {
		return nil, errors.Wrap(ErrInvalidCredential, "credentialSubject required")
	}
	if cred.ID == "" {
		cred.ID = credint.UUIDPrefix + uuid.NewString()
	}
	if cred.IssuanceDate == "" {
		cred.IssuanceDate = s.clock.Now().UTC().Format(time.RFC3339)
	} else if _, err = credint.ParseDate(cred.IssuanceDate); err != nil {
		return nil, errors.Wrap(ErrInvalidCredential, err.Error())
	}
	if cred.ExpirationDate != "" {
		if _, err = credint.ParseDate(cred.ExpirationDate); err != nil {
			return nil, errors.Wrap(ErrInvalidCredential, err.Error())
		}
	}
	credint.AddContext(cred, statusint.CredentialsContext)

	logrus.Debugf("issuing credential %s as %s", util.SanitizeLog(cred.ID), issuer.Label)

	if _, err = s.storage.GetCredential(ctx, issuer.Label, cred.ID); err == nil {
		return nil, errors.Wrapf(ErrCredentialExists, "%s", cred.ID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, sdkutil.LoggingErrorMsgf(err, "checking for credential %s", cred.ID)
	}

	if option := request.Options.CredentialStatus; option != nil {
		listType, err := statusint.ParseListType(option.Type, option.StatusPurpose)
		if err != nil {
			return nil, err
		}
		entry, err := s.status.CreateEntry(ctx, status.CreateEntryRequest{
			Issuer:       issuer.DID,
			Type:         listType,
			CredentialID: cred.ID,
		})
		if err != nil {
			return nil, err
		}
		cred.CredentialStatus = entry.Reference
		credint.AddContext(cred, listType.Context())
	}

	options := agent.ProofOptions{VerificationMethod: issuer.VerificationMethod, ProofPurpose: agent.ProofPurposeAssertionMethod}
	signed, err := s.signer.Sign(ctx, cred, options, issuer.VerificationKey)
	if err != nil {
		return nil, errors.Wrapf(statusint.ErrSigner, "signing credential %s: %s", cred.ID, err)
	}

	stored := StoredCredential{
		ID:         signed.ID,
		Label:      issuer.Label,
		Issuer:     issuer.DID,
		Credential: signed,
		IssuedAt:   s.clock.Now().UTC(),
	}
	if err = s.storage.StoreCredential(ctx, stored); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, errors.Wrapf(ErrCredentialExists, "%s", cred.ID)
		}
		return nil, sdkutil.LoggingErrorMsgf(err, "storing credential %s", cred.ID)
	}

	logrus.Infof("issued credential %s as %s", util.SanitizeLog(cred.ID), issuer.Label)
	return &IssueCredentialResponse{VerifiableCredential: signed}, nil
}

func (s *Service) GetCredential(ctx context.Context, request GetCredentialRequest) (*GetCredentialResponse, error) {
	if err := sdkutil.IsValidStruct(request); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "invalid get credential request")
	}
	label, err := organization.NormalizeLabel(request.Label)
	if err != nil {
		return nil, errors.Wrapf(ErrCredentialNotFound, "%s", request.ID)
	}
	stored, err := s.getStored(ctx, label, request.ID)
	if err != nil {
		return nil, err
	}
	return &GetCredentialResponse{VerifiableCredential: stored.Credential}, nil
}

func (s *Service) getStored(ctx context.Context, label, id string) (*StoredCredential, error) {
	stored, err := s.storage.GetCredential(ctx, label, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.Wrapf(ErrCredentialNotFound, "%s", id)
		}
		return nil, sdkutil.LoggingErrorMsgf(err, "reading credential %s", id)
	}
	return stored, nil
}

// ListCredentials returns every credential the organization label issued, ordered by id.
func (s *Service) ListCredentials(ctx context.Context, label string) (*ListCredentialsResponse, error) {
	org, err := s.orgs.GetOrganization(ctx, label)
	if err != nil {
		return nil, err
	}
	stored, err := s.storage.ListCredentials(ctx, org.Organization.Label)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsgf(err, "listing credentials of %s", label)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].ID < stored[j].ID })
	creds := make([]*credential.VerifiableCredential, 0, len(stored))
	for _, c := range stored {
		creds = append(creds, c.Credential)
	}
	return &ListCredentialsResponse{Credentials: creds}, nil
}

type plannedChange struct {
	listType statusint.ListType
	ref      statusint.Reference
	value    bool
}

// UpdateCredentialStatus flips the bits behind the credentialStatus entries of an issued credential. Each
// update must name an entry type the credential carries, and every update is checked before any is applied.
// Updates are then committed one status list at a time: when one fails, the response lists the changes
// committed before it and is returned along with the error.
func (s *Service) UpdateCredentialStatus(ctx context.Context, request UpdateCredentialStatusRequest) (*UpdateCredentialStatusResponse, error) {
	if err := sdkutil.IsValidStruct(request); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "invalid update credential status request")
	}
	org, err := s.orgs.GetOrganization(ctx, request.Label)
	if err != nil {
		return nil, err
	}
	stored, err := s.getStored(ctx, org.Organization.Label, request.CredentialID)
	if err != nil {
		return nil, err
	}
	refs, err := statusint.ParseReferences(stored.Credential.CredentialStatus)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, errors.Wrapf(statusint.ErrInvalidReference, "credential %s has no credentialStatus", request.CredentialID)
	}

	planned := make([]plannedChange, 0, len(request.CredentialStatus))
	for _, update := range request.CredentialStatus {
		listType, err := statusint.ParseListType(update.Type, update.StatusPurpose)
		if err != nil {
			return nil, err
		}
		value, err := strconv.ParseBool(update.Status)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidCredential, "status %q is not a bit", update.Status)
		}
		ref := findReference(refs, listType)
		if ref == nil {
			return nil, errors.Wrapf(statusint.ErrStatusTypeMismatch, "credential %s has no %s status", request.CredentialID, listType)
		}
		for _, other := range planned {
			if other.listType == listType {
				return nil, errors.Wrapf(ErrInvalidCredential, "%s status updated twice", listType)
			}
		}
		planned = append(planned, plannedChange{listType: listType, ref: ref, value: value})
	}

	changes := make([]StatusChange, 0, len(planned))
	for _, change := range planned {
		changed, err := s.status.ChangeStatus(ctx, status.ChangeStatusRequest{
			Issuer:    stored.Issuer,
			Type:      change.listType,
			Reference: change.ref,
			Value:     change.value,
		})
		if err != nil {
			return &UpdateCredentialStatusResponse{Changes: changes}, errors.Wrapf(err, "%d of %d status updates of %s applied", len(changes), len(planned), request.CredentialID)
		}
		changes = append(changes, StatusChange{Type: change.listType.String(), Status: change.value, Changed: changed.Changed})
	}
	return &UpdateCredentialStatusResponse{Changes: changes}, nil
}

func findReference(refs []statusint.Reference, t statusint.ListType) statusint.Reference {
	for _, ref := range refs {
		if ref.ListType() == t {
			return ref
		}
	}
	return nil
}
