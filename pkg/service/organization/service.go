package organization

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/TBD54566975/ssi-sdk/did"
	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opsecid/traceability-service/internal/agent"
	statusint "github.com/opsecid/traceability-service/internal/status"
	"github.com/opsecid/traceability-service/internal/util"
	"github.com/opsecid/traceability-service/pkg/service/framework"
	"github.com/opsecid/traceability-service/pkg/service/status"
	"github.com/opsecid/traceability-service/pkg/storage"
)

const (
	didNamespace = "organizations"

	verificationKeyFragment     = "verkey"
	traceabilityServiceFragment = "traceability-api"
	traceabilityServiceType     = "TraceabilityAPI"
	ed25519VerificationKey2018  = "Ed25519VerificationKey2018"

	didContext          = "https://www.w3.org/ns/did/v1"
	securityContext     = "https://w3id.org/security/v2"
	traceabilityContext = "https://w3id.org/traceability/v1"
)

var (
	ErrOrganizationExists   = errors.New("organization already exists")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrInvalidLabel         = errors.New("invalid organization label")

	labelPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,62}$`)
)

// Service registers organizations: each one gets a did:web, a key in the agent and its status lists.
type Service struct {
	apiBase string
	webHost string
	storage *Storage
	signer  agent.Signer
	status  *status.Service
	clock   clock.Clock
}

func (s *Service) Type() framework.Type {
	return framework.Organization
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
	if s.webHost == "" {
		ae.AppendString("no did:web host configured")
	}
	if !ae.IsEmpty() {
		return framework.ServiceStatus{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("organization service is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.ServiceStatus{Status: framework.StatusReady}
}

// NewOrganizationService wires an organization service. webHost is the (percent-encoded) host part of every
// did:web minted here and apiBase prefixes the service endpoint advertised in DID documents.
func NewOrganizationService(apiBase, webHost string, db storage.ServiceStorage, signer agent.Signer, statusService *status.Service) (*Service, error) {
	orgStorage, err := NewOrganizationStorage(db)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate storage for the organization service")
	}
	service := Service{
		apiBase: strings.TrimSuffix(apiBase, "/"),
		webHost: webHost,
		storage: orgStorage,
		signer:  signer,
		status:  statusService,
		clock:   clock.New(),
	}
	if serviceStatus := service.Status(); serviceStatus.Status != framework.StatusReady {
		return nil, errors.New(serviceStatus.Message)
	}
	return &service, nil
}

// NormalizeLabel lower-cases and trims label and checks it can be used as a did:web path segment.
func NormalizeLabel(label string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if !labelPattern.MatchString(normalized) {
		return "", errors.Wrapf(ErrInvalidLabel, "%q", label)
	}
	return normalized, nil
}

// DID is the did:web of the organization label.
func (s *Service) DID(label string) string {
	return strings.Join([]string{"did", "web", s.webHost, didNamespace, label}, ":")
}

// RegisterOrganization mints the organization's did:web and key and publishes its status lists. The
// organization record is written last, so a failed registration can be retried with the same label.
func (s *Service) RegisterOrganization(ctx context.Context, request RegisterOrganizationRequest) (*RegisterOrganizationResponse, error) {
	label := request.Label
	if strings.TrimSpace(label) == "" {
		label = uuid.NewString()
	}
	label, err := NormalizeLabel(label)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("registering organization %s", util.SanitizeLog(label))

	if _, err = s.storage.GetOrganization(ctx, label); err == nil {
		return nil, errors.Wrapf(ErrOrganizationExists, "label %s", label)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, sdkutil.LoggingErrorMsgf(err, "checking for organization %s", label)
	}

	id := s.DID(label)
	verkey, err := s.signer.GetVerificationKey(ctx, id)
	if err != nil {
		if verkey, err = s.signer.CreateKey(ctx, id); err != nil {
			return nil, sdkutil.LoggingErrorMsgf(err, "creating key for %s", id)
		}
	}
	if err = checkVerkey(verkey); err != nil {
		return nil, errors.Wrapf(agent.ErrAgent, "key of %s: %s", id, err)
	}
	verificationMethod := id + "#" + verificationKeyFragment

	listTypes, err := s.status.ConfiguredTypes()
	if err != nil {
		return nil, err
	}
	lists := make([]string, 0, len(listTypes))
	for _, t := range listTypes {
		created, err := s.status.CreateStatusList(ctx, status.CreateStatusListRequest{
			Issuer:             id,
			Label:              label,
			Type:               t,
			VerificationMethod: verificationMethod,
			VerificationKey:    verkey,
		})
		switch {
		case err == nil:
			lists = append(lists, created.URL)
		case errors.Is(err, statusint.ErrAlreadyInitialized):
			// left over from an earlier attempt
			lists = append(lists, s.status.ListURL(label, t))
		default:
			return nil, errors.Wrapf(err, "creating %s status list for %s", t, label)
		}
	}

	org := StoredOrganization{
		Label:              label,
		DID:                id,
		VerificationMethod: verificationMethod,
		VerificationKey:    verkey,
		Document:           s.document(id, label, verificationMethod, verkey),
		CreatedAt:          s.clock.Now().UTC(),
	}
	if err = s.storage.StoreOrganization(ctx, org); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, errors.Wrapf(ErrOrganizationExists, "label %s", label)
		}
		return nil, sdkutil.LoggingErrorMsgf(err, "storing organization %s", label)
	}

	logrus.Infof("registered organization %s as %s", label, id)
	return &RegisterOrganizationResponse{Organization: org, StatusLists: lists}, nil
}

// checkVerkey makes sure the agent handed back a base58 Ed25519 public key, since it is published as is.
func checkVerkey(verkey string) error {
	raw, err := base58.Decode(verkey)
	if err != nil {
		return errors.Wrap(err, "decoding base58 verkey")
	}
	if len(raw) != ed25519.PublicKeySize {
		return errors.Errorf("verkey is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return nil
}

func (s *Service) document(id, label, verificationMethod, verkey string) did.Document {
	return did.Document{
		Context: []any{didContext, securityContext, traceabilityContext},
		ID:      id,
		VerificationMethod: []did.VerificationMethod{
			{
				ID:              verificationMethod,
				Type:            ed25519VerificationKey2018,
				Controller:      id,
				PublicKeyBase58: verkey,
			},
		},
		Authentication:  []did.VerificationMethodSet{verificationMethod},
		AssertionMethod: []did.VerificationMethodSet{verificationMethod},
		Services: []did.Service{
			{
				ID:              id + "#" + traceabilityServiceFragment,
				Type:            traceabilityServiceType,
				ServiceEndpoint: fmt.Sprintf("%s/%s/%s", s.apiBase, didNamespace, label),
			},
		},
	}
}

func (s *Service) GetOrganization(ctx context.Context, label string) (*GetOrganizationResponse, error) {
	normalized, err := NormalizeLabel(label)
	if err != nil {
		return nil, errors.Wrapf(ErrOrganizationNotFound, "label %q", label)
	}
	org, err := s.storage.GetOrganization(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.Wrapf(ErrOrganizationNotFound, "label %s", normalized)
		}
		return nil, sdkutil.LoggingErrorMsgf(err, "reading organization %s", normalized)
	}
	return &GetOrganizationResponse{Organization: *org}, nil
}

// GetDIDDocument returns the document served at the organization's did:web location.
func (s *Service) GetDIDDocument(ctx context.Context, label string) (*did.Document, error) {
	got, err := s.GetOrganization(ctx, label)
	if err != nil {
		return nil, err
	}
	return &got.Organization.Document, nil
}

func (s *Service) ListOrganizations(ctx context.Context) (*ListOrganizationsResponse, error) {
	orgs, err := s.storage.ListOrganizations(ctx)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "listing organizations")
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].Label < orgs[j].Label })
	return &ListOrganizationsResponse{Organizations: orgs}, nil
}
