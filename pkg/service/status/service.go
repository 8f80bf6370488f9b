package status

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/TBD54566975/ssi-sdk/credential"
	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opsecid/traceability-service/config"
	"github.com/opsecid/traceability-service/internal/agent"
	statusint "github.com/opsecid/traceability-service/internal/status"
	"github.com/opsecid/traceability-service/internal/util"
	"github.com/opsecid/traceability-service/pkg/service/framework"
	"github.com/opsecid/traceability-service/pkg/storage"
)

// Service owns the status lists of every issuer: it creates them, hands out entries, flips bits and answers
// status queries for local and remote lists.
type Service struct {
	config    config.StatusServiceConfig
	listBase  string
	storage   *Storage
	signer    agent.Signer
	fetcher   *Fetcher
	allocator *statusint.Allocator
	locks     *keyedMutex
	clock     clock.Clock
}

func (s *Service) Type() framework.Type {
	return framework.Status
}

func (s *Service) Status() framework.ServiceStatus {
	ae := sdkutil.NewAppendError()
	if s.storage == nil {
		ae.AppendString("no storage configured")
	}
	if s.signer == nil {
		ae.AppendString("no signer configured")
	}
	if s.config.Length == 0 {
		ae.AppendString("status list length must be positive")
	}
	if !ae.IsEmpty() {
		return framework.ServiceStatus{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("status service is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.ServiceStatus{Status: framework.StatusReady}
}

// NewStatusService wires a status service. listBase prefixes the URL every list is published under.
func NewStatusService(cfg config.StatusServiceConfig, listBase string, db storage.ServiceStorage, signer agent.Signer) (*Service, error) {
	statusStorage, err := NewStatusStorage(db)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate storage for the status service")
	}
	if cfg.Length == 0 {
		cfg.Length = statusint.DefaultListLength
	}
	service := Service{
		config:    cfg,
		listBase:  strings.TrimSuffix(listBase, "/"),
		storage:   statusStorage,
		signer:    signer,
		fetcher:   NewFetcher(cfg.FetchTimeout),
		allocator: statusint.NewAllocator(nil),
		locks:     newKeyedMutex(),
		clock:     clock.New(),
	}
	if status := service.Status(); status.Status != framework.StatusReady {
		return nil, errors.New(status.Message)
	}
	return &service, nil
}

// ConfiguredTypes returns the list types every new issuer gets, all known types when none are configured.
func (s *Service) ConfiguredTypes() ([]statusint.ListType, error) {
	if len(s.config.Types) == 0 {
		return statusint.KnownListTypes, nil
	}
	types := make([]statusint.ListType, 0, len(s.config.Types))
	for _, configured := range s.config.Types {
		scheme, purpose, _ := strings.Cut(configured, "/")
		t, err := statusint.ParseListType(scheme, purpose)
		if err != nil {
			return nil, errors.Wrapf(err, "configured status list type %q", configured)
		}
		types = append(types, t)
	}
	return types, nil
}

// ListURL is where the list of type t of the organization label is published.
func (s *Service) ListURL(label string, t statusint.ListType) string {
	return fmt.Sprintf("%s/organizations/%s/credentials/status/%s", s.listBase, url.PathEscape(label), t.ID())
}

func checkListType(t statusint.ListType) error {
	for _, known := range statusint.KnownListTypes {
		if t == known {
			return nil
		}
	}
	return errors.Wrapf(statusint.ErrInvalidReference, "unsupported status list type %s", t)
}

// CreateStatusList publishes an all-zero list for the issuer. The list is signed before anything is stored.
func (s *Service) CreateStatusList(ctx context.Context, request CreateStatusListRequest) (*CreateStatusListResponse, error) {
	logrus.Debugf("creating %s status list for %s", request.Type, util.SanitizeLog(request.Issuer))

	if err := sdkutil.IsValidStruct(request); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "invalid create status list request")
	}
	if err := checkListType(request.Type); err != nil {
		return nil, err
	}

	_, err := s.storage.GetList(ctx, request.Issuer, request.Type)
	switch {
	case err == nil:
		return nil, errors.Wrapf(statusint.ErrAlreadyInitialized, "%s list of %s", request.Type, request.Issuer)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, sdkutil.LoggingErrorMsgf(err, "checking for %s list of %s", request.Type, request.Issuer)
	}

	bits := statusint.NewBitstring(s.config.Length)
	encoded, err := statusint.Generate(bits)
	if err != nil {
		return nil, errors.Wrap(err, "encoding empty status list")
	}
	listURL := s.ListURL(request.Label, request.Type)
	unsigned := statusint.NewListCredential(listURL, request.Issuer, request.Type, encoded, s.clock.Now())
	signed, err := s.sign(ctx, unsigned, request.VerificationMethod, request.VerificationKey)
	if err != nil {
		return nil, err
	}

	list := StoredStatusList{
		Issuer:             request.Issuer,
		Type:               request.Type,
		Length:             s.config.Length,
		URL:                listURL,
		VerificationMethod: request.VerificationMethod,
		VerificationKey:    request.VerificationKey,
		Credential:         signed,
	}
	if err = s.storage.CreateList(ctx, list); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, errors.Wrapf(statusint.ErrAlreadyInitialized, "%s list of %s", request.Type, request.Issuer)
		}
		return nil, storageError(err, "storing status list")
	}

	logrus.Infof("created %s status list at %s", request.Type, listURL)
	return &CreateStatusListResponse{URL: listURL, Credential: signed}, nil
}

type allocation struct {
	index   uint
	listURL string
}

// CreateEntry reserves a fresh index in the issuer's list of the given type. An index is never handed out
// twice, and a full list is left untouched.
func (s *Service) CreateEntry(ctx context.Context, request CreateEntryRequest) (*CreateEntryResponse, error) {
	if err := sdkutil.IsValidStruct(request); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "invalid create entry request")
	}
	if err := checkListType(request.Type); err != nil {
		return nil, err
	}

	// writers in this process queue here; other replicas are caught by the watched occupancy key
	unlock := s.locks.Lock(listKey(request.Issuer, request.Type))
	defer unlock()

	result, err := s.storage.Execute(ctx, func(ctx context.Context, tx storage.Tx) (any, error) {
		list, err := s.storage.GetListTx(ctx, tx, request.Issuer, request.Type)
		if err != nil {
			return nil, notInitialized(err, request.Issuer, request.Type)
		}
		indices, err := s.storage.GetOccupancyTx(ctx, tx, request.Issuer, request.Type)
		if err != nil {
			return nil, notInitialized(err, request.Issuer, request.Type)
		}
		occupied, err := statusint.NewOccupancy(list.Length, indices)
		if err != nil {
			return nil, errors.Wrapf(err, "loading occupancy of %s list of %s", request.Type, request.Issuer)
		}

		index, err := s.allocator.Allocate(occupied)
		if err != nil {
			return nil, errors.Wrapf(err, "%s list of %s", request.Type, request.Issuer)
		}
		if err = occupied.Add(index); err != nil {
			return nil, err
		}
		if err = s.storage.UpdateOccupancyTx(ctx, tx, request.Issuer, request.Type, occupied.Indices()); err != nil {
			return nil, err
		}
		return allocation{index: index, listURL: list.URL}, nil
	}, s.storage.indexWatchKeys(request.Issuer, request.Type))
	if err != nil {
		return nil, storageError(err, "allocating status entry")
	}

	allocated := result.(allocation)
	logrus.Debugf("allocated index %d of %s list of %s", allocated.index, request.Type, util.SanitizeLog(request.Issuer))
	return &CreateEntryResponse{
		Reference: statusint.NewReference(request.Type, request.CredentialID, allocated.index, allocated.listURL),
	}, nil
}

// ChangeStatus sets the bit of the reference in the issuer's list and re-signs the list. Setting a bit to the
// value it already has writes nothing.
func (s *Service) ChangeStatus(ctx context.Context, request ChangeStatusRequest) (*ChangeStatusResponse, error) {
	if request.Issuer == "" {
		return nil, sdkutil.LoggingNewError("invalid change status request: issuer required")
	}
	ref := request.Reference
	if ref == nil {
		return nil, errors.Wrap(statusint.ErrInvalidReference, "reference required")
	}
	if ref.ListType() != request.Type {
		return nil, errors.Wrapf(statusint.ErrStatusTypeMismatch, "requested %s, credential status is %s", request.Type, ref.ListType())
	}

	result, err := s.storage.Execute(ctx, func(ctx context.Context, tx storage.Tx) (any, error) {
		list, err := s.storage.GetListTx(ctx, tx, request.Issuer, request.Type)
		if err != nil {
			return nil, notInitialized(err, request.Issuer, request.Type)
		}
		if !sameURL(list.URL, ref.ListURL()) {
			return nil, errors.Wrapf(statusint.ErrInvalidReference, "%s is not the %s list of %s", ref.ListURL(), request.Type, request.Issuer)
		}

		bits, err := statusint.ExpandCredential(list.Credential, list.Length)
		if err != nil {
			return nil, errors.Wrapf(err, "expanding %s list of %s", request.Type, request.Issuer)
		}
		current, err := bits.Test(ref.Index())
		if err != nil {
			return nil, err
		}
		if current == request.Value {
			return &ChangeStatusResponse{Changed: false, Credential: list.Credential}, nil
		}
		if err = bits.Set(ref.Index(), request.Value); err != nil {
			return nil, err
		}
		encoded, err := statusint.Generate(bits)
		if err != nil {
			return nil, errors.Wrap(err, "encoding status list")
		}

		// the signer is called inside the transaction; a concurrent flip makes this attempt start over
		signed, err := s.sign(ctx, statusint.WithEncodedList(*list.Credential, encoded), list.VerificationMethod, list.VerificationKey)
		if err != nil {
			return nil, err
		}
		list.Credential = signed
		if err = s.storage.UpdateListTx(ctx, tx, *list); err != nil {
			return nil, err
		}
		return &ChangeStatusResponse{Changed: true, Credential: signed}, nil
	}, s.storage.listWatchKeys(request.Issuer, request.Type))
	if err != nil {
		return nil, storageError(err, "changing status")
	}

	response := result.(*ChangeStatusResponse)
	if response.Changed {
		logrus.Infof("set index %d of %s to %t", ref.Index(), util.SanitizeLog(ref.ListURL()), request.Value)
	}
	return response, nil
}

// GetStatus reads the bit of the reference, from the local store when this service publishes the list and over
// HTTP otherwise. The answer may be stale by the time it is returned.
func (s *Service) GetStatus(ctx context.Context, request GetStatusRequest) (*GetStatusResponse, error) {
	if request.Reference == nil {
		return nil, errors.Wrap(statusint.ErrInvalidReference, "reference required")
	}
	ref := request.Reference

	var (
		bits *statusint.Bitstring
		err  error
	)
	published, err := s.storage.getPublished(ctx, ref.ListURL())
	switch {
	case err == nil:
		bits, err = s.localBits(ctx, published.Issuer, published.Type, ref.ListType())
	case errors.Is(err, storage.ErrNotFound):
		bits, err = s.remoteBits(ctx, ref)
	default:
		return nil, sdkutil.LoggingErrorMsgf(err, "looking up status list %s", util.SanitizeLog(ref.ListURL()))
	}
	if err != nil {
		return nil, err
	}

	set, err := bits.Test(ref.Index())
	if err != nil {
		return nil, err
	}
	return &GetStatusResponse{Set: set}, nil
}

func (s *Service) localBits(ctx context.Context, issuer string, listType, refType statusint.ListType) (*statusint.Bitstring, error) {
	if listType != refType {
		return nil, errors.Wrapf(statusint.ErrStatusTypeMismatch, "list is %s, credential status is %s", listType, refType)
	}
	list, err := s.storage.GetList(ctx, issuer, listType)
	if err != nil {
		return nil, notInitialized(err, issuer, listType)
	}
	return statusint.ExpandCredential(list.Credential, list.Length)
}

func (s *Service) remoteBits(ctx context.Context, ref statusint.Reference) (*statusint.Bitstring, error) {
	vc, err := s.fetcher.FetchListCredential(ctx, ref.ListURL())
	if err != nil {
		return nil, err
	}
	if purpose, ok := vc.CredentialSubject["statusPurpose"].(string); ok && ref.ListType().Scheme == statusint.StatusList2021 {
		if purpose != string(ref.ListType().Purpose) {
			return nil, errors.Wrapf(statusint.ErrStatusTypeMismatch, "list %s has purpose %s", ref.ListURL(), purpose)
		}
	}
	return statusint.ExpandCredential(vc, 0)
}

// GetStatusListCredential returns the signed list of the issuer.
func (s *Service) GetStatusListCredential(ctx context.Context, request GetStatusListCredentialRequest) (*GetStatusListCredentialResponse, error) {
	list, err := s.storage.GetList(ctx, request.Issuer, request.Type)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.Wrapf(statusint.ErrNotFound, "%s list of %s", request.Type, request.Issuer)
		}
		return nil, sdkutil.LoggingErrorMsgf(err, "reading %s list of %s", request.Type, request.Issuer)
	}
	return &GetStatusListCredentialResponse{Credential: list.Credential}, nil
}

// GetStatusListCredentialByURL returns the list published at listURL by this service.
func (s *Service) GetStatusListCredentialByURL(ctx context.Context, listURL string) (*GetStatusListCredentialResponse, error) {
	published, err := s.storage.getPublished(ctx, listURL)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.Wrapf(statusint.ErrNotFound, "status list %s", listURL)
		}
		return nil, sdkutil.LoggingErrorMsgf(err, "looking up status list %s", util.SanitizeLog(listURL))
	}
	return s.GetStatusListCredential(ctx, GetStatusListCredentialRequest{Issuer: published.Issuer, Type: published.Type})
}

func (s *Service) ListStatusLists(ctx context.Context, issuer string) (*ListStatusListsResponse, error) {
	lists, err := s.storage.ListLists(ctx, issuer)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsgf(err, "listing status lists of %s", issuer)
	}
	return &ListStatusListsResponse{StatusLists: lists}, nil
}

func (s *Service) sign(ctx context.Context, vc *credential.VerifiableCredential, verificationMethod, verificationKey string) (*credential.VerifiableCredential, error) {
	options := agent.ProofOptions{VerificationMethod: verificationMethod, ProofPurpose: agent.ProofPurposeAssertionMethod}
	signed, err := s.signer.Sign(ctx, vc, options, verificationKey)
	if err != nil {
		return nil, errors.Wrapf(statusint.ErrSigner, "signing status list %s: %s", vc.ID, err)
	}
	return signed, nil
}

func sameURL(a, b string) bool {
	return strings.EqualFold(a, b)
}

func notInitialized(err error, issuer string, t statusint.ListType) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Wrapf(statusint.ErrNotInitialized, "%s list of %s", t, issuer)
	}
	return err
}

// storageError maps storage transaction failures onto the status errors.
func storageError(err error, msg string) error {
	if errors.Is(err, storage.ErrConflictRetryExceeded) {
		return errors.Wrapf(statusint.ErrConflictRetryExceeded, "%s: %s", msg, err)
	}
	return errors.Wrap(err, msg)
}
