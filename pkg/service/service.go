package service

import (
	"context"
	"fmt"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/benbjohnson/clock"

	"github.com/opsecid/traceability-service/config"
	"github.com/opsecid/traceability-service/internal/agent"
	"github.com/opsecid/traceability-service/pkg/encryption"
	"github.com/opsecid/traceability-service/pkg/service/credential"
	"github.com/opsecid/traceability-service/pkg/service/framework"
	"github.com/opsecid/traceability-service/pkg/service/organization"
	"github.com/opsecid/traceability-service/pkg/service/status"
	"github.com/opsecid/traceability-service/pkg/storage"
)

// TraceabilityService represents all services and their dependencies independent of transport
type TraceabilityService struct {
	Status       *status.Service
	Organization *organization.Service
	Credential   *credential.Service

	storage storage.ServiceStorage
}

// InstantiateTraceabilityService creates all services and their dependencies independent of transport. The
// signer is the agent holding the organizations' keys; when nil one is built from the agent config.
func InstantiateTraceabilityService(ctx context.Context, config config.ServicesConfig, signer agent.Signer) (*TraceabilityService, error) {
	if err := validateServiceConfig(config, signer); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the traceability service, invalid config")
	}
	service, err := instantiateServices(ctx, config, signer)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the traceability service")
	}
	return service, nil
}

func validateServiceConfig(config config.ServicesConfig, signer agent.Signer) error {
	if !storage.IsStorageAvailable(storage.Type(config.StorageProvider)) {
		return fmt.Errorf("%s storage provider configured, but not available", config.StorageProvider)
	}
	if config.StatusConfig.IsEmpty() {
		return fmt.Errorf("%s no config provided", framework.Status)
	}
	if signer == nil && config.AgentConfig.IsEmpty() {
		return fmt.Errorf("no agent config provided")
	}
	if config.ServiceEndpoint == "" {
		return fmt.Errorf("no service endpoint provided")
	}
	return nil
}

// instantiateServices begins all instantiates and their dependencies
func instantiateServices(ctx context.Context, config config.ServicesConfig, signer agent.Signer) (*TraceabilityService, error) {
	unencrypted, err := storage.NewStorage(storage.Type(config.StorageProvider), config.StorageOptions...)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsgf(err, "could not instantiate storage provider: %s", config.StorageProvider)
	}
	encrypter, decrypter, err := encryption.NewStorageEncryption(ctx, config.EncryptionConfig)
	if err != nil {
		_ = unencrypted.Close()
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate storage encryption")
	}
	storageProvider := storage.NewEncryptedWrapper(unencrypted, encrypter, decrypter)

	if signer == nil {
		a := config.AgentConfig
		signer, err = agent.NewClient(agent.Config{
			Endpoint:         a.Endpoint,
			TenantID:         a.TenantID,
			APIKey:           a.APIKey,
			TokenTTL:         a.TokenTTL,
			Timeout:          a.Timeout,
			VerifierEndpoint: a.VerifierEndpoint,
			VerifierAPIKey:   a.VerifierAPIKey,
		}, clock.New())
		if err != nil {
			return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the agent client")
		}
	}

	webHost, err := config.WebHost()
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not derive the did:web host")
	}
	apiBase := config.StatusListBase()

	statusService, err := status.NewStatusService(config.StatusConfig, apiBase, storageProvider, signer)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the status service")
	}

	organizationService, err := organization.NewOrganizationService(apiBase, webHost, storageProvider, signer, statusService)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the organization service")
	}

	credentialService, err := credential.NewCredentialService(storageProvider, signer, statusService, organizationService)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the credential service")
	}

	return &TraceabilityService{
		Status:       statusService,
		Organization: organizationService,
		Credential:   credentialService,
		storage:      storageProvider,
	}, nil
}

// GetServices returns all services
func (s *TraceabilityService) GetServices() []framework.Service {
	return []framework.Service{
		s.Status,
		s.Organization,
		s.Credential,
	}
}

// Close releases the storage shared by the services.
func (s *TraceabilityService) Close() error {
	return s.storage.Close()
}
