// Package server contains the full set of handler functions and routes
// supported by the http api
package server

import (
	"context"
	"net/http"
	"os"
	"path"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/opsecid/traceability-service/config"
	"github.com/opsecid/traceability-service/internal/agent"
	"github.com/opsecid/traceability-service/pkg/server/framework"
	"github.com/opsecid/traceability-service/pkg/server/middleware"
	"github.com/opsecid/traceability-service/pkg/server/router"
	"github.com/opsecid/traceability-service/pkg/service"
)

const (
	HealthPrefix        = "/health"
	ReadinessPrefix     = "/readiness"
	V1Prefix            = "/v1"
	OrganizationsPrefix = "/organizations"
	CredentialsPrefix   = "/credentials"
	StatusPrefix        = "/status"
	VerificationPath    = "/verification"
	DIDDocumentPath     = "/did.json"

	labelSegment = "/:" + router.LabelParam
)

// TraceabilityServer exposes all dependencies needed to run a http server and all its services
type TraceabilityServer struct {
	*config.ServerConfig
	*service.TraceabilityService
	*framework.Server
}

// NewTraceabilityServer does two things: instantiates all services and registers their HTTP bindings. A nil
// signer means the agent configured in cfg.
func NewTraceabilityServer(ctx context.Context, shutdown chan os.Signal, cfg config.ServiceConfig, signer agent.Signer) (*TraceabilityServer, error) {
	// creates an HTTP server from the framework, and wrap it to extend it for the traceability service
	engine := setUpEngine(cfg.Server, shutdown)
	httpServer := framework.NewHTTPServer(cfg.Server, engine, shutdown)
	traceability, err := service.InstantiateTraceabilityService(ctx, cfg.Services, signer)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate traceability service")
	}

	// service-level routers
	httpServer.Handle(http.MethodGet, HealthPrefix, router.Health)
	httpServer.Handle(http.MethodGet, ReadinessPrefix, router.Readiness(traceability.GetServices()))

	auth := middleware.AuthMiddleware(cfg.Server.AuthTokenHash)
	if err = OrganizationAPI(httpServer, traceability, auth); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate Organization API")
	}
	if err = CredentialAPI(httpServer, traceability, auth); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate Credential API")
	}
	if err = StatusAPI(httpServer, traceability, auth); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate Status API")
	}

	return &TraceabilityServer{
		Server:              httpServer,
		TraceabilityService: traceability,
		ServerConfig:        &cfg.Server,
	}, nil
}

// setUpEngine creates the gin engine and sets up the middleware based on config
func setUpEngine(cfg config.ServerConfig, shutdown chan os.Signal) *gin.Engine {
	switch cfg.Environment {
	case config.EnvironmentDev:
		gin.SetMode(gin.DebugMode)
	case config.EnvironmentTest:
		gin.SetMode(gin.TestMode)
	case config.EnvironmentProd:
		gin.SetMode(gin.ReleaseMode)
	}

	middlewares := gin.HandlersChain{
		middleware.Panics(),
		middleware.Errors(shutdown),
		middleware.Logger(logrus.StandardLogger()),
		middleware.Metrics(),
	}
	if cfg.JagerEnabled {
		middlewares = append(gin.HandlersChain{otelgin.Middleware(config.ServiceName)}, middlewares...)
	}
	if cfg.EnableAllowAllCORS {
		middlewares = append(middlewares, middleware.CORS())
	}

	// set up engine and middleware
	engine := gin.New()
	engine.Use(middlewares...)
	return engine
}

// OrganizationAPI registers the organization routes, and the did:web documents outside of the versioned API
// so that did:web resolution finds them.
func OrganizationAPI(s *framework.Server, traceability *service.TraceabilityService, auth gin.HandlerFunc) error {
	orgRouter, err := router.NewOrganizationRouter(traceability.Organization)
	if err != nil {
		return sdkutil.LoggingErrorMsg(err, "creating organization router")
	}

	orgs := path.Join(V1Prefix, OrganizationsPrefix)
	s.Handle(http.MethodPut, orgs, orgRouter.RegisterOrganization, auth)
	s.Handle(http.MethodGet, orgs, orgRouter.ListOrganizations, auth)
	s.Handle(http.MethodGet, orgs+labelSegment, orgRouter.GetOrganization, auth)
	s.Handle(http.MethodGet, OrganizationsPrefix+labelSegment+DIDDocumentPath, orgRouter.GetDIDDocument)
	return nil
}

// CredentialAPI registers the issuance, status update and verification routes.
func CredentialAPI(s *framework.Server, traceability *service.TraceabilityService, auth gin.HandlerFunc) error {
	credRouter, err := router.NewCredentialRouter(traceability.Credential)
	if err != nil {
		return sdkutil.LoggingErrorMsg(err, "creating credential router")
	}

	credentials := path.Join(V1Prefix, OrganizationsPrefix) + labelSegment + CredentialsPrefix
	s.Handle(http.MethodPut, credentials, credRouter.IssueCredential, auth)
	s.Handle(http.MethodGet, credentials, credRouter.ListCredentials, auth)
	s.Handle(http.MethodGet, credentials+"/:"+router.IDParam, credRouter.GetCredential, auth)
	s.Handle(http.MethodPut, credentials+StatusPrefix, credRouter.UpdateCredentialStatus, auth)
	s.Handle(http.MethodPut, path.Join(V1Prefix, CredentialsPrefix, VerificationPath), credRouter.VerifyCredential, auth)
	return nil
}

// StatusAPI registers the status list routes. The list credentials themselves are public, verifiers fetch them.
func StatusAPI(s *framework.Server, traceability *service.TraceabilityService, auth gin.HandlerFunc) error {
	statusRouter, err := router.NewStatusRouter(traceability.Status, traceability.Organization)
	if err != nil {
		return sdkutil.LoggingErrorMsg(err, "creating status router")
	}

	lists := path.Join(V1Prefix, OrganizationsPrefix) + labelSegment + CredentialsPrefix + StatusPrefix
	s.Handle(http.MethodGet, lists, statusRouter.ListStatusLists, auth)
	s.Handle(http.MethodGet, lists+"/:"+router.ListParam, statusRouter.GetStatusListCredential)
	return nil
}
