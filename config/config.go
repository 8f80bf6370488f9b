package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ardanlabs/conf"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opsecid/traceability-service/pkg/storage"
)

const (
	DefaultConfigPath = "config/dev.toml"
	DefaultEnvPath    = ".env"
	ConfigExtension   = ".toml"

	DefaultServiceEndpoint  = "http://localhost:3000"
	DefaultStatusListLength = 131072

	EnvironmentDev  Environment = "dev"
	EnvironmentTest Environment = "test"
	EnvironmentProd Environment = "prod"

	ConfigPath      EnvironmentVariable = "CONFIG_PATH"
	EnvPath         EnvironmentVariable = "ENV_PATH"
	AuthTokenHash   EnvironmentVariable = "AUTH_TOKEN_HASH"
	AgentAPIKey     EnvironmentVariable = "AGENT_API_KEY"
	VerifierAPIKey  EnvironmentVariable = "VERIFIER_API_KEY"
	StoragePassword EnvironmentVariable = "STORAGE_ENCRYPTION_PASSWORD"
)

type (
	Environment         string
	EnvironmentVariable string
)

func (e EnvironmentVariable) String() string {
	return string(e)
}

type ServiceConfig struct {
	conf.Version
	Server   ServerConfig   `toml:"server"`
	Services ServicesConfig `toml:"services"`
}

// ServerConfig represents configurable properties for the HTTP server
type ServerConfig struct {
	Environment        Environment   `toml:"env" conf:"default:dev"`
	APIHost            string        `toml:"api_host" conf:"default:0.0.0.0:3000"`
	DebugHost          string        `toml:"debug_host" conf:"default:0.0.0.0:4000"`
	JagerHost          string        `toml:"jager_host" conf:"default:http://jaeger:14268/api/traces"`
	JagerEnabled       bool          `toml:"jager_enabled" conf:"default:false"`
	ReadTimeout        time.Duration `toml:"read_timeout" conf:"default:5s"`
	WriteTimeout       time.Duration `toml:"write_timeout" conf:"default:30s"`
	ShutdownTimeout    time.Duration `toml:"shutdown_timeout" conf:"default:5s"`
	LogLocation        string        `toml:"log_location" conf:"default:log"`
	LogLevel           string        `toml:"log_level" conf:"default:debug"`
	EnableAllowAllCORS bool          `toml:"enable_allow_all_cors" conf:"default:false"`

	// AuthTokenHash is the hex SHA-256 of the bearer token protecting the API. Empty disables authentication.
	AuthTokenHash string `toml:"auth_token_hash" conf:"noprint"`
}

// ServicesConfig represents configurable properties for the components of the service
type ServicesConfig struct {
	StorageProvider string           `toml:"storage" conf:"default:bolt"`
	StorageOptions  []storage.Option `toml:"storage_option"`
	ServiceEndpoint string           `toml:"service_endpoint" conf:"default:http://localhost:3000"`

	// DIDWebHost is the host encoded in organization did:web identifiers. Defaults to the host of ServiceEndpoint.
	DIDWebHost string `toml:"did_web_host"`

	StatusConfig     StatusServiceConfig `toml:"status,omitempty"`
	AgentConfig      AgentConfig         `toml:"agent,omitempty"`
	EncryptionConfig EncryptionConfig    `toml:"encryption,omitempty"`
}

// BaseServiceConfig represents configurable properties for a specific component of the service
type BaseServiceConfig struct {
	Name            string `toml:"name"`
	ServiceEndpoint string `toml:"service_endpoint"`
}

type StatusServiceConfig struct {
	BaseServiceConfig

	// Length is the number of entries of every new status list. Existing lists keep the length they were
	// created with.
	Length uint `toml:"length" conf:"default:131072"`

	// Types are the lists created for each new organization, as "<scheme>" or "<scheme>/<purpose>".
	Types []string `toml:"types"`

	// FetchTimeout bounds the retrieval of status lists published by other issuers.
	FetchTimeout time.Duration `toml:"fetch_timeout" conf:"default:10s"`
}

func (s *StatusServiceConfig) IsEmpty() bool {
	if s == nil {
		return true
	}
	return s.Length == 0 && len(s.Types) == 0 && s.Name == ""
}

// AgentConfig points at the multi-tenant agent that holds issuer keys and signs credentials, and at the
// verifier used to check proofs.
type AgentConfig struct {
	Endpoint         string        `toml:"endpoint"`
	TenantID         string        `toml:"tenant_id"`
	APIKey           string        `toml:"api_key" conf:"noprint"`
	TokenTTL         time.Duration `toml:"token_ttl" conf:"default:10m"`
	Timeout          time.Duration `toml:"timeout" conf:"default:30s"`
	VerifierEndpoint string        `toml:"verifier_endpoint"`
	VerifierAPIKey   string        `toml:"verifier_api_key" conf:"noprint"`
}

func (a *AgentConfig) IsEmpty() bool {
	if a == nil {
		return true
	}
	return a.Endpoint == ""
}

// EncryptionConfig selects how stored values are encrypted at rest.
type EncryptionConfig struct {
	MasterKeyURI       string `toml:"master_key_uri"`
	KMSCredentialsPath string `toml:"kms_credentials_path"`
	Password           string `toml:"password" conf:"noprint"`
	Salt               string `toml:"salt" conf:"noprint"`
}

func (e EncryptionConfig) GetMasterKeyURI() string {
	return e.MasterKeyURI
}

func (e EncryptionConfig) GetKMSCredentialsPath() string {
	return e.KMSCredentialsPath
}

func (e EncryptionConfig) GetPassword() string {
	return e.Password
}

func (e EncryptionConfig) GetSalt() string {
	return e.Salt
}

// StatusListBase is the URL prefix of published status lists.
func (s *ServicesConfig) StatusListBase() string {
	if s.StatusConfig.ServiceEndpoint != "" {
		return strings.TrimSuffix(s.StatusConfig.ServiceEndpoint, "/")
	}
	return strings.TrimSuffix(s.ServiceEndpoint, "/") + "/" + APIVersion
}

// WebHost returns the host used in did:web identifiers, with a port separator percent-encoded.
func (s *ServicesConfig) WebHost() (string, error) {
	host := s.DIDWebHost
	if host == "" {
		u, err := url.Parse(s.ServiceEndpoint)
		if err != nil {
			return "", errors.Wrapf(err, "parsing service endpoint %q", s.ServiceEndpoint)
		}
		host = u.Host
	}
	if host == "" {
		return "", errors.New("no did:web host configured")
	}
	return strings.ReplaceAll(host, ":", "%3A"), nil
}

// LoadConfig attempts to load a TOML config file from the given path, and coerce it into our object model.
// Before loading, defaults are applied on certain properties, which are overwritten if specified in the TOML file.
// Secrets are finally taken from the environment, which may be seeded from a .env file.
func LoadConfig(path string) (*ServiceConfig, error) {
	loadDefaultConfig, err := checkValidConfigPath(path)
	if err != nil {
		return nil, errors.Wrap(err, "validate config path")
	}

	var config ServiceConfig
	if err = parseAndApplyDefaults(&config); err != nil {
		return nil, errors.Wrap(err, "parse and apply defaults")
	}

	if loadDefaultConfig {
		defaultServicesConfig := getDefaultServicesConfig()
		config.Services = defaultServicesConfig
	} else if err = loadTOMLConfig(path, &config); err != nil {
		return nil, errors.Wrap(err, "load toml config")
	}

	if err = applyEnvVariables(&config); err != nil {
		return nil, errors.Wrap(err, "apply env variables")
	}
	return &config, nil
}

func checkValidConfigPath(path string) (bool, error) {
	defaultConfig := false
	if path == "" {
		logrus.Info("no config path provided, loading default config...")
		defaultConfig = true
	} else if filepath.Ext(path) != ConfigExtension {
		return false, fmt.Errorf("path<%s> did not match the expected TOML format", path)
	}
	return defaultConfig, nil
}

func parseAndApplyDefaults(config *ServiceConfig) error {
	if err := conf.Parse(os.Args[1:], ServiceName, config); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(ServiceName, config)
			if err != nil {
				return errors.Wrap(err, "parsing config")
			}
			fmt.Println(usage)
			os.Exit(0)

		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(ServiceName, config)
			if err != nil {
				return errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			os.Exit(0)
		}
		return errors.Wrap(err, "parsing config")
	}
	return nil
}

func getDefaultServicesConfig() ServicesConfig {
	return ServicesConfig{
		StorageProvider: "bolt",
		ServiceEndpoint: DefaultServiceEndpoint,
		StatusConfig: StatusServiceConfig{
			BaseServiceConfig: BaseServiceConfig{Name: "status"},
			Length:            DefaultStatusListLength,
			FetchTimeout:      10 * time.Second,
		},
		AgentConfig: AgentConfig{
			TokenTTL: 10 * time.Minute,
			Timeout:  30 * time.Second,
		},
	}
}

func loadTOMLConfig(path string, config *ServiceConfig) error {
	if _, err := toml.DecodeFile(path, config); err != nil {
		return errors.Wrapf(err, "could not load config: %s", path)
	}

	// apply defaults if not included in toml file
	if config.Services.ServiceEndpoint == "" {
		config.Services.ServiceEndpoint = DefaultServiceEndpoint
	}
	if config.Services.StatusConfig.Name == "" {
		config.Services.StatusConfig.Name = "status"
	}
	if config.Services.StatusConfig.Length == 0 {
		config.Services.StatusConfig.Length = DefaultStatusListLength
	}
	return nil
}

// applyEnvVariables overrides secrets with values from the environment. A .env file is loaded first when one
// exists; variables already set in the process win over the file.
func applyEnvVariables(config *ServiceConfig) error {
	envPath := DefaultEnvPath
	if p, ok := os.LookupEnv(EnvPath.String()); ok {
		envPath = p
	}
	if _, err := os.Stat(envPath); err == nil {
		if err = godotenv.Load(envPath); err != nil {
			return errors.Wrapf(err, "loading env file %s", envPath)
		}
	}

	overrides := map[EnvironmentVariable]*string{
		AuthTokenHash:   &config.Server.AuthTokenHash,
		AgentAPIKey:     &config.Services.AgentConfig.APIKey,
		VerifierAPIKey:  &config.Services.AgentConfig.VerifierAPIKey,
		StoragePassword: &config.Services.EncryptionConfig.Password,
	}
	for env, field := range overrides {
		if v, ok := os.LookupEnv(env.String()); ok && v != "" {
			*field = v
		}
	}
	return nil
}
