package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/TBD54566975/ssi-sdk/credential"
	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opsecid/traceability-service/internal/util"
)

const (
	ProofPurposeAssertionMethod = "assertionMethod"

	DefaultTokenTTL = 10 * time.Minute
	defaultTimeout  = 30 * time.Second

	maxResponseBytes = 8 << 20
)

// ErrAgent wraps every failure of the agent or the verifier, including non-2xx answers.
var ErrAgent = errors.New("agent request failed")

type ProofOptions struct {
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
}

type VerificationResult struct {
	Verified bool     `json:"verified"`
	Errors   []string `json:"errors,omitempty"`
}

// Signer holds the issuer keys. Proofs are only ever produced and checked on its side.
type Signer interface {
	Sign(ctx context.Context, vc *credential.VerifiableCredential, options ProofOptions, verificationKey string) (*credential.VerifiableCredential, error)
	Verify(ctx context.Context, vc *credential.VerifiableCredential) (*VerificationResult, error)
	CreateKey(ctx context.Context, did string) (string, error)
	GetVerificationKey(ctx context.Context, did string) (string, error)
}

type Config struct {
	Endpoint         string
	TenantID         string
	APIKey           string
	TokenTTL         time.Duration
	VerifierEndpoint string
	VerifierAPIKey   string
	Timeout          time.Duration
}

// Client talks to a multi-tenant aries agent for keys and JSON-LD proofs, and to a VC-API verifier
// for verification.
type Client struct {
	HTTPClient *http.Client

	cfg   Config
	clock clock.Clock

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg Config, clk clock.Clock) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("agent endpoint required")
	}
	if cfg.TenantID == "" || cfg.APIKey == "" {
		return nil, errors.New("agent tenant id and api key required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
	cfg.VerifierEndpoint = strings.TrimSuffix(cfg.VerifierEndpoint, "/")
	return &Client{
		HTTPClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		},
		cfg:   cfg,
		clock: clk,
	}, nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

// bearerToken returns the cached tenant token, requesting a new one once it is older than the TTL.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.clock.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var resp tokenResponse
	path := "/multitenancy/tenant/" + url.PathEscape(c.cfg.TenantID) + "/token"
	if err := c.do(ctx, c.cfg.Endpoint+path, http.MethodPost, map[string]string{"api_key": c.cfg.APIKey}, nil, &resp); err != nil {
		return "", errors.Wrap(err, "requesting tenant token")
	}
	if resp.Token == "" {
		return "", errors.Wrap(ErrAgent, "empty tenant token")
	}
	c.token = resp.Token
	c.tokenExpiry = c.clock.Now().Add(c.cfg.TokenTTL)
	logrus.Debug("refreshed agent tenant token")
	return c.token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

// authorized calls the agent with the tenant token, refreshing it once if the agent rejects it.
func (c *Client) authorized(ctx context.Context, method, path string, body, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := c.bearerToken(ctx)
		if err != nil {
			return err
		}
		headers := map[string]string{"Authorization": "Bearer " + token}
		err = c.do(ctx, c.cfg.Endpoint+path, method, body, headers, out)
		var statusErr *responseError
		if attempt == 0 && errors.As(err, &statusErr) && statusErr.status == http.StatusUnauthorized {
			c.dropToken()
			continue
		}
		return err
	}
}

// responseError is a non-2xx answer. It unwraps to ErrAgent.
type responseError struct {
	method string
	target string
	status int
	body   string
}

func (e *responseError) Error() string {
	return fmt.Sprintf("%s: %s %s returned %d: %s", ErrAgent, e.method, e.target, e.status, e.body)
}

func (e *responseError) Unwrap() error {
	return ErrAgent
}

func (c *Client) do(ctx context.Context, target, method string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshalling request")
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrapf(ErrAgent, "%s %s: %s", method, target, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Wrapf(ErrAgent, "reading response of %s: %s", target, err)
	}
	if !util.Is2xxResponse(resp.StatusCode) {
		return errors.WithStack(&responseError{
			method: method,
			target: target,
			status: resp.StatusCode,
			body:   util.SanitizeLog(string(respBody)),
		})
	}
	if out == nil {
		return nil
	}
	if err = json.Unmarshal(respBody, out); err != nil {
		return errors.Wrapf(ErrAgent, "decoding response of %s: %s", target, err)
	}
	return nil
}
