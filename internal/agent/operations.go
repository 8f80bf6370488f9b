package agent

import (
	"context"
	"net/http"
	"net/url"

	"github.com/TBD54566975/ssi-sdk/credential"
	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/pkg/errors"
)

const (
	didMethodSov   = "sov"
	keyTypeEd25519 = "ed25519"
)

type createDIDRequest struct {
	Method  string           `json:"method"`
	Options createDIDOptions `json:"options"`
}

type createDIDOptions struct {
	KeyType string `json:"key_type"`
	DID     string `json:"did"`
}

type didInfo struct {
	DID    string `json:"did"`
	Verkey string `json:"verkey"`
}

type createDIDResponse struct {
	Result didInfo `json:"result"`
}

type listDIDResponse struct {
	Results []didInfo `json:"results"`
}

// CreateKey asks the agent to mint an ed25519 key for the given did:web and returns its verkey. The agent
// only creates raw keys under its "sov" method; the did is passed through as the key alias.
func (c *Client) CreateKey(ctx context.Context, did string) (string, error) {
	req := createDIDRequest{
		Method:  didMethodSov,
		Options: createDIDOptions{KeyType: keyTypeEd25519, DID: did},
	}
	var resp createDIDResponse
	if err := c.authorized(ctx, http.MethodPost, "/wallet/did/create", req, &resp); err != nil {
		return "", sdkutil.LoggingErrorMsgf(err, "creating key for %s", did)
	}
	if resp.Result.Verkey == "" {
		return "", errors.Wrapf(ErrAgent, "agent returned no verkey for %s", did)
	}
	return resp.Result.Verkey, nil
}

func (c *Client) GetVerificationKey(ctx context.Context, did string) (string, error) {
	var resp listDIDResponse
	path := "/wallet/did?" + url.Values{"did": []string{did}}.Encode()
	if err := c.authorized(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", sdkutil.LoggingErrorMsgf(err, "looking up key for %s", did)
	}
	if len(resp.Results) == 0 || resp.Results[0].Verkey == "" {
		return "", errors.Wrapf(ErrAgent, "agent has no key for %s", did)
	}
	return resp.Results[0].Verkey, nil
}

type signDocument struct {
	Credential *credential.VerifiableCredential `json:"credential"`
	Options    ProofOptions                     `json:"options"`
}

type signRequest struct {
	Doc    signDocument `json:"doc"`
	Verkey string       `json:"verkey"`
}

type signResponse struct {
	SignedDoc *credential.VerifiableCredential `json:"signed_doc"`
	Error     string                           `json:"error,omitempty"`
}

// Sign returns a copy of vc carrying a JSON-LD proof made with verificationKey.
func (c *Client) Sign(ctx context.Context, vc *credential.VerifiableCredential, options ProofOptions, verificationKey string) (*credential.VerifiableCredential, error) {
	if vc == nil {
		return nil, errors.New("cannot sign empty credential")
	}
	req := signRequest{
		Doc:    signDocument{Credential: vc, Options: options},
		Verkey: verificationKey,
	}
	var resp signResponse
	if err := c.authorized(ctx, http.MethodPost, "/jsonld/sign", req, &resp); err != nil {
		return nil, sdkutil.LoggingErrorMsgf(err, "signing credential %s", vc.ID)
	}
	if resp.Error != "" {
		return nil, errors.Wrapf(ErrAgent, "signing credential %s: %s", vc.ID, resp.Error)
	}
	if resp.SignedDoc == nil || resp.SignedDoc.Proof == nil {
		return nil, errors.Wrapf(ErrAgent, "agent returned no proof for %s", vc.ID)
	}
	return resp.SignedDoc, nil
}

type verifyRequest struct {
	VerifiableCredential *credential.VerifiableCredential `json:"verifiableCredential"`
	Options              map[string]any                   `json:"options"`
}

// Verify checks the proof of vc with the configured VC-API verifier.
func (c *Client) Verify(ctx context.Context, vc *credential.VerifiableCredential) (*VerificationResult, error) {
	if c.cfg.VerifierEndpoint == "" {
		return nil, errors.Wrap(ErrAgent, "no verifier configured")
	}
	if vc == nil {
		return nil, errors.New("cannot verify empty credential")
	}
	var headers map[string]string
	if c.cfg.VerifierAPIKey != "" {
		headers = map[string]string{"X-API-KEY": c.cfg.VerifierAPIKey}
	}
	req := verifyRequest{VerifiableCredential: vc, Options: map[string]any{}}
	var resp VerificationResult
	if err := c.do(ctx, c.cfg.VerifierEndpoint+"/vc/credentials/verify", http.MethodPost, req, headers, &resp); err != nil {
		// verifiers answer a bad proof with 400
		var statusErr *responseError
		if errors.As(err, &statusErr) && statusErr.status == http.StatusBadRequest {
			return &VerificationResult{Verified: false, Errors: []string{statusErr.body}}, nil
		}
		return nil, sdkutil.LoggingErrorMsgf(err, "verifying credential %s", vc.ID)
	}
	return &resp, nil
}

var _ Signer = (*Client)(nil)
