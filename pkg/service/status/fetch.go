package status

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/TBD54566975/ssi-sdk/credential"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	statusint "github.com/opsecid/traceability-service/internal/status"
	"github.com/opsecid/traceability-service/internal/util"
)

const (
	defaultFetchTimeout = 10 * time.Second

	// a list credential is the encoded list plus a proof
	maxListCredentialBytes = 2 * statusint.MaxEncodedListBytes
)

// Fetcher retrieves status list credentials published by other issuers.
type Fetcher struct {
	HTTPClient *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{
		HTTPClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
	}
}

func (f *Fetcher) FetchListCredential(ctx context.Context, listURL string) (*credential.VerifiableCredential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "building request for %s", listURL)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching status list %s", listURL)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Wrapf(statusint.ErrNotFound, "status list %s", listURL)
	}
	if !util.Is2xxResponse(resp.StatusCode) {
		return nil, errors.Errorf("fetching status list %s: unexpected status %d", listURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListCredentialBytes+1))
	if err != nil {
		return nil, errors.Wrapf(err, "reading status list %s", listURL)
	}
	if len(body) > maxListCredentialBytes {
		return nil, errors.Wrapf(statusint.ErrDecoding, "status list %s is larger than %d bytes", listURL, maxListCredentialBytes)
	}
	var vc credential.VerifiableCredential
	if err = json.Unmarshal(body, &vc); err != nil {
		return nil, errors.Wrapf(statusint.ErrDecoding, "status list %s is not a credential: %s", listURL, err)
	}
	return &vc, nil
}
