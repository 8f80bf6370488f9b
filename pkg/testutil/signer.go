package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/TBD54566975/ssi-sdk/credential"
	"github.com/TBD54566975/ssi-sdk/crypto"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/opsecid/traceability-service/internal/agent"
)

// FakeSigner stands in for the agent. Its proofs name the verification method and key they were made with, and
// Verify accepts exactly the proofs it made.
type FakeSigner struct {
	mu    sync.Mutex
	keys  map[string]string
	signs int

	// SignErr, when set, fails every Sign call once SignsBeforeErr proofs were made.
	SignErr        error
	SignsBeforeErr int
	// VerifyErr, when set, fails every Verify call.
	VerifyErr error
	// NextKey, when set, is the key handed out by the next CreateKey call.
	NextKey string
}

// FakeVerkey is the base58 Ed25519 public key the n-th CreateKey call of a FakeSigner returns.
func FakeVerkey(n int) string {
	key := make([]byte, 32)
	key[0] = byte(n)
	return base58.Encode(key)
}

func NewFakeSigner() *FakeSigner {
	return &FakeSigner{keys: make(map[string]string)}
}

func (f *FakeSigner) Sign(_ context.Context, vc *credential.VerifiableCredential, options agent.ProofOptions, verificationKey string) (*credential.VerifiableCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SignErr != nil && f.signs >= f.SignsBeforeErr {
		return nil, f.SignErr
	}
	if vc.Proof != nil {
		return nil, errors.New("credential is already signed")
	}
	f.signs++

	signed := *vc
	var proof crypto.Proof = map[string]any{
		"type":               "Ed25519Signature2018",
		"verificationMethod": options.VerificationMethod,
		"proofPurpose":       options.ProofPurpose,
		"jws":                fmt.Sprintf("fake..%s.%d", verificationKey, f.signs),
	}
	signed.Proof = &proof
	return &signed, nil
}

func (f *FakeSigner) Verify(_ context.Context, vc *credential.VerifiableCredential) (*agent.VerificationResult, error) {
	if f.VerifyErr != nil {
		return nil, f.VerifyErr
	}
	if vc.Proof == nil {
		return &agent.VerificationResult{Verified: false, Errors: []string{"no proof"}}, nil
	}
	proof, ok := (*vc.Proof).(map[string]any)
	if !ok {
		return &agent.VerificationResult{Verified: false, Errors: []string{"unknown proof"}}, nil
	}
	jws, _ := proof["jws"].(string)
	return &agent.VerificationResult{Verified: strings.HasPrefix(jws, "fake..")}, nil
}

func (f *FakeSigner) CreateKey(_ context.Context, did string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := FakeVerkey(len(f.keys) + 1)
	if f.NextKey != "" {
		key, f.NextKey = f.NextKey, ""
	}
	f.keys[did] = key
	return key, nil
}

func (f *FakeSigner) GetVerificationKey(_ context.Context, did string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[did]
	if !ok {
		return "", errors.Wrapf(agent.ErrAgent, "no key for %s", did)
	}
	return key, nil
}

// Signs returns how many proofs were made.
func (f *FakeSigner) Signs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signs
}

var _ agent.Signer = (*FakeSigner)(nil)
