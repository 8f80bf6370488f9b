package status

import "github.com/pkg/errors"

// Callers match these with errors.Is; they are always returned wrapped with context.
var (
	ErrNotFound              = errors.New("not found")
	ErrNotInitialized        = errors.New("status list not initialized")
	ErrAlreadyInitialized    = errors.New("status list already initialized")
	ErrCapacityExhausted     = errors.New("status list capacity exhausted")
	ErrIndexOutOfRange       = errors.New("status index out of range")
	ErrDecoding              = errors.New("malformed encoded status list")
	ErrInvalidReference      = errors.New("invalid credential status reference")
	ErrStatusTypeMismatch    = errors.New("status type does not match credential status")
	ErrConflictRetryExceeded = errors.New("status list update conflicted too many times")
	ErrSigner                = errors.New("signer failure")
)
