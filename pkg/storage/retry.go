package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	txInitialBackoff = 5 * time.Millisecond
	txMaxBackoff     = 250 * time.Millisecond
)

func newTxBackOff(ctx context.Context, maxRetries int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = txInitialBackoff
	exp.MaxInterval = txMaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxRetries)), ctx)
}

// retryOnConflict re-runs attempt while it fails with ErrConflict. Any other error is returned as is.
func retryOnConflict(ctx context.Context, maxRetries int, attempt func() (any, error)) (any, error) {
	var result any
	conflicts := 0
	operation := func() error {
		r, err := attempt()
		if err == nil {
			result = r
			return nil
		}
		if errors.Is(err, ErrConflict) {
			conflicts++
			logrus.Debugf("optimistic transaction conflict, attempt %d", conflicts)
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, newTxBackOff(ctx, maxRetries)); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, errors.Wrapf(ErrConflictRetryExceeded, "gave up after %d conflicting attempts", conflicts)
		}
		return nil, err
	}
	return result, nil
}
