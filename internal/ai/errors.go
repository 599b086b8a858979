package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type ErrorKind int

const (
	// KindTransient covers network failures, timeouts and throttling; safe to
	// retry with backoff.
	KindTransient ErrorKind = iota
	// KindRejected covers backend rejections (invalid input, quota, auth);
	// never retried, surfaced to the caller.
	KindRejected
)

type BackendError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func transientErr(op string, err error) *BackendError {
	return &BackendError{Kind: KindTransient, Op: op, Err: err}
}

func rejectedErr(op string, err error) *BackendError {
	return &BackendError{Kind: KindRejected, Op: op, Err: err}
}

// IsTransient reports whether err is a backend error worth retrying.
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == KindTransient
}

// Retry runs fn up to attempts times, sleeping backoff between tries, and
// gives up immediately on non-transient errors.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
