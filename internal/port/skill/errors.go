package skill

import "errors"

// retryableError marks a transient failure the engine may retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so IsRetryable reports true for it. Wrapping nil
// returns nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err (or any error it wraps) was marked
// transient via Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
