package adapter

import "errors"

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsNotFound reports whether err means the external record is gone.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsPermanent reports whether err is non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
