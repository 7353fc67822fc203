package mailer

import (
	"errors"
	"fmt"
	"time"
)

// TransientError is a failure that may succeed when retried later.
type TransientError struct {
	StatusCode int
	RetryAfter time.Duration
	// Ambiguous is set when the request may have reached the provider, so a send may have happened.
	Ambiguous bool
	// Unauthorized is set when the provider rejected the access token itself.
	Unauthorized bool
	Err          error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient send failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient send failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a failure that retrying cannot fix, such as an invalid recipient.
type PermanentError struct {
	StatusCode int
	Reason     string
}

func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("permanent send failure (status %d): %s", e.StatusCode, e.Reason)
	}
	return "permanent send failure: " + e.Reason
}

// AsTransient returns the transient error in err's chain, if any.
func AsTransient(err error) (*TransientError, bool) {
	var te *TransientError
	ok := errors.As(err, &te)
	return te, ok
}

// AsPermanent returns the permanent error in err's chain, if any.
func AsPermanent(err error) (*PermanentError, bool) {
	var pe *PermanentError
	ok := errors.As(err, &pe)
	return pe, ok
}
