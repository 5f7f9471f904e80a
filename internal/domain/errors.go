package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrUnknownVersion   = errors.New("unknown raw version")
)

// TransientPollError is a network, timeout or server-side failure. The
// poller retries it with backoff and never surfaces it as fatal.
type TransientPollError struct {
	Feature    string
	StatusCode int
	Err        error
}

func (e *TransientPollError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient poll failure (status %d): %v", e.Feature, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient poll failure: %v", e.Feature, e.Err)
}

func (e *TransientPollError) Unwrap() error { return e.Err }

// FatalPollError is a permanent rejection. It stops the affected poller.
type FatalPollError struct {
	Feature    string
	StatusCode int
	Err        error
}

func (e *FatalPollError) Error() string {
	return fmt.Sprintf("%s: fatal poll failure (status %d): %v", e.Feature, e.StatusCode, e.Err)
}

func (e *FatalPollError) Unwrap() error { return e.Err }

// TranslationError reports a missing or malformed required field. No event
// is produced for the offending payload.
type TranslationError struct {
	Version RawVersion
	Field   string
	Reason  string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate %s: field %q: %s", e.Version, e.Field, e.Reason)
}

// RepositoryError wraps a storage-layer fault.
type RepositoryError struct {
	Operation string
	Key       DocumentKey
	Err       error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s %s: %v", e.Operation, e.Key, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// IsFatalPoll reports whether err stops a poller.
func IsFatalPoll(err error) bool {
	var fatal *FatalPollError
	return errors.As(err, &fatal)
}
