package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared across components.
var (
	ErrMissingURL         = errors.New("task has no url")
	ErrMissingDestination = errors.New("task has no destination path")
	ErrOfflineCacheMiss   = errors.New("offline mode: url not in cache")
	ErrNoSources          = errors.New("no download sources available")
)

// FailureClass partitions transfer failures into the classes the retry
// controller acts on. Terminal classes must not be retried on the same
// source; transient classes consume a retry and back off.
type FailureClass string

const (
	// FailureNotFound: the source answered that the resource does not
	// exist. Terminal for that source, the next source is tried
	// immediately.
	FailureNotFound FailureClass = "not_found"

	// FailureTransient: timeouts, connection resets, 429 and 5xx
	// responses. Retried with backoff on the same source.
	FailureTransient FailureClass = "transient"

	// FailureIntegrity: the computed digest does not match the expected
	// hash. Always terminal, the output file is deleted.
	FailureIntegrity FailureClass = "integrity"

	// FailureResource: local disk errors (space, permissions). Terminal
	// for the task, siblings are unaffected.
	FailureResource FailureClass = "resource"
)

// TransferError is a classified transfer failure. Source names the URL
// the attempt ran against so callers can report which source failed.
type TransferError struct {
	Class      FailureClass
	Source     string
	StatusCode int
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%s, status %d): %v", e.Class, e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Class, e.Source, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// NewTransferError builds a classified failure for the given source.
func NewTransferError(class FailureClass, source string, status int, err error) *TransferError {
	return &TransferError{Class: class, Source: source, StatusCode: status, Err: err}
}

// Classify returns the failure class of err, or "" when err carries no
// classification.
func Classify(err error) FailureClass {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Class
	}
	return ""
}

// IsTransient reports whether err should consume a retry and back off.
// Unclassified errors (raw network failures) are treated as transient.
func IsTransient(err error) bool {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Class == FailureTransient
	}
	return err != nil
}

// IsTerminalForSource reports whether err rules out further attempts
// against the same source.
func IsTerminalForSource(err error) bool {
	switch Classify(err) {
	case FailureNotFound, FailureIntegrity, FailureResource:
		return true
	}
	return false
}

// ClassifyStatus maps an HTTP response status to a failure class.
// Success statuses return "".
func ClassifyStatus(code int) FailureClass {
	switch {
	case code >= 200 && code < 300:
		return ""
	case code == http.StatusNotFound || code == http.StatusGone:
		return FailureNotFound
	case code == http.StatusTooManyRequests || code >= 500:
		return FailureTransient
	default:
		// Other 4xx responses will not improve with retries on this
		// source.
		return FailureNotFound
	}
}
