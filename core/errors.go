package core

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every ConstructionError so callers can test
// for construction failures with errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConstructionError reports a model or stream that cannot be built from the
// supplied configuration. It is never retried.
type ConstructionError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConstructionError) Error() string {
	msg := fmt.Sprintf("construct %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *ConstructionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidConfig}
	}
	return []error{ErrInvalidConfig, e.Err}
}

func constructionErr(field, reason string, cause error) error {
	return &ConstructionError{Field: field, Reason: reason, Err: cause}
}

var (
	// ErrSinkFailed wraps errors returned by a sink; they abort the run.
	ErrSinkFailed = errors.New("sink write failed")
	// ErrAlreadyStarted is returned by Add and Run once Run has been called.
	ErrAlreadyStarted = errors.New("orchestrator already started")
)
