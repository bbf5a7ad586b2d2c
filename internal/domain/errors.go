package domain

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// ErrSubmitted is returned for edits attempted after a response was submitted.
var ErrSubmitted = fmt.Errorf("quote response already submitted: %w", errdefs.ErrFailedPrecondition)

// ValidationError reports bad user input. It is recovered locally and never
// reaches the network.
type ValidationError struct {
	Reason  ValidationReason
	ItemKey string // set for per-item price failures
}

func (e *ValidationError) Error() string {
	if e.ItemKey != "" {
		return fmt.Sprintf("validation failed: %s (item %s)", e.Reason, e.ItemKey)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// Unwrap classifies the error as an invalid argument.
func (e *ValidationError) Unwrap() error { return errdefs.ErrInvalidArgument }

// TransientFetchError wraps a failed poll. It is retried silently.
type TransientFetchError struct {
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch failure: %v", e.Err)
}

// Unwrap exposes both the cause and the unavailable classification.
func (e *TransientFetchError) Unwrap() []error { return []error{errdefs.ErrUnavailable, e.Err} }

// PermissionError reports an edit/delete on a message the caller did not send.
type PermissionError struct {
	MessageID int64
	UserID    int64
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %d may not modify message %d", e.UserID, e.MessageID)
}

// Unwrap classifies the error as permission denied.
func (e *PermissionError) Unwrap() error { return errdefs.ErrPermissionDenied }

// MutationError wraps a failed send/edit/delete/submit. The caller's local
// state is left untouched so the action can be retried.
type MutationError struct {
	Op  string
	Err error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is a ValidationError and returns it.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
