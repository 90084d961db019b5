package pipeline

import (
	"errors"
	"fmt"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
)

var (
	// ErrMessageNotFound is returned when an update targets an unknown message id.
	ErrMessageNotFound = errors.New("message not found")
	// ErrDuplicateMessage is returned when an append reuses an existing id.
	ErrDuplicateMessage = errors.New("duplicate message id")
	// ErrClosed is returned by operations on a closed orchestrator.
	ErrClosed = errors.New("orchestrator closed")
)

// AttachmentReadError reports an attachment that could not be read.
type AttachmentReadError struct {
	Name string
	Err  error
}

func (e *AttachmentReadError) Error() string {
	return fmt.Sprintf("read attachment %q: %v", e.Name, e.Err)
}

func (e *AttachmentReadError) Unwrap() error { return e.Err }

// UnsupportedCapabilityError reports a host capability that is not present.
type UnsupportedCapabilityError struct {
	Capability string
}

func (e *UnsupportedCapabilityError) Error() string {
	return fmt.Sprintf("%s is not supported", e.Capability)
}

// BackendRequestError and StreamInterruptedError are produced by Backend
// implementations and surface unchanged from the orchestrator.
type (
	BackendRequestError    = ports.BackendRequestError
	StreamInterruptedError = ports.StreamInterruptedError
)

// ValidationError reports a rejected user action. Empty sends and sends while
// busy are silent; selection errors carry a reason for the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Validation reasons.
const (
	ReasonEmptyTurn       = "nothing to send"
	ReasonTurnInFlight    = "a turn is already in flight"
	ReasonFileTooLarge    = "file too large"
	ReasonUnsupportedFile = "unsupported file type"
)

var (
	ErrEmptyTurn    = &ValidationError{Reason: ReasonEmptyTurn}
	ErrTurnInFlight = &ValidationError{Reason: ReasonTurnInFlight}
)
