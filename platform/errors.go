package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when requested identity, data contract or
	// document does not exist on the platform.
	ErrNotFound = errors.New("not found")

	// ErrRejected matches all [RejectedError] instances.
	ErrRejected = errors.New("state transition rejected")

	// ErrOutcomeUnknown is returned when waiting for the transition result is
	// interrupted by the caller. The transition may still be executed, so
	// document state must be re-queried before any further action.
	ErrOutcomeUnknown = errors.New("state transition outcome is unknown")
)

// RejectReason categorizes platform rejections.
type RejectReason string

// Known rejection reasons.
const (
	RejectValidation          RejectReason = "validation"
	RejectInsufficientBalance RejectReason = "insufficient_balance"
	RejectStaleRevision       RejectReason = "stale_revision"
	RejectUnauthorizedKey     RejectReason = "unauthorized_key"
	RejectNotFound            RejectReason = "not_found"
	RejectNotTransferable     RejectReason = "not_transferable"
	RejectUnknown             RejectReason = "unknown"
)

// ParseRejectReason returns reason by its string form. Unrecognized values
// are mapped to [RejectUnknown].
func ParseRejectReason(s string) RejectReason {
	switch r := RejectReason(s); r {
	case RejectValidation, RejectInsufficientBalance, RejectStaleRevision, RejectUnauthorizedKey,
		RejectNotFound, RejectNotTransferable:
		return r
	default:
		return RejectUnknown
	}
}

// RejectedError describes state transition rejected by the platform. Rejection
// is terminal: resubmission of the same transition is pointless.
type RejectedError struct {
	Reason  RejectReason
	Message string
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s [%s]", ErrRejected, e.Reason)
	}
	return fmt.Sprintf("%s [%s]: %s", ErrRejected, e.Reason, e.Message)
}

// Is makes RejectedError match [ErrRejected].
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// NetworkError describes transport failure. Delivered reports whether the
// transition could have reached the platform before the failure.
type NetworkError struct {
	Op        string
	Err       error
	Delivered bool
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure on %s: %v", e.Op, e.Err)
}

// Unwrap supports error unwrapping.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError checks whether err is caused by transport failure and worth
// retrying.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// RejectionReason extracts rejection reason from the error. The second value
// is false if err is not a rejection.
func RejectionReason(err error) (RejectReason, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}
