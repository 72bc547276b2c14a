package services

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for missing, foreign or unreadable sessions
	ErrSessionNotFound = errors.New("session not found")
	// ErrStorageUnavailable wraps every persistence failure
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrPhaseNotAllowed is returned when an operation is not valid in the session's phase
	ErrPhaseNotAllowed = errors.New("operation not allowed in current phase")
	// ErrSequenceConflict is returned for stale or diverging turn sequence numbers
	ErrSequenceConflict = errors.New("message sequence conflict")
	// ErrNotReadyToCommit is returned when the working structure cannot be committed yet
	ErrNotReadyToCommit = errors.New("course structure is not ready to commit")
	// ErrUnknownTarget is returned when a refinement names a node that does not exist
	ErrUnknownTarget = errors.New("refinement target not found")
	// ErrInvalidInput is returned for requests the service cannot act on
	ErrInvalidInput = errors.New("invalid input")
	// ErrDraftNotFound is returned when no draft exists for a lesson
	ErrDraftNotFound = errors.New("draft not found")
	// ErrCommitUnfinished is returned for structure changes while part of the
	// course is already published
	ErrCommitUnfinished = errors.New("course is partially created; finish the commit first")
)

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

// PhaseError explains which phase rejected an operation
type PhaseError struct {
	Operation string
	Phase     string
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s is not allowed while the session is %s", e.Operation, e.Phase)
}

func (e *PhaseError) Unwrap() error {
	return ErrPhaseNotAllowed
}

// SessionError ties a failure to the session it happened in, so a caller
// that did not send a session id still learns the one that was created
type SessionError struct {
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
