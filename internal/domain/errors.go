package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for ids that do not exist, including deleted ones.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidTransition is returned when a requested stage is not reachable
	// from the current one.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNetwork marks transient client-side failures (transport errors, 5xx).
	ErrNetwork = errors.New("network error")

	// ErrNotReady is returned by the answering service when it has no LLM
	// configured or no ready documents to search.
	ErrNotReady = errors.New("answering service not ready")
)

// ValidationReason classifies an upload rejection.
type ValidationReason string

const (
	ReasonType  ValidationReason = "type"
	ReasonSize  ValidationReason = "size"
	ReasonEmpty ValidationReason = "empty"
)

// ValidationError rejects an upload before any record is created.
type ValidationError struct {
	Filename string
	Reason   ValidationReason
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Filename, e.Message)
}

// TransitionError carries the offending edge of a rejected Advance.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("document %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
