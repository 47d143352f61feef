package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a thread already has a send awaiting completion.
	ErrBusy = errors.New("a message is already being processed for this chat")

	// ErrThreadNotFound is returned for an unknown thread ID.
	ErrThreadNotFound = errors.New("chat not found")

	// ErrEmptyMessage is returned when the message content is blank.
	ErrEmptyMessage = errors.New("message content cannot be empty")
)

// QuotaExceededError is returned when the monthly counter has reached the
// ceiling. No turn is appended and no completion is requested.
type QuotaExceededError struct {
	Ceiling   int64
	Used      int64
	Remaining int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly token limit (%d) reached, upgrade your plan for more tokens", e.Ceiling)
}

// TransportFaultError wraps a completion call that failed outright: it timed
// out or the caller went away. The user turn has been retracted.
type TransportFaultError struct {
	Err error
}

func (e *TransportFaultError) Error() string {
	return fmt.Sprintf("completion failed: %v", e.Err)
}

func (e *TransportFaultError) Unwrap() error { return e.Err }

// CompletionRejectedError is returned when the backend answered with an error
// result. The user turn has been retracted.
type CompletionRejectedError struct {
	Message string
	Model   string
}

func (e *CompletionRejectedError) Error() string {
	return e.Message
}
