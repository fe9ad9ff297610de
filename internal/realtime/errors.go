package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("realtime: API key is required")

	// ErrNotConnected indicates the session has not been started or is closed.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("realtime: session already started")

	// ErrReplyTimeout indicates a requested reply did not finish in time.
	ErrReplyTimeout = errors.New("realtime: reply timed out")

	// ErrClosed indicates the session closed while waiting on it.
	ErrClosed = errors.New("realtime: session closed")
)

// APIError is an error event reported by the realtime API.
type APIError struct {
	Type    string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: API error [%s]: %s", e.Code, e.Message)
	}
	return "realtime: API error: " + e.Message
}

// ReplyError reports a response that ended without completing.
type ReplyError struct {
	Status string
	Reason string
}

func (e *ReplyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("realtime: reply %s: %s", e.Status, e.Reason)
	}
	return "realtime: reply " + e.Status
}
