// Package apierr defines the small typed error hierarchy the HTTP
// layer maps onto HTTP status codes.
package apierr

import "fmt"

// ClientError signals a malformed request body or a missing required
// field. Maps to HTTP 400.
type ClientError struct {
	Msg   string
	Cause error
}

func (e *ClientError) Error() string { return e.Msg }

// Unwrap returns the wrapped cause, if any.
func (e *ClientError) Unwrap() error { return e.Cause }

// NewClientError builds a ClientError, optionally wrapping a cause.
func NewClientError(msg string, cause error) *ClientError {
	if cause != nil {
		return &ClientError{Msg: fmt.Sprintf("%s: %v", msg, cause), Cause: cause}
	}
	return &ClientError{Msg: msg}
}

// RoleMismatch signals a write attempted on a follower, or a replicate
// call made on a leader. Maps to HTTP 403.
type RoleMismatch struct{ Msg string }

func (e *RoleMismatch) Error() string { return e.Msg }

func NewRoleMismatch(msg string) *RoleMismatch {
	return &RoleMismatch{Msg: msg}
}

// NotFound signals a read of an absent key. Maps to HTTP 404.
type NotFound struct{ Key string }

func (e *NotFound) Error() string { return fmt.Sprintf("key %q not found", e.Key) }

// QuorumUnreached signals the leader committed locally but fewer than
// W peer acknowledgements arrived. Maps to HTTP 500.
type QuorumUnreached struct {
	Required int
	Got      int
}

func (e *QuorumUnreached) Error() string {
	return fmt.Sprintf("quorum not reached: got %d acks, required %d", e.Got, e.Required)
}
