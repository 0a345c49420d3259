package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// Credential errors
	ErrInvalidCredentials = errors.New("invalid user credentials")
	ErrNoUsername         = errors.New("no username available")
	ErrNoPassword         = errors.New("no password available")
	ErrUserNotFound       = errors.New("user not found in credential store")

	// Portal errors
	ErrMissingTableBody = errors.New("html does not have a tbody element")
	ErrMissingCell      = errors.New("missing table cell")
	ErrMalformedElement = errors.New("malformed element")
	ErrLocalAddress     = errors.New("failed to get local ip address")
	ErrUnknownTier      = errors.New("unknown approve duration")

	// Monitor errors
	ErrChannelClosed   = errors.New("message channel closed")
	ErrRetryAbandoned  = errors.New("retry handle dropped")
	ErrSuspendTooShort = errors.New("suspend duration is less than minimum allowed")

	// Storage errors
	ErrSettingNotFound = errors.New("setting not found")
)

// TransportError represents a failed round trip to the portal
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request to %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnexpectedPathError is returned when a response resolved to a path none of
// the expected outcomes match
type UnexpectedPathError struct {
	Op   string
	Path string
}

func (e *UnexpectedPathError) Error() string {
	return fmt.Sprintf("unexpected URL path in %s response: %s", e.Op, e.Path)
}

// UnexpectedStatusError is returned for non-2xx portal responses
type UnexpectedStatusError struct {
	Op     string
	Code   int
	Status string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%s response failed with status %s", e.Op, e.Status)
}

// ParseError represents a malformed row in the status page
type ParseError struct {
	Row   int
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("status row %d: %s: %v", e.Row, e.Field, e.Err)
	}
	return fmt.Sprintf("status row %d: %v", e.Row, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// AddressError represents a malformed caller-supplied IP address
type AddressError struct {
	Input string
	Err   error
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("ip address is malformed %q: %v", e.Input, e.Err)
}

func (e *AddressError) Unwrap() error {
	return e.Err
}
