package skyward

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredentials   = errors.New("missing credentials")
	ErrInvalidCredentials   = errors.New("invalid username or password")
	ErrSessionExpired       = errors.New("session expired")
	ErrUnrecognizedResponse = errors.New("unrecognized upstream response")
	ErrTransport            = errors.New("transport error")
	ErrParse                = errors.New("parse error")
)

// TransportError is a failed exchange with the portal, either the request never
// completed (Err is set) or it completed with a non-2xx status.
type TransportError struct {
	Endpoint string
	Status   int
	Message  string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrTransport, e.Endpoint, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: status %d: %s", ErrTransport, e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: status %d", ErrTransport, e.Endpoint, e.Status)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ParseError is a structural mismatch inside otherwise successful markup.
type ParseError struct {
	Parser string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrParse, e.Parser, e.Reason)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func parseError(parser, format string, args ...any) error {
	return &ParseError{Parser: parser, Reason: fmt.Sprintf(format, args...)}
}
