package skyward

import (
	"context"
	"errors"

	scraper "skyassist-backend/lib/scrapers/skyward"
)

// Result is the envelope every public operation answers with, errors never
// cross this boundary any other way.
type Result[T any] struct {
	Success bool         `json:"success"`
	Data    *T           `json:"data,omitempty"`
	Error   *ResultError `json:"error,omitempty"`
}

type ResultError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func succeed[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: &data}
}

func fail[T any](err error) Result[T] {
	return Result[T]{
		Success: false,
		Error: &ResultError{
			Kind:    ErrorKind(err),
			Message: err.Error(),
		},
	}
}

func envelope[T any](data T, err error) Result[T] {
	if err != nil {
		return fail[T](err)
	}
	return succeed(data)
}

// ErrorKind classifies an error into the stable kind string the envelope
// carries. Order matters, throttling and exhaustion wrap other kinds.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrAuthThrottled):
		return "auth_throttled"
	case errors.Is(err, ErrRetryExhausted):
		return "retry_exhausted"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, scraper.ErrMissingCredentials):
		return "missing_credentials"
	case errors.Is(err, scraper.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, scraper.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, scraper.ErrUnrecognizedResponse):
		return "unrecognized_response"
	case errors.Is(err, scraper.ErrParse):
		return "parse"
	case errors.Is(err, scraper.ErrTransport),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return "transport"
	default:
		return "internal"
	}
}
