package fetcher

import (
	"errors"
	"fmt"
)

// Kind classifies why a fetch failed.
type Kind string

const (
	// KindRetrieval is returned when the source is unreachable or the service
	// answered with a failure status.
	KindRetrieval Kind = "retrieval"

	// KindAuthentication is returned when the source rejects the credentials,
	// or when none were supplied.
	KindAuthentication Kind = "authentication"

	// KindParse is returned when the response does not have the expected shape.
	KindParse Kind = "parse"
)

// Error is the error returned by every fetcher.
type Error struct {
	// Kind is the failure class
	Kind Kind

	// Source is the fetcher name
	Source string

	// Message describes what went wrong
	Message string

	// Cause is the underlying error, if any
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s error: %s", e.Source, e.Kind, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewRetrievalError creates a new retrieval error
func NewRetrievalError(source, message string, cause error) *Error {
	return &Error{Kind: KindRetrieval, Source: source, Message: message, Cause: cause}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(source, message string, cause error) *Error {
	return &Error{Kind: KindAuthentication, Source: source, Message: message, Cause: cause}
}

// NewParseError creates a new parse error
func NewParseError(source, message string, cause error) *Error {
	return &Error{Kind: KindParse, Source: source, Message: message, Cause: cause}
}

// IsRetrieval checks if the error is a retrieval error
func IsRetrieval(err error) bool { return isKind(err, KindRetrieval) }

// IsAuthentication checks if the error is an authentication error
func IsAuthentication(err error) bool { return isKind(err, KindAuthentication) }

// IsParse checks if the error is a parse error
func IsParse(err error) bool { return isKind(err, KindParse) }

func isKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
