// Package errkind classifies the error taxonomy every operation in mindoo
// returns against, so callers can branch on error kind rather than on
// package-specific sentinels.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds a mindoo operation can fail with.
type Kind string

const (
	NotFound         Kind = "NotFound"
	AlreadyDeleted   Kind = "AlreadyDeleted"
	InvalidSignature Kind = "InvalidSignature"
	UntrustedKey     Kind = "UntrustedKey"
	ChallengeExpired Kind = "ChallengeExpired"
	InvalidToken     Kind = "InvalidToken"
	UserNotFound     Kind = "UserNotFound"
	UserRevoked      Kind = "UserRevoked"
	AdminOnly        Kind = "AdminOnly"
	CryptoFailure    Kind = "CryptoFailure"
	KeyNotFound      Kind = "KeyNotFound"
	CorruptEntry     Kind = "CorruptEntry"
	StoreCorruption  Kind = "StoreCorruption"
	IncompatibleStore Kind = "IncompatibleStore"
	Timeout          Kind = "Timeout"
	NetworkError     Kind = "NetworkError"
	ServerError      Kind = "ServerError"
	Cancelled        Kind = "Cancelled"
	InvalidInput     Kind = "InvalidInput"
	TypeMismatch     Kind = "TypeMismatch"
)

// Error is the concrete error type every mindoo package returns.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no underlying cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error carrying cause as its Unwrap target.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of returns the Kind carried by err, or "" if err does not wrap an *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}

// Retriable reports whether a network-level error kind is retriable per
// the sync protocol's retry policy. InvalidToken, UserRevoked and
// InvalidSignature are the non-retriable set; everything in the network
// family otherwise retries.
func Retriable(kind Kind) bool {
	switch kind {
	case InvalidToken, UserRevoked, InvalidSignature:
		return false
	case Timeout, NetworkError, ServerError:
		return true
	default:
		return false
	}
}
