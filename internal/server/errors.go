package server

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the session should react to it.
type Kind int

const (
	// KindValidation is a malformed or missing field.
	KindValidation Kind = iota + 1
	// KindAuth is an absent, invalid, expired or revoked credential. It is
	// the only kind that ends the session.
	KindAuth
	KindNotFound
	KindPermission
	// KindPersistence is a failed store call.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is a failure that is reported to the acting user as an ERROR
// envelope carrying Message. Err, when set, is the underlying cause and is
// only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func permissionError(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

func authError(msg string, err error) *Error {
	return &Error{Kind: KindAuth, Message: msg, Err: err}
}

func persistenceError(msg string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: msg, Err: err}
}

// asError classifies err, treating anything unclassified as a persistence
// failure.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return persistenceError("Something went wrong", err)
}

var (
	errNotPaired   = &Error{Kind: KindNotFound, Message: "You are not connected to anyone"}
	errPartnerGone = &Error{Kind: KindNotFound, Message: "Partner is disconnected."}
	errAlreadyPair = &Error{Kind: KindPermission, Message: "You are already connected to a random user"}
	errRateLimited = &Error{Kind: KindValidation, Message: "Rate limit exceeded, message discarded"}
)
