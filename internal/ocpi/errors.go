package ocpi

import (
	"errors"
	"net/http"
)

// Kind classifies a routing failure.
type Kind int

const (
	KindClient Kind = iota
	KindUnauthorized
	KindForbidden
	KindUnknownReceiver
	KindSignature
	KindNotaryChain
	KindUpstream
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindUnknownReceiver:
		return "unknown_receiver"
	case KindSignature:
		return "signature"
	case KindNotaryChain:
		return "notary_chain"
	case KindUpstream:
		return "upstream"
	default:
		return "server"
	}
}

// Error carries the OCPI status code and HTTP status for a failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the OCPI status code.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindClient, KindUnauthorized, KindForbidden:
		return StatusClientError
	case KindUnknownReceiver:
		return StatusUnknownReceiver
	case KindSignature, KindNotaryChain:
		return StatusConnectionProblem
	case KindUpstream:
		return StatusUnusableAPI
	default:
		return StatusServerError
	}
}

// HTTPStatus returns the HTTP status the error is reported with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindClient, KindUnknownReceiver, KindSignature, KindNotaryChain:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the kind of err, KindServer for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// AsError converts any error into an *Error, wrapping foreign ones as
// server errors.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(KindServer, "internal error", err)
}
