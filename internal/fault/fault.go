// Package fault classifies errors raised anywhere in diario into the few
// kinds callers act on: reject, retry, stop, or report.
package fault

import (
	"context"
	"errors"
	"net/http"
)

// Kind is the coarse category of an error.
type Kind int

const (
	Unknown Kind = iota
	// Input covers malformed questions, dates and chunk configuration.
	Input
	// Transient covers unreachable or timed out embedding and model services.
	Transient
	// Integrity covers dimension mismatches and corrupt persisted indexes.
	Integrity
	// EmptyResponse means the model answered but with nothing usable.
	EmptyResponse
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case Transient:
		return "transient"
	case Integrity:
		return "integrity"
	case EmptyResponse:
		return "empty_response"
	default:
		return "unknown"
	}
}

var (
	ErrInput         = errors.New("invalid input")
	ErrTransient     = errors.New("external service unavailable")
	ErrIntegrity     = errors.New("data integrity violation")
	ErrEmptyResponse = errors.New("model returned an empty response")
)

type sentinel struct {
	msg    string
	parent error
}

func (s *sentinel) Error() string        { return s.msg }
func (s *sentinel) Is(target error) bool { return target == s.parent }

// Define returns a new sentinel error that also matches parent under
// errors.Is, so packages can keep precise errors without losing the kind.
func Define(parent error, msg string) error {
	return &sentinel{msg: msg, parent: parent}
}

// KindOf reports the kind of err. A deadline that expired while waiting on
// an external call counts as Transient.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return Unknown
	case errors.Is(err, ErrInput):
		return Input
	case errors.Is(err, ErrIntegrity):
		return Integrity
	case errors.Is(err, ErrEmptyResponse):
		return EmptyResponse
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return Transient
	default:
		return Unknown
	}
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	return KindOf(err) == Transient
}

// HTTPStatus maps a kind to the status code returned to HTTP clients.
func HTTPStatus(k Kind) int {
	switch k {
	case Input:
		return http.StatusBadRequest
	case Transient:
		return http.StatusServiceUnavailable
	case EmptyResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text shown to clients for a kind. Internal details
// stay in the logs.
func PublicMessage(k Kind) string {
	switch k {
	case Input:
		return "invalid request"
	case Transient:
		return "the assistant is unavailable right now, try again"
	case EmptyResponse:
		return "the assistant returned no answer, rephrase the question"
	case Integrity:
		return "the diary index is inconsistent, rebuild it"
	default:
		return "internal error"
	}
}
