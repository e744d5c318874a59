package domain

import "errors"

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrNegotiationTimeout    = errors.New("negotiation timeout")
	ErrTransportDisconnected = errors.New("transport disconnected")
	ErrBadPayload            = errors.New("bad payload")
)

// Wire codes carried in error frames.
const (
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeTimeout      = "negotiation_timeout"
	CodeDisconnected = "disconnected"
	CodeBadPayload   = "bad_payload"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal"
)

var ErrRateLimited = errors.New("rate limited")

// Code maps an error chain to its wire code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrNegotiationTimeout):
		return CodeTimeout
	case errors.Is(err, ErrTransportDisconnected):
		return CodeDisconnected
	case errors.Is(err, ErrBadPayload):
		return CodeBadPayload
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	}
	return CodeInternal
}

// FromCode is the inverse of Code, used on the client side.
func FromCode(code string) error {
	switch code {
	case CodeUnauthorized:
		return ErrUnauthorized
	case CodeForbidden:
		return ErrForbidden
	case CodeNotFound:
		return ErrNotFound
	case CodeConflict:
		return ErrConflict
	case CodeTimeout:
		return ErrNegotiationTimeout
	case CodeDisconnected:
		return ErrTransportDisconnected
	case CodeBadPayload:
		return ErrBadPayload
	case CodeRateLimited:
		return ErrRateLimited
	}
	return errors.New(code)
}
