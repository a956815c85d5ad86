// Package commerce coordinates the session catalog: promotion validation,
// per-session exclusion and the one-pinned-product rule.
package commerce

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthorized
	KindUpstreamUnavailable
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}

// Reasons surfaced to sellers.  Promotion reasons come from the Gate.
const (
	ReasonInvalidInput    = "InvalidInput"
	ReasonSessionNotFound = "SessionNotFound"
	ReasonProductNotFound = "ProductNotFound"
	ReasonVariantNotFound = "VariantNotFound"
	ReasonNotAttached     = "NotAttached"
	ReasonNothingPinned   = "NothingPinned"
	ReasonNotOwner        = "NotOwner"
	ReasonForeignProduct  = "ForeignProduct"
	ReasonDuplicate       = "Duplicate"
	ReasonSessionEnded    = "SessionEnded"
	ReasonBusy            = "Busy"
	ReasonStale           = "Stale"
	ReasonUpstream        = "Upstream"
)

// Error is the error type returned by every operation of this package and
// of the services built on top of it.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error without a cause.
func NewError(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// Validation reports malformed input.
func Validation(reason, message string) *Error {
	return NewError(KindValidation, reason, message)
}

// NotFound reports a missing session, product or promotion.
func NotFound(reason, message string) *Error {
	return NewError(KindNotFound, reason, message)
}

// Conflict reports a duplicate or a write that lost a race.
func Conflict(reason, message string) *Error {
	return NewError(KindConflict, reason, message)
}

// Unauthorized reports an actor acting on something it does not own.
func Unauthorized(reason, message string) *Error {
	return NewError(KindUnauthorized, reason, message)
}

// Upstream wraps a failure of the room provider or the catalog service.
func Upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Reason: ReasonUpstream, Message: message, Err: err}
}

// Configuration wraps a fatal startup problem.
func Configuration(message string, err error) *Error {
	return &Error{Kind: KindConfiguration, Reason: "Configuration", Message: message, Err: err}
}

// KindOf returns the Kind of the first Error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the reason of the first Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
