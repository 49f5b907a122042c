// Package shiperr defines the error taxonomy shared by the fulfillment core.
package shiperr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindCarrier
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindCarrier:
		return "carrier"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Msg  string

	// Field names the offending input for validation errors.
	Field string
	// Entity and ID identify the missing or conflicting record.
	Entity string
	ID     string

	Carrier    string
	StatusCode int
	Retryable  bool

	Err error
}

func (e *Error) Error() string {
	var s string
	switch e.Kind {
	case KindValidation:
		if e.Field != "" {
			s = fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
		} else {
			s = "validation: " + e.Msg
		}
	case KindNotFound:
		s = fmt.Sprintf("%s %s not found", e.Entity, e.ID)
		if e.Msg != "" {
			s += ": " + e.Msg
		}
	case KindConflict:
		s = fmt.Sprintf("conflict: %s %s: %s", e.Entity, e.ID, e.Msg)
	case KindCarrier:
		s = fmt.Sprintf("carrier %s: %s", e.Carrier, e.Msg)
		if e.StatusCode != 0 {
			s = fmt.Sprintf("carrier %s: http %d: %s", e.Carrier, e.StatusCode, e.Msg)
		}
	default:
		s = "unknown: " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(field, msg string) error {
	return &Error{Kind: KindValidation, Field: field, Msg: msg}
}

func Validationf(field, format string, args ...any) error {
	return &Error{Kind: KindValidation, Field: field, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(entity string, id any) error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: fmt.Sprint(id)}
}

func NotFoundf(entity string, id any, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: fmt.Sprint(id), Msg: fmt.Sprintf(format, args...)}
}

func Conflict(entity string, id any, msg string) error {
	return &Error{Kind: KindConflict, Entity: entity, ID: fmt.Sprint(id), Msg: msg}
}

// Carrier wraps a failed carrier API call. statusCode is 0 for transport-level failures.
func Carrier(code string, statusCode int, retryable bool, err error) error {
	msg := "request failed"
	if statusCode != 0 {
		msg = "unexpected response"
	}
	return &Error{Kind: KindCarrier, Carrier: code, StatusCode: statusCode, Retryable: retryable, Msg: msg, Err: err}
}

func Unknown(err error, msg string) error {
	return &Error{Kind: KindUnknown, Msg: msg, Err: err}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsCarrier(err error) bool    { return KindOf(err) == KindCarrier }
