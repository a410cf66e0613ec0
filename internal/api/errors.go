package api

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindNotFound     Kind = "not_found"
	KindServer       Kind = "server"
	KindNetwork      Kind = "network"
	KindDecode       Kind = "decode"
)

// Error is the failure shape of every backend call.
type Error struct {
	Kind    Kind
	Op      string // endpoint path
	Code    int    // HTTP status, 0 when no response arrived
	Message string // server supplied error text
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (%d)", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf returns the kind of an api error anywhere in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }
func IsNotFound(err error) bool     { return KindOf(err) == KindNotFound }
func IsNetwork(err error) bool      { return KindOf(err) == KindNetwork }

// Unauthorized builds the error returned when no usable token is held.
func Unauthorized(op, reason string) *Error {
	return &Error{Kind: KindUnauthorized, Op: op, Message: reason}
}

// UserMessage is the text shown next to the control that triggered err.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch e.Kind {
	case KindUnauthorized:
		return "Session expired, please sign in again"
	case KindNotFound:
		return "Request no longer exists"
	case KindNetwork:
		return "Network unavailable, please retry"
	case KindDecode:
		return "Unexpected response from server"
	default:
		if e.Message != "" {
			return e.Message
		}
		return "Server error"
	}
}
