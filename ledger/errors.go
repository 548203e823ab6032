package ledger

import (
	"errors"
	"fmt"
)

// Status identifies the kind of a ledger failure. Every Status is an error, so
// callers can test for a kind with errors.Is(err, ErrSupplyExhausted).
type Status int

const (
	ErrInvalidConfig Status = iota + 1
	ErrInsufficientPayment
	ErrSupplyExhausted
	ErrEmptyBatch
	ErrUnauthorized
	ErrNotFound
	ErrInvalidRecipient
	ErrPayoutFailed
)

var statusNames = map[Status]string{
	ErrInvalidConfig:       "invalid config",
	ErrInsufficientPayment: "insufficient payment",
	ErrSupplyExhausted:     "supply exhausted",
	ErrEmptyBatch:          "empty batch",
	ErrUnauthorized:        "unauthorized",
	ErrNotFound:            "not found",
	ErrInvalidRecipient:    "invalid recipient",
	ErrPayoutFailed:        "payout failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Error implements error.
func (s Status) Error() string {
	return s.String()
}

// WithFormat returns an error of this status with a formatted message.
func (s Status) WithFormat(format string, args ...interface{}) *Error {
	return &Error{Code: s, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of this status caused by err.
func (s Status) Wrap(err error) *Error {
	return &Error{Code: s, Message: err.Error(), Cause: err}
}

type Error struct {
	Code    Status
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.Error()
	}
	return e.Code.Error() + ": " + e.Message
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Code, e.Cause}
	}
	return []error{e.Code}
}

func (e *Error) Is(target error) bool {
	switch f := target.(type) {
	case *Error:
		return e.Code == f.Code
	case Status:
		return e.Code == f
	}
	return false
}

// StatusOf returns the Status carried by err, or 0 if there is none.
func StatusOf(err error) Status {
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return 0
}
