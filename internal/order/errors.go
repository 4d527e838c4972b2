package order

import (
	"errors"
	"fmt"
)

// Error is the domain error returned by the store, the lifecycle engine and
// the channel synchronizer.
//
// Errors carry a Code for programmatic handling plus structured fields for
// diagnostics. Two errors match under errors.Is when their codes are equal,
// so callers compare against the Err* sentinels:
//
//	if errors.Is(err, order.ErrConflict) { ... re-read and retry ... }
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// OrderID identifies the affected order, when known.
	OrderID int64

	// ApplicationID identifies the affected application, when known.
	ApplicationID int64

	// Existing carries the already-present application for AlreadyExists.
	Existing *Application

	// Err is the underlying cause, if any.
	Err error
}

// Code categorizes domain errors.
type Code string

const (
	CodeNotFound             Code = "NOT_FOUND"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeConflict             Code = "CONFLICT"
	CodeAlreadyExists        Code = "ALREADY_EXISTS"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeTransientSyncFailure Code = "TRANSIENT_SYNC_FAILURE"
	CodeFatalSyncFailure     Code = "FATAL_SYNC_FAILURE"
	CodeInvalidInput         Code = "INVALID_INPUT"
)

// Sentinels for errors.Is. They carry only a code.
var (
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrInvalidTransition    = &Error{Code: CodeInvalidTransition}
	ErrConflict             = &Error{Code: CodeConflict}
	ErrAlreadyExists        = &Error{Code: CodeAlreadyExists}
	ErrRateLimited          = &Error{Code: CodeRateLimited}
	ErrUnauthorized         = &Error{Code: CodeUnauthorized}
	ErrTransientSyncFailure = &Error{Code: CodeTransientSyncFailure}
	ErrFatalSyncFailure     = &Error{Code: CodeFatalSyncFailure}
	ErrInvalidInput         = &Error{Code: CodeInvalidInput}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.OrderID != 0 {
		msg = fmt.Sprintf("%s (order=%d)", msg, e.OrderID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the code from err, or "" when err is not a domain error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// NewNotFound creates a NotFound error for a missing order.
func NewNotFound(orderID int64) *Error {
	return &Error{Code: CodeNotFound, Message: "order not found", OrderID: orderID}
}

// NewApplicationNotFound creates a NotFound error for a missing application.
func NewApplicationNotFound(orderID, applicationID int64) *Error {
	return &Error{
		Code:          CodeNotFound,
		Message:       fmt.Sprintf("application %d not found", applicationID),
		OrderID:       orderID,
		ApplicationID: applicationID,
	}
}

// NewInvalidTransition creates an InvalidTransition error for from -> to.
func NewInvalidTransition(orderID int64, from, to Status) *Error {
	return &Error{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("%s -> %s is not allowed", from, to),
		OrderID: orderID,
	}
}

// NewConflict creates a Conflict error for a failed conditional write.
func NewConflict(orderID, expectedVersion int64) *Error {
	return &Error{
		Code:    CodeConflict,
		Message: fmt.Sprintf("order changed since version %d", expectedVersion),
		OrderID: orderID,
	}
}

// NewAlreadyExists creates an AlreadyExists error carrying the existing row.
func NewAlreadyExists(existing Application) *Error {
	return &Error{
		Code:          CodeAlreadyExists,
		Message:       "application already exists",
		OrderID:       existing.OrderID,
		ApplicationID: existing.ID,
		Existing:      &existing,
	}
}

// NewUnauthorized creates an Unauthorized error.
func NewUnauthorized(actorID int64, action string) *Error {
	return &Error{
		Code:    CodeUnauthorized,
		Message: fmt.Sprintf("actor %d may not %s", actorID, action),
	}
}

// NewInvalidInput creates an InvalidInput error.
func NewInvalidInput(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}
