package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// StatusCode maps the error code onto an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrInvalidSlotRange, ErrInvalidInterval, ErrPastSchedule:
		return http.StatusBadRequest
	case ErrOutsideAvailability:
		return http.StatusUnprocessableEntity
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden, ErrNotLinked:
		return http.StatusForbidden
	case ErrSlotConflict, ErrTerminalState:
		return http.StatusConflict
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrTooManyRequests
)

// Scheduling error codes
const (
	ErrInvalidSlotRange ErrorCode = iota + 2000
	ErrInvalidInterval
	ErrPastSchedule
	ErrNotLinked
	ErrSlotConflict
	ErrTerminalState
	ErrOutsideAvailability
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:            "NOT_FOUND",
	ErrBadRequest:          "BAD_REQUEST",
	ErrUnauthorized:        "UNAUTHORIZED",
	ErrForbidden:           "FORBIDDEN",
	ErrInternal:            "INTERNAL",
	ErrTooManyRequests:     "TOO_MANY_REQUESTS",
	ErrInvalidSlotRange:    "INVALID_SLOT_RANGE",
	ErrInvalidInterval:     "INVALID_INTERVAL",
	ErrPastSchedule:        "PAST_SCHEDULE",
	ErrNotLinked:           "NOT_LINKED",
	ErrSlotConflict:        "SLOT_CONFLICT",
	ErrTerminalState:       "TERMINAL_STATE",
	ErrOutsideAvailability: "OUTSIDE_AVAILABILITY",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// Code extracts the code of the first AppError in err's chain.
// Errors that are not AppErrors are internal.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return Code(err) == code
}

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func NewForbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

func NewInvalidSlotRange(day string, message string) *AppError {
	return &AppError{
		Code:    ErrInvalidSlotRange,
		Message: fmt.Sprintf("invalid slot range on %s: %s", day, message),
	}
}

func NewInvalidInterval(message string) *AppError {
	return &AppError{
		Code:    ErrInvalidInterval,
		Message: message,
	}
}

func NewPastSchedule() *AppError {
	return &AppError{
		Code:    ErrPastSchedule,
		Message: "appointment must start in the future",
	}
}

func NewNotLinked() *AppError {
	return &AppError{
		Code:    ErrNotLinked,
		Message: "patient is not actively linked to this nutritionist",
	}
}

func NewSlotConflict(err error) *AppError {
	return &AppError{
		Code:    ErrSlotConflict,
		Message: "the requested time overlaps an existing appointment",
		Err:     err,
	}
}

func NewTerminalState(status string) *AppError {
	return &AppError{
		Code:    ErrTerminalState,
		Message: fmt.Sprintf("appointment is %s and can no longer change", status),
	}
}

func NewOutsideAvailability() *AppError {
	return &AppError{
		Code:    ErrOutsideAvailability,
		Message: "the requested time is outside the nutritionist's availability",
	}
}

func NewTooManyRequests() *AppError {
	return &AppError{
		Code:    ErrTooManyRequests,
		Message: "rate limit exceeded",
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// Sentinels for errors.Is comparisons.
var (
	SlotConflict        = &AppError{Code: ErrSlotConflict}
	NotLinked           = &AppError{Code: ErrNotLinked}
	TerminalState       = &AppError{Code: ErrTerminalState}
	Forbidden           = &AppError{Code: ErrForbidden}
	OutsideAvailability = &AppError{Code: ErrOutsideAvailability}
)
