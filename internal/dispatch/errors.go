package dispatch

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes dispatch failures for monitoring and handling.
type ErrorCode string

const (
	// ErrCodeResolution indicates the recipient set could not be computed.
	// The whole dispatch is abandoned; nothing was delivered.
	ErrCodeResolution ErrorCode = "RESOLUTION_ERROR"

	// ErrCodePersistence indicates a notification row failed to write.
	ErrCodePersistence ErrorCode = "PERSISTENCE_ERROR"

	// ErrCodeDelivery indicates a push or email hand-off failed for a
	// single recipient.
	ErrCodeDelivery ErrorCode = "DELIVERY_ERROR"

	// ErrCodeInvalidInput indicates a malformed event or request.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured dispatch error carrying a code for
// classification and the underlying cause.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error so errors.Is and errors.As work.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ErrResolution creates a recipient-resolution error.
func ErrResolution(message string, err error) *Error {
	return NewError(ErrCodeResolution, message, err)
}

// ErrPersistence creates a persistence error.
func ErrPersistence(message string, err error) *Error {
	return NewError(ErrCodePersistence, message, err)
}

// ErrDelivery creates a delivery error.
func ErrDelivery(message string, err error) *Error {
	return NewError(ErrCodeDelivery, message, err)
}

// ErrInvalidInput creates an invalid input error.
func ErrInvalidInput(message string, err error) *Error {
	return NewError(ErrCodeInvalidInput, message, err)
}

// GetErrorCode extracts the ErrorCode from an error if it is a dispatch
// Error, otherwise returns ErrCodeInternal.
func GetErrorCode(err error) ErrorCode {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	return ErrCodeInternal
}
