package scan

import (
	"errors"
	"fmt"
)

// DefaultNotFoundMessage is shown when a read produced no usable code.
const DefaultNotFoundMessage = "The QR or Barcode was not clear. Try another one."

// ErrorCode categorizes scan errors.
type ErrorCode string

const (
	// ErrCodePermissionDenied indicates camera access was refused.
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrCodeDeviceConfiguration indicates no usable camera or an input/output
	// attach failure.
	ErrCodeDeviceConfiguration ErrorCode = "DEVICE_CONFIGURATION_FAILED"

	// ErrCodeDecodeFailed indicates zero codes were found.
	ErrCodeDecodeFailed ErrorCode = "DECODE_FAILED"

	// ErrCodeFilteredSymbology indicates a code outside the allowed set.
	ErrCodeFilteredSymbology ErrorCode = "FILTERED_SYMBOLOGY"
)

// Error is the typed error for every failure the engine knows about.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewPermissionError creates a PERMISSION_DENIED error.
func NewPermissionError(cause error) *Error {
	return &Error{
		Code:    ErrCodePermissionDenied,
		Message: "camera access denied",
		Err:     cause,
	}
}

// NewDeviceError creates a DEVICE_CONFIGURATION_FAILED error.
func NewDeviceError(message string, cause error) *Error {
	return &Error{
		Code:    ErrCodeDeviceConfiguration,
		Message: message,
		Err:     cause,
	}
}

// NewDecodeError creates a DECODE_FAILED error.
func NewDecodeError(message string) *Error {
	return &Error{
		Code:    ErrCodeDecodeFailed,
		Message: message,
	}
}

// NewFilteredError creates a FILTERED_SYMBOLOGY error.
func NewFilteredError(sym Symbology) *Error {
	return &Error{
		Code:    ErrCodeFilteredSymbology,
		Message: fmt.Sprintf("symbology %s is not allowed", sym),
	}
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsPermissionDenied reports whether err is a PERMISSION_DENIED error.
func IsPermissionDenied(err error) bool {
	return hasCode(err, ErrCodePermissionDenied)
}

// IsDeviceError reports whether err is a DEVICE_CONFIGURATION_FAILED error.
func IsDeviceError(err error) bool {
	return hasCode(err, ErrCodeDeviceConfiguration)
}

// IsDecodeFailed reports whether err is a DECODE_FAILED error.
func IsDecodeFailed(err error) bool {
	return hasCode(err, ErrCodeDecodeFailed)
}

// IsFiltered reports whether err is a FILTERED_SYMBOLOGY error.
func IsFiltered(err error) bool {
	return hasCode(err, ErrCodeFilteredSymbology)
}
