// Package errors defines the error taxonomy used across the booster.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the application, one per error kind of the error handling
// design: ConfigurationError, ShapeMismatch, NumericDegenerate, and
// EmptyIterationWarning.
const (
	CodeUnknown           = "UNKNOWN_ERROR"
	CodeConfigError       = "CONFIGURATION_ERROR"
	CodeShapeMismatch     = "SHAPE_MISMATCH"
	CodeNumericDegenerate = "NUMERIC_DEGENERATE"
	CodeEmptyIteration    = "EMPTY_ITERATION"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target by code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Sentinel instances for the four error kinds, used with errors.Is.
var (
	ErrConfigError       = New(CodeConfigError, "configuration error")
	ErrShapeMismatch     = New(CodeShapeMismatch, "row shape disagrees with discretizer")
	ErrNumericDegenerate = New(CodeNumericDegenerate, "numerically degenerate split or leaf")
	ErrEmptyIteration    = New(CodeEmptyIteration, "no tree produced in this round")
)

// IsConfigError reports whether err is (or wraps) a ConfigurationError.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfigError)
}

// IsShapeMismatch reports whether err is (or wraps) a ShapeMismatch error.
func IsShapeMismatch(err error) bool {
	return errors.Is(err, ErrShapeMismatch)
}

// IsNumericDegenerate reports whether err is (or wraps) a NumericDegenerate error.
func IsNumericDegenerate(err error) bool {
	return errors.Is(err, ErrNumericDegenerate)
}

// IsEmptyIteration reports whether err is (or wraps) an EmptyIterationWarning.
func IsEmptyIteration(err error) bool {
	return errors.Is(err, ErrEmptyIteration)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
