// Package quarryerrors provides structured error handling for Quarry with rich context,
// stack traces, and error categorization.
//
// # Overview
//
// The quarryerrors package extends Go's standard error handling with:
//   - Error categorization through ErrorType
//   - Structured context with key-value details
//   - Automatic stack trace capture
//   - Error wrapping with cause preservation
//   - Retryability detection
//
// # Basic Usage
//
//	if mgr.InTransaction() {
//	    return quarryerrors.New(quarryerrors.ErrorTypeAlreadyInTransaction, "transaction already open").
//	        WithDetail("isolation", iso.String())
//	}
//
//	if err := conn.Close(ctx); err != nil {
//	    return quarryerrors.Wrap(err, quarryerrors.ErrorTypeConnection, "failed to close connection")
//	}
//
// # Error Types
//
// The session, bulk and query packages surface their failures with a
// dedicated type each (already_in_transaction, no_transaction,
// connection_not_available, transfer_aborted, row_mapping, cancelled), so
// callers branch with IsType instead of matching messages. Nothing in Quarry
// retries on its own; IsRetryable only tells the caller whether re-invoking
// the operation later can succeed.
//
// # Thread Safety
//
// Error instances are not thread-safe for modification. Create new
// instances or use WithDetail before sharing across goroutines.
package quarryerrors

import (
	"errors"
	"runtime"

	stringpool "github.com/ajitpratap0/quarry/pkg/strings"
)

// ErrorType represents the category of error, used for error handling strategies,
// monitoring, and API response mapping.
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents data processing errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeCapability represents capability/feature not supported errors
	ErrorTypeCapability ErrorType = "capability"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeQuery represents query execution errors
	ErrorTypeQuery ErrorType = "query"

	// ErrorTypeAlreadyInTransaction is returned when a second transaction is
	// started on a connection that already holds one
	ErrorTypeAlreadyInTransaction ErrorType = "already_in_transaction"
	// ErrorTypeNoTransaction is returned by commit/rollback without a transaction
	ErrorTypeNoTransaction ErrorType = "no_transaction"
	// ErrorTypeConnectionNotAvailable is returned while a reconnect is deferred
	// by the cooldown window
	ErrorTypeConnectionNotAvailable ErrorType = "connection_not_available"
	// ErrorTypeTransferAborted is returned when a bulk transfer fails mid-stream
	ErrorTypeTransferAborted ErrorType = "transfer_aborted"
	// ErrorTypeRowMapping is returned when a row transform fails
	ErrorTypeRowMapping ErrorType = "row_mapping"
	// ErrorTypeCancelled is returned when the caller's context is done
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeUnsupportedField is returned by strict plan compilation
	ErrorTypeUnsupportedField ErrorType = "unsupported_field"
)

// Error represents a structured error with context, providing rich debugging
// information and enabling sophisticated error handling strategies.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string // Fully qualified function name
	File     string // Source file path
	Line     int    // Line number in source file
}

// Error implements the error interface, returning a formatted error message
// that includes the error type, message, and cause (if present).
func (e *Error) Error() string {
	if e.Cause != nil {
		return stringpool.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return stringpool.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, enabling compatibility with errors.Is
// and errors.As for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message, automatically
// capturing the call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: stringpool.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context, preserving the original
// error as the cause. If the error is already a structured Error, its stack
// trace is preserved. Returns nil if the input error is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if re-invoking the failed operation later can succeed.
// Timeouts, connection failures and cooldown deferrals qualify.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeConnection, ErrorTypeConnectionNotAvailable:
		return true
	default:
		return false
	}
}

// IsType checks if the outermost structured error is of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// HasType reports whether any structured error in the chain is of the given type.
func HasType(err error, errType ErrorType) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Type == errType {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// captureStack captures the current call stack up to maxFrames deep,
// skipping the specified number of frames from the top.
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
