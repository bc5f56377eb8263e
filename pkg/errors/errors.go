// Package errors provides the structured error type used across the loader.
//
// Every error raised by the pipeline carries an ErrorType that tells callers
// how it must be handled:
//
//	config       fatal at startup, nothing has been spawned yet
//	input        one input unit could not be read or parsed, it is skipped
//	write        a Writer failed, the owning pusher stops
//	interrupted  a blocking put/poll was cancelled, treat as a stop request
//
// Errors keep their cause for errors.Is / errors.As and record the call stack
// at the point of creation.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType categorizes an error for handling and reporting.
type ErrorType string

const (
	// ErrorTypeConfig is an invalid loader or sink configuration, including a
	// requested concurrency above the sink's declared maximum.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeInput is an input unit that could not be opened, decompressed or parsed.
	ErrorTypeInput ErrorType = "input"
	// ErrorTypeWrite is a storage level failure in AddRecord or Commit.
	ErrorTypeWrite ErrorType = "write"
	// ErrorTypeInterrupted is a blocking queue operation cancelled by shutdown.
	ErrorTypeInterrupted ErrorType = "interrupted"
	// ErrorTypeConnection is a failure to reach a storage backend.
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeClosed is an operation on a writer or sink that was already closed.
	ErrorTypeClosed ErrorType = "closed"
	// ErrorTypeTimeout is an operation that exceeded its deadline.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal is everything else.
	ErrorTypeInternal ErrorType = "internal"
)

// Error is a structured error with a type, optional cause and details.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is a single frame of the captured call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value pair and returns the same error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given type.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates an error of the given type with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps err with a type and message. If err already is an *Error its
// stack is kept. Wrap returns nil for a nil err.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType reports whether err, or any error it wraps, is an *Error of errType.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsRetryable reports whether the error is worth retrying. Only connection
// and timeout failures are.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeConnection, ErrorTypeTimeout:
		return true
	case ErrorTypeConfig, ErrorTypeInput, ErrorTypeWrite, ErrorTypeInterrupted,
		ErrorTypeClosed, ErrorTypeInternal:
		return false
	default:
		return false
	}
}

// captureStack records up to 32 frames, skipping the first skip callers.
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
