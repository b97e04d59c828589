// Package errors provides error aggregation and panic recovery helpers
// shared across agentloop components.
package errors

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// MultiError collects multiple errors from independent operations, typically
// shutdown paths where every component should get a chance to clean up.
type MultiError struct {
	errors []error
}

// Append adds a non-nil error to the collection.
func (m *MultiError) Append(err error) {
	if err != nil {
		m.errors = append(m.errors, err)
	}
}

// Len returns the number of collected errors.
func (m *MultiError) Len() int {
	return len(m.errors)
}

// Error implements delegate error formatting for the collection.
func (m *MultiError) Error() string {
	if len(m.errors) == 0 {
		return "no errors"
	}
	if len(m.errors) == 1 {
		return m.errors[0].Error()
	}
	parts := make([]string, 0, len(m.errors))
	for _, err := range m.errors {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%d errors occurred: %s", len(m.errors), strings.Join(parts, "; "))
}

// Unwrap exposes the collected errors to errors.Is/As.
func (m *MultiError) Unwrap() []error {
	return m.errors
}

// ErrorOrNil returns the MultiError if it holds any errors, nil otherwise.
func (m *MultiError) ErrorOrNil() error {
	if len(m.errors) == 0 {
		return nil
	}
	return m
}

// PanicError wraps a recovered panic value together with its stack trace so
// callers can log the trace and decide whether to abort.
type PanicError struct {
	Value      any
	StackTrace string
}

// Error implements the error interface.
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Recover runs fn and converts a panic into a *PanicError return value.
// A normal error return from fn passes through unchanged.
func Recover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Value:      r,
				StackTrace: string(debug.Stack()),
			}
		}
	}()
	return fn()
}

// TransientError marks a failure that did not compromise the run and may
// succeed on retry (e.g. a component shutdown timing out).
type TransientError struct {
	Op  string
	Err error
}

// NewTransientError wraps err as transient for the named operation.
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// Error implements the error interface.
func (t *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", t.Op, t.Err)
}

// Unwrap returns the underlying error.
func (t *TransientError) Unwrap() error {
	return t.Err
}
