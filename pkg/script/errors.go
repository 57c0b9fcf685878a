package script

import "fmt"

// Error is a structural or semantic defect in a script document, bound to
// the source location of the offending node.
type Error struct {
	Filename string
	Line     int
	Column   int
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Filename == "" {
		return e.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.Filename, e.Line, e.Column, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error located at node.
func NewError(node *Node, format string, args ...any) *Error {
	e := &Error{Message: fmt.Sprintf(format, args...)}
	if node != nil {
		e.Filename, e.Line, e.Column = node.Filename, node.Line, node.Column
	}
	return e
}

// WrapError creates an Error located at node wrapping cause.
func WrapError(node *Node, cause error, format string, args ...any) *Error {
	e := NewError(node, format, args...)
	e.Cause = cause
	return e
}
