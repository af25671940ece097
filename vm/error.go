package vm

import "fmt"

// ErrorType classifies a failure by the stage that detected it.
type ErrorType string

const (
	ErrLexical ErrorType = "LEXICAL" // malformed literal, unterminated string, bad character
	ErrSyntax  ErrorType = "SYNTAX"  // unexpected token in a production
	ErrCompile ErrorType = "COMPILE" // invalid table key, operand overflow
	ErrRuntime ErrorType = "RUNTIME" // bad call, bad index, slot written out of order
)

// Error is the single error type produced by the compiler and the VM.
// Every error is fatal: compilation and execution stop at the first one.
type Error struct {
	Type    ErrorType
	Message string
	Line    int // 1-based source line, 0 when unknown
	Column  int // 1-based source column, 0 when unknown
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] %s at line %d, column %d", e.Type, e.Message, e.Line, e.Column)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// NewError creates an Error without position information.
func NewError(typ ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: typ, Message: fmt.Sprintf(format, args...)}
}

// NewErrorAt creates an Error positioned at line/column.
func NewErrorAt(typ ErrorType, line, column int, format string, args ...interface{}) *Error {
	return &Error{Type: typ, Message: fmt.Sprintf(format, args...), Line: line, Column: column}
}

// runtimeError aborts execution. Recovered by Execute.
func runtimeError(format string, args ...interface{}) {
	panic(NewError(ErrRuntime, format, args...))
}
