package expr

import "fmt"

// Kind classifies an expression failure
type Kind string

const (
	KindSyntax          Kind = "syntax_error"
	KindUnknownVariable Kind = "unknown_variable"
	KindMissingVariable Kind = "missing_variable"
	KindDivisionByZero  Kind = "division_by_zero"
	KindNumeric         Kind = "numeric_error"
)

// Error is a positioned failure produced while parsing or evaluating an expression.
// Pos is a byte offset into the source, -1 when not applicable.
type Error struct {
	Kind    Kind
	Message string
	Pos     int
	Snippet string
}

func (e *Error) Error() string {
	if e.Snippet != "" {
		return fmt.Sprintf("%s: %s at position %d near %q", e.Kind, e.Message, e.Pos, e.Snippet)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func syntaxErrorf(src string, pos int, format string, args ...any) *Error {
	return &Error{
		Kind:    KindSyntax,
		Message: fmt.Sprintf(format, args...),
		Pos:     pos,
		Snippet: snippet(src, pos),
	}
}

func evalErrorf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Pos:     -1,
	}
}

// snippet returns up to 10 bytes of src around pos
func snippet(src string, pos int) string {
	if pos < 0 {
		return ""
	}
	if pos >= len(src) {
		if len(src) == 0 {
			return ""
		}
		pos = len(src) - 1
	}
	start := pos - 5
	if start < 0 {
		start = 0
	}
	end := pos + 5
	if end > len(src) {
		end = len(src)
	}
	return src[start:end]
}
