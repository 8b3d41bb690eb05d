package generator

import "fmt"

// SyntaxError reports a malformed generator expression.
type SyntaxError struct {
	Expr   string
	Offset int
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expression syntax error at offset %d in %q: %s", e.Offset, e.Expr, e.Reason)
}

// ValidationError reports arguments that parse but cannot produce a value,
// such as min > max.
type ValidationError struct {
	Func   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments to %s: %s", e.Func, e.Reason)
}

func validationf(fn, format string, args ...any) error {
	return &ValidationError{Func: fn, Reason: fmt.Sprintf(format, args...)}
}
