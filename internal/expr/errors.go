package expr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/flowgate/internal/ir"
)

// Stack is the operator trail from the root expression to the node that
// failed.
type Stack []string

func (s Stack) String() string {
	return strings.Join(s, " > ")
}

func withStack(msg string, s Stack) string {
	if len(s) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (expression stack: %s)", msg, s)
}

// SyntaxError reports a malformed expression tree. Parse returns it, so
// definitions fail at load time rather than per call.
type SyntaxError struct {
	Path    string
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Path == "" {
		return "invalid expression: " + e.Message
	}
	return fmt.Sprintf("invalid expression at %s: %s", e.Path, e.Message)
}

// TypeError reports a runtime value of the wrong type.
type TypeError struct {
	Expected string
	Received string
	Value    ir.Value
	Function string
	Stack    Stack
}

func (e *TypeError) Error() string {
	msg := fmt.Sprintf("expected %q but received %q", e.Expected, e.Received)
	if e.Function != "" {
		msg += fmt.Sprintf(" in function %q", e.Function)
	}
	if e.Value != nil {
		if b, err := json.Marshal(e.Value); err == nil {
			msg += ": " + string(b)
		}
	}
	return withStack(msg, e.Stack)
}

// MissingArgumentError reports a `$` lookup with no bound argument.
type MissingArgumentError struct {
	Name     string
	Function string
	Stack    Stack
}

func (e *MissingArgumentError) Error() string {
	if e.Function != "" {
		return withStack(fmt.Sprintf("Function %q is missing argument %q", e.Function, e.Name), e.Stack)
	}
	return withStack(fmt.Sprintf("%q is not defined in the current context", e.Name), e.Stack)
}

// InvalidOperatorError reports an operator that is neither built in nor a
// defined function.
type InvalidOperatorError struct {
	Operator string
	Stack    Stack
}

func (e *InvalidOperatorError) Error() string {
	return withStack(fmt.Sprintf("invalid operator %q", e.Operator), e.Stack)
}

// NotImplementedError reports a language form this interpreter does not
// evaluate.
type NotImplementedError struct {
	Operation string
	Stack     Stack
}

func (e *NotImplementedError) Error() string {
	return withStack(e.Operation+" has not yet been implemented", e.Stack)
}

// EvalError reports a failure that is not a type mismatch, such as division
// by zero or runaway recursion between named functions.
type EvalError struct {
	Op      string
	Message string
	Stack   Stack
}

func (e *EvalError) Error() string {
	return withStack(fmt.Sprintf("%s: %s", e.Op, e.Message), e.Stack)
}

// IsTypeError reports whether err is or wraps a *TypeError.
func IsTypeError(err error) bool {
	var te *TypeError
	return errors.As(err, &te)
}

// IsMissingArgument reports whether err is or wraps a *MissingArgumentError.
func IsMissingArgument(err error) bool {
	var me *MissingArgumentError
	return errors.As(err, &me)
}

// IsInvalidOperator reports whether err is or wraps an *InvalidOperatorError.
func IsInvalidOperator(err error) bool {
	var ie *InvalidOperatorError
	return errors.As(err, &ie)
}

// IsNotImplemented reports whether err is or wraps a *NotImplementedError.
func IsNotImplemented(err error) bool {
	var ne *NotImplementedError
	return errors.As(err, &ne)
}

// IsSyntaxError reports whether err is or wraps a *SyntaxError.
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}
