package condition

import (
	"errors"
	"fmt"

	"github.com/roach88/flowgate/internal/schema"
)

// InvalidConditionError reports a structurally malformed rule.
type InvalidConditionError struct {
	// Index is the rule's position in its list.
	Index int

	// Path locates the rule in a definition document, when known.
	Path string

	// Rule is the offending source fragment, rendered as JSON, when known.
	Rule string

	Reason string
}

func (e *InvalidConditionError) Error() string {
	where := fmt.Sprintf("rule %d", e.Index)
	if e.Path != "" {
		where = e.Path
	}
	if e.Rule != "" {
		return fmt.Sprintf("%s: %s is not a valid condition definition: %s", where, e.Rule, e.Reason)
	}
	return fmt.Sprintf("%s is not a valid condition definition: %s", where, e.Reason)
}

// TypeError reports an allowIf or denyIf expression that did not produce a
// boolean.
type TypeError struct {
	Index    int
	Kind     schema.RuleKind
	Received string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s rule %d returned a non-boolean value (%s) while evaluating the expression", e.Kind, e.Index, e.Received)
}

// IsInvalidCondition returns true if err is an InvalidConditionError.
func IsInvalidCondition(err error) bool {
	var ic *InvalidConditionError
	return errors.As(err, &ic)
}

// IsTypeError returns true if err is a condition TypeError.
func IsTypeError(err error) bool {
	var te *TypeError
	return errors.As(err, &te)
}
