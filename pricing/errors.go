package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrRuleArchived is returned when editing a soft-deleted rule.
	ErrRuleArchived = errors.New("rule is archived")

	// ErrProfileInactive is returned when pricing against an inactive profile.
	ErrProfileInactive = errors.New("profile is inactive")
)

// Messages placed in EvaluationResult.Details.Error.
const (
	msgInactive      = "Rule is inactive"
	msgFieldNotFound = "field not found"
	msgRuleNotFound  = "rule not found"
)

// conditionError describes why a condition could not be evaluated.
type conditionError struct {
	Operator Operator
	Reason   string
}

func (e *conditionError) Error() string {
	return fmt.Sprintf("cannot evaluate %s: %s", e.Operator, e.Reason)
}
