/*
errors.go - Centralized error types for the pricing engine

PURPOSE:
  All error types shared by the coverage and pricing packages live here so
  callers can classify failures with errors.Is / errors.As no matter which
  component produced them.

ERROR CATEGORIES:
  1. Validation errors - malformed configuration detected before evaluation
     (bad operator/operand pairing, out-of-range adjustment, unsafe formula).
     Always returned to the caller; never silently corrected.
  2. Lookup errors - a referenced rule, profile or coverage does not exist.
  3. Conflict errors - uniqueness violations reported by a store.

  Per-rule evaluation failures are NOT errors: they are reported in-band in
  pricing.EvaluationResult so one broken rule cannot abort a rule set.
  Consistency findings are NOT errors either: see pricing.ConsistencyReport.

USAGE:
  if err := rule.Validate(); err != nil {
      var verr *core.ValidationError
      if errors.As(err, &verr) {
          for _, p := range verr.Problems { ... }
      }
  }

SEE ALSO:
  - pricing/validate.go: Produces ValidationError for rules
  - coverage/benefit.go: Produces ValidationError for coverages
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package core

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every configuration validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRuleNotFound is returned when a pricing rule id cannot be resolved.
	ErrRuleNotFound = fmt.Errorf("rule %w", ErrNotFound)

	// ErrProfileNotFound is returned when a pricing profile id cannot be resolved.
	ErrProfileNotFound = fmt.Errorf("profile %w", ErrNotFound)

	// ErrCoverageNotFound is returned when a coverage code cannot be resolved.
	ErrCoverageNotFound = fmt.Errorf("coverage %w", ErrNotFound)

	// ErrConflict is returned when a write would violate a uniqueness constraint
	// (rule name per insurance type, coverage code, profile order index).
	ErrConflict = errors.New("conflict")

	// ErrBlockingIssues is returned when a profile cannot be activated because
	// its rule links are inconsistent.
	ErrBlockingIssues = errors.New("profile has blocking consistency issues")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

// ValidationError collects every problem found while validating one entity.
type ValidationError struct {
	Entity   string       `json:"entity"`
	Problems []FieldError `json:"problems"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Add records a problem.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Problems = append(e.Problems, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns nil when no problems were recorded, so validators can
// build the error incrementally and return it unconditionally.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

// NewValidationError builds a ValidationError with a single problem.
func NewValidationError(entity, field, format string, args ...any) *ValidationError {
	v := &ValidationError{Entity: entity}
	v.Add(field, format, args...)
	return v
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrBlockingIssues)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error indicates a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
